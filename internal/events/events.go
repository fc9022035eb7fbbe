// Package events defines the cluster-event and connection-lifecycle
// message shapes passed between Connection, Host, and Control Connection.
// Kept as its own package so those three avoid importing each other just
// to share a struct definition.
package events

import "github.com/cqlcore/driver/internal/domain"

// ClusterEventKind mirrors the REGISTER subscription kinds from §6.
type ClusterEventKind string

const (
	TopologyChange ClusterEventKind = "TOPOLOGY_CHANGE"
	StatusChange   ClusterEventKind = "STATUS_CHANGE"
	SchemaChange   ClusterEventKind = "SCHEMA_CHANGE"
)

// ClusterEvent is a deserialized EVENT frame, bypassing the Connection's
// pending-response map entirely.
type ClusterEvent struct {
	Kind ClusterEventKind
	// SubKind is NEW_NODE/REMOVED_NODE for topology, UP/DOWN for status,
	// CREATED/UPDATED/DROPPED for schema.
	SubKind string
	Inet    string // address:port as reported by the server

	Keyspace    string
	Table       string
	UDT         string
	FunctionName string
	Aggregate   string
}

// HostLifecycleKind names the one-shot listener events a Host/Connection
// emits that the Control Connection and reconnection machinery react to.
type HostLifecycleKind string

const (
	HostDown        HostLifecycleKind = "down"
	HostIgnore      HostLifecycleKind = "ignore"
	HostUp          HostLifecycleKind = "up"
	ConnectionClose HostLifecycleKind = "socketClose"
)

// HostLifecycleEvent is published on a Host's weak back-reference channel
// from a Connection (socketClose) or from the Host façade itself
// (down/ignore/up), per the cyclic-reference design in §9: Connections
// never call back into Host methods directly, they publish a message.
type HostLifecycleEvent struct {
	Kind HostLifecycleKind
	Host *domain.Host
	Err  error
}
