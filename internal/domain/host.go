// Package domain holds the cluster data model: Host and the copy-on-write
// Host Map keyed by endpoint. Mutation is owned by the control connection;
// any other component only reads snapshots.
package domain

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Distance classifies a Host for pooling purposes. It governs pool size
// and whether the host may be used at all.
type Distance int

const (
	DistanceLocal Distance = iota
	DistanceRemote
	DistanceIgnored
)

func (d Distance) String() string {
	switch d {
	case DistanceLocal:
		return "local"
	case DistanceRemote:
		return "remote"
	case DistanceIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Endpoint is the (address, port) canonical string form used as a Host
// Map key. IPv6 addresses are bracketed.
type Endpoint string

// NewEndpoint formats host and port into canonical endpoint form,
// bracketing IPv6 addresses.
func NewEndpoint(host string, port int) Endpoint {
	if containsColon(host) && host[0] != '[' {
		return Endpoint(fmt.Sprintf("[%s]:%d", host, port))
	}
	return Endpoint(fmt.Sprintf("%s:%d", host, port))
}

func containsColon(s string) bool {
	for _, r := range s {
		if r == ':' {
			return true
		}
	}
	return false
}

// Listener receives one-shot or repeated Host lifecycle notifications.
// Down/Ignore/Up match the event names used in §4.3/§4.4 of
// the design: a Host emits these, the Control Connection and the
// reconnection machinery subscribe.
type Listener interface {
	OnHostDown(h *Host)
	OnHostIgnore(h *Host)
	OnHostUp(h *Host)
}

// ReconnectionSchedule is a lazy sequence of backoff delays, produced by
// a ReconnectionPolicy.
type ReconnectionSchedule interface {
	Next() time.Duration
}

// Host is per-node state: address, datacenter, rack, tokens, version,
// up/down, distance, and a lazily-advancing reconnection schedule. A Host
// is UP iff DownAt is the zero Time; Ignored hosts never have an open
// pool.
type Host struct {
	Endpoint Endpoint
	HostID   uuid.UUID

	Datacenter      string
	Rack            string
	Tokens          []string
	CassandraVersion string
	DSEVersion      string // optional, empty if absent
	Workloads       []string

	ProtocolVersion atomic.Int32

	distance atomic.Int32 // Distance, replaced by an atomic Swap in SetDistance

	upSince atomic.Int64 // unix nanos, 0 if not up
	downAt  atomic.Int64 // unix nanos, 0 if not down

	reconnecting atomic.Bool

	schedule ReconnectionSchedule

	// transitionGuard makes MarkDown single-fire: of concurrent MarkDown
	// calls only the one that wins this CAS records the transition.
	// SetDistance (the ignore path) does not consult it; the down/ignore
	// race is arbitrated by the control connection's one-shot listeners.
	transitionGuard atomic.Uint64

	// Pool is set by whoever constructs the Host (internal/host wires a
	// hostpool.Pool here); kept as an opaque reference so this package
	// does not import the pool package and create a cycle.
	Pool any
}

// NewHost constructs a Host in the down state with distance=ignored,
// matching a freshly discovered endpoint before the control connection
// has classified it.
func NewHost(endpoint Endpoint) *Host {
	h := &Host{
		Endpoint: endpoint,
		HostID:   uuid.New(),
	}
	h.distance.Store(int32(DistanceIgnored))
	h.downAt.Store(time.Now().UnixNano())
	return h
}

// IsUp reports whether DownAt is unset.
func (h *Host) IsUp() bool {
	return h.downAt.Load() == 0
}

// Distance returns the host's current pooling distance.
func (h *Host) Distance() Distance {
	return Distance(h.distance.Load())
}

// UpSince returns the time the host was last marked up, or the zero Time.
func (h *Host) UpSince() time.Time {
	n := h.upSince.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// DownAt returns the time the host was last marked down, or the zero Time.
func (h *Host) DownAt() time.Time {
	n := h.downAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SetDistance updates the host's distance. A no-op when unchanged. The
// caller (internal/host.Host façade) is responsible for resizing or
// draining the pool and emitting the corresponding event; this method
// only records the value so internal/domain stays pool-agnostic.
func (h *Host) SetDistance(d Distance) (changed bool) {
	old := Distance(h.distance.Swap(int32(d)))
	return old != d
}

// MarkDown records downAt if not already down and this call wins the
// transitionGuard CAS. Returns true if this call performed the transition.
func (h *Host) MarkDown() bool {
	if h.downAt.Load() != 0 {
		return false
	}
	if !h.transitionGuard.CompareAndSwap(0, 1) {
		return false
	}
	h.downAt.Store(time.Now().UnixNano())
	h.upSince.Store(0)
	return true
}

// MarkUp clears downAt and resets the transition guard so a later
// MarkDown can record the next down transition.
func (h *Host) MarkUp() {
	h.downAt.Store(0)
	h.upSince.Store(time.Now().UnixNano())
	h.transitionGuard.Store(0)
}

// SetReconnectionSchedule installs a fresh schedule, used whenever the
// host transitions to up (resetting backoff) or a policy is reconfigured.
func (h *Host) SetReconnectionSchedule(s ReconnectionSchedule) {
	h.schedule = s
}

// NextReconnectionDelay advances and returns the next backoff delay. A
// nil schedule (never configured) returns zero, meaning "retry
// immediately" — callers should treat that as a driver-internal error in
// practice, since every Host should have a schedule installed at
// creation.
func (h *Host) NextReconnectionDelay() time.Duration {
	if h.schedule == nil {
		return 0
	}
	return h.schedule.Next()
}

// String renders the host for logs.
func (h *Host) String() string {
	return fmt.Sprintf("%s(%s,dc=%s,rack=%s)", h.Endpoint, h.Distance(), h.Datacenter, h.Rack)
}
