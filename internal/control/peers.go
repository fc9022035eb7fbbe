package control

import (
	"log/slog"

	"github.com/cqlcore/driver/internal/domain"
	"github.com/cqlcore/driver/internal/policies/translation"
)

// LocalRow is the decoded shape of a system.local row. Binary row
// decoding is the external collaborator named out of scope in spec §1;
// this struct is the boundary the Control Connection consumes.
type LocalRow struct {
	RPCAddress      string
	DataCenter      string
	Rack            string
	Tokens          []string
	ReleaseVersion  string
	DSEVersion      string
	HostID          string
}

// PeerRow is the decoded shape of one system.peers row.
type PeerRow struct {
	Peer           string // fallback address when RPCAddress is absent/0.0.0.0
	RPCAddress     string
	DataCenter     string
	Rack           string
	Tokens         []string
	ReleaseVersion string
	DSEVersion     string
	HostID         string
}

// ApplyPeerRows implements §4.4.1's peer-row processing: determine each
// row's endpoint, translate it, upsert the Host Map, and reconcile
// (decommission any Host no longer present). newNodesUp=false marks
// newly-added hosts down pending a STATUS event.
func ApplyPeerRows(hostMap *domain.HostMap, local *LocalRow, peers []PeerRow, translator translation.Translator, port int, newNodesUp bool, log *slog.Logger) {
	seen := make(map[domain.Endpoint]bool)

	if local != nil && local.RPCAddress != "" {
		ep := upsertRow(hostMap, local.RPCAddress, local.DataCenter, local.Rack, local.Tokens, local.ReleaseVersion, local.DSEVersion, translator, port, true, log)
		if ep != "" {
			seen[ep] = true
		}
	}

	for _, p := range peers {
		addr := p.RPCAddress
		if addr == "" || addr == "0.0.0.0" {
			addr = p.Peer
		}
		if addr == "" {
			if log != nil {
				log.Warn("control: peer row missing both rpc_address and peer, skipping")
			}
			continue
		}
		ep := upsertRow(hostMap, addr, p.DataCenter, p.Rack, p.Tokens, p.ReleaseVersion, p.DSEVersion, translator, port, newNodesUp, log)
		if ep != "" {
			seen[ep] = true
		}
	}

	for _, h := range hostMap.Values() {
		if !seen[h.Endpoint] {
			if removed, ok := hostMap.Remove(h.Endpoint); ok {
				if v, ok := removed.Pool.(interface{ Shutdown() }); ok {
					v.Shutdown()
				}
			}
		}
	}
}

func upsertRow(hostMap *domain.HostMap, addr, dc, rack string, tokens []string, version, dseVersion string, translator translation.Translator, port int, newNodesUp bool, log *slog.Logger) domain.Endpoint {
	host, translatedPort, err := translator.Translate(addr, port)
	if err != nil {
		if log != nil {
			log.Warn("control: address translation failed", "addr", addr, "error", err)
		}
		host, translatedPort = addr, port
	}
	ep := domain.NewEndpoint(host, translatedPort)

	existing, existed := hostMap.Get(ep)
	h := existing
	if !existed {
		h = domain.NewHost(ep)
	}
	h.Datacenter = dc
	h.Rack = rack
	h.Tokens = tokens
	h.CassandraVersion = version
	h.DSEVersion = dseVersion

	hostMap.Upsert(h)

	if !existed && !newNodesUp {
		h.MarkDown()
	}
	return ep
}
