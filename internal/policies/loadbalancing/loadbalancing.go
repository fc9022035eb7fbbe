// Package loadbalancing implements the LoadBalancingPolicy capability:
// { init, newQueryPlan, getDistance }, grounded on the teacher's
// round-robin/least-connections selector shapes
// (internal/adapter/balancer/{round_robin.go,factory.go}) but producing a
// lazy ordered sequence of *domain.Host (a "query plan") instead of
// picking a single HTTP endpoint per call.
package loadbalancing

import (
	"sync"
	"sync/atomic"

	"github.com/cqlcore/driver/internal/domain"
)

// Named strategy identifiers, mirroring the teacher's
// DefaultBalancer* string-constant factory registration style.
const (
	StrategyRoundRobin        = "round-robin"
	StrategyTokenAware        = "token-aware"
	StrategyDCAwareRoundRobin = "dc-aware-round-robin"
)

// QueryPlan is a lazy ordered sequence of Hosts a policy deems
// acceptable for a given request.
type QueryPlan interface {
	// Next returns the next host, or ok=false when the plan is exhausted.
	Next() (*domain.Host, bool)
}

// Policy is the minimum surface named in §9.
type Policy interface {
	Init(hostMap *domain.HostMap)
	NewQueryPlan(keyspace string, routingKey []byte) QueryPlan
	GetDistance(h *domain.Host) domain.Distance
}

// sliceQueryPlan is a materialized plan over a snapshot of hosts.
type sliceQueryPlan struct {
	hosts []*domain.Host
	idx   int
}

func (p *sliceQueryPlan) Next() (*domain.Host, bool) {
	for p.idx < len(p.hosts) {
		h := p.hosts[p.idx]
		p.idx++
		if h.Distance() != domain.DistanceIgnored {
			return h, true
		}
	}
	return nil, false
}

// RoundRobinPolicy rotates through all non-ignored hosts in the Host
// Map, local and remote alike, using the same atomic-counter shape as
// the teacher's RoundRobinSelector.
type RoundRobinPolicy struct {
	hostMap *domain.HostMap
	counter atomic.Uint64
}

func NewRoundRobinPolicy() *RoundRobinPolicy { return &RoundRobinPolicy{} }

func (p *RoundRobinPolicy) Init(hostMap *domain.HostMap) { p.hostMap = hostMap }

func (p *RoundRobinPolicy) NewQueryPlan(keyspace string, routingKey []byte) QueryPlan {
	hosts := p.hostMap.Values()
	n := len(hosts)
	if n == 0 {
		return &sliceQueryPlan{}
	}
	start := int(p.counter.Add(1)-1) % n
	ordered := make([]*domain.Host, n)
	for i := 0; i < n; i++ {
		ordered[i] = hosts[(start+i)%n]
	}
	return &sliceQueryPlan{hosts: ordered}
}

func (p *RoundRobinPolicy) GetDistance(h *domain.Host) domain.Distance {
	return domain.DistanceLocal
}

// DCAwareRoundRobinPolicy prefers hosts in LocalDC, falling back to a
// bounded number of remote hosts, the conventional default policy for
// this driver family.
type DCAwareRoundRobinPolicy struct {
	LocalDC          string
	UsedHostsPerRemoteDC int

	hostMap *domain.HostMap
	counter atomic.Uint64
}

func NewDCAwareRoundRobinPolicy(localDC string) *DCAwareRoundRobinPolicy {
	return &DCAwareRoundRobinPolicy{LocalDC: localDC, UsedHostsPerRemoteDC: 0}
}

func (p *DCAwareRoundRobinPolicy) Init(hostMap *domain.HostMap) { p.hostMap = hostMap }

func (p *DCAwareRoundRobinPolicy) NewQueryPlan(keyspace string, routingKey []byte) QueryPlan {
	all := p.hostMap.Values()
	var local, remote []*domain.Host
	for _, h := range all {
		if h.Distance() == domain.DistanceIgnored {
			continue
		}
		if h.Datacenter == p.LocalDC {
			local = append(local, h)
		} else {
			remote = append(remote, h)
		}
	}
	start := int(p.counter.Add(1) - 1)
	ordered := rotate(local, start)
	if p.UsedHostsPerRemoteDC > 0 {
		remoteOrdered := rotate(remote, start)
		if len(remoteOrdered) > p.UsedHostsPerRemoteDC {
			remoteOrdered = remoteOrdered[:p.UsedHostsPerRemoteDC]
		}
		ordered = append(ordered, remoteOrdered...)
	}
	return &sliceQueryPlan{hosts: ordered}
}

func (p *DCAwareRoundRobinPolicy) GetDistance(h *domain.Host) domain.Distance {
	if h.Datacenter == p.LocalDC {
		return domain.DistanceLocal
	}
	if p.UsedHostsPerRemoteDC > 0 {
		return domain.DistanceRemote
	}
	return domain.DistanceIgnored
}

func rotate(hosts []*domain.Host, start int) []*domain.Host {
	n := len(hosts)
	if n == 0 {
		return nil
	}
	start %= n
	out := make([]*domain.Host, n)
	for i := 0; i < n; i++ {
		out[i] = hosts[(start+i)%n]
	}
	return out
}

// Registry is a named-strategy factory, following the teacher's
// balancer.Factory shape (string-keyed creator registration).
type Registry struct {
	mu       sync.RWMutex
	creators map[string]func() Policy
}

func NewRegistry() *Registry {
	r := &Registry{creators: make(map[string]func() Policy)}
	r.Register(StrategyRoundRobin, func() Policy { return NewRoundRobinPolicy() })
	return r
}

func (r *Registry) Register(name string, creator func() Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[name] = creator
}

func (r *Registry) Create(name string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creators[name]
	if !ok {
		return nil, false
	}
	return c(), true
}
