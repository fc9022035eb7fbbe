package loadbalancing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqlcore/driver/internal/domain"
)

func addHost(m *domain.HostMap, endpoint string, dc string, dist domain.Distance) *domain.Host {
	h := domain.NewHost(domain.Endpoint(endpoint))
	h.Datacenter = dc
	h.SetDistance(dist)
	m.Upsert(h)
	return h
}

func drain(plan QueryPlan) []*domain.Host {
	var out []*domain.Host
	for {
		h, ok := plan.Next()
		if !ok {
			return out
		}
		out = append(out, h)
	}
}

func TestRoundRobinPolicy_RotatesAcrossCalls(t *testing.T) {
	m := domain.NewHostMap()
	addHost(m, "10.0.0.1:9042", "dc1", domain.DistanceLocal)
	addHost(m, "10.0.0.2:9042", "dc1", domain.DistanceLocal)
	addHost(m, "10.0.0.3:9042", "dc1", domain.DistanceLocal)

	p := NewRoundRobinPolicy()
	p.Init(m)

	first := drain(p.NewQueryPlan("ks", nil))
	second := drain(p.NewQueryPlan("ks", nil))

	require.Len(t, first, 3)
	require.Len(t, second, 3)
	assert.NotEqual(t, first[0].Endpoint, second[0].Endpoint, "successive plans start at a different host")
}

func TestRoundRobinPolicy_SkipsIgnoredHosts(t *testing.T) {
	m := domain.NewHostMap()
	addHost(m, "10.0.0.1:9042", "dc1", domain.DistanceLocal)
	addHost(m, "10.0.0.2:9042", "dc1", domain.DistanceIgnored)

	p := NewRoundRobinPolicy()
	p.Init(m)

	plan := drain(p.NewQueryPlan("ks", nil))
	require.Len(t, plan, 1)
	assert.Equal(t, domain.Endpoint("10.0.0.1:9042"), plan[0].Endpoint)
}

func TestRoundRobinPolicy_EmptyHostMap(t *testing.T) {
	m := domain.NewHostMap()
	p := NewRoundRobinPolicy()
	p.Init(m)

	plan := drain(p.NewQueryPlan("ks", nil))
	assert.Empty(t, plan)
}

func TestDCAwareRoundRobinPolicy_PrefersLocalDC(t *testing.T) {
	m := domain.NewHostMap()
	addHost(m, "10.0.0.1:9042", "dc1", domain.DistanceLocal)
	addHost(m, "10.0.1.1:9042", "dc2", domain.DistanceRemote)

	p := NewDCAwareRoundRobinPolicy("dc1")
	p.Init(m)

	plan := drain(p.NewQueryPlan("ks", nil))
	require.Len(t, plan, 1, "remote hosts are excluded when UsedHostsPerRemoteDC is zero")
	assert.Equal(t, "dc1", plan[0].Datacenter)
}

func TestDCAwareRoundRobinPolicy_IncludesBoundedRemote(t *testing.T) {
	m := domain.NewHostMap()
	addHost(m, "10.0.0.1:9042", "dc1", domain.DistanceLocal)
	addHost(m, "10.0.1.1:9042", "dc2", domain.DistanceRemote)
	addHost(m, "10.0.1.2:9042", "dc2", domain.DistanceRemote)

	p := NewDCAwareRoundRobinPolicy("dc1")
	p.UsedHostsPerRemoteDC = 1
	p.Init(m)

	plan := drain(p.NewQueryPlan("ks", nil))
	require.Len(t, plan, 2, "one local plus exactly one remote host from the bounded remote DC")
	assert.Equal(t, "dc1", plan[0].Datacenter)
	assert.Equal(t, "dc2", plan[1].Datacenter)
}

func TestDCAwareRoundRobinPolicy_GetDistance(t *testing.T) {
	p := NewDCAwareRoundRobinPolicy("dc1")

	local := &domain.Host{Datacenter: "dc1"}
	remote := &domain.Host{Datacenter: "dc2"}

	assert.Equal(t, domain.DistanceLocal, p.GetDistance(local))
	assert.Equal(t, domain.DistanceIgnored, p.GetDistance(remote), "remote hosts are ignored when UsedHostsPerRemoteDC is unset")

	p.UsedHostsPerRemoteDC = 2
	assert.Equal(t, domain.DistanceRemote, p.GetDistance(remote))
}

func TestRegistry_RoundRobinRegisteredByDefault(t *testing.T) {
	r := NewRegistry()

	policy, ok := r.Create(StrategyRoundRobin)
	require.True(t, ok)
	assert.IsType(t, &RoundRobinPolicy{}, policy)

	_, ok = r.Create("does-not-exist")
	assert.False(t, ok)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(StrategyDCAwareRoundRobin, func() Policy { return NewDCAwareRoundRobinPolicy("dc1") })

	policy, ok := r.Create(StrategyDCAwareRoundRobin)
	require.True(t, ok)
	dc, ok := policy.(*DCAwareRoundRobinPolicy)
	require.True(t, ok)
	assert.Equal(t, "dc1", dc.LocalDC)
}
