package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqlcore/driver/internal/config"
	"github.com/cqlcore/driver/internal/connection"
	"github.com/cqlcore/driver/internal/domain"
	"github.com/cqlcore/driver/internal/host"
	"github.com/cqlcore/driver/internal/policies/loadbalancing"
	"github.com/cqlcore/driver/internal/policies/retry"
	"github.com/cqlcore/driver/internal/policies/speculative"
)

func TestResolveLoadBalancing(t *testing.T) {
	p := resolveLoadBalancing("round-robin", "dc1")
	assert.IsType(t, &loadbalancing.RoundRobinPolicy{}, p)

	p = resolveLoadBalancing("dc-aware-round-robin", "dc1")
	dc, ok := p.(*loadbalancing.DCAwareRoundRobinPolicy)
	require.True(t, ok)
	assert.Equal(t, "dc1", dc.LocalDC)

	p = resolveLoadBalancing("", "dc1")
	_, ok = p.(*loadbalancing.DCAwareRoundRobinPolicy)
	assert.True(t, ok, "unknown/empty policy name falls back to DC-aware round-robin")
}

func TestResolveRetry(t *testing.T) {
	p := resolveRetry("fallthrough")
	assert.IsType(t, retry.FallthroughRetryPolicy{}, p)

	p = resolveRetry("default")
	def, ok := p.(*retry.DefaultRetryPolicy)
	require.True(t, ok)
	assert.Equal(t, 1, def.MaxRetries)

	p = resolveRetry("")
	_, ok = p.(*retry.DefaultRetryPolicy)
	assert.True(t, ok, "unknown/empty policy name falls back to the default retry policy")
}

func TestResolveSpeculative(t *testing.T) {
	p := resolveSpeculative("percentile")
	_, ok := p.(*speculative.PercentileSpeculativeExecutionPolicy)
	assert.True(t, ok)

	p = resolveSpeculative("constant")
	cd, ok := p.(*speculative.ConstantDelayPolicy)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, cd.Delay)

	p = resolveSpeculative("")
	cd, ok = p.(*speculative.ConstantDelayPolicy)
	require.True(t, ok, "an empty policy name disables speculative execution via a zero-delay, zero-attempt plan")
	assert.Equal(t, time.Duration(0), cd.Delay)
	assert.Equal(t, 0, cd.MaxSpeculativeExecutions)

	plan := p.NewPlan("ks")
	_, ok = plan.NextDelay(1)
	assert.False(t, ok, "a disabled speculative policy's plan never schedules a second attempt")
}

func TestCoreConnectionsFromConfig(t *testing.T) {
	out := coreConnectionsFromConfig(map[string]int{"local": 4, "remote": 2})
	assert.Equal(t, 4, out[domain.DistanceLocal])
	assert.Equal(t, 2, out[domain.DistanceRemote])
	assert.Equal(t, host.DefaultCoreConnectionsPerDistance()[domain.DistanceIgnored], out[domain.DistanceIgnored])
}

func TestCoreConnectionsFromConfig_EmptyUsesDefaults(t *testing.T) {
	out := coreConnectionsFromConfig(nil)
	assert.Equal(t, host.DefaultCoreConnectionsPerDistance(), out)
}

func TestSocketOptionsFromConfig(t *testing.T) {
	sc := config.SocketConfig{
		ConnectTimeoutMs: 1000,
		ReadTimeoutMs:    2000,
		KeepAlive:        true,
		TCPNoDelay:       true,
		KeepAliveDelayMs: 500,
	}

	opts := socketOptionsFromConfig(sc)
	assert.Equal(t, time.Second, opts.ConnectTimeout)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
	assert.Equal(t, 500*time.Millisecond, opts.KeepAliveDelay)
	assert.True(t, opts.KeepAlive)
	assert.True(t, opts.TCPNoDelay)
}

func TestSocketOptionsFromConfig_ZeroFieldsKeepDefaults(t *testing.T) {
	opts := socketOptionsFromConfig(config.SocketConfig{})
	defaults := connection.DefaultSocketOptions()
	assert.Equal(t, defaults.ConnectTimeout, opts.ConnectTimeout)
	assert.Equal(t, defaults.ReadTimeout, opts.ReadTimeout)
	assert.Equal(t, defaults.DefunctReadTimeoutThreshold, opts.DefunctReadTimeoutThreshold)
}

func TestPoolingOptionsFromConfig(t *testing.T) {
	pc := config.PoolingConfig{
		HeartBeatIntervalMs:      15000,
		Warmup:                   false,
		MaxRequestsPerConnection: 512,
		CoalescingThreshold:      1024,
	}

	opts := poolingOptionsFromConfig(pc)
	assert.Equal(t, 15*time.Second, opts.HeartBeatInterval)
	assert.False(t, opts.Warmup)
	assert.Equal(t, 512, opts.MaxRequestsPerConnection)
	assert.Equal(t, 1024, opts.CoalescingThreshold)
}

func TestMsToDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, msToDuration(1500))
	assert.Equal(t, time.Duration(0), msToDuration(0))
}
