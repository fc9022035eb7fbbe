package client

import (
	"time"

	"github.com/cqlcore/driver/internal/config"
	"github.com/cqlcore/driver/internal/connection"
	"github.com/cqlcore/driver/internal/domain"
	"github.com/cqlcore/driver/internal/host"
	"github.com/cqlcore/driver/internal/policies/loadbalancing"
	"github.com/cqlcore/driver/internal/policies/retry"
	"github.com/cqlcore/driver/internal/policies/speculative"
)

// resolveLoadBalancing maps a §6 policy name to a concrete
// loadbalancing.Policy. Unknown/empty names fall back to DC-aware
// round-robin, the documented default.
func resolveLoadBalancing(name, localDC string) loadbalancing.Policy {
	switch name {
	case "round-robin":
		return loadbalancing.NewRoundRobinPolicy()
	default:
		return loadbalancing.NewDCAwareRoundRobinPolicy(localDC)
	}
}

// resolveRetry maps a §6 policy name to a concrete retry.Policy.
func resolveRetry(name string) retry.Policy {
	switch name {
	case "fallthrough":
		return retry.FallthroughRetryPolicy{}
	default:
		return retry.NewDefaultRetryPolicy(1)
	}
}

// resolveSpeculative maps a §6 policy name to a concrete
// speculative.Policy. An empty name disables speculative execution by
// returning a policy whose plan never fires a second attempt.
func resolveSpeculative(name string) speculative.Policy {
	switch name {
	case "percentile":
		return speculative.NewPercentileSpeculativeExecutionPolicy(99, 2)
	case "constant":
		return speculative.NewConstantDelayPolicy(100*time.Millisecond, 2)
	default:
		return speculative.NewConstantDelayPolicy(0, 0)
	}
}

// coreConnectionsFromConfig converts §6's string-keyed
// coreConnectionsPerHost into the Distance-keyed map the Host façade
// consumes, falling back to the driver's documented defaults for any
// distance the config omits.
func coreConnectionsFromConfig(m map[string]int) host.CoreConnectionsPerDistance {
	out := host.DefaultCoreConnectionsPerDistance()
	if v, ok := m["local"]; ok {
		out[domain.DistanceLocal] = v
	}
	if v, ok := m["remote"]; ok {
		out[domain.DistanceRemote] = v
	}
	if v, ok := m["ignored"]; ok {
		out[domain.DistanceIgnored] = v
	}
	return out
}

func socketOptionsFromConfig(sc config.SocketConfig) connection.SocketOptions {
	opts := connection.DefaultSocketOptions()
	if sc.ConnectTimeoutMs > 0 {
		opts.ConnectTimeout = time.Duration(sc.ConnectTimeoutMs) * time.Millisecond
	}
	if sc.ReadTimeoutMs > 0 {
		opts.ReadTimeout = time.Duration(sc.ReadTimeoutMs) * time.Millisecond
	}
	if sc.DefunctReadTimeoutThreshold > 0 {
		opts.DefunctReadTimeoutThreshold = sc.DefunctReadTimeoutThreshold
	}
	opts.KeepAlive = sc.KeepAlive
	opts.TCPNoDelay = sc.TCPNoDelay
	if sc.KeepAliveDelayMs > 0 {
		opts.KeepAliveDelay = time.Duration(sc.KeepAliveDelayMs) * time.Millisecond
	}
	return opts
}

func poolingOptionsFromConfig(pc config.PoolingConfig) connection.PoolingOptions {
	opts := connection.DefaultPoolingOptions()
	if pc.HeartBeatIntervalMs > 0 {
		opts.HeartBeatInterval = time.Duration(pc.HeartBeatIntervalMs) * time.Millisecond
	}
	opts.Warmup = pc.Warmup
	if pc.MaxRequestsPerConnection > 0 {
		opts.MaxRequestsPerConnection = pc.MaxRequestsPerConnection
	}
	if pc.CoalescingThreshold > 0 {
		opts.CoalescingThreshold = pc.CoalescingThreshold
	}
	return opts
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
