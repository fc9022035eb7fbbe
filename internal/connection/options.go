package connection

import "time"

// SocketOptions configures the TCP dialer and per-connection timeouts,
// mirroring §6's recognized socketOptions config surface. Modeled after
// the teacher's tuned, named-timeout-constant client bundles
// (factory.SharedClientFactory) rather than ad hoc literals scattered at
// call sites.
type SocketOptions struct {
	ConnectTimeout              time.Duration
	ReadTimeout                 time.Duration
	DefunctReadTimeoutThreshold int
	KeepAlive                   bool
	KeepAliveDelay              time.Duration
	TCPNoDelay                  bool
}

// DefaultSocketOptions matches the documented defaults in §6.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		ConnectTimeout:              5000 * time.Millisecond,
		ReadTimeout:                 12000 * time.Millisecond,
		DefunctReadTimeoutThreshold: 64,
		KeepAlive:                   true,
		KeepAliveDelay:              0,
		TCPNoDelay:                  true,
	}
}

// PoolingOptions configures heartbeat cadence, warmup behaviour, and the
// write coalescer threshold, matching §6's pooling config surface.
type PoolingOptions struct {
	HeartBeatInterval        time.Duration
	Warmup                   bool
	MaxRequestsPerConnection int
	CoalescingThreshold      int
}

// DefaultPoolingOptions matches the documented defaults. MaxRequestsPerConnection
// is always 2048, the default for 2-byte stream ids; the 1-byte stream id
// default (128) is not selected here.
func DefaultPoolingOptions() PoolingOptions {
	return PoolingOptions{
		HeartBeatInterval:        30000 * time.Millisecond,
		Warmup:                   true,
		MaxRequestsPerConnection: 2048,
		// 65536 is the documented default; the open question about an
		// 8000-byte variant in some source lineages is recorded in
		// DESIGN.md and deliberately not followed here.
		CoalescingThreshold: 65536,
	}
}
