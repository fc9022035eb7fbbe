// Package timestamp implements the TimestampGenerator capability:
// { next }. §4.6 requires a monotonically-increasing microsecond clock
// that bumps by 1 on ties with the system clock and warns on excessive
// drift.
package timestamp

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Generator is the minimum surface named in §9.
type Generator interface {
	Next() int64 // microseconds since epoch
}

// Monotonic maintains a lower bound = max(last, system-clock-microseconds)
// and bumps by 1 on ties, logging a warning if drift exceeds
// WarnDriftThreshold.
type Monotonic struct {
	last               atomic.Int64
	WarnDriftThreshold time.Duration
	log                *slog.Logger
}

func NewMonotonic(log *slog.Logger) *Monotonic {
	return &Monotonic{WarnDriftThreshold: 5 * time.Second, log: log}
}

func (g *Monotonic) Next() int64 {
	now := time.Now().UnixMicro()
	for {
		last := g.last.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if g.last.CompareAndSwap(last, next) {
			drift := time.Duration(next-now) * time.Microsecond
			if drift > g.WarnDriftThreshold && g.log != nil {
				g.log.Warn("timestamp generator drift exceeds threshold", "drift", drift)
			}
			return next
		}
	}
}

// ServerSideGenerator defers timestamp assignment to the server by
// returning the sentinel value CQL uses for "unset" (protocol v3+ allows
// omitting the client timestamp entirely); provided for completeness
// against the documented config surface even though the Request Handler
// only calls Next() when a generator is configured at all.
type ServerSideGenerator struct{}

func (ServerSideGenerator) Next() int64 { return 0 }
