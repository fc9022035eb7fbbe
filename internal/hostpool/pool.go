// Package hostpool implements the Host Connection Pool: a fixed-target-size
// set of Connections to a single node, load-balanced by in-flight count.
// The connections slice is treated as immutable by readers — every
// mutation allocates a new slice and atomically swaps the pointer, the
// same copy-on-write discipline internal/domain's HostMap uses.
package hostpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cqlcore/driver/internal/connection"
	"github.com/cqlcore/driver/internal/domain"
	cqlerrs "github.com/cqlcore/driver/internal/errs"
	"github.com/cqlcore/driver/internal/protocol"
)

// State is the Pool lifecycle named in §3.
type State int32

const (
	StateInitial State = iota
	StateClosing
	StateShuttingDown
	StateShutDown
)

// globalRotatingIndex is the per-process atomic counter (bounded by
// 2^15, per the design note in §9) used to avoid per-pool hotspots when
// a node is chosen repeatedly; semantically equivalent to a per-pool
// counter but collapses cache lines across all pools in the process.
var globalRotatingIndex atomic.Uint32

const rotatingIndexBound = 1 << 15

func nextRotatingIndex() uint32 {
	return globalRotatingIndex.Add(1) % rotatingIndexBound
}

// Pool is the Host Connection Pool.
type Pool struct {
	Endpoint domain.Endpoint

	targetSize atomic.Int32
	state      atomic.Int32

	snapshot atomic.Pointer[[]*connection.Connection]

	responseCounter atomic.Int64

	createGroup singleflight.Group

	version     protocol.Version
	socketOpts  connection.SocketOptions
	poolingOpts connection.PoolingOptions
	notifier    connection.HostLifecycleNotifier

	log *slog.Logger

	mu sync.Mutex // serializes slice swaps
}

// NewPool constructs an empty Pool targeting zero connections; call
// SetTargetSize once the owning Host knows its distance.
func NewPool(endpoint domain.Endpoint, version protocol.Version, socketOpts connection.SocketOptions, poolingOpts connection.PoolingOptions, notifier connection.HostLifecycleNotifier, log *slog.Logger) *Pool {
	p := &Pool{
		Endpoint:    endpoint,
		version:     version,
		socketOpts:  socketOpts,
		poolingOpts: poolingOpts,
		notifier:    notifier,
		log:         log,
	}
	empty := []*connection.Connection{}
	p.snapshot.Store(&empty)
	return p
}

// SetTargetSize changes the pool's target connection count, e.g. when a
// Host's distance changes coreConnectionsPerHost bucket.
func (p *Pool) SetTargetSize(n int) {
	p.targetSize.Store(int32(n))
}

// TargetSize returns the current target.
func (p *Pool) TargetSize() int {
	return int(p.targetSize.Load())
}

// State returns the pool's lifecycle state.
func (p *Pool) State() State {
	return State(p.state.Load())
}

// Connections returns the current immutable snapshot. Safe to iterate
// without any lock; an in-flight borrow that captured this slice stays
// valid even if the pool mutates concurrently.
func (p *Pool) Connections() []*connection.Connection {
	return *p.snapshot.Load()
}

func (p *Pool) swap(next []*connection.Connection) {
	p.snapshot.Store(&next)
}

// Create opens connections up to the target size. If already at target,
// succeeds immediately. If warmup, blocks until all core connections are
// open; otherwise returns after the first open and grows the rest in the
// background. Concurrent callers collapse via single-flight.
func (p *Pool) Create(ctx context.Context, warmup bool) error {
	if State(p.state.Load()) != StateInitial {
		return cqlerrs.NewDriverInternalError("pool.Create called while not initial", nil)
	}
	current := p.Connections()
	target := p.TargetSize()
	if len(current) >= target {
		return nil
	}

	_, err, _ := p.createGroup.Do("create", func() (any, error) {
		need := target - len(p.Connections())
		if need <= 0 {
			return nil, nil
		}

		firstErrCh := make(chan error, 1)
		var failMu sync.Mutex
		var firstFailure error
		var wg sync.WaitGroup
		for i := 0; i < need; i++ {
			wg.Add(1)
			go func(first bool) {
				defer wg.Done()
				conn := connection.NewConnection(p.Endpoint, p.socketOpts, p.poolingOpts, p.notifier, p.log)
				err := conn.Open(ctx, protocol.MaxSupportedVersion)
				if err == nil {
					p.addConnection(conn)
				} else {
					failMu.Lock()
					if firstFailure == nil {
						firstFailure = err
					}
					failMu.Unlock()
				}
				if first {
					select {
					case firstErrCh <- err:
					default:
					}
				}
			}(i == 0)
		}

		if warmup {
			wg.Wait()
			// report the first error seen, if any connection failed
			return nil, firstFailure
		}

		// non-warmup: wait only for the first connection, grow the rest
		// in the background.
		err := <-firstErrCh
		go wg.Wait()
		return nil, err
	})
	return err
}

func (p *Pool) addConnection(c *connection.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.Connections()
	next := make([]*connection.Connection, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, c)
	p.swap(next)
}

// BorrowConnection selects the connection with minimum in-flight by
// sampling two candidates at a global rotating index, modulo pool size.
// previous, if non-nil, is skipped. Short-circuits once a candidate is
// under maxRequestsPerConnection. If all core connections are saturated,
// fails with BusyConnectionError. If the winning connection's keyspace
// differs from keyspace, ChangeKeyspace is issued first.
func (p *Pool) BorrowConnection(ctx context.Context, keyspace string, previous *connection.Connection) (*connection.Connection, error) {
	conns := p.Connections()
	n := len(conns)
	if n == 0 {
		return nil, cqlerrs.NewBusyConnectionError(string(p.Endpoint))
	}

	maxReq := p.poolingOpts.MaxRequestsPerConnection
	if maxReq <= 0 {
		maxReq = 2048
	}

	candidateAt := func(offset uint32) *connection.Connection {
		idx := int(offset) % n
		return conns[idx]
	}

	i1 := nextRotatingIndex()
	c1 := candidateAt(i1)
	if c1 == previous {
		c1 = candidateAt(i1 + 1)
	}
	if c1.State() == connection.StateOpen && c1.InFlight() < maxReq {
		return p.adoptKeyspace(ctx, c1, keyspace)
	}

	i2 := nextRotatingIndex()
	c2 := candidateAt(i2)
	if c2 == previous || c2 == c1 {
		c2 = candidateAt(i2 + 1)
	}

	best := c1
	if c2.State() == connection.StateOpen && (best.State() != connection.StateOpen || c2.InFlight() < best.InFlight()) {
		best = c2
	}

	if best.State() != connection.StateOpen || best.InFlight() >= maxReq {
		return nil, cqlerrs.NewBusyConnectionError(string(p.Endpoint))
	}
	return p.adoptKeyspace(ctx, best, keyspace)
}

func (p *Pool) adoptKeyspace(ctx context.Context, c *connection.Connection, keyspace string) (*connection.Connection, error) {
	if keyspace != "" && c.Keyspace() != keyspace {
		if err := c.ChangeKeyspace(ctx, keyspace); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Remove deletes conn from the snapshot (a new array replaces the old
// one) and schedules its close on the next tick.
func (p *Pool) Remove(conn *connection.Connection) {
	p.mu.Lock()
	cur := p.Connections()
	next := make([]*connection.Connection, 0, len(cur))
	for _, c := range cur {
		if c != conn {
			next = append(next, c)
		}
	}
	p.swap(next)
	p.mu.Unlock()

	go func() {
		_ = conn.Close()
	}()
}

// DrainAndShutdown transitions initial -> closing. Connections with zero
// in-flight close immediately; others get both a drain listener, which
// closes them the moment their last in-flight request finishes, and a
// hard-cutoff timer of readTimeout+100ms after which they are
// force-closed regardless of in-flight count.
func (p *Pool) DrainAndShutdown(readTimeout time.Duration) {
	p.state.CompareAndSwap(int32(StateInitial), int32(StateClosing))
	cutoff := readTimeout + 100*time.Millisecond

	for _, c := range p.Connections() {
		if c.InFlight() == 0 {
			_ = c.Close()
			continue
		}
		conn := c
		done := make(chan struct{})
		go p.watchDrain(conn, done)
		time.AfterFunc(cutoff, func() {
			close(done)
			_ = conn.Close()
		})
	}
}

// watchDrain is the drain listener half of DrainAndShutdown: it polls
// conn's in-flight count and closes it as soon as the last pending
// request completes, instead of leaving it open until the hard cutoff.
func (p *Pool) watchDrain(conn *connection.Connection, done <-chan struct{}) {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if conn.InFlight() == 0 {
				_ = conn.Close()
				return
			}
		}
	}
}

// Reinitialize allows re-promotion from closing back to initial, e.g.
// when the host's distance changes again before the drain completed.
func (p *Pool) Reinitialize() {
	p.state.CompareAndSwap(int32(StateClosing), int32(StateInitial))
}

// Shutdown transitions to shuttingDown (terminal once it reaches
// shutDown): closes every connection, marks the pool permanently closed.
func (p *Pool) Shutdown() {
	if !p.state.CompareAndSwap(int32(StateInitial), int32(StateShuttingDown)) {
		p.state.CompareAndSwap(int32(StateClosing), int32(StateShuttingDown))
	}
	for _, c := range p.Connections() {
		_ = c.Close()
	}
	p.state.Store(int32(StateShutDown))
}

// Size returns the current connection count.
func (p *Pool) Size() int {
	return len(p.Connections())
}
