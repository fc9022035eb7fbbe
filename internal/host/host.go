// Package host is the per-node façade over the Host Connection Pool with
// health tracking, grounded on the circuit-breaker/backoff shape of the
// health checker this driver's teacher uses for its HTTP upstreams.
package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/cqlcore/driver/internal/connection"
	"github.com/cqlcore/driver/internal/domain"
	"github.com/cqlcore/driver/internal/events"
	"github.com/cqlcore/driver/internal/hostpool"
	"github.com/cqlcore/driver/internal/policies/reconnection"
	"github.com/cqlcore/driver/internal/protocol"
)

// CoreConnectionsPerDistance maps a Distance to its pool target size,
// the coreConnectionsPerHost config surface named in §6.
type CoreConnectionsPerDistance map[domain.Distance]int

// DefaultCoreConnectionsPerDistance gives local hosts 2 core connections,
// remote hosts 1, and ignored hosts 0 — conservative defaults a caller
// typically overrides.
func DefaultCoreConnectionsPerDistance() CoreConnectionsPerDistance {
	return CoreConnectionsPerDistance{
		domain.DistanceLocal:   2,
		domain.DistanceRemote:  1,
		domain.DistanceIgnored: 0,
	}
}

// PreparedEntry is the subset of a Prepared Cache entry the re-prepare-on-up
// routine needs: enough to reissue PREPARE without depending on
// internal/prepared (avoiding an import cycle, since prepared depends on
// host for host-up notifications).
type PreparedEntry struct {
	Keyspace string
	Query    string
}

// Listener is notified of this Host's lifecycle transitions.
type Listener interface {
	OnHostUp(h *Host)
	OnHostDown(h *Host)
	OnHostIgnore(h *Host)
}

// Host wraps a domain.Host with its owned Pool, reconnection scheduling,
// and health bookkeeping.
type Host struct {
	Domain *domain.Host
	Pool   *hostpool.Pool

	coreConns CoreConnectionsPerDistance

	defunctReadTimeoutThreshold int

	reconnectPolicy reconnection.Policy

	rePrepareOnUp     bool
	preparedSupplier  func() []PreparedEntry // supplied by internal/prepared at wiring time

	listenersMu sync.RWMutex
	listeners   []Listener

	samplingStop chan struct{}

	log *slog.Logger
}

// Notify implements connection.HostLifecycleNotifier: this is the "weak
// back-reference" message channel a Connection uses instead of calling
// back into Host methods directly (§9's cyclic-reference design note).
func (h *Host) Notify(ev events.HostLifecycleEvent) {
	switch ev.Kind {
	case events.ConnectionClose:
		// A connection died; the pool already removed it via its own
		// Close() path. Check whether the pool went empty as a result.
		h.checkPoolState()
	}
}

// New constructs a Host façade around a fresh domain.Host, and the pool
// it owns.
func New(endpoint domain.Endpoint, coreConns CoreConnectionsPerDistance, socketOpts connection.SocketOptions, poolingOpts connection.PoolingOptions, reconnectPolicy reconnection.Policy, log *slog.Logger) *Host {
	d := domain.NewHost(endpoint)
	h := &Host{
		Domain:                      d,
		coreConns:                   coreConns,
		defunctReadTimeoutThreshold: socketOpts.DefunctReadTimeoutThreshold,
		reconnectPolicy:             reconnectPolicy,
		log:                         log,
	}
	d.SetReconnectionSchedule(reconnectPolicy.NewSchedule())
	h.Pool = hostpool.NewPool(endpoint, protocol.MaxSupportedVersion, socketOpts, poolingOpts, h, log)
	return h
}

// AddListener registers a lifecycle listener.
func (h *Host) AddListener(l Listener) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, l)
}

func (h *Host) emit(kind events.HostLifecycleKind) {
	h.listenersMu.RLock()
	ls := make([]Listener, len(h.listeners))
	copy(ls, h.listeners)
	h.listenersMu.RUnlock()
	for _, l := range ls {
		switch kind {
		case events.HostUp:
			l.OnHostUp(h)
		case events.HostDown:
			l.OnHostDown(h)
		case events.HostIgnore:
			l.OnHostIgnore(h)
		}
	}
}

// BorrowConnection delegates to the pool.
func (h *Host) BorrowConnection(ctx context.Context, keyspace string, previous *connection.Connection) (*connection.Connection, error) {
	return h.Pool.BorrowConnection(ctx, keyspace, previous)
}

// SetDistance updates distance; a no-op if unchanged. Ignored drains and
// shuts down the pool and emits ignore. Otherwise the pool target is set
// from coreConnectionsPerHost[d] and up is emitted if the host was
// previously down and is now expected to carry connections; a 200ms
// response-count sampling timer is (re)started.
func (h *Host) SetDistance(ctx context.Context, d domain.Distance) {
	changed := h.Domain.SetDistance(d)
	if !changed {
		return
	}

	if d == domain.DistanceIgnored {
		h.Pool.DrainAndShutdown(12 * time.Second)
		h.emit(events.HostIgnore)
		return
	}

	target := h.coreConns[d]
	h.Pool.Reinitialize()
	h.Pool.SetTargetSize(target)

	wasDown := !h.Domain.IsUp()
	if target > 0 {
		go func() {
			_ = h.Pool.Create(ctx, false)
			if wasDown {
				h.onFirstConnectionOpen(ctx)
			}
		}()
	}

	h.startSamplingTimer()
}

func (h *Host) onFirstConnectionOpen(ctx context.Context) {
	if h.rePrepareOnUp && h.preparedSupplier != nil {
		h.rePrepareAll(ctx)
	}
	h.Domain.MarkUp()
	h.emit(events.HostUp)
}

// SetPreparedSupplier wires the Prepared Cache's entry enumerator; called
// once during client construction. Kept as an injected func rather than
// an import of internal/prepared to avoid a cycle (prepared imports host
// for host-up notifications already).
func (h *Host) SetPreparedSupplier(f func() []PreparedEntry, rePrepareOnUp bool) {
	h.preparedSupplier = f
	h.rePrepareOnUp = rePrepareOnUp
}

// rePrepareAll iterates the Prepared Cache and re-issues PREPARE for each
// entry on this host before the up transition is emitted, bounded by a
// fixed concurrency cap per the Open Question decision recorded in
// DESIGN.md. Failures log a warning but never block the up transition.
func (h *Host) rePrepareAll(ctx context.Context) {
	entries := h.preparedSupplier()
	p := pool.New().WithMaxGoroutines(10)
	for _, e := range entries {
		entry := e
		p.Go(func() {
			conn, err := h.BorrowConnection(ctx, entry.Keyspace, nil)
			if err != nil {
				if h.log != nil {
					h.log.Warn("re-prepare on host-up: borrow failed", "endpoint", h.Domain.Endpoint, "error", err)
				}
				return
			}
			if _, err := conn.PrepareOnce(ctx, entry.Keyspace, entry.Query); err != nil && h.log != nil {
				h.log.Warn("re-prepare on host-up failed", "endpoint", h.Domain.Endpoint, "query", entry.Query, "error", err)
			}
		})
	}
	p.Wait()
}

// SetDown records downAt and emits down, unless already down or the
// pool is closing.
func (h *Host) SetDown() {
	if h.Pool.State() == hostpool.StateClosing {
		return
	}
	if h.Domain.MarkDown() {
		h.emit(events.HostDown)
	}
}

// SetUp clears downAt, resets the reconnection schedule, and emits up;
// optionally cancels an outstanding reconnection attempt (modeled here
// as simply resetting the schedule, since this port's scheduler is
// re-entrant rather than holding a cancellable timer handle directly).
func (h *Host) SetUp(clearReconnection bool) {
	h.Domain.MarkUp()
	if clearReconnection {
		h.Domain.SetReconnectionSchedule(h.reconnectPolicy.NewSchedule())
	}
	h.emit(events.HostUp)
}

// CheckIsUp resets the reconnection schedule and forces an immediate
// connection attempt.
func (h *Host) CheckIsUp(ctx context.Context) {
	h.Domain.SetReconnectionSchedule(h.reconnectPolicy.NewSchedule())
	go func() {
		_ = h.Pool.Create(ctx, false)
	}()
}

// CheckHealth removes conn from the pool if its timed-out operation
// count exceeds defunctReadTimeoutThreshold.
func (h *Host) CheckHealth(conn *connection.Connection) {
	if int(conn.TimedOutOperations()) > h.defunctReadTimeoutThreshold {
		h.RemoveFromPool(conn)
	}
}

// RemoveFromPool removes conn from the pool; if that leaves the pool
// empty while the host is expected to carry connections, the host is
// marked down.
func (h *Host) RemoveFromPool(conn *connection.Connection) {
	h.Pool.Remove(conn)
	h.checkPoolState()
}

// checkPoolState is the _checkPoolState() internal invariant from §4.3:
// after any pool-size change, schedule a reconnect if short of target,
// and mark the host down if the pool emptied while expected to have
// connections.
func (h *Host) checkPoolState() {
	target := h.Pool.TargetSize()
	size := h.Pool.Size()
	if size >= target {
		return
	}
	if size == 0 && target > 0 && h.Domain.Distance() != domain.DistanceIgnored {
		h.SetDown()
	}
	if h.Pool.State() == hostpool.StateInitial {
		delay := h.Domain.NextReconnectionDelay()
		time.AfterFunc(delay, func() {
			_ = h.Pool.Create(context.Background(), false)
		})
	}
}

// startSamplingTimer (re)starts a 200ms response-count sampling timer,
// used by the load balancing policy's latency-aware variants.
func (h *Host) startSamplingTimer() {
	if h.samplingStop != nil {
		close(h.samplingStop)
	}
	h.samplingStop = make(chan struct{})
	stop := h.samplingStop
	go func() {
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				// sampling hook: a latency-aware LoadBalancingPolicy can
				// read h.Pool's response counters here; no-op by default.
			}
		}
	}()
}
