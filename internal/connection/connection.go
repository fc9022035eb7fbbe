// Package connection owns one socket to a cluster node: framing,
// stream-id multiplexing, the write coalescer, single-flight prepare, and
// heartbeat/read-timeout timers. This is the "hard part" component named
// in the spec's purpose section alongside the Host Connection Pool.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/singleflight"

	"github.com/cqlcore/driver/internal/domain"
	cqlerrs "github.com/cqlcore/driver/internal/errs"
	"github.com/cqlcore/driver/internal/events"
	"github.com/cqlcore/driver/internal/protocol"
	"github.com/cqlcore/driver/pkg/eventbus"
	"github.com/cqlcore/driver/pkg/pool"
)

// State is the Connection lifecycle: opening -> open -> (closing) ->
// closed. Transitions to closed are terminal.
type State int32

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PreparedResult is the opaque server-side statement handle cached by
// prepareOnce; the full {id, resultMetadataId, parameterMeta, resultMeta}
// shape named in §3 is carried by internal/prepared, this is just the
// subset a Connection needs for single-flight collapsing.
type PreparedResult struct {
	ID               []byte
	ResultMetadataID []byte
}

// pendingOp is one in-flight request awaiting a response on a stream id.
type pendingOp struct {
	streamID int16
	done     chan *protocol.Frame
	timedOut atomic.Bool
	closed   atomic.Bool
	timer    *time.Timer
}

// SendOptions carries per-request knobs that affect framing/timeout, a
// subset of the resolved Execution Profile relevant at this layer.
type SendOptions struct {
	ReadTimeout time.Duration
}

// Connection is identity = socket instance, per §3's data model.
type Connection struct {
	Endpoint        domain.Endpoint
	version         atomic.Int32 // protocol.Version
	keyspace        atomic.Pointer[string]

	conn   net.Conn
	connMu sync.Mutex

	state atomic.Int32

	streams *streamIDAllocator
	pending *xsync.Map[int16, *pendingOp]

	timedOutOperations atomic.Int64

	writeCh    chan writeJob
	writeStop  chan struct{}
	writeWG    sync.WaitGroup

	reassemblerStop chan struct{}

	heartbeatStop chan struct{}

	prepareGroup singleflight.Group
	preparedOnConn sync.Map // (keyspace,query) -> *PreparedResult, this connection only

	bufPool *pool.Pool[*writeBuffer]

	events *eventbus.EventBus[events.ClusterEvent]

	socketOpts  SocketOptions
	poolingOpts PoolingOptions

	notifier HostLifecycleNotifier

	log *slog.Logger

	registered bool
	closeOnce  sync.Once

	closeListenersMu sync.Mutex
	closeListeners   []func()
}

// writeBuffer is a pooled, reusable byte buffer for frame serialization.
type writeBuffer struct {
	b []byte
}

func (w *writeBuffer) Reset() { w.b = w.b[:0] }

type writeJob struct {
	frame *protocol.Frame
	errCh chan error
}

// HostLifecycleNotifier receives this Connection's lifecycle messages.
// internal/host implements it; Connection never imports internal/host to
// avoid the cyclic reference called out in §9 — it only holds this weak,
// message-passing interface.
type HostLifecycleNotifier interface {
	Notify(events.HostLifecycleEvent)
}

// NewConnection constructs a Connection in the opening state. Call Open
// to actually dial.
func NewConnection(endpoint domain.Endpoint, socketOpts SocketOptions, poolingOpts PoolingOptions, notifier HostLifecycleNotifier, log *slog.Logger) *Connection {
	c := &Connection{
		Endpoint:    endpoint,
		pending:     xsync.NewMap[int16, *pendingOp](),
		writeCh:     make(chan writeJob, 256),
		writeStop:   make(chan struct{}),
		socketOpts:  socketOpts,
		poolingOpts: poolingOpts,
		notifier:    notifier,
		log:         log,
		events:      eventbus.New[events.ClusterEvent](),
	}
	c.bufPool = pool.NewLitePool(func() *writeBuffer { return &writeBuffer{b: make([]byte, 0, 512)} })
	c.state.Store(int32(StateOpening))
	ks := ""
	c.keyspace.Store(&ks)
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// InFlight returns the number of reserved (in-flight or
// timed-out-unreleased) stream ids, used by the pool's load balancer.
func (c *Connection) InFlight() int {
	if c.streams == nil {
		return 0
	}
	return c.streams.inFlight()
}

// Keyspace returns the keyspace this connection's session is currently
// scoped to, or "" if none.
func (c *Connection) Keyspace() string {
	return *c.keyspace.Load()
}

// Version returns the negotiated protocol version, valid only once Open
// has returned successfully.
func (c *Connection) Version() protocol.Version {
	return protocol.Version(c.version.Load())
}

// Open connects, negotiates the protocol version via STARTUP/SUPPORTED,
// downgrading and reconnecting once if the server rejects the proposal,
// and starts the write coalescer, read loop, and heartbeat.
func (c *Connection) Open(ctx context.Context, proposeMax protocol.Version) error {
	version := proposeMax
	for {
		if err := c.dialAndNegotiate(ctx, version); err != nil {
			var protoErr *protocolRejected
			if errors.As(err, &protoErr) {
				lower, ok := version.Lower()
				if !ok {
					return fmt.Errorf("connection: %w", protocol.ErrProtocolMismatch)
				}
				version = lower
				continue
			}
			return err
		}
		break
	}

	c.version.Store(int32(version))
	c.streams = newStreamIDAllocator(version)
	c.state.Store(int32(StateOpen))

	c.writeWG.Add(1)
	go c.writeLoop()

	c.reassemblerStop = make(chan struct{})
	go c.readLoop()

	c.heartbeatStop = make(chan struct{})
	go c.heartbeatLoop()

	return nil
}

// protocolRejected signals the server returned PROTOCOL_ERROR during
// negotiation, distinct from a transport failure.
type protocolRejected struct{ version protocol.Version }

func (e *protocolRejected) Error() string {
	return fmt.Sprintf("connection: server rejected protocol version %d", e.version)
}

// dialAndNegotiate performs the actual TCP dial and STARTUP handshake at
// a single proposed version. Real STARTUP/SUPPORTED body encoding is an
// external collaborator (binary type codec is out of scope per spec
// §1); this issues the frame via Opcode only and treats any ERROR
// response as protocolRejected; the error code in its body is not
// decoded, so non-protocol errors also trigger a downgrade.
func (c *Connection) dialAndNegotiate(ctx context.Context, version protocol.Version) error {
	dialer := &net.Dialer{Timeout: c.socketOpts.ConnectTimeout}
	host, port, err := net.SplitHostPort(string(c.Endpoint))
	if err != nil {
		return cqlerrs.NewArgumentError("endpoint", err.Error())
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("connection: dial %s: %w", c.Endpoint, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(c.socketOpts.TCPNoDelay)
		if c.socketOpts.KeepAlive {
			_ = tc.SetKeepAlive(true)
			if c.socketOpts.KeepAliveDelay > 0 {
				_ = tc.SetKeepAlivePeriod(c.socketOpts.KeepAliveDelay)
			}
		}
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	startup := &protocol.Frame{Version: version, Opcode: protocol.OpStartup, StreamID: 0}
	if err := c.writeFrameDirect(startup); err != nil {
		_ = conn.Close()
		return err
	}

	reply, err := c.readFrameDirect()
	if err != nil {
		_ = conn.Close()
		return err
	}
	switch reply.Opcode {
	case protocol.OpReady, protocol.OpAuthenticate:
		return nil
	case protocol.OpError:
		_ = conn.Close()
		return &protocolRejected{version: version}
	default:
		_ = conn.Close()
		return cqlerrs.NewDriverInternalError("unexpected STARTUP reply opcode "+reply.Opcode.String(), nil)
	}
}

func (c *Connection) writeFrameDirect(f *protocol.Frame) error {
	b, err := f.Encode(false)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	_, err = c.conn.Write(b)
	return err
}

func (c *Connection) readFrameDirect() (*protocol.Frame, error) {
	r := protocol.NewReassembler()
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, err
		}
		r.Feed(buf[:n])
		f, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return f, nil
		}
	}
}

// SendStream allocates a stream id and enqueues the frame on the write
// coalescer. It returns a handle the caller awaits for the response,
// timeout, or cancellation.
func (c *Connection) SendStream(ctx context.Context, f *protocol.Frame, opts SendOptions) (*Operation, error) {
	if c.State() != StateOpen {
		return nil, cqlerrs.NewBusyConnectionError(string(c.Endpoint))
	}
	id, ok := c.streams.acquire()
	if !ok {
		return nil, cqlerrs.NewBusyConnectionError(string(c.Endpoint))
	}
	f.StreamID = id

	op := &pendingOp{streamID: id, done: make(chan *protocol.Frame, 1)}
	c.pending.Store(id, op)

	if opts.ReadTimeout > 0 {
		op.timer = time.AfterFunc(opts.ReadTimeout, func() {
			op.timedOut.Store(true)
			c.streams.markTimedOut(id)
			c.timedOutOperations.Add(1)
			select {
			case op.done <- nil: // nil signals timeout to the waiter
			default:
			}
		})
	}

	errCh := make(chan error, 1)
	select {
	case c.writeCh <- writeJob{frame: f, errCh: errCh}:
	case <-ctx.Done():
		c.releasePending(id)
		return nil, ctx.Err()
	}

	if err := <-errCh; err != nil {
		c.releasePending(id)
		return nil, err
	}

	return &Operation{conn: c, op: op}, nil
}

func (c *Connection) releasePending(id int16) {
	c.pending.Delete(id)
	c.streams.release(id)
}

// Operation is the handle returned by SendStream.
type Operation struct {
	conn *Connection
	op   *pendingOp
}

// Await blocks for the response, a timeout, or ctx cancellation.
func (o *Operation) Await(ctx context.Context) (*protocol.Frame, error) {
	select {
	case f := <-o.op.done:
		if o.op.timer != nil {
			o.op.timer.Stop()
		}
		if f == nil {
			if o.op.closed.Load() {
				o.conn.releasePending(o.op.streamID)
				return nil, cqlerrs.NewConnectionClosedError(string(o.conn.Endpoint), "request")
			}
			// Timed out: the stream id stays reserved-timed-out until the
			// real response lands, per §4.1 — do not release here.
			return nil, cqlerrs.NewOperationTimedOutError(string(o.conn.Endpoint), "request")
		}
		o.conn.releasePending(o.op.streamID)
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeLoop is the write coalescer: frames are flushed either once
// coalescingThreshold bytes have accumulated or on the next tick,
// preserving submission order per stream as required by §5.
func (c *Connection) writeLoop() {
	defer c.writeWG.Done()
	var batch []byte
	var pendingErrs []chan error
	threshold := c.poolingOpts.CoalescingThreshold
	if threshold <= 0 {
		threshold = 65536
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.connMu.Lock()
		_, err := c.conn.Write(batch)
		c.connMu.Unlock()
		for _, ch := range pendingErrs {
			ch <- err
		}
		batch = batch[:0]
		pendingErrs = pendingErrs[:0]
		if err != nil {
			c.markDefunct(err)
		}
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case job := <-c.writeCh:
			buf := c.bufPool.Get()
			enc, err := job.frame.Encode(false)
			if err != nil {
				job.errCh <- err
				c.bufPool.Put(buf)
				continue
			}
			batch = append(batch, enc...)
			pendingErrs = append(pendingErrs, job.errCh)
			c.bufPool.Put(buf)
			if len(batch) >= threshold {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.writeStop:
			flush()
			return
		}
	}
}

// readLoop demultiplexes responses by stream id, routing EVENT-opcode
// frames (from a REGISTERed connection) to the event bus instead of the
// pending-response map.
func (c *Connection) readLoop() {
	r := protocol.NewReassembler()
	buf := make([]byte, 8192)
	for {
		select {
		case <-c.reassemblerStop:
			return
		default:
		}
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		n, err := conn.Read(buf)
		if err != nil {
			c.markDefunct(err)
			return
		}
		r.Feed(buf[:n])
		for {
			f, ok, err := r.Next()
			if err != nil {
				c.markDefunct(err)
				return
			}
			if !ok {
				break
			}
			c.dispatch(f)
		}
	}
}

func (c *Connection) dispatch(f *protocol.Frame) {
	if f.Opcode == protocol.OpEvent {
		c.events.Publish(decodeClusterEvent(f))
		return
	}
	op, ok := c.pending.Load(f.StreamID)
	if !ok {
		// A stream id with no pending operation — discarded.
		return
	}
	if op.timedOut.Load() {
		// A late response for a timed-out id: the caller has already
		// given up, so the frame is discarded and the id is freed now.
		c.releasePending(f.StreamID)
		return
	}
	select {
	case op.done <- f:
	default:
	}
}

// decodeClusterEvent is a placeholder for the EVENT body decode; the CQL
// type codec that would parse Kind/SubKind/Inet/Keyspace out of f.Body is
// the external binary-encoding collaborator named out of scope in §1.
// It returns a zero ClusterEvent (empty Kind), so subscribers learn only
// that an event frame arrived; f.Body is neither decoded nor forwarded.
func decodeClusterEvent(f *protocol.Frame) events.ClusterEvent {
	return events.ClusterEvent{}
}

// Subscribe returns a channel of cluster events delivered on this
// connection, used only after a successful REGISTER (§4.1's "event
// subscription" contract).
func (c *Connection) Subscribe(ctx context.Context) (<-chan events.ClusterEvent, func()) {
	c.registered = true
	return c.events.Subscribe(ctx)
}

// PrepareOnce collapses concurrent callers for the same (keyspace,query)
// into a single in-flight PREPARE, per §4.1's single-flight contract, and
// caches the result on this connection.
func (c *Connection) PrepareOnce(ctx context.Context, keyspace, query string) (*PreparedResult, error) {
	key := keyspace + "\x00" + query
	if v, ok := c.preparedOnConn.Load(key); ok {
		return v.(*PreparedResult), nil
	}

	v, err, _ := c.prepareGroup.Do(key, func() (any, error) {
		f := &protocol.Frame{Version: c.Version(), Opcode: protocol.OpPrepare}
		op, err := c.SendStream(ctx, f, SendOptions{ReadTimeout: c.socketOpts.ReadTimeout})
		if err != nil {
			return nil, err
		}
		resp, err := op.Await(ctx)
		if err != nil {
			return nil, err
		}
		if resp.Opcode == protocol.OpError {
			return nil, cqlerrs.NewResponseError(cqlerrs.CodeServerError, "prepare failed")
		}
		result := &PreparedResult{ID: resp.Body}
		c.preparedOnConn.Store(key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PreparedResult), nil
}

// ChangeKeyspace sends USE <name> and, on success, records it so future
// requests on this connection implicitly see that keyspace.
func (c *Connection) ChangeKeyspace(ctx context.Context, name string) error {
	f := &protocol.Frame{Version: c.Version(), Opcode: protocol.OpQuery, Body: []byte("USE " + name)}
	op, err := c.SendStream(ctx, f, SendOptions{ReadTimeout: c.socketOpts.ReadTimeout})
	if err != nil {
		return err
	}
	resp, err := op.Await(ctx)
	if err != nil {
		return err
	}
	if resp.Opcode == protocol.OpError {
		return cqlerrs.NewResponseError(cqlerrs.CodeServerError, "USE failed")
	}
	ks := name
	c.keyspace.Store(&ks)
	return nil
}

// heartbeatLoop sends OPTIONS every HeartBeatInterval, whether or not
// other outbound traffic was written in that interval. A failing
// heartbeat notifies the owning Host with a ConnectionClose event that
// carries the heartbeat error, and the loop stops.
func (c *Connection) heartbeatLoop() {
	interval := c.poolingOpts.HeartBeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.heartbeatStop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.socketOpts.ReadTimeout)
			f := &protocol.Frame{Version: c.Version(), Opcode: protocol.OpOptions}
			op, err := c.SendStream(ctx, f, SendOptions{ReadTimeout: c.socketOpts.ReadTimeout})
			if err == nil {
				_, err = op.Await(ctx)
			}
			cancel()
			if err != nil {
				c.notify(events.HostLifecycleEvent{Kind: events.ConnectionClose, Err: fmt.Errorf("connection: idle heartbeat failed: %w", err)})
				return
			}
		}
	}
}

// TimedOutOperations returns the count of per-operation timeouts
// observed; the Pool uses this against defunctReadTimeoutThreshold.
func (c *Connection) TimedOutOperations() int64 {
	return c.timedOutOperations.Load()
}

func (c *Connection) markDefunct(err error) {
	c.notify(events.HostLifecycleEvent{Kind: events.ConnectionClose, Err: err})
	_ = c.Close()
}

func (c *Connection) notify(ev events.HostLifecycleEvent) {
	if c.notifier != nil {
		c.notifier.Notify(ev)
	}
}

// OnClose registers fn to run exactly once when this Connection closes,
// whether from a caller-initiated Close, a defunct-socket teardown, or a
// failed heartbeat. Unlike HostLifecycleNotifier (which only tells the
// owning Host), this lets a specific caller watch one connection without
// going through the pool's aggregate empty/non-empty signal. If the
// connection is already closed, fn runs synchronously.
func (c *Connection) OnClose(fn func()) {
	c.closeListenersMu.Lock()
	if c.State() == StateClosed {
		c.closeListenersMu.Unlock()
		fn()
		return
	}
	c.closeListeners = append(c.closeListeners, fn)
	c.closeListenersMu.Unlock()
}

// Close cancels all pending operations with a transport-error signal,
// stops timers, and closes the socket. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.writeStop)
		if c.reassemblerStop != nil {
			close(c.reassemblerStop)
		}
		if c.heartbeatStop != nil {
			close(c.heartbeatStop)
		}
		c.pending.Range(func(id int16, op *pendingOp) bool {
			if op.timer != nil {
				op.timer.Stop()
			}
			op.closed.Store(true)
			select {
			case op.done <- nil:
			default:
			}
			return true
		})
		if c.streams != nil {
			c.streams.releaseAll()
		}
		c.events.Shutdown()
		c.connMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.connMu.Unlock()

		c.closeListenersMu.Lock()
		listeners := c.closeListeners
		c.closeListeners = nil
		c.closeListenersMu.Unlock()
		for _, fn := range listeners {
			fn()
		}
	})
	return err
}
