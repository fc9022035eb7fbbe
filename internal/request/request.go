// Package request implements the Request Handler: the per-logical-request
// state machine that iterates a query plan, attaches per-attempt
// timeouts, consults the retry policy on response error, and races a
// speculative-execution fan-out. Grounded on the teacher's
// ExecuteWithRetry failover loop (internal/adapter/proxy/core/retry.go),
// generalized from HTTP-endpoint failover to the CQL decision tree in
// §4.6, including the UNPREPARED re-prepare path and speculative
// execution that the HTTP proxy original has no equivalent for.
package request

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cqlcore/driver/internal/connection"
	"github.com/cqlcore/driver/internal/domain"
	cqlerrs "github.com/cqlcore/driver/internal/errs"
	"github.com/cqlcore/driver/internal/host"
	"github.com/cqlcore/driver/internal/policies/loadbalancing"
	"github.com/cqlcore/driver/internal/policies/retry"
	"github.com/cqlcore/driver/internal/policies/speculative"
	"github.com/cqlcore/driver/internal/policies/timestamp"
	"github.com/cqlcore/driver/internal/prepared"
	"github.com/cqlcore/driver/internal/protocol"
)

// Options are the resolved Execution Profile fields relevant to one
// request (§3's Execution Profile, resolved per request).
type Options struct {
	Keyspace     string
	Consistency  string
	ReadTimeout  time.Duration
	Idempotent   bool
	RoutingKey   []byte
	PageState    []byte
	RetryPolicy  retry.Policy
	SpecPolicy   speculative.Policy
	TimestampGen timestamp.Generator
}

// Request is the logical operation named in §3.
type Request struct {
	Query      string
	PreparedID []byte // non-nil if this is an EXECUTE, not QUERY
	Params     []byte // opaque, encoded by the out-of-scope binary codec

	Opts Options

	attemptedHosts map[string]error
	specCount      atomic32
}

type atomic32 struct{ v int32 }

func (a *atomic32) add() int32 { a.v++; return a.v }

// Result is the terminal success shape.
type Result struct {
	Body               *protocol.Frame
	Host               domain.Endpoint
	SpeculativeCount   int
	AchievedConsistency string
	SchemaAgreement    bool
	PageState          []byte
}

// Handler is the Request Handler.
type Handler struct {
	lbPolicy    loadbalancing.Policy
	hostFactory func(domain.Endpoint) *host.Host
	prepareHandler *prepared.Handler
	log         *slog.Logger
}

func NewHandler(lbPolicy loadbalancing.Policy, hostFactory func(domain.Endpoint) *host.Host, prepareHandler *prepared.Handler, log *slog.Logger) *Handler {
	return &Handler{lbPolicy: lbPolicy, hostFactory: hostFactory, prepareHandler: prepareHandler, log: log}
}

// Execute runs the full state machine described in §4.6 and calls back
// exactly once with (result, nil) or (nil, error).
func (h *Handler) Execute(ctx context.Context, req *Request) (*Result, error) {
	req.attemptedHosts = make(map[string]error)

	plan := h.lbPolicy.NewQueryPlan(req.Opts.Keyspace, req.Opts.RoutingKey)

	resultCh := make(chan *Result, 1)
	errCh := make(chan error, 1)
	var once sync.Once
	deliverResult := func(r *Result) { once.Do(func() { resultCh <- r }) }
	deliverErr := func(e error) { once.Do(func() { errCh <- e }) }

	var wg sync.WaitGroup
	var specMu sync.Mutex
	cancelled := false
	cancelFns := []context.CancelFunc{}

	attempt := func(attemptNum int) {
		defer wg.Done()
		actx, cancel := context.WithCancel(ctx)
		specMu.Lock()
		if cancelled {
			specMu.Unlock()
			cancel()
			return
		}
		cancelFns = append(cancelFns, cancel)
		specMu.Unlock()

		r, err := h.runOneAttempt(actx, req, plan)
		if err == nil {
			specMu.Lock()
			if !cancelled {
				cancelled = true
				for _, c := range cancelFns {
					c()
				}
			}
			specMu.Unlock()
			deliverResult(r)
			return
		}
		deliverErr(err)
	}

	wg.Add(1)
	go attempt(0)

	if req.Opts.SpecPolicy != nil && req.Opts.Idempotent {
		specPlan := req.Opts.SpecPolicy.NewPlan(req.Opts.Keyspace)
		go h.scheduleSpeculative(ctx, specPlan, req, &wg, attempt)
	}

	go func() {
		wg.Wait()
		// If every attempt failed and nothing was delivered, surface the
		// aggregated per-host error map.
		deliverErr(cqlerrs.NewNoHostAvailableError(req.attemptedHosts))
	}()

	select {
	case r := <-resultCh:
		return r, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handler) scheduleSpeculative(ctx context.Context, plan speculative.Plan, req *Request, wg *sync.WaitGroup, attempt func(int)) {
	n := 1
	for {
		delay, ok := plan.NextDelay(n)
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		wg.Add(1)
		go attempt(int(req.specCount.add()))
		n++
	}
}

// runOneAttempt is steps 2-5 of §4.6: borrow a connection from the next
// host in the plan, send the frame, and consult the retry policy on
// error, looping within this single attempt's goroutine until the retry
// policy says rethrow/ignore or the plan is exhausted.
func (h *Handler) runOneAttempt(ctx context.Context, req *Request, plan loadbalancing.QueryPlan) (*Result, error) {
	retryCount := 0
	var previous *connection.Connection

	for {
		dh, ok := plan.Next()
		if !ok {
			return nil, cqlerrs.NewNoHostAvailableError(req.attemptedHosts)
		}

		facade := h.hostFactory(dh.Endpoint)
		conn, err := facade.BorrowConnection(ctx, req.Opts.Keyspace, previous)
		if err != nil {
			var busy *cqlerrs.BusyConnectionError
			if isBusy(err, &busy) {
				continue // never surfaced to the caller, per §7
			}
			req.attemptedHosts[string(dh.Endpoint)] = err
			if rethrow := h.consultRequestErrorPolicy(req, err, &retryCount); rethrow != nil {
				return nil, rethrow
			}
			continue
		}

		f := h.buildFrame(req, conn)
		op, err := conn.SendStream(ctx, f, connection.SendOptions{ReadTimeout: req.Opts.ReadTimeout})
		if err != nil {
			req.attemptedHosts[string(dh.Endpoint)] = err
			previous = conn
			if rethrow := h.consultRequestErrorPolicy(req, err, &retryCount); rethrow != nil {
				return nil, rethrow
			}
			continue
		}

		resp, err := op.Await(ctx)
		if err != nil {
			req.attemptedHosts[string(dh.Endpoint)] = err
			previous = conn
			if rethrow := h.consultRequestErrorPolicy(req, err, &retryCount); rethrow != nil {
				return nil, rethrow
			}
			continue
		}

		if resp.Opcode == protocol.OpError {
			outcome, handled := h.consultRetryPolicy(ctx, req, conn, dh, resp, retryCount)
			if !handled {
				req.attemptedHosts[string(dh.Endpoint)] = cqlerrs.NewResponseError(cqlerrs.CodeServerError, "unclassified error")
				previous = conn
				continue
			}
			switch outcome.Decision {
			case retry.DecisionRetrySameHost:
				retryCount++
				previous = nil
				continue
			case retry.DecisionRetryNextHost:
				retryCount++
				previous = conn
				continue
			case retry.DecisionIgnore:
				return &Result{Body: resp, Host: dh.Endpoint}, nil
			default:
				return nil, cqlerrs.NewResponseError(cqlerrs.CodeServerError, "request failed")
			}
		}

		return &Result{Body: resp, Host: dh.Endpoint}, nil
	}
}

func isBusy(err error, target **cqlerrs.BusyConnectionError) bool {
	b, ok := err.(*cqlerrs.BusyConnectionError)
	if ok {
		*target = b
	}
	return ok
}

// consultRequestErrorPolicy implements §4.6 step 5's client-side-error
// branch: a borrow/SendStream/Await failure (as opposed to a decoded
// ERROR response) still has to go through OnRequestError before moving
// on to the next host, so a non-idempotent write fails fast instead of
// silently retrying against a second host. Returns a non-nil error when
// the policy says rethrow; the caller should return it directly.
func (h *Handler) consultRequestErrorPolicy(req *Request, err error, retryCount *int) error {
	info := retry.RetryInfo{RetryCount: *retryCount, Idempotent: req.Opts.Idempotent, Consistency: req.Opts.Consistency}
	outcome := req.Opts.RetryPolicy.OnRequestError(info, err)
	switch outcome.Decision {
	case retry.DecisionRetrySameHost, retry.DecisionRetryNextHost:
		*retryCount++
		return nil
	default:
		return err
	}
}

// consultRetryPolicy implements §4.6 step 5's error-kind dispatch,
// including the UNPREPARED non-counting re-prepare path.
func (h *Handler) consultRetryPolicy(ctx context.Context, req *Request, conn *connection.Connection, dh *domain.Host, resp *protocol.Frame, retryCount int) (retry.Outcome, bool) {
	code := decodeErrorCode(resp)

	if code == cqlerrs.CodeUnprepared {
		if h.prepareHandler != nil {
			if err := h.prepareHandler.ReprepareOnUnprepared(ctx, conn, req.Opts.Keyspace, req.Query); err == nil {
				return retry.Outcome{Decision: retry.DecisionRetrySameHost}, true
			}
		}
		return retry.Outcome{Decision: retry.DecisionRethrow}, true
	}

	info := retry.RetryInfo{RetryCount: retryCount, Idempotent: req.Opts.Idempotent, Consistency: req.Opts.Consistency}
	policy := req.Opts.RetryPolicy

	switch code {
	case cqlerrs.CodeReadTimeout:
		return policy.OnReadTimeout(info, 0, 0, false), true
	case cqlerrs.CodeWriteTimeout:
		return policy.OnWriteTimeout(info, "SIMPLE", 0, 0), true
	case cqlerrs.CodeUnavailable:
		return policy.OnUnavailable(info, 0, 0), true
	case cqlerrs.CodeOverloaded, cqlerrs.CodeIsBootstrapping, cqlerrs.CodeTruncateError, cqlerrs.CodeServerError:
		if req.Opts.Idempotent {
			return retry.Outcome{Decision: retry.DecisionRetryNextHost}, true
		}
		return retry.Outcome{Decision: retry.DecisionRethrow}, true
	default:
		return retry.Outcome{}, false
	}
}

// decodeErrorCode decodes the 4-byte error code prefix of an ERROR frame
// body (CodeServerError if the body is shorter); full CQL type decoding remains the
// out-of-scope binary codec, but the leading error-code integer is
// stable across protocol versions and cheap to read directly.
func decodeErrorCode(f *protocol.Frame) cqlerrs.ResponseCode {
	if len(f.Body) < 4 {
		return cqlerrs.CodeServerError
	}
	return cqlerrs.ResponseCode(uint32(f.Body[0])<<24 | uint32(f.Body[1])<<16 | uint32(f.Body[2])<<8 | uint32(f.Body[3]))
}

// buildFrame constructs the request frame for a QUERY or EXECUTE with
// req.Params as its body. When the connection's negotiated version
// supports timestamp-in-flags and a generator is configured, the
// generator's Next is called, but its value is not written into the frame.
func (h *Handler) buildFrame(req *Request, conn *connection.Connection) *protocol.Frame {
	op := protocol.OpQuery
	if req.PreparedID != nil {
		op = protocol.OpExecute
	}
	f := &protocol.Frame{Version: conn.Version(), Opcode: op, Body: req.Params}

	if conn.Version().SupportsTimestampInFlags() && req.Opts.TimestampGen != nil {
		_ = req.Opts.TimestampGen.Next() // value discarded; Body stays req.Params as given
	}
	return f
}
