// Package client implements the Client facade named in §2: the public
// entry points connect/execute/batch/stream/shutdown, wiring the Host
// Map, Control Connection, Prepared Handler, Request Handler, and
// Concurrent Executor into one object. Grounded on the teacher's
// top-level app wiring (main.go's construct-then-Start/Stop shape),
// generalized from an HTTP listener lifecycle to a driver's
// connect/shutdown lifecycle.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cqlcore/driver/internal/config"
	"github.com/cqlcore/driver/internal/connection"
	"github.com/cqlcore/driver/internal/control"
	"github.com/cqlcore/driver/internal/domain"
	"github.com/cqlcore/driver/internal/executor"
	"github.com/cqlcore/driver/internal/host"
	"github.com/cqlcore/driver/internal/policies/loadbalancing"
	"github.com/cqlcore/driver/internal/policies/reconnection"
	"github.com/cqlcore/driver/internal/policies/retry"
	"github.com/cqlcore/driver/internal/policies/speculative"
	"github.com/cqlcore/driver/internal/policies/timestamp"
	"github.com/cqlcore/driver/internal/policies/translation"
	"github.com/cqlcore/driver/internal/prepared"
	"github.com/cqlcore/driver/internal/request"
)

// Cluster is the single public handle an application holds: the result
// of connect(), and the receiver for execute/batch/stream/shutdown.
type Cluster struct {
	cfg *config.Config

	hostMap        *domain.HostMap
	lbPolicy       loadbalancing.Policy
	retryPolicy    retry.Policy
	specPolicy     speculative.Policy
	reconnectPolicy reconnection.Policy
	translator     translation.Translator
	tsGen          timestamp.Generator

	coreConnsPerDistance host.CoreConnectionsPerDistance
	socketOpts           connection.SocketOptions
	poolingOpts          connection.PoolingOptions

	hosts   sync.Map // domain.Endpoint -> *host.Host
	control *control.ControlConnection

	prepareCache   *prepared.Cache
	prepareHandler *prepared.Handler
	requestHandler *request.Handler

	defaultProfile config.ExecutionProfile

	shutdownOnce sync.Once
	shutdown     atomic.Bool

	log *slog.Logger
}

// Connect resolves contact points, negotiates the control connection,
// and returns a ready-to-use Cluster, per §2's connect() entry point.
// The caller supplies a control.MetadataQuerier because the binary CQL
// type codec that decodes system.local/system.peers rows is an
// out-of-scope collaborator (see SPEC_FULL.md's Non-goals).
func Connect(ctx context.Context, cfg *config.Config, querier control.MetadataQuerier, log *slog.Logger) (*Cluster, error) {
	profile, ok := cfg.Profiles["default"]
	if !ok {
		return nil, fmt.Errorf("client: config is missing the required \"default\" execution profile")
	}

	c := &Cluster{
		cfg:                  cfg,
		hostMap:              domain.NewHostMap(),
		lbPolicy:             resolveLoadBalancing(cfg.Cluster.Policies.LoadBalancing, cfg.Cluster.LocalDataCenter),
		retryPolicy:          resolveRetry(profile.RetryPolicy),
		specPolicy:           resolveSpeculative(profile.SpeculativeExecution),
		reconnectPolicy:      reconnection.NewExponentialReconnectionPolicy(),
		translator:           translation.Identity{},
		tsGen:                timestamp.NewMonotonic(log),
		coreConnsPerDistance: coreConnectionsFromConfig(cfg.Cluster.Pooling.CoreConnectionsPerHost),
		socketOpts:           socketOptionsFromConfig(cfg.Cluster.SocketOptions),
		poolingOpts:          poolingOptionsFromConfig(cfg.Cluster.Pooling),
		prepareCache:         prepared.NewCache(cfg.Cluster.MaxPrepared),
		defaultProfile:       profile,
		log:                  log,
	}

	c.lbPolicy.Init(c.hostMap)
	c.prepareHandler = prepared.NewHandler(c.prepareCache, c.lbPolicy, c.hostFor, cfg.Cluster.PrepareOnAllHosts, log)
	c.requestHandler = request.NewHandler(c.lbPolicy, c.hostFor, c.prepareHandler, log)

	controlCfg := control.DefaultConfig()
	controlCfg.ContactPoints = cfg.Cluster.ContactPoints
	controlCfg.Port = cfg.Cluster.ProtocolOptions.Port
	controlCfg.IsMetadataSyncEnabled = cfg.Cluster.IsMetadataSyncEnabled
	controlCfg.RefreshSchemaDelay = cfg.Cluster.RefreshSchemaDelay

	c.control = control.New(controlCfg, c.hostMap, c.lbPolicy, c.translator, querier, c.hostFor, c.reconnectPolicy, log)

	if err := c.control.Init(ctx); err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}

	return c, nil
}

// hostFor is the HostFactory injected into the Control Connection, the
// Prepare Handler, and the Request Handler: it lazily constructs (or
// returns the cached) *host.Host for an endpoint, so all three
// collaborators share one pool per node without the Client needing to
// pre-populate anything.
func (c *Cluster) hostFor(endpoint domain.Endpoint) *host.Host {
	if existing, ok := c.hosts.Load(endpoint); ok {
		return existing.(*host.Host)
	}

	h := host.New(endpoint, c.coreConnsPerDistance, c.socketOpts, c.poolingOpts, c.reconnectPolicy, c.log)
	if c.cfg.Cluster.RePrepareOnUp {
		h.SetPreparedSupplier(c.prepareHandler.PrepareAllQueries, true)
	}

	actual, loaded := c.hosts.LoadOrStore(endpoint, h)
	if loaded {
		return actual.(*host.Host)
	}
	return h
}

// Execute runs one query/bound-statement through the Request Handler,
// per §2's execute() entry point.
func (c *Cluster) Execute(ctx context.Context, query string, opts request.Options) (*request.Result, error) {
	if c.shutdown.Load() {
		return nil, fmt.Errorf("client: execute called after shutdown")
	}
	c.applyDefaults(&opts)
	req := &request.Request{Query: query, Opts: opts}
	return c.requestHandler.Execute(ctx, req)
}

// Batch runs a set of statements as one logical BATCH request, reusing
// the Request Handler's full retry/speculative machinery by shaping the
// batch as a single Request whose Params carries the pre-encoded batch
// body (the binary encoding of individual statements is the out-of-
// scope type-codec collaborator's job).
func (c *Cluster) Batch(ctx context.Context, encodedBatch []byte, opts request.Options) (*request.Result, error) {
	if c.shutdown.Load() {
		return nil, fmt.Errorf("client: batch called after shutdown")
	}
	c.applyDefaults(&opts)
	req := &request.Request{Params: encodedBatch, Opts: opts}
	return c.requestHandler.Execute(ctx, req)
}

// Stream fans many independent requests out through the Concurrent
// Executor, per §2's stream() entry point and §4.8's stream mode.
func (c *Cluster) Stream(ctx context.Context, src executor.StreamSource, opts executor.Options) (*executor.ResultGroup, error) {
	if c.shutdown.Load() {
		return nil, fmt.Errorf("client: stream called after shutdown")
	}
	return executor.ExecuteStream(ctx, src, c.requestHandler.Execute, opts)
}

// ExecuteMany runs executeConcurrent's array mode: a fixed, known-size
// batch of independent requests bounded by opts.ConcurrencyLevel.
func (c *Cluster) ExecuteMany(ctx context.Context, reqs []*request.Request, opts executor.Options) (*executor.ResultGroup, error) {
	if c.shutdown.Load() {
		return nil, fmt.Errorf("client: executeMany called after shutdown")
	}
	return executor.Execute(ctx, reqs, c.requestHandler.Execute, opts)
}

// Prepare issues a PREPARE for query, per §4.7, caching the result for
// subsequent Execute calls that reference it by Key.
func (c *Cluster) Prepare(ctx context.Context, keyspace, query string) (*prepared.Entry, error) {
	if c.shutdown.Load() {
		return nil, fmt.Errorf("client: prepare called after shutdown")
	}
	return c.prepareHandler.Prepare(ctx, keyspace, query)
}

// Shutdown tears down the Control Connection and every Host's pool,
// idempotently, per §5's shutdown invariant: pending operations fail
// with a shutdown error, emitted once.
func (c *Cluster) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.shutdown.Store(true)
		c.control.Shutdown()
		c.hosts.Range(func(_, v any) bool {
			v.(*host.Host).Pool.Shutdown()
			return true
		})
	})
}

func (c *Cluster) applyDefaults(opts *request.Options) {
	if opts.Consistency == "" {
		opts.Consistency = c.defaultProfile.Consistency
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = msToDuration(c.defaultProfile.ReadTimeoutMs)
	}
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = c.retryPolicy
	}
	if opts.SpecPolicy == nil {
		opts.SpecPolicy = c.specPolicy
	}
	if opts.TimestampGen == nil {
		opts.TimestampGen = c.tsGen
	}
}
