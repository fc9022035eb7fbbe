// Package control implements the Control Connection: the cluster-state
// oracle that discovers topology, subscribes to change events, and
// re-establishes itself on failure. Grounded on the teacher's
// errgroup-driven, atomic.Bool-guarded discovery loop
// (internal/adapter/discovery/service.go) generalized from periodic HTTP
// polling to an event-driven refresh state machine.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cqlcore/driver/internal/connection"
	"github.com/cqlcore/driver/internal/domain"
	cqlerrs "github.com/cqlcore/driver/internal/errs"
	"github.com/cqlcore/driver/internal/events"
	"github.com/cqlcore/driver/internal/host"
	"github.com/cqlcore/driver/internal/metadata"
	"github.com/cqlcore/driver/internal/policies/loadbalancing"
	"github.com/cqlcore/driver/internal/policies/reconnection"
	"github.com/cqlcore/driver/internal/policies/translation"
)

// MetadataQuerier is the external collaborator that issues the seed
// queries named in §6 and decodes their rows; the binary CQL codec is
// out of scope for this port.
type MetadataQuerier interface {
	QueryLocal(ctx context.Context, conn *connection.Connection) (*LocalRow, error)
	QueryPeers(ctx context.Context, conn *connection.Connection) ([]PeerRow, error)
	Register(ctx context.Context, conn *connection.Connection) error
}

// Config bundles the Control Connection's tunables from §6.
type Config struct {
	ContactPoints             []string
	Port                      int
	NewNodesUp                bool
	NewNodeDelay              time.Duration
	IsMetadataSyncEnabled     bool
	RefreshSchemaDelay        time.Duration
	TopologyChangeCoalesceDelay time.Duration
}

// DefaultConfig matches §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Port:                        9042,
		NewNodesUp:                  true,
		NewNodeDelay:                1 * time.Second,
		IsMetadataSyncEnabled:       true,
		RefreshSchemaDelay:          metadata.DefaultRefreshSchemaDelay,
		TopologyChangeCoalesceDelay: 1000 * time.Millisecond,
	}
}

// HostFactory constructs (or looks up) the internal/host.Host façade for
// an endpoint, wiring in the rest of the client's shared policies. The
// Control Connection never constructs Hosts directly — the Client facade
// owns that via this factory, avoiding a control -> client import cycle.
type HostFactory func(domain.Endpoint) *host.Host

// ControlConnection is the cluster-state oracle described in §4.4.
type ControlConnection struct {
	cfg Config

	hostMap    *domain.HostMap
	lbPolicy   loadbalancing.Policy
	translator translation.Translator
	querier    MetadataQuerier
	hostFactory HostFactory
	metaCache  *metadata.Cache
	debouncer  *metadata.Debouncer

	reconnectPolicy reconnection.Policy
	schedule        reconnection.Schedule

	adopted   atomic.Pointer[adoptedState]
	running   atomic.Bool

	topologyCoalesceTimer *time.Timer
	topologyMu            sync.Mutex

	log *slog.Logger
}

type adoptedState struct {
	host *host.Host
	conn *connection.Connection
}

// New constructs a ControlConnection; call Init to resolve contact
// points and run the first refresh.
func New(cfg Config, hostMap *domain.HostMap, lbPolicy loadbalancing.Policy, translator translation.Translator, querier MetadataQuerier, hostFactory HostFactory, reconnectPolicy reconnection.Policy, log *slog.Logger) *ControlConnection {
	cc := &ControlConnection{
		cfg:             cfg,
		hostMap:         hostMap,
		lbPolicy:        lbPolicy,
		translator:      translator,
		querier:         querier,
		hostFactory:     hostFactory,
		metaCache:       metadata.NewCache(),
		reconnectPolicy: reconnectPolicy,
		log:             log,
	}
	cc.schedule = reconnectPolicy.NewSchedule()
	cc.debouncer = metadata.NewDebouncer(cfg.RefreshSchemaDelay, cc.flushSchemaRefresh)
	return cc
}

// Init implements §4.4's initialization: resolve every contact point,
// add each resolved endpoint to the Host Map with no protocol version
// yet negotiated, then run the first refresh.
func (cc *ControlConnection) Init(ctx context.Context) error {
	resolved, err := ResolveContactPoints(cc.cfg.ContactPoints, cc.cfg.Port)
	if err != nil {
		return err
	}
	for _, r := range resolved {
		for _, ep := range r.Endpoints {
			if _, ok := cc.hostMap.Get(ep); !ok {
				cc.hostMap.Upsert(domain.NewHost(ep))
			}
		}
	}
	return cc.refresh(ctx, true)
}

// refresh is the main state machine named in §4.4.
func (cc *ControlConnection) refresh(ctx context.Context, initializing bool) error {
	var plan loadbalancing.QueryPlan
	if initializing {
		plan = &contactHostsPlan{hosts: cc.hostMap.Values()}
	} else {
		plan = cc.lbPolicy.NewQueryPlan("", nil)
	}

	perHostErrors := make(map[string]error)

	for {
		h, ok := plan.Next()
		if !ok {
			break
		}
		if !initializing && (!h.IsUp() || h.Distance() == domain.DistanceIgnored) {
			continue
		}

		hostFacade := cc.hostFactory(h.Endpoint)
		conn, err := hostFacade.BorrowConnection(ctx, "", nil)
		if err != nil {
			perHostErrors[string(h.Endpoint)] = err
			continue
		}

		if err := cc.adoptAndQuery(ctx, hostFacade, conn); err != nil {
			perHostErrors[string(h.Endpoint)] = err
			hostFacade.RemoveFromPool(conn)
			continue
		}

		cc.schedule = cc.reconnectPolicy.NewSchedule()
		return nil
	}

	if initializing {
		return cqlerrs.NewNoHostAvailableError(perHostErrors)
	}

	delay := cc.schedule.Next()
	time.AfterFunc(delay, func() {
		_ = cc.refresh(context.Background(), false)
	})
	return nil
}

// contactHostsPlan is an ordered iterator over the initial contact
// hosts, used only during Init's first refresh.
type contactHostsPlan struct {
	hosts []*domain.Host
	idx   int
}

func (p *contactHostsPlan) Next() (*domain.Host, bool) {
	if p.idx >= len(p.hosts) {
		return nil, false
	}
	h := p.hosts[p.idx]
	p.idx++
	return h, true
}

func (cc *ControlConnection) adoptAndQuery(ctx context.Context, hostFacade *host.Host, conn *connection.Connection) error {
	local, err := cc.querier.QueryLocal(ctx, conn)
	if err != nil {
		return fmt.Errorf("control: query system.local: %w", err)
	}
	peers, err := cc.querier.QueryPeers(ctx, conn)
	if err != nil {
		return fmt.Errorf("control: query system.peers: %w", err)
	}

	ApplyPeerRows(cc.hostMap, local, peers, cc.translator, cc.cfg.Port, cc.cfg.NewNodesUp, cc.log)

	if cc.cfg.IsMetadataSyncEnabled {
		// Keyspace metadata refresh is driven by the schema-event
		// debouncer going forward; the initial population is the
		// responsibility of the same querier via a dedicated call the
		// binary-codec collaborator supplies — not re-implemented here.
	}

	if err := cc.querier.Register(ctx, conn); err != nil {
		return fmt.Errorf("control: register for events: %w", err)
	}

	cc.adopted.Store(&adoptedState{host: hostFacade, conn: conn})
	cc.installOneShotListeners(hostFacade, conn)

	events, cleanup := conn.Subscribe(ctx)
	go cc.eventLoop(events, cleanup)

	return nil
}

// installOneShotListeners implements §4.4's "on success" step: install
// one-shot down|ignore and socketClose listeners on the adopted host and
// connection. Either fires reconnection via refresh(false).
func (cc *ControlConnection) installOneShotListeners(h *host.Host, conn *connection.Connection) {
	var fired atomic.Bool
	trigger := func() {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		go func() {
			_ = cc.refresh(context.Background(), false)
		}()
	}
	h.AddListener(oneShotHostListener{onDown: trigger, onIgnore: trigger})
	// socketClose watches the adopted connection directly: Notify(ConnectionClose)
	// only reaches the Host's aggregate pool-empty check, which stays quiet
	// as long as a sibling connection is still open — so losing just this
	// one socket would otherwise never reselect a control host.
	conn.OnClose(trigger)
}

type oneShotHostListener struct {
	onDown   func()
	onIgnore func()
}

func (l oneShotHostListener) OnHostUp(*host.Host)     {}
func (l oneShotHostListener) OnHostDown(*host.Host)   { l.onDown() }
func (l oneShotHostListener) OnHostIgnore(*host.Host) { l.onIgnore() }

// eventLoop implements §4.4.2's event handling.
func (cc *ControlConnection) eventLoop(ch <-chan events.ClusterEvent, cleanup func()) {
	defer cleanup()
	for ev := range ch {
		switch ev.Kind {
		case events.TopologyChange:
			cc.onTopologyChange()
		case events.StatusChange:
			cc.onStatusChange(ev)
		case events.SchemaChange:
			cc.onSchemaChange(ev)
		}
	}
}

func (cc *ControlConnection) onTopologyChange() {
	cc.topologyMu.Lock()
	defer cc.topologyMu.Unlock()
	if cc.topologyCoalesceTimer != nil {
		cc.topologyCoalesceTimer.Stop()
	}
	cc.topologyCoalesceTimer = time.AfterFunc(cc.cfg.TopologyChangeCoalesceDelay, func() {
		_ = cc.refresh(context.Background(), false)
	})
}

func (cc *ControlConnection) onStatusChange(ev events.ClusterEvent) {
	addr, port, err := splitHostPortOrDefault(ev.Inet, cc.cfg.Port)
	if err != nil {
		return
	}
	translated, tp, err := cc.translator.Translate(addr, port)
	if err != nil {
		translated, tp = addr, port
	}
	ep := domain.NewEndpoint(translated, tp)
	h, ok := cc.hostMap.Get(ep)
	if !ok {
		return
	}

	switch ev.SubKind {
	case "UP":
		if h.Distance() == domain.DistanceIgnored {
			h.MarkUp()
			return
		}
		time.AfterFunc(cc.cfg.NewNodeDelay, func() {
			facade := cc.hostFactory(ep)
			facade.CheckIsUp(context.Background())
		})
	case "DOWN":
		if h.Distance() != domain.DistanceIgnored && cc.log != nil {
			cc.log.Warn("control: STATUS_CHANGE down observed; reconnection machinery owns the transition", "endpoint", ep)
		}
	}
}

func (cc *ControlConnection) onSchemaChange(ev events.ClusterEvent) {
	switch ev.SubKind {
	case "DROPPED":
		if ev.Table == "" && ev.UDT == "" && ev.FunctionName == "" && ev.Aggregate == "" {
			cc.metaCache.Drop(ev.Keyspace)
			return
		}
	}
	object := ev.Table
	if object == "" {
		object = ev.UDT
	}
	if object == "" {
		object = ev.FunctionName
	}
	if object == "" {
		object = ev.Aggregate
	}
	cc.debouncer.Enqueue(ev.Keyspace, object, ev.SubKind, false)
}

func (cc *ControlConnection) flushSchemaRefresh(keyspace, object, lastEvent string) {
	if lastEvent == "DROPPED" {
		if object == "" {
			cc.metaCache.Drop(keyspace)
		} else {
			cc.metaCache.InvalidateTable(keyspace, object)
		}
		return
	}
	// CREATED/UPDATED: a targeted refresh would re-query system_schema
	// via cc.querier; deferred to the binary codec collaborator exactly
	// like the initial metadata sync above.
}

// Shutdown tears down the adopted connection, if any.
func (cc *ControlConnection) Shutdown() {
	if a := cc.adopted.Load(); a != nil {
		_ = a.conn.Close()
	}
}
