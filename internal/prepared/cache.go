// Package prepared implements the Prepared Cache and Prepare Handler:
// first-time prepare-on-one-host with optional cluster-wide eager
// fan-out, re-prepare on UNPREPARED, and re-prepare on host-up. Grounded
// on the teacher's pkg/eventbus for fan-out and sourcegraph/conc for the
// bounded cluster-wide PREPARE broadcast.
package prepared

import (
	"container/list"
	"context"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/cqlcore/driver/internal/connection"
	"github.com/cqlcore/driver/internal/domain"
	"github.com/cqlcore/driver/internal/host"
	"github.com/cqlcore/driver/internal/policies/loadbalancing"
)

// Key identifies a prepared statement by keyspace-qualified query text.
type Key struct {
	Keyspace string
	Query    string
}

// Entry is the cached shape named in §3: {id, resultMetadataId,
// parameterMeta, resultMeta}. The latter two are opaque to this package
// (external binary-codec collaborator), carried as []byte.
type Entry struct {
	ID               []byte
	ResultMetadataID []byte
	ParameterMeta    []byte
	ResultMeta       []byte
}

// Cache is an LRU-bounded mapping from Key to Entry, per §3.
type Cache struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[Key]*list.Element
	order    *list.List // front = most recently used
}

type cacheNode struct {
	key   Key
	entry *Entry
}

// NewCache returns an LRU cache bounded by maxPrepared, per §6's default
// of 500.
func NewCache(maxPrepared int) *Cache {
	if maxPrepared <= 0 {
		maxPrepared = 500
	}
	return &Cache{
		maxSize: maxPrepared,
		entries: make(map[Key]*list.Element),
		order:   list.New(),
	}
}

func (c *Cache) Get(key Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheNode).entry, true
}

// Put inserts or last-writer-wins-overwrites key, evicting the least
// recently used entry if the cache is at capacity.
func (c *Cache) Put(key Key, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheNode).entry = entry
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheNode{key: key, entry: entry})
	c.entries[key] = el
	if c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheNode).key)
		}
	}
}

// Entries returns a snapshot of every cached (Key, Entry) pair, used by
// the re-prepare-on-up routine to enumerate what to reissue.
func (c *Cache) Entries() []struct {
	Key   Key
	Entry *Entry
} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]struct {
		Key   Key
		Entry *Entry
	}, 0, len(c.entries))
	for e := c.order.Front(); e != nil; e = e.Next() {
		n := e.Value.(*cacheNode)
		out = append(out, struct {
			Key   Key
			Entry *Entry
		}{Key: n.key, Entry: n.entry})
	}
	return out
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Handler implements the Prepare Handler contract named in §4.7.
type Handler struct {
	cache            *Cache
	lbPolicy         loadbalancing.Policy
	hostFactory      func(domain.Endpoint) *host.Host
	prepareOnAllHosts bool
	log              *slog.Logger
}

// NewHandler constructs a Prepare Handler. hostFactory resolves the
// internal/host.Host façade for a domain.Host, mirroring how
// internal/control avoids a direct dependency on the client facade.
func NewHandler(cache *Cache, lbPolicy loadbalancing.Policy, hostFactory func(domain.Endpoint) *host.Host, prepareOnAllHosts bool, log *slog.Logger) *Handler {
	return &Handler{cache: cache, lbPolicy: lbPolicy, hostFactory: hostFactory, prepareOnAllHosts: prepareOnAllHosts, log: log}
}

// Prepare checks the cluster cache; if present, returns the cached
// entry. Otherwise it picks one host via the load-balancing plan,
// issues PREPARE, caches the result, and — if prepareOnAllHosts — fans
// out to every other up host asynchronously with failures ignored.
func (h *Handler) Prepare(ctx context.Context, keyspace, query string) (*Entry, error) {
	key := Key{Keyspace: keyspace, Query: query}
	if e, ok := h.cache.Get(key); ok {
		return e, nil
	}

	plan := h.lbPolicy.NewQueryPlan(keyspace, nil)
	var entry *Entry
	var lastErr error
	var preparedOn *domain.Host

	for {
		dh, ok := plan.Next()
		if !ok {
			break
		}
		facade := h.hostFactory(dh.Endpoint)
		conn, err := facade.BorrowConnection(ctx, keyspace, nil)
		if err != nil {
			lastErr = err
			continue
		}
		result, err := conn.PrepareOnce(ctx, keyspace, query)
		if err != nil {
			lastErr = err
			continue
		}
		entry = &Entry{ID: result.ID, ResultMetadataID: result.ResultMetadataID}
		preparedOn = dh
		break
	}
	if entry == nil {
		return nil, lastErr
	}

	h.cache.Put(key, entry)

	if h.prepareOnAllHosts {
		go h.fanOut(context.Background(), keyspace, query, preparedOn)
	}
	return entry, nil
}

func (h *Handler) fanOut(ctx context.Context, keyspace, query string, skip *domain.Host) {
	plan := h.lbPolicy.NewQueryPlan(keyspace, nil)
	p := pool.New().WithMaxGoroutines(10)
	for {
		dh, ok := plan.Next()
		if !ok {
			break
		}
		if dh == skip || !dh.IsUp() {
			continue
		}
		target := dh
		p.Go(func() {
			facade := h.hostFactory(target.Endpoint)
			conn, err := facade.BorrowConnection(ctx, keyspace, nil)
			if err != nil {
				if h.log != nil {
					h.log.Warn("prepare fan-out: borrow failed", "endpoint", target.Endpoint, "error", err)
				}
				return
			}
			if _, err := conn.PrepareOnce(ctx, keyspace, query); err != nil && h.log != nil {
				h.log.Warn("prepare fan-out failed", "endpoint", target.Endpoint, "error", err)
			}
		})
	}
	p.Wait()
}

// PrepareAllQueries supplies the cached entries for §4.7's
// prepareAllQueries(host, cachedEntries): it adapts the Cache's Entries()
// into host.PreparedEntry for the Host façade's SetPreparedSupplier
// wiring and sends nothing itself. The host-up PREPARE requests, with
// bounded concurrency and errors logged rather than raised, are issued
// by the Host façade's rePrepareAll.
func (h *Handler) PrepareAllQueries() []host.PreparedEntry {
	entries := h.cache.Entries()
	out := make([]host.PreparedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, host.PreparedEntry{Keyspace: e.Key.Keyspace, Query: e.Key.Query})
	}
	return out
}

// ReprepareOnUnprepared implements the non-counting-against-retry-limits
// UNPREPARED recovery path in §4.6 step 5: re-prepare the query on the
// responding connection, then let the caller retry.
func (h *Handler) ReprepareOnUnprepared(ctx context.Context, conn *connection.Connection, keyspace, query string) error {
	_, err := conn.PrepareOnce(ctx, keyspace, query)
	return err
}
