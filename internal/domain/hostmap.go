package domain

import (
	"sync"
	"sync/atomic"
)

// HostMapEvent names a Host Map mutation for subscribers.
type HostMapEvent int

const (
	HostMapEventAdd HostMapEvent = iota
	HostMapEventRemove
)

// HostMapListener is notified of Host Map mutations. Subscription is
// fire-and-forget: listeners must not block.
type HostMapListener func(event HostMapEvent, host *Host)

// HostMap is a copy-on-write mapping from Endpoint to Host. Any mutation
// replaces the internal map and invalidates the cached values snapshot;
// iteration always sees the snapshot captured at call time, never a
// torn intermediate state. This is the mechanism the control connection
// uses to publish topology changes without requiring readers to lock.
type HostMap struct {
	mu sync.Mutex // serializes writers only; readers never block

	snapshot atomic.Pointer[hostMapSnapshot]

	listeners   []HostMapListener
	listenersMu sync.RWMutex
}

type hostMapSnapshot struct {
	byEndpoint map[Endpoint]*Host
	values     []*Host
}

// NewHostMap returns an empty Host Map.
func NewHostMap() *HostMap {
	hm := &HostMap{}
	hm.snapshot.Store(&hostMapSnapshot{byEndpoint: map[Endpoint]*Host{}})
	return hm
}

// Subscribe registers a listener for add/remove events.
func (m *HostMap) Subscribe(l HostMapListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *HostMap) notify(event HostMapEvent, h *Host) {
	m.listenersMu.RLock()
	ls := make([]HostMapListener, len(m.listeners))
	copy(ls, m.listeners)
	m.listenersMu.RUnlock()
	for _, l := range ls {
		l(event, h)
	}
}

// Get returns the Host for endpoint, if present, from the current
// snapshot.
func (m *HostMap) Get(endpoint Endpoint) (*Host, bool) {
	snap := m.snapshot.Load()
	h, ok := snap.byEndpoint[endpoint]
	return h, ok
}

// Values returns the current immutable snapshot slice. Two calls with no
// intervening mutation return the identical backing slice (reference
// equality), per the testable property in the design: readers may cache
// the returned slice across a scheduler tick.
func (m *HostMap) Values() []*Host {
	return m.snapshot.Load().values
}

// Len returns the number of hosts in the current snapshot.
func (m *HostMap) Len() int {
	return len(m.snapshot.Load().values)
}

// Upsert adds host if its endpoint is new, or replaces the existing Host
// at that endpoint otherwise. Always allocates a new map/slice and swaps
// the pointer atomically; never mutates the prior snapshot in place.
func (m *HostMap) Upsert(host *Host) (isNew bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.snapshot.Load()
	_, existed := old.byEndpoint[host.Endpoint]

	next := &hostMapSnapshot{
		byEndpoint: make(map[Endpoint]*Host, len(old.byEndpoint)+1),
		values:     make([]*Host, 0, len(old.values)+1),
	}
	for ep, h := range old.byEndpoint {
		if ep == host.Endpoint {
			continue
		}
		next.byEndpoint[ep] = h
		next.values = append(next.values, h)
	}
	next.byEndpoint[host.Endpoint] = host
	next.values = append(next.values, host)

	m.snapshot.Store(next)

	if !existed {
		m.notify(HostMapEventAdd, host)
		return true
	}
	return false
}

// Remove deletes the Host at endpoint, if present, and emits a remove
// event. Returns the removed Host, if any.
func (m *HostMap) Remove(endpoint Endpoint) (*Host, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.snapshot.Load()
	removed, ok := old.byEndpoint[endpoint]
	if !ok {
		return nil, false
	}

	next := &hostMapSnapshot{
		byEndpoint: make(map[Endpoint]*Host, len(old.byEndpoint)),
		values:     make([]*Host, 0, len(old.values)),
	}
	for ep, h := range old.byEndpoint {
		if ep == endpoint {
			continue
		}
		next.byEndpoint[ep] = h
		next.values = append(next.values, h)
	}

	m.snapshot.Store(next)
	m.notify(HostMapEventRemove, removed)
	return removed, true
}

// Reset clears the map entirely (full reinitialization), without
// emitting per-host remove events — callers that need those should
// diff Values() before and after.
func (m *HostMap) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Store(&hostMapSnapshot{byEndpoint: map[Endpoint]*Host{}})
}
