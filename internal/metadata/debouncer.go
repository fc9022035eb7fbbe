// Package metadata implements the keyspace/table/UDT/function/aggregate
// cache and the schema Event Debouncer that coalesces bursts of schema
// events into a single refresh window, grounded on the teacher's
// config-hot-reload debounce (internal/config/config.go's
// reloadMutex/lastReload/DefaultFileWriteDelay dance) — the same
// technique, a distinct instance, applied to schema events instead of
// config file writes.
package metadata

import (
	"sync"
	"time"
)

// DefaultRefreshSchemaDelay matches §6's documented default.
const DefaultRefreshSchemaDelay = 1000 * time.Millisecond

// pendingKey names one coalescing bucket: a keyspace, or a keyspace+object.
type pendingKey struct {
	keyspace string
	object   string // table/UDT/function/aggregate name, "" for keyspace-level
}

// Debouncer collects schema events and queues a combined handler per
// distinct (keyspace, object). Duplicate refreshes within the sliding
// window collapse into one; if both a create and a drop are queued for
// the same name, the later event wins.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration

	pending map[pendingKey]*pendingEntry

	onFlush func(keyspace, object string, lastEvent string)
}

type pendingEntry struct {
	lastEvent string
	timer     *time.Timer
}

// NewDebouncer constructs a Debouncer with delay ms of quiescence before
// flushing, calling onFlush once per distinct key when the window
// elapses (or immediately, for processNow=true events).
func NewDebouncer(delay time.Duration, onFlush func(keyspace, object, lastEvent string)) *Debouncer {
	if delay <= 0 {
		delay = DefaultRefreshSchemaDelay
	}
	return &Debouncer{
		delay:   delay,
		pending: make(map[pendingKey]*pendingEntry),
		onFlush: onFlush,
	}
}

// Enqueue records a schema event for (keyspace, object). If processNow is
// true, it flushes this key immediately, cancelling any pending timer.
// Otherwise it (re)arms a timer for delay ms of quiescence; repeated
// calls within the window reset the timer and overwrite lastEvent so the
// later event wins.
func (d *Debouncer) Enqueue(keyspace, object, event string, processNow bool) {
	key := pendingKey{keyspace: keyspace, object: object}

	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.pending[key]
	if !ok {
		entry = &pendingEntry{}
		d.pending[key] = entry
	}
	entry.lastEvent = event

	if processNow {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(d.pending, key)
		go d.onFlush(keyspace, object, event)
		return
	}

	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		e, ok := d.pending[key]
		if !ok {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		last := e.lastEvent
		d.mu.Unlock()
		d.onFlush(keyspace, object, last)
	})
}

// Pending returns the number of distinct keys awaiting flush, for tests
// and diagnostics.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
