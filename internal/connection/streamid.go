package connection

import (
	"fmt"
	"sync"

	"github.com/cqlcore/driver/internal/protocol"
)

// streamState is the lifecycle of one stream id slot.
type streamState uint8

const (
	streamFree streamState = iota
	streamReservedInFlight
	streamReservedTimedOut
)

// streamIDAllocator is the bounded semaphore over a Connection's stream
// id space described in §5: ids are free, reserved-in-flight, or
// reserved-timed-out. A timed-out id goes back to free only when its
// late response arrives or the connection closes — reusing it earlier
// risks a late response corrupting an unrelated request.
type streamIDAllocator struct {
	mu     sync.Mutex
	states []streamState
	free   []int16 // free-list, LIFO for cache locality
}

func newStreamIDAllocator(version protocol.Version) *streamIDAllocator {
	max := int(version.MaxStreamID())
	a := &streamIDAllocator{
		states: make([]streamState, max),
		free:   make([]int16, max),
	}
	for i := 0; i < max; i++ {
		a.free[i] = int16(max - 1 - i)
	}
	return a
}

// acquire reserves a free stream id. ok is false if the space is
// exhausted (the Connection is saturated — the caller surfaces
// BusyConnectionError).
func (a *streamIDAllocator) acquire() (id int16, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.free)
	if n == 0 {
		return 0, false
	}
	id = a.free[n-1]
	a.free = a.free[:n-1]
	a.states[id] = streamReservedInFlight
	return id, true
}

// release returns id to the free pool. Called when the response for id
// actually arrives, regardless of whether the operation already timed
// out on the caller's side.
func (a *streamIDAllocator) release(id int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.states[id] == streamFree {
		return
	}
	a.states[id] = streamFree
	a.free = append(a.free, id)
}

// markTimedOut transitions id to reserved-timed-out: the caller's wait
// has expired, but the id is NOT released yet, because a late response
// could still arrive and must be safely discarded rather than
// misattributed to a future request on the same id.
func (a *streamIDAllocator) markTimedOut(id int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.states[id] == streamReservedInFlight {
		a.states[id] = streamReservedTimedOut
	}
}

// releaseAll forces every reserved id (including timed-out ones) back to
// free, used only on connection close.
func (a *streamIDAllocator) releaseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = a.free[:0]
	for i := range a.states {
		a.states[i] = streamFree
		a.free = append(a.free, int16(i))
	}
}

// inFlight returns the count of ids not currently free (in-flight plus
// timed-out-but-unreleased), used by the pool's borrow-by-sampling
// balancer.
func (a *streamIDAllocator) inFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.states) - len(a.free)
}

// capacity returns the total stream id space size.
func (a *streamIDAllocator) capacity() int {
	return len(a.states)
}

func (a *streamIDAllocator) stateOf(id int16) (streamState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(id) < 0 || int(id) >= len(a.states) {
		return 0, fmt.Errorf("connection: stream id %d out of range", id)
	}
	return a.states[id], nil
}
