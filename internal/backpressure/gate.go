// Package backpressure implements the bounded in-flight gate that
// caps concurrent work per pipeline stage and blocks the Driver until
// at least one outstanding handle completes.
//
// Grounded on egoworld/pipeline/queues.py's enforce_in_flight, and on
// spec.md §9's note that the gate becomes "a counting semaphore or a
// bounded outstanding-set; blocking on 'at least one completion' is a
// select over reply channels" in a Go rewrite. Adapted from the
// teacher's internal/engine/queue.go mutex+signal-channel coalescing
// idea, not copied: this gate tracks a set of caller-supplied Handles
// rather than IR events.
package backpressure

import "sync"

// Handle is an opaque completion token the Driver maps back to
// (Clip, attempt) metadata. Handles must be comparable so they can key
// a set.
type Handle struct {
	id int64
}

// Gate bounds in-flight work for one pipeline stage. A cap of 0 or
// less disables the gate: callers must not submit.
type Gate struct {
	mu       sync.Mutex
	capacity int
	nextID   int64
	pending  map[Handle]struct{}
	done     map[Handle]struct{}
	signal   chan struct{}
}

func NewGate(capacity int) *Gate {
	return &Gate{
		capacity: capacity,
		pending:  make(map[Handle]struct{}),
		done:     make(map[Handle]struct{}),
		signal:   make(chan struct{}, 1),
	}
}

// Disabled reports whether cap ≤ 0, meaning the Driver must not submit.
func (g *Gate) Disabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity <= 0
}

// Reserve allocates a new handle and registers it as pending. Callers
// must check AtCapacity (or call Wait) first if they
// want to honor the cap before issuing work; Reserve itself never
// blocks.
func (g *Gate) Reserve() Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	h := Handle{id: g.nextID}
	g.pending[h] = struct{}{}
	return h
}

// Len returns the number of currently pending (not yet completed)
// handles.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// AtCapacity reports whether |pending| ≥ cap, per spec.md §4.E.
func (g *Gate) AtCapacity() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending) >= g.capacity
}

// MarkDone records a handle's completion and wakes any Wait blocked on
// this gate. Safe to call from any worker goroutine.
func (g *Gate) MarkDone(h Handle) {
	g.mu.Lock()
	if _, ok := g.pending[h]; ok {
		delete(g.pending, h)
		g.done[h] = struct{}{}
	}
	g.mu.Unlock()

	select {
	case g.signal <- struct{}{}:
	default:
	}
}

// Wait returns the set of handles that completed since the last Wait
// call, along with the handles still pending. If nothing has
// completed yet, it blocks until MarkDone is called at least once.
func (g *Gate) Wait() (completed []Handle, remaining []Handle) {
	for {
		g.mu.Lock()
		if len(g.done) > 0 {
			completed = make([]Handle, 0, len(g.done))
			for h := range g.done {
				completed = append(completed, h)
			}
			g.done = make(map[Handle]struct{})
			remaining = make([]Handle, 0, len(g.pending))
			for h := range g.pending {
				remaining = append(remaining, h)
			}
			g.mu.Unlock()
			return completed, remaining
		}
		g.mu.Unlock()
		<-g.signal
	}
}

// TryDrain is the non-blocking variant of Wait: it returns immediately
// with whatever has completed (possibly nothing), never blocking the
// caller.
func (g *Gate) TryDrain() (completed []Handle, remaining []Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	completed = make([]Handle, 0, len(g.done))
	for h := range g.done {
		completed = append(completed, h)
	}
	g.done = make(map[Handle]struct{})
	remaining = make([]Handle, 0, len(g.pending))
	for h := range g.pending {
		remaining = append(remaining, h)
	}
	return completed, remaining
}
