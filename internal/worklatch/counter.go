// Package worklatch provides the work-accounting primitives a context uses
// to know when it has nothing left to do: an atomic outstanding-work
// counter and an eventfd-backed primitive for waking a blocked poll cycle
// from another goroutine.
package worklatch

import "go.uber.org/atomic"

// Counter tracks the number of outstanding units of work a context is
// responsible for: one per Work handle acquired through Latch and not yet
// released. I/O-object waits latch one each; a plain posted work item does
// not latch by itself. Run and RunOnce consult it to decide whether
// there is anything left to wait for; it is the Go shape of
// ContextThread's remaining_count_.
type Counter struct {
	n atomic.Int64
}

// Add adds delta (which may be negative) to the counter and returns the
// new value.
func (c *Counter) Add(delta int64) int64 { return c.n.Add(delta) }

// Load returns the current value.
func (c *Counter) Load() int64 { return c.n.Load() }

// Work is an RAII-style handle on one unit of outstanding work. It mirrors
// exios::Work<ContextType>: acquiring one latches the counter, and
// Release (idempotent, safe to call zero or more times, typically
// deferred) releases it exactly once.
type Work struct {
	counter *Counter
	notify  func()
	active  atomic.Bool
}

// Latch acquires one unit of work against counter, incrementing it
// immediately. notify runs exactly once, right after the counter actually
// drops on the first Release; later Release calls are no-ops and do not
// call it. Pass nil if the
// caller has nothing to do on release. The returned Work must eventually
// have Release called on it, typically via defer.
func Latch(counter *Counter, notify func()) *Work {
	counter.Add(1)
	w := &Work{counter: counter, notify: notify}
	w.active.Store(true)
	return w
}

// Release releases this unit of work, decrementing the counter exactly
// once regardless of how many times Release is called, then invokes the
// notify callback supplied to Latch so a potentially-idle run loop can
// observe the drop: per the work-latch contract, every release must wake
// the scheduler and signal the condition variable, since a worker may be
// blocked in epoll_pwait or waiting on the condition variable precisely
// because the counter had not yet reached zero.
func (w *Work) Release() {
	if w.active.CAS(true, false) {
		w.counter.Add(-1)
		if w.notify != nil {
			w.notify()
		}
	}
}
