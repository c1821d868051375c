//go:build linux
// +build linux

// Package aio implements a Linux epoll-backed asynchronous I/O runtime: a
// shared completion queue driven by a pool of worker goroutines, an
// epoll-backed scheduler multiplexing outstanding operations per
// descriptor, and the work-latch/wake-event pair that keeps the loop alive
// until every outstanding operation has resolved.
package aio

import (
	"sync"

	"github.com/aio-go/aio/internal/envelope"
	"github.com/aio-go/aio/internal/scheduler"
	"github.com/aio-go/aio/internal/worklatch"
	"github.com/aio-go/aio/log"
)

// Storage is re-exported so callers never need to import internal/envelope
// directly to implement a custom allocator.
type Storage = envelope.Storage

// UseAllocator wraps a continuation so it exposes storage through the
// AllocatorAware accessor every intermediate envelope of a composed
// operation can recover.
func UseAllocator[F any](f F, storage Storage) envelope.AllocatorAwareValue[F] {
	return envelope.UseAllocator(f, storage)
}

// Context owns the scheduler, the shared completion queue, and the work
// counter. It is the Go realisation of exios::Context/ContextThread: a
// thin, thread-safe shell that workers drive via Run/RunOnce.
type Context struct {
	opts options

	sched *scheduler.Scheduler

	mu    sync.Mutex
	cond  *sync.Cond
	queue envelope.List

	counter worklatch.Counter

	// pollSentinel is the distinguished envelope that, when reached while
	// draining the completion queue, triggers a scheduler poll cycle
	// instead of being dispatched. It is always present in the queue
	// (pushed back to the tail every time it's drained) so that the
	// queue is never truly idle while the context is alive — mirroring
	// ContextThread's poll_sentinel_.
	pollSentinel *envelope.Envelope
}

// NewContext creates a Context with its own epoll instance.
func NewContext(opts ...Option) (*Context, error) {
	o := &options{}
	o.setDefault()
	for _, opt := range opts {
		opt.f(o)
	}

	c := &Context{opts: *o}
	c.cond = sync.NewCond(&c.mu)
	sched, err := scheduler.New(c.postFromScheduler, o.maxEpollBatch)
	if err != nil {
		return nil, err
	}
	c.sched = sched
	c.pollSentinel = envelope.NewWork(nil)
	c.queue.PushBack(c.pollSentinel)
	return c, nil
}

// Close releases the underlying epoll instance and wake eventfd.
// Outstanding envelopes are the caller's responsibility to have already
// cancelled through Scheduler().Cancel.
func (c *Context) Close() error { return c.sched.Close() }

// Scheduler returns the I/O scheduler this context drains completions
// from. I/O-object constructors (Timer, Event, Signal, Socket) call
// Scheduler().Schedule / Scheduler().Cancel directly, the way exios's
// composed operations reach Context::io_scheduler().
func (c *Context) Scheduler() *scheduler.Scheduler { return c.sched }

// Storage returns the default allocator I/O-object waits draw buffers
// from when no per-wait Storage was supplied. A continuation wrapped with
// UseAllocator does not change it.
func (c *Context) Storage() Storage { return c.opts.storage }

// Post enqueues fn as a plain work item: no descriptor, no readiness
// wait, dispatched the next time a worker drains the completion queue.
// A worker may be blocked in epoll_pwait precisely because nothing was
// queued yet, so Post both wakes the scheduler and notifies the
// condition variable rather than relying on whichever one a given
// caller happens to be blocked on.
func (c *Context) Post(fn func()) {
	e := envelope.NewWork(func(envelope.Result) { fn() })
	c.mu.Lock()
	c.queue.PushBack(e)
	c.cond.Broadcast()
	c.mu.Unlock()
	_ = c.sched.Wake()
}

// LatchWork acquires one unit of outstanding work against this context's
// counter. The returned handle's Release (typically deferred) must be
// called exactly once; Run/RunOnce treat the counter as the measure of
// whether there is anything left to wait for. Every Release wakes the
// scheduler and broadcasts the condition variable, since the goroutine
// that needs to observe the counter reaching zero may be blocked on
// either one.
func (c *Context) LatchWork() *worklatch.Work {
	return worklatch.Latch(&c.counter, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
		_ = c.sched.Wake()
	})
}

// ReleaseWork releases a handle acquired from LatchWork. Safe to call
// more than once; only the first call has an effect. Always triggers the
// wake event and signals the condition variable, per the work-latch
// contract: a worker may be idling in either place waiting for the
// counter to drop.
func (c *Context) ReleaseWork(w *worklatch.Work) { w.Release() }

// WrapWork latches one unit of work for the lifetime of fn and releases
// it immediately after fn returns, regardless of panic. It is the wiring
// point composed I/O-object operations use so that submitting an
// operation and its eventual completion are accounted exactly once, even
// when several envelopes make up a single logical operation — mirroring
// exios::wrap_work. Like every Release, the deferred call here wakes the
// scheduler and the condition variable.
func (c *Context) WrapWork(fn envelope.Continuation) envelope.Continuation {
	w := c.LatchWork()
	return func(r envelope.Result) {
		defer w.Release()
		if fn != nil {
			fn(r)
		}
	}
}

// postFromScheduler is the scheduler.Poster callback: it appends a
// completed or cancelled I/O envelope to the completion queue. The
// scheduler calls this strictly after it has already removed the
// envelope from its own table, never before.
func (c *Context) postFromScheduler(e *envelope.Envelope) {
	c.mu.Lock()
	c.queue.PushBack(e)
	c.cond.Broadcast()
	c.mu.Unlock()
}

// RunOnce drains the completion queue once: every plain work item and
// completed I/O envelope currently queued is dispatched, and the one
// poll-sentinel slot present in the queue triggers exactly one scheduler
// poll cycle (blocking only if the work counter shows outstanding
// operations), whose results are appended to the queue for a future
// RunOnce to pick up. It returns the number of envelopes dispatched.
//
// A panic escaping a continuation propagates out of RunOnce by default
// (see WithIgnoreContinuationError); in that case every envelope this
// RunOnce had not yet reached is spliced back onto the front of the
// completion queue before the panic continues, so no pending work is
// lost.
func (c *Context) RunOnce() (n int, err error) {
	c.mu.Lock()
	for c.queue.Empty() && c.counter.Load() > 0 {
		c.cond.Wait()
	}
	var tmp envelope.List
	tmp.PushBackAll(&c.queue)
	c.mu.Unlock()

	if tmp.Empty() {
		return 0, nil
	}

	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.queue.PushFrontAll(&tmp)
			c.cond.Broadcast()
			c.mu.Unlock()
			panic(r)
		}
	}()

	for {
		e := tmp.PopFront()
		if e == nil {
			break
		}
		if e == c.pollSentinel {
			// Only block if there is nothing else already known to be
			// ready in this batch: blocking while tmp still holds
			// undispatched work would stall work that needs no further
			// readiness event to proceed.
			block := 0
			if tmp.Empty() && c.counter.Load() > 0 {
				block = -1
			}
			if _, perr := c.sched.PollOnce(block); perr != nil {
				err = perr
			}
			c.mu.Lock()
			c.queue.PushBack(c.pollSentinel)
			c.cond.Broadcast()
			c.mu.Unlock()
			continue
		}
		c.dispatch(e)
		n++
	}
	return n, err
}

// dispatch runs e.Dispatch, optionally recovering a panicking
// continuation in place when WithIgnoreContinuationError(true) was set;
// otherwise the panic is left to propagate to RunOnce's own recover.
func (c *Context) dispatch(e *envelope.Envelope) {
	if !c.opts.ignoreContinuationError {
		e.Dispatch()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("aio: continuation panicked: %v", r)
		}
	}()
	e.Dispatch()
}

// Run calls RunOnce until the work counter reaches zero: every latched
// operation has resolved and nothing remains that could produce further
// completions.
func (c *Context) Run() error {
	for c.counter.Load() > 0 {
		if _, err := c.RunOnce(); err != nil {
			return err
		}
	}
	return nil
}

// Serve runs Context.Run across the configured number of worker
// goroutines (WithWorkers) concurrently, returning the first error any of
// them observes.
func (c *Context) Serve() error {
	n := c.opts.workers
	if n <= 1 {
		return c.Run()
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			errs <- c.Run()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
