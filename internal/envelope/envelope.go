package envelope

import (
	"github.com/aio-go/aio/internal/safejob"
)

// Continuation is the user-supplied callback an envelope eventually
// invokes with its Result. It has one fixed, non-generic type so that
// Envelope itself stays free of a type parameter; the scheduler and
// completion queue only ever move *Envelope values around, never anything
// generic over F.
type Continuation func(Result)

// Envelope is the type-erased completion handle every pending asynchronous
// operation is reduced to. A single allocation carries the continuation,
// the result slot, and the intrusive link fields used to thread the
// envelope through the context's completion queue without an extra heap
// hop. The scheduler's per-fd table is a separate sorted slice of
// *Envelope and does not use these fields.
//
// Exactly one of Dispatch or Discard ever runs for a given envelope, and it
// runs exactly once; that guarantee is enforced by the embedded OnceJob,
// the same primitive ioobjects.Socket uses to let Close run only once.
type Envelope struct {
	// next/prev link the envelope into whichever List currently owns it:
	// the context's completion queue, or the local batch RunOnce drains
	// from it. An envelope is a member of at most one List at a time.
	next, prev *Envelope

	// Fd is the descriptor this envelope is waiting on. Work items (posted
	// via Context.Post) carry Fd == -1 and are never given to the
	// scheduler.
	Fd int

	Kind      Kind
	Direction Direction

	// Cancelled is set (via MarkCancelled) by Scheduler.Cancel while this
	// envelope is still waiting for its fd to become ready; the envelope
	// stays in the scheduler's table until the next PollOnce cycle removes
	// it. A cancelled envelope still completes through the normal
	// completion queue, with Result.Err set to ErrCancelled.
	Cancelled bool

	// storage is the Storage this envelope's buffer (if any) was obtained
	// from, as passed to New, so Dispatch and Discard can release the
	// buffer without consulting the continuation.
	storage Storage
	buf     []byte

	continuation Continuation
	result       Result

	release safejob.OnceJob

	// perform is the kind-specific syscall attempt the scheduler invokes
	// once this envelope's fd reports readiness in the matching
	// direction. It returns true once the operation has actually
	// completed (having called SetResult itself), or false if the
	// syscall returned EAGAIN/EWOULDBLOCK and the envelope should stay
	// scheduled for the next readiness event. Mirrors
	// AsyncIoOperation::perform_io in the source, kept as a closure
	// instead of a virtual method so Envelope itself never imports a
	// syscall package.
	perform func() bool
}

// SetPerform attaches the kind-specific syscall attempt a scheduler should
// invoke when this envelope's descriptor becomes ready in its Direction.
// Work-item envelopes (Fd == -1) never have one.
func (e *Envelope) SetPerform(perform func() bool) { e.perform = perform }

// Perform invokes the attached syscall attempt, if any, and reports
// whether the operation completed. An envelope with no attached Perform
// (a plain work item) is always considered complete.
func (e *Envelope) Perform() bool {
	if e.perform == nil {
		return true
	}
	return e.perform()
}

// New constructs an envelope for an I/O operation awaiting readiness on fd.
// alloc is the Storage resolved for this envelope's buffer, if it owns one;
// pass nil if the operation does not allocate (e.g. EventfdWrite of a fixed
// 8-byte counter kept inline by the caller).
func New(fd int, kind Kind, alloc Storage, continuation Continuation) *Envelope {
	return &Envelope{
		Fd:           fd,
		Kind:         kind,
		Direction:    DirectionOf(kind),
		storage:      alloc,
		continuation: continuation,
	}
}

// NewWork constructs an envelope for a plain posted work item: no fd, no
// readiness wait, dispatched the next time the owning context drains its
// completion queue.
func NewWork(continuation Continuation) *Envelope {
	return &Envelope{
		Fd:           -1,
		continuation: continuation,
	}
}

// SetBuffer attaches a buffer this envelope owns for the duration of its
// pending syscall, obtained from the Storage passed at New time. Whichever
// of Dispatch or Discard runs releases it back to that Storage exactly
// once; Dispatch does so before the continuation runs.
func (e *Envelope) SetBuffer(buf []byte) { e.buf = buf }

// Buffer returns the buffer most recently attached via SetBuffer.
func (e *Envelope) Buffer() []byte { return e.buf }

// SetResult records the outcome the scheduler or context computed for this
// envelope. It must be called before Dispatch.
func (e *Envelope) SetResult(r Result) { e.result = r }

// MarkCancelled sets the envelope's result to ErrCancelled, per the
// documented behaviour of Scheduler.Cancel.
func (e *Envelope) MarkCancelled() {
	e.Cancelled = true
	e.result = Result{Err: ErrCancelled}
}

// Dispatch releases this envelope's storage, then invokes its continuation
// with the recorded result. It is safe to call concurrently with Discard;
// only one of the two calls across the envelope's lifetime will actually
// run the release-then-invoke sequence, and Dispatch is the one that
// invokes the continuation. Calling Dispatch a second time is a no-op.
func (e *Envelope) Dispatch() {
	if !e.release.Begin() {
		return
	}
	cont := e.continuation
	res := e.result
	e.releaseStorage()
	e.continuation = nil
	if cont != nil {
		cont(res)
	}
}

// Discard releases this envelope's storage without invoking its
// continuation. It exists for the rare path where an envelope must be torn
// down without a result to report — e.g. the context itself shutting down
// with envelopes still queued. Calling Discard after Dispatch (or vice
// versa) is a no-op for the second call.
func (e *Envelope) Discard() {
	if !e.release.Begin() {
		return
	}
	e.releaseStorage()
	e.continuation = nil
}

// releaseStorage returns the attached buffer to its Storage, if any, ahead
// of the continuation running. This ordering — release before invoke — is
// load-bearing: a continuation that reuses the same Storage to allocate
// its next buffer must see the freed capacity available immediately.
func (e *Envelope) releaseStorage() {
	if e.storage != nil && e.buf != nil {
		e.storage.Free(e.buf)
		e.buf = nil
	}
}

// Released reports whether Dispatch or Discard has already run for this
// envelope.
func (e *Envelope) Released() bool { return e.release.Closed() }
