//go:build linux
// +build linux

// Package ioobjects provides the thin, concrete I/O-object layer built
// directly on the envelope/scheduler/context core: timers, eventfd-backed
// events, signal delivery, and sockets. It exists to exercise the full
// operation-kind catalogue end to end, not to be a general connection
// framework.
package ioobjects

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/aio-go/aio"
	"github.com/aio-go/aio/internal/envelope"
)

// Timer is a timerfd-backed, one-shot wait. Each
// WaitForExpiryAfter call (re)arms the underlying timerfd and schedules a
// single read of its 8-byte expiration counter.
type Timer struct {
	ctx *aio.Context
	fd  int
}

// WaitOption configures a single wait call, currently limited to
// overriding the Storage a wait's buffer is drawn from.
type WaitOption struct{ f func(*waitOptions) }

type waitOptions struct {
	storage aio.Storage
}

// WithStorage routes this wait's buffer through storage instead of the
// owning Context's default, the way UseAllocator threads a caller-chosen
// allocator through a single composed operation in the source design.
func WithStorage(storage aio.Storage) WaitOption {
	return WaitOption{f: func(o *waitOptions) { o.storage = storage }}
}

func resolveWaitOptions(ctx *aio.Context, opts []WaitOption) waitOptions {
	o := waitOptions{storage: ctx.Storage()}
	for _, opt := range opts {
		opt.f(&o)
	}
	return o
}

// NewTimer creates a Timer using CLOCK_MONOTONIC, immune to wall-clock
// adjustments, matching the "at or after" timing guarantee: a timer never
// fires early, only possibly late under scheduling pressure.
func NewTimer(ctx *aio.Context) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("timerfd_create", err), "ioobjects: create timer")
	}
	return &Timer{ctx: ctx, fd: fd}, nil
}

// FD returns the underlying timerfd descriptor.
func (t *Timer) FD() int { return t.fd }

// WaitForExpiryAfter arms the timer to fire once after d has elapsed and
// schedules completion to run when it does. Calling it again before the
// previous wait has completed rearms the same timerfd, replacing the
// earlier expiry time, and queues a second wait on the same fd. One expiry
// completes only the earliest-submitted wait still queued; the others stay
// queued until the timer is armed again or Cancel is called.
//
// The 8-byte expiration-counter read is allocated from the Context's
// default Storage unless a WithStorage option overrides it; that buffer is
// freed back to its Storage before completion runs (Envelope's
// release-before-invoke ordering), so a completion that immediately
// allocates its next buffer from the same Storage observes the freed
// capacity.
func (t *Timer) WaitForExpiryAfter(d time.Duration, completion func(error), opts ...WaitOption) error {
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(0),
		Value:    unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return errors.Wrap(os.NewSyscallError("timerfd_settime", err), "ioobjects: arm timer")
	}

	o := resolveWaitOptions(t.ctx, opts)
	w := t.ctx.LatchWork()
	e := envelope.New(t.fd, envelope.TimerOrEventRead, o.storage, func(r envelope.Result) {
		w.Release()
		completion(resultError(r))
	})
	buf := o.storage.Allocate(8)
	e.SetBuffer(buf)
	e.SetPerform(func() bool {
		buf := e.Buffer()
		n, err := unix.Read(t.fd, buf)
		if err == unix.EAGAIN {
			return false
		}
		if err != nil {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("read", err)})
			return true
		}
		e.SetResult(envelope.Result{N: n, Counter: binary.LittleEndian.Uint64(buf)})
		return true
	})
	if err := t.ctx.Scheduler().Schedule(e); err != nil {
		w.Release()
		o.storage.Free(buf)
		return err
	}
	return nil
}

// Cancel cancels every outstanding wait on this timer, which will complete
// with aio.ErrCancelled rather than firing.
func (t *Timer) Cancel() (int, error) {
	return t.ctx.Scheduler().Cancel(t.fd)
}

// Close releases the timerfd. Callers must Cancel any outstanding waits
// first.
func (t *Timer) Close() error {
	return os.NewSyscallError("close", unix.Close(t.fd))
}

// resultError turns a Result's raw error into the aio.Error-wrapped form
// callers of ioobjects consistently see.
func resultError(r envelope.Result) error {
	if r.Err == nil {
		return nil
	}
	if r.Err == envelope.ErrCancelled {
		return &aio.Error{Kind: aio.Cancelled, Err: r.Err}
	}
	return &aio.Error{Kind: aio.System, Err: r.Err}
}
