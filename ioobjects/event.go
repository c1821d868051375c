//go:build linux
// +build linux

package ioobjects

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/aio-go/aio"
	"github.com/aio-go/aio/internal/envelope"
)

// Mode selects eventfd counting semantics.
type Mode int

const (
	// CounterMode delivers the accumulated counter value and resets it to
	// zero on each successful read (the plain eventfd default).
	CounterMode Mode = iota
	// SemaphoreMode (EFD_SEMAPHORE) delivers exactly 1 per read and
	// decrements the counter by 1, so N waiters each observe one trigger
	// rather than racing to drain the whole accumulated count.
	SemaphoreMode
)

// Event is an eventfd-backed wait/notify primitive, usable both as a
// cross-goroutine signal and, in SemaphoreMode, as a counting semaphore.
type Event struct {
	ctx *aio.Context
	fd  int
}

// NewEvent creates an Event with the given initial counter value and mode.
func NewEvent(ctx *aio.Context, initial uint, mode Mode) (*Event, error) {
	flags := unix.EFD_NONBLOCK | unix.EFD_CLOEXEC
	if mode == SemaphoreMode {
		flags |= unix.EFD_SEMAPHORE
	}
	fd, err := unix.Eventfd(initial, flags)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("eventfd", err), "ioobjects: create event")
	}
	return &Event{ctx: ctx, fd: fd}, nil
}

// FD returns the underlying eventfd descriptor.
func (ev *Event) FD() int { return ev.fd }

// Trigger adds 1 to the eventfd counter. In SemaphoreMode it completes
// exactly one waiter; in CounterMode the first queued waiter reads the
// whole accumulated count and any other waiters stay queued.
func (ev *Event) Trigger() error {
	return ev.TriggerWithValue(1)
}

// TriggerWithValue adds an arbitrary value to the eventfd counter. A v of
// ^uint64(0) is rejected by the kernel, and a write that would push the
// counter past ^uint64(0)-1 fails with EAGAIN because the eventfd is
// non-blocking; both come back as the returned error. Neither limit is
// checked here before the write.
func (ev *Event) TriggerWithValue(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	for {
		_, err := unix.Write(ev.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return os.NewSyscallError("write", err)
		}
		return nil
	}
}

// WaitForEvent schedules a single read of the eventfd counter. In
// CounterMode the completion observes the full accumulated value and
// resets the counter to 0; in SemaphoreMode it observes exactly 1 and
// decrements the counter by 1.
func (ev *Event) WaitForEvent(completion func(value uint64, err error)) error {
	w := ev.ctx.LatchWork()
	e := envelope.New(ev.fd, envelope.TimerOrEventRead, nil, func(r envelope.Result) {
		w.Release()
		completion(r.Counter, resultError(r))
	})
	e.SetPerform(func() bool {
		var buf [8]byte
		_, err := unix.Read(ev.fd, buf[:])
		if err == unix.EAGAIN {
			return false
		}
		if err != nil {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("read", err)})
			return true
		}
		e.SetResult(envelope.Result{N: 8, Counter: binary.LittleEndian.Uint64(buf[:])})
		return true
	})
	if err := ev.ctx.Scheduler().Schedule(e); err != nil {
		w.Release()
		return err
	}
	return nil
}

// Cancel cancels every outstanding wait on this event.
func (ev *Event) Cancel() (int, error) {
	return ev.ctx.Scheduler().Cancel(ev.fd)
}

// Close releases the eventfd. Callers must Cancel any outstanding waits
// first.
func (ev *Event) Close() error {
	return os.NewSyscallError("close", unix.Close(ev.fd))
}
