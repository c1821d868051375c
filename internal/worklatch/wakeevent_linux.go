//go:build linux
// +build linux

package worklatch

import (
	"os"

	"golang.org/x/sys/unix"
)

// WakeEvent is an eventfd-backed primitive a context uses to interrupt a
// goroutine blocked in epoll_pwait from any other goroutine: Post,
// LatchWork, and Cancel all need to be able to wake a running Run/RunOnce
// without waiting for an unrelated fd to become ready.
//
// Trigger always writes, the same way the source's PollWakeEvent::trigger
// always writes rather than gating on a software dedup flag: eventfd's own
// kernel counter already coalesces concurrent writes into one readable
// event, so a software pending flag in front of it only reintroduces a lost
// wake — a Trigger racing against a Drain that has already cleared the flag
// but not yet consumed the counter can see "already pending" and skip the
// write, even though the wake it was meant to cause will never be observed.
type WakeEvent struct {
	fd  int
	buf [8]byte
}

// NewWakeEvent creates a non-semaphore, non-blocking eventfd suitable for
// registering with epoll under Readable interest.
func NewWakeEvent() (*WakeEvent, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	return &WakeEvent{fd: fd}, nil
}

// FD returns the eventfd descriptor to register with a scheduler.
func (w *WakeEvent) FD() int { return w.fd }

// Trigger wakes a blocked epoll_pwait; safe to call from any goroutine,
// including concurrently with itself and with Drain. Every call writes,
// so no wake is ever silently dropped.
func (w *WakeEvent) Trigger() error {
	one := [8]byte{1}
	for {
		_, err := unix.Write(w.fd, one[:])
		if err == nil || err == unix.EAGAIN {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return os.NewSyscallError("write", err)
	}
}

// Drain consumes the eventfd's counter after a wake has been observed.
// Called from the readiness-event handler once the wake fd is seen among
// the ready descriptors.
func (w *WakeEvent) Drain() error {
	for {
		_, err := unix.Read(w.fd, w.buf[:])
		if err == nil || err == unix.EAGAIN {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return os.NewSyscallError("read", err)
	}
}

// Close releases the eventfd.
func (w *WakeEvent) Close() error {
	return os.NewSyscallError("close", unix.Close(w.fd))
}
