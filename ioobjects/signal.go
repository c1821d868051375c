//go:build linux
// +build linux

package ioobjects

import (
	"os"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/aio-go/aio"
	"github.com/aio-go/aio/internal/envelope"
)

// Signal delivers POSIX signals through a signalfd rather than a Go
// signal.Notify channel, so a single completion queue carries both I/O and
// signal events without a second dispatch path.
type Signal struct {
	ctx  *aio.Context
	fd   int
	mask unix.Sigset_t
}

// NewSignal creates a Signal watching exactly the given signal numbers.
// The signals are blocked on the calling OS thread via pthread_sigmask for
// the lifetime of the Signal (the standard signalfd contract: a signal
// delivered to a thread that still handles it the default way is lost to
// the signalfd reader). Callers that need the block to hold across every
// OS thread the Go runtime might schedule onto should call NewSignal from
// a runtime.LockOSThread'd goroutine early in process startup, before
// other goroutines can spawn threads with the signal unblocked.
func NewSignal(ctx *aio.Context, signals ...os.Signal) (*Signal, error) {
	var mask unix.Sigset_t
	for _, s := range signals {
		if n, ok := s.(syscall.Signal); ok {
			addSignal(&mask, int(n))
		}
	}
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, nil); err != nil {
		return nil, errors.Wrap(os.NewSyscallError("pthread_sigmask", err), "ioobjects: block signals")
	}
	fd, err := unix.Signalfd(-1, &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("signalfd", err), "ioobjects: create signalfd")
	}
	return &Signal{ctx: ctx, fd: fd, mask: mask}, nil
}

// FD returns the underlying signalfd descriptor.
func (s *Signal) FD() int { return s.fd }

// WaitForSignal schedules a single read of one pending signalfd record.
func (s *Signal) WaitForSignal(completion func(info envelope.SignalInfo, err error)) error {
	w := s.ctx.LatchWork()
	e := envelope.New(s.fd, envelope.SignalfdRead, nil, func(r envelope.Result) {
		w.Release()
		completion(r.Signal, resultError(r))
	})
	e.SetPerform(func() bool {
		var raw unix.SignalfdSiginfo
		n, _, errno := unix.Syscall(unix.SYS_READ, uintptr(s.fd), uintptr(unsafe.Pointer(&raw)), unsafe.Sizeof(raw))
		if errno == unix.EAGAIN {
			return false
		}
		if errno != 0 {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("read", errno)})
			return true
		}
		e.SetResult(envelope.Result{
			N: int(n),
			Signal: envelope.SignalInfo{
				Signo:  raw.Signo,
				Errno:  raw.Errno,
				Code:   raw.Code,
				PID:    raw.Pid,
				UID:    raw.Uid,
				Status: raw.Status,
			},
		})
		return true
	})
	if err := s.ctx.Scheduler().Schedule(e); err != nil {
		w.Release()
		return err
	}
	return nil
}

// Cancel cancels every outstanding wait on this signalfd.
func (s *Signal) Cancel() (int, error) {
	return s.ctx.Scheduler().Cancel(s.fd)
}

// Close releases the signalfd and unblocks the signals it was watching.
// Callers must Cancel any outstanding waits first.
func (s *Signal) Close() error {
	err := os.NewSyscallError("close", unix.Close(s.fd))
	_ = unix.PthreadSigmask(unix.SIG_UNBLOCK, &s.mask, nil)
	return err
}

func addSignal(set *unix.Sigset_t, sig int) {
	set.Val[(sig-1)/64] |= 1 << uint((sig-1)%64)
}
