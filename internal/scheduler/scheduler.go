//go:build linux
// +build linux

// Package scheduler implements the epoll-backed table of outstanding I/O
// operations: registration, readiness-to-syscall translation, and
// cancellation concurrent with polling. It is the Go realisation of the
// source's IoScheduler, built the way the teacher's internal/poller
// package builds its epoll wrapper.
package scheduler

import (
	"os"
	"sort"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/aio-go/aio/internal/envelope"
	"github.com/aio-go/aio/internal/locker"
	"github.com/aio-go/aio/internal/worklatch"
	"github.com/aio-go/aio/metrics"
)

const defaultEventCount = 64

// Poster is the callback a Scheduler uses to hand a completed or cancelled
// envelope to the owning context's completion queue. It is supplied at
// construction time rather than imported directly so that the scheduler
// package never depends on the root context package, avoiding an import
// cycle (the context package depends on scheduler, not the reverse).
type Poster func(*envelope.Envelope)

// Scheduler is the epoll-backed per-fd operation table. It is safe for
// concurrent use: Schedule and Cancel take a spinlock (the same primitive
// the teacher's descCache uses) around the table, and PollOnce runs each
// ready envelope's Perform and splices completed ones out while holding
// that same lock, posting them only after releasing it.
type Scheduler struct {
	epfd  int
	wake  *worklatch.WakeEvent
	post  Poster
	batch int

	mu table
}

// table holds the actual slice plus the lock guarding it, kept as its own
// type so Schedule/Cancel/PollOnce read like table operations rather than
// scheduler-wide state manipulation.
type table struct {
	lock locker.Locker

	// entries is sorted ascending by Fd; entries that share an Fd are
	// consecutive and appear in submission order. Cancelled entries are
	// never removed eagerly — see Cancel — they are spliced out by
	// PollOnce on its next cycle so that cancellation never synchronously
	// dispatches from an arbitrary caller's goroutine.
	entries []*envelope.Envelope
}

// New creates a Scheduler with its own epoll instance and wake eventfd,
// the wake fd registered for readable interest so Post/Cancel from any
// goroutine can interrupt a blocked PollOnce. maxBatch bounds how many
// readiness events a single epoll_pwait call requests; values <= 0 fall
// back to defaultEventCount.
func New(post Poster, maxBatch int) (*Scheduler, error) {
	if maxBatch <= 0 {
		maxBatch = defaultEventCount
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("epoll_create1", err), "scheduler: create epoll")
	}
	wake, err := worklatch.NewWakeEvent()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, errors.Wrap(err, "scheduler: create wake event")
	}
	s := &Scheduler{epfd: epfd, wake: wake, post: post, batch: maxBatch}
	if err := s.registerWake(); err != nil {
		_ = wake.Close()
		_ = unix.Close(epfd)
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) registerWake() error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(s.wake.FD())}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, s.wake.FD(), &ev); err != nil {
		return errors.Wrap(os.NewSyscallError("epoll_ctl", err), "scheduler: register wake fd")
	}
	return nil
}

// WakeFD returns the eventfd a context's own epoll-independent callers
// (tests, mainly) can poll to observe a pending wake.
func (s *Scheduler) WakeFD() int { return s.wake.FD() }

// Wake interrupts a blocked PollOnce from any goroutine.
func (s *Scheduler) Wake() error { return s.wake.Trigger() }

// Close releases the epoll instance and wake eventfd. Outstanding
// envelopes are the caller's responsibility to have already cancelled.
func (s *Scheduler) Close() error {
	err1 := os.NewSyscallError("close", unix.Close(s.epfd))
	err2 := s.wake.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Schedule registers e against its Fd, inserting it into the table at the
// end of that fd's existing run (preserving submission order among
// same-fd, same-direction envelopes), and re-registers the fd's epoll
// interest as the bitwise OR of every live direction outstanding for it.
// This is the later-revision behaviour: epoll_ctl runs on every Schedule
// call rather than only the first, so a fd whose interest narrows after a
// completion is still accurately tracked going forward.
func (s *Scheduler) Schedule(e *envelope.Envelope) error {
	s.mu.lock.Lock()
	defer s.mu.lock.Unlock()

	idx := sort.Search(len(s.mu.entries), func(i int) bool { return s.mu.entries[i].Fd >= e.Fd })
	for idx < len(s.mu.entries) && s.mu.entries[idx].Fd == e.Fd {
		idx++
	}
	s.mu.entries = append(s.mu.entries, nil)
	copy(s.mu.entries[idx+1:], s.mu.entries[idx:])
	s.mu.entries[idx] = e

	if err := s.syncInterest(e.Fd); err != nil {
		s.mu.entries = append(s.mu.entries[:idx], s.mu.entries[idx+1:]...)
		return err
	}
	metrics.Add(metrics.EnvelopesScheduled, 1)
	return nil
}

// syncInterest recomputes and applies the epoll interest mask for fd from
// the current (non-cancelled) table contents. Must be called with the
// table lock held.
func (s *Scheduler) syncInterest(fd int) error {
	var events uint32
	count := 0
	for _, e := range s.mu.entries {
		if e.Fd != fd || e.Cancelled {
			continue
		}
		count++
		if e.Direction == envelope.Readable {
			events |= unix.EPOLLIN | unix.EPOLLRDHUP
		} else {
			events |= unix.EPOLLOUT
		}
	}
	events |= unix.EPOLLHUP | unix.EPOLLERR

	if count == 0 {
		err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		if err != nil && err != unix.ENOENT {
			return errors.Wrap(os.NewSyscallError("epoll_ctl", err), "scheduler: deregister fd")
		}
		return nil
	}

	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		if err == unix.EEXIST {
			if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
				return errors.Wrap(os.NewSyscallError("epoll_ctl", err), "scheduler: modify fd interest")
			}
			return nil
		}
		return errors.Wrap(os.NewSyscallError("epoll_ctl", err), "scheduler: register fd")
	}
	return nil
}

// Cancel marks every live envelope currently scheduled against fd as
// cancelled. They are not posted synchronously from the calling goroutine;
// PollOnce splices them to the completion queue on its next cycle, after
// waking a blocked poll if one is in progress. This guarantees
// cancellation is ordered strictly after every submission that preceded
// the Cancel call and strictly before any submission that follows it,
// since both Schedule and Cancel serialise on the same table lock.
func (s *Scheduler) Cancel(fd int) (int, error) {
	s.mu.lock.Lock()
	n := 0
	for _, e := range s.mu.entries {
		if e.Fd == fd && !e.Cancelled {
			e.MarkCancelled()
			n++
		}
	}
	var err error
	if n > 0 {
		err = s.syncInterest(fd)
	}
	s.mu.lock.Unlock()

	if n > 0 {
		if wakeErr := s.wake.Trigger(); wakeErr != nil && err == nil {
			err = wakeErr
		}
	}
	return n, err
}

// PollOnce posts every already-cancelled envelope first, then waits at
// most blockMs milliseconds (-1 to block indefinitely, 0 for a
// non-blocking check) for readiness events, performs the syscall attempt
// for every envelope whose fd became ready in a matching direction, and
// posts completed envelopes to the owning context. It returns the number
// of envelopes posted.
//
// Posting cancelled envelopes happens strictly before the epoll_pwait
// call, not after: a cancellation observed between two polls must be
// delivered without waiting on an epoll_pwait that could otherwise block
// indefinitely on an unrelated fd. If nothing remains registered once
// cancellations are posted, PollOnce returns immediately rather than
// blocking in epoll_pwait for no reason.
func (s *Scheduler) PollOnce(blockMs int) (int, error) {
	posted := s.postCancelled()

	if s.Pending() == 0 {
		return posted, nil
	}

	events := make([]unix.EpollEvent, s.batch)
	for {
		n, err := epollWait(s.epfd, events, blockMs)
		if err != nil {
			if err == unix.EINTR {
				return posted, nil
			}
			return posted, errors.Wrap(os.NewSyscallError("epoll_pwait", err), "scheduler: poll")
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == s.wake.FD() {
				_ = s.wake.Drain()
				continue
			}
			posted += s.handleReady(fd, events[i].Events)
		}
		posted += s.postCancelled()

		// A full batch means more events may already be waiting; loop
		// immediately with a zero timeout instead of returning, so a
		// burst of readiness doesn't require a second PollOnce call to
		// fully drain.
		if n != s.batch || s.Pending() == 0 {
			return posted, nil
		}
		blockMs = 0
	}
}

// handleReady attempts every live envelope scheduled against fd whose
// Direction matches the reported readiness, in submission order. An
// envelope whose Perform reports completion is removed from the table and
// posted; removal always happens before the post call, never after,
// matching the ordering the source's io_scheduler enforces explicitly.
func (s *Scheduler) handleReady(fd int, events uint32) int {
	readable := events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0
	writable := events&unix.EPOLLOUT != 0
	hup := events&(unix.EPOLLHUP|unix.EPOLLERR) != 0

	s.mu.lock.Lock()
	var ready []*envelope.Envelope
	kept := s.mu.entries[:0]
	for _, e := range s.mu.entries {
		if e.Fd != fd || e.Cancelled {
			kept = append(kept, e)
			continue
		}
		matches := (e.Direction == envelope.Readable && (readable || hup)) ||
			(e.Direction == envelope.Writable && (writable || hup))
		if !matches {
			kept = append(kept, e)
			continue
		}
		if e.Perform() {
			ready = append(ready, e)
			continue
		}
		kept = append(kept, e)
	}
	s.mu.entries = kept
	_ = s.syncInterest(fd)
	s.mu.lock.Unlock()

	for _, e := range ready {
		metrics.Add(metrics.EnvelopesDispatched, 1)
		s.post(e)
	}
	return len(ready)
}

// postCancelled splices every cancelled envelope out of the table and
// posts it to the completion queue. Runs at the start of every PollOnce
// cycle so a cancellation observed between two polls is delivered
// promptly rather than waiting for its fd to next become ready (which may
// never happen again once cancelled).
func (s *Scheduler) postCancelled() int {
	s.mu.lock.Lock()
	var cancelled []*envelope.Envelope
	kept := s.mu.entries[:0]
	for _, e := range s.mu.entries {
		if e.Cancelled {
			cancelled = append(cancelled, e)
			continue
		}
		kept = append(kept, e)
	}
	s.mu.entries = kept
	s.mu.lock.Unlock()

	for _, e := range cancelled {
		metrics.Add(metrics.EnvelopesCancelled, 1)
		s.post(e)
	}
	return len(cancelled)
}

// Pending reports how many live (non-cancelled) envelopes remain
// registered, for tests and diagnostics.
func (s *Scheduler) Pending() int {
	s.mu.lock.Lock()
	defer s.mu.lock.Unlock()
	n := 0
	for _, e := range s.mu.entries {
		if !e.Cancelled {
			n++
		}
	}
	return n
}

// epollWait issues the raw epoll_pwait syscall, mirroring the teacher's
// direct-syscall poller rather than a higher-level wrapper, since
// golang.org/x/sys/unix does not expose epoll_pwait with a nil signal mask
// as a named function on every architecture it supports.
func epollWait(epfd int, events []unix.EpollEvent, msec int) (int, error) {
	var r0 uintptr
	var err error
	p0 := unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, err = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(p0), uintptr(len(events)), 0, 0, 0)
		metrics.Add(metrics.EpollNoWait, 1)
	} else {
		r0, _, err = unix.Syscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if err == unix.Errno(0) {
		err = nil
	}
	metrics.Add(metrics.EpollWait, 1)
	metrics.Add(metrics.EpollEvents, uint64(r0))
	return int(r0), err
}
