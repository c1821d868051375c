//go:build linux
// +build linux

package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/aio-go/aio/internal/envelope"
)

// postedQueue is a minimal stand-in for the context's completion queue,
// just enough for these tests to observe what the scheduler hands back.
type postedQueue struct {
	mu   sync.Mutex
	done []*envelope.Envelope
}

func (q *postedQueue) post(e *envelope.Envelope) {
	q.mu.Lock()
	q.done = append(q.done, e)
	q.mu.Unlock()
	e.Dispatch()
}

func (q *postedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.done)
}

func pollUntil(t *testing.T, s *Scheduler, deadline time.Duration, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if _, err := s.PollOnce(10); err != nil {
			require.NoError(t, err)
		}
		if cond() {
			return
		}
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduleCompletesOnReadability(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	q := &postedQueue{}
	s, err := New(q.post, 0)
	require.NoError(t, err)
	defer s.Close()

	var result envelope.Result
	e := envelope.New(fds[0], envelope.Read, nil, func(r envelope.Result) { result = r })
	e.SetPerform(func() bool {
		buf := make([]byte, 5)
		n, rerr := unix.Read(fds[0], buf)
		if rerr == unix.EAGAIN {
			return false
		}
		e.SetResult(envelope.Result{N: n, Err: wrapErrno(rerr)})
		return true
	})
	require.NoError(t, s.Schedule(e))

	_, err = unix.Write(fds[1], []byte("hello"))
	require.NoError(t, err)

	pollUntil(t, s, 2*time.Second, func() bool { return q.len() == 1 })
	require.Equal(t, 5, result.N)
	require.NoError(t, result.Err)
}

func TestCancelDeliversErrCancelledWithoutReadiness(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	q := &postedQueue{}
	s, err := New(q.post, 0)
	require.NoError(t, err)
	defer s.Close()

	var result envelope.Result
	e := envelope.New(fds[0], envelope.Read, nil, func(r envelope.Result) { result = r })
	e.SetPerform(func() bool { return false })
	require.NoError(t, s.Schedule(e))

	n, err := s.Cancel(fds[0])
	require.NoError(t, err)
	require.Equal(t, 1, n)

	pollUntil(t, s, 2*time.Second, func() bool { return q.len() == 1 })
	require.ErrorIs(t, result.Err, envelope.ErrCancelled)
}

func TestPendingTracksLiveEnvelopes(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	q := &postedQueue{}
	s, err := New(q.post, 0)
	require.NoError(t, err)
	defer s.Close()

	e := envelope.New(fds[0], envelope.Read, nil, func(envelope.Result) {})
	e.SetPerform(func() bool { return false })
	require.NoError(t, s.Schedule(e))

	require.Equal(t, 1, s.Pending())
	_, err = s.Cancel(fds[0])
	require.NoError(t, err)
	require.Equal(t, 0, s.Pending())
}

// TestSameFdOrderedBatchPreservesSubmissionOrder submits several writable
// envelopes against the same fd back to back and checks the completions
// arrive in the order they were submitted, matching the table's
// submission-order-within-an-fd-run guarantee.
func TestSameFdOrderedBatchPreservesSubmissionOrder(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[1], true))

	q := &postedQueue{}
	s, err := New(q.post, 0)
	require.NoError(t, err)
	defer s.Close()

	const n = 8
	var mu sync.Mutex
	var order []int
	for i := 0; i < n; i++ {
		i := i
		e := envelope.New(fds[1], envelope.Write, nil, func(envelope.Result) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		e.SetPerform(func() bool {
			_, werr := unix.Write(fds[1], []byte{byte(i)})
			if werr == unix.EAGAIN {
				return false
			}
			e.SetResult(envelope.Result{N: 1, Err: wrapErrno(werr)})
			return true
		})
		require.NoError(t, s.Schedule(e))
	}

	pollUntil(t, s, 2*time.Second, func() bool { return q.len() == n })

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

// TestRandomSubmissionCancellationInterleavingAccountsForEvery races
// concurrent Schedule and Cancel calls against several fds and checks every
// submitted envelope is accounted for by exactly one completion, and that
// the table has drained to empty once every goroutine and every poll cycle
// has finished.
func TestRandomSubmissionCancellationInterleavingAccountsForEvery(t *testing.T) {
	const nFds = 4
	const perFd = 10

	var fds [nFds][2]int
	for i := range fds {
		require.NoError(t, unix.Pipe(fds[i][:]))
		require.NoError(t, unix.SetNonblock(fds[i][0], true))
		defer unix.Close(fds[i][0])
		defer unix.Close(fds[i][1])
	}

	q := &postedQueue{}
	s, err := New(q.post, 0)
	require.NoError(t, err)
	defer s.Close()

	var accounted int32
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < nFds; i++ {
		i := i
		for j := 0; j < perFd; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e := envelope.New(fds[i][0], envelope.Read, nil, func(envelope.Result) {
					atomic.AddInt32(&accounted, 1)
				})
				e.SetPerform(func() bool {
					buf := make([]byte, 1)
					n, rerr := unix.Read(fds[i][0], buf)
					if rerr == unix.EAGAIN {
						return false
					}
					e.SetResult(envelope.Result{N: n, Err: wrapErrno(rerr)})
					return true
				})
				if err := s.Schedule(e); err != nil {
					atomic.AddInt32(&accounted, 1)
					return
				}
				_, _ = s.Cancel(fds[i][0])
			}()
		}
	}

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = s.PollOnce(5)
			}
		}
	}()

	wg.Wait()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&accounted) == nFds*perFd && s.Pending() == 0
	}, 2*time.Second, 10*time.Millisecond)
	close(stop)
}

func wrapErrno(err error) error {
	if err == unix.Errno(0) || err == nil {
		return nil
	}
	return err
}
