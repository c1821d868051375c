//go:build linux
// +build linux

package ioobjects

import (
	"net"
	"os"
	"unsafe"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/aio-go/aio"
	"github.com/aio-go/aio/internal/cache/systype"
	"github.com/aio-go/aio/internal/envelope"
	"github.com/aio-go/aio/internal/iovec"
	"github.com/aio-go/aio/internal/netutil"
	"github.com/aio-go/aio/internal/safejob"
)

// Listener is a SO_REUSEPORT-enabled, non-blocking TCP listener whose
// Accept completions flow through the same completion queue as every
// other I/O-object wait.
type Listener struct {
	ctx  *aio.Context
	fd   int
	base net.Listener // kept only to own the wrapped net.Listener's lifetime

	// acceptJob rejects a second Accept issued while one is still
	// outstanding instead of blocking the caller, mirroring the source's
	// sysReadJob/sysWriteJob: poller-driven scheduling never waits on a
	// lock, it just declines.
	acceptJob safejob.ExclusiveUnblockJob
}

// Listen creates a Listener bound to addr with SO_REUSEPORT set, so
// several processes (or several Listener values within one) can share the
// same port.
func Listen(ctx *aio.Context, network, addr string) (*Listener, error) {
	ln, err := reuseport.Listen(network, addr)
	if err != nil {
		return nil, errors.Wrap(err, "ioobjects: listen")
	}
	fd, err := netutil.DupFD(ln)
	if err != nil {
		_ = ln.Close()
		return nil, errors.Wrap(err, "ioobjects: dup listener fd")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = ln.Close()
		return nil, errors.Wrap(os.NewSyscallError("setnonblock", err), "ioobjects: listen")
	}
	return &Listener{ctx: ctx, fd: fd, base: ln}, nil
}

// FD returns the underlying listening socket descriptor.
func (l *Listener) FD() int { return l.fd }

// Accept schedules a single accept completion. It does not automatically
// re-arm itself; callers accepting a stream of connections call Accept
// again from within completion, the same pattern used for every other
// I/O-object wait.
//
// The completion itself runs off aio's internal system pool rather than
// inline on the goroutine driving Run: accept fan-out is exactly the
// per-connection callback that pool exists to keep off the I/O loop, so
// a slow or blocking accept handler never stalls the scheduler's poll
// cycle.
func (l *Listener) Accept(completion func(*Socket, error)) error {
	if !l.acceptJob.Begin() {
		return errors.New("ioobjects: accept already in progress")
	}
	w := l.ctx.LatchWork()
	e := envelope.New(l.fd, envelope.Accept, nil, func(r envelope.Result) {
		l.acceptJob.End()
		w.Release()
		deliver := func() {
			if r.Err != nil {
				completion(nil, resultError(r))
				return
			}
			completion(&Socket{ctx: l.ctx, fd: r.Fd}, nil)
		}
		if err := aio.DispatchAsync(deliver); err != nil {
			// The system pool is exhausted or closed; deliver inline
			// rather than drop the completion.
			deliver()
		}
	})
	e.SetPerform(func() bool {
		connFD, _, err := netutil.Accept(l.fd)
		if err == unix.EAGAIN {
			return false
		}
		if err != nil {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("accept4", err)})
			return true
		}
		e.SetResult(envelope.Result{Fd: connFD})
		return true
	})
	if err := l.ctx.Scheduler().Schedule(e); err != nil {
		w.Release()
		l.acceptJob.End()
		return err
	}
	return nil
}

// Cancel cancels an outstanding Accept.
func (l *Listener) Cancel() (int, error) {
	return l.ctx.Scheduler().Cancel(l.fd)
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return l.base.Close()
}

// Socket is a non-blocking connected stream socket. Reads and writes are
// scheduled against the fd directly rather than routed back through
// net.Conn, so a single Accept or Connect handoff is the only place a
// Socket touches the standard library's networking stack.
type Socket struct {
	ctx *aio.Context
	fd  int

	// readJob serialises user-facing Read calls the way apiReadJob does
	// in the source's connection closer: a second Read issued while one
	// is still outstanding blocks until the first has completed, rather
	// than both racing to attach a Perform to the same fd.
	readJob safejob.ExclusiveBlockJob
	// writeJob allows concurrent Write calls to proceed without
	// serialising on each other, mirroring apiWriteJob; each still gets
	// its own envelope and is delivered in the order the scheduler
	// observes the fd writable.
	writeJob safejob.ConcurrentJob
	closeJob safejob.OnceJob
}

// Connect creates a non-blocking socket and schedules a single completion
// for when the connection attempt resolves, following the
// connect()-then-wait-for-writable pattern common to non-blocking POSIX
// sockets.
func Connect(ctx *aio.Context, network, addr string) (*Socket, error) {
	raddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, errors.Wrap(err, "ioobjects: resolve")
	}
	domain := unix.AF_INET
	if raddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("socket", err), "ioobjects: connect")
	}
	sa, err := sockaddrOf(raddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, errors.Wrap(os.NewSyscallError("connect", err), "ioobjects: connect")
	}
	return &Socket{ctx: ctx, fd: fd}, nil
}

// WaitForConnected schedules a completion for when a socket created via
// Connect finishes connecting (successfully or not). Reading SO_ERROR
// after the fd turns writable is the standard way to discover a refused
// or otherwise failed non-blocking connect.
func (s *Socket) WaitForConnected(completion func(error)) error {
	w := s.ctx.LatchWork()
	e := envelope.New(s.fd, envelope.Connect, nil, func(r envelope.Result) {
		w.Release()
		completion(resultError(r))
	})
	e.SetPerform(func() bool {
		errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("getsockopt", err)})
			return true
		}
		if errno != 0 {
			e.SetResult(envelope.Result{Err: unix.Errno(errno)})
			return true
		}
		e.SetResult(envelope.Result{})
		return true
	})
	if err := s.ctx.Scheduler().Schedule(e); err != nil {
		w.Release()
		return err
	}
	return nil
}

// FD returns the underlying connected socket descriptor.
func (s *Socket) FD() int { return s.fd }

// Read schedules a single read into buf, completing once data is
// available or the peer has closed (n == 0, err == nil). A Read issued
// while a previous one on the same Socket is still outstanding blocks the
// caller until that one has completed, rather than both attaching a
// Perform to the same fd.
func (s *Socket) Read(buf []byte, completion func(n int, err error)) error {
	if !s.readJob.Begin() {
		return errors.New("ioobjects: socket closed")
	}
	w := s.ctx.LatchWork()
	e := envelope.New(s.fd, envelope.Read, nil, func(r envelope.Result) {
		// Release the job and the work latch before invoking completion:
		// a completion that calls Close or issues another Read must not
		// deadlock against a critical section this same result already
		// concludes.
		s.readJob.End()
		w.Release()
		completion(r.N, resultError(r))
	})
	e.SetPerform(func() bool {
		n, err := unix.Read(s.fd, buf)
		if err == unix.EAGAIN {
			return false
		}
		if err != nil {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("read", err)})
			return true
		}
		e.SetResult(envelope.Result{N: n})
		return true
	})
	if err := s.ctx.Scheduler().Schedule(e); err != nil {
		w.Release()
		s.readJob.End()
		return err
	}
	return nil
}

// Write schedules a single write of buf, completing once the kernel has
// accepted some or all of it. Callers needing the whole buffer written
// loop Write against the unwritten remainder, the usual short-write
// contract.
func (s *Socket) Write(buf []byte, completion func(n int, err error)) error {
	if !s.writeJob.Begin() {
		return errors.New("ioobjects: socket closed")
	}
	w := s.ctx.LatchWork()
	e := envelope.New(s.fd, envelope.Write, nil, func(r envelope.Result) {
		s.writeJob.End()
		w.Release()
		completion(r.N, resultError(r))
	})
	e.SetPerform(func() bool {
		n, err := unix.Write(s.fd, buf)
		if err == unix.EAGAIN {
			return false
		}
		if err != nil {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("write", err)})
			return true
		}
		e.SetResult(envelope.Result{N: n})
		return true
	})
	if err := s.ctx.Scheduler().Schedule(e); err != nil {
		w.Release()
		s.writeJob.End()
		return err
	}
	return nil
}

// Recvmsg schedules a single recvmsg, reporting flags/name/control lengths
// alongside the payload length. The msghdr and its iovec are drawn from
// systype's pools rather than allocated per call.
func (s *Socket) Recvmsg(buf, name []byte, completion func(n int, res envelope.MsgResult, err error)) error {
	w := s.ctx.LatchWork()
	e := envelope.New(s.fd, envelope.Recvmsg, nil, func(r envelope.Result) {
		w.Release()
		completion(r.N, r.Msg, resultError(r))
	})
	e.SetPerform(func() bool {
		m := systype.GetMsghdr()
		defer systype.PutMsghdr(m)
		systype.BuildMsg(m, name, buf)
		n, _, errno := unix.Syscall(unix.SYS_RECVMSG, uintptr(s.fd), uintptr(unsafe.Pointer(m)), 0)
		if errno == unix.EAGAIN {
			return false
		}
		if errno != 0 {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("recvmsg", errno)})
			return true
		}
		e.SetResult(envelope.Result{
			N: int(n),
			Msg: envelope.MsgResult{
				Flags:      int(m.Flags),
				NameLen:    m.Namelen,
				ControlLen: uint32(m.Controllen),
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

// Sendmsg schedules a single sendmsg to the given destination name (empty
// for an already-connected socket).
func (s *Socket) Sendmsg(buf, name []byte, completion func(n int, err error)) error {
	w := s.ctx.LatchWork()
	e := envelope.New(s.fd, envelope.Sendmsg, nil, func(r envelope.Result) {
		w.Release()
		completion(r.N, resultError(r))
	})
	e.SetPerform(func() bool {
		m := systype.GetMsghdr()
		defer systype.PutMsghdr(m)
		systype.BuildMsg(m, name, buf)
		n, _, errno := unix.Syscall(unix.SYS_SENDMSG, uintptr(s.fd), uintptr(unsafe.Pointer(m)), 0)
		if errno == unix.EAGAIN {
			return false
		}
		if errno != 0 {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("sendmsg", errno)})
			return true
		}
		e.SetResult(envelope.Result{N: int(n)})
		return true
	})
	if err := s.ctx.Scheduler().Schedule(e); err != nil {
		w.Release()
		return err
	}
	return nil
}

// Readv schedules a single scatter read across bufs via readv, useful for
// reading a fixed header and a variable-length body into separate buffers
// without an intermediate copy.
func (s *Socket) Readv(bufs [][]byte, completion func(n int, err error)) error {
	w := s.ctx.LatchWork()
	e := envelope.New(s.fd, envelope.Read, nil, func(r envelope.Result) {
		w.Release()
		completion(r.N, resultError(r))
	})
	e.SetPerform(func() bool {
		data := iovec.NewIOData(iovec.WithLength(len(bufs)))
		copy(data.ByteVec, bufs)
		for i, b := range data.ByteVec {
			if len(b) == 0 {
				continue
			}
			data.IOVec[i] = unix.Iovec{Base: &b[0]}
			data.IOVec[i].SetLen(len(b))
		}
		n, _, errno := unix.Syscall(unix.SYS_READV, uintptr(s.fd), uintptr(unsafe.Pointer(&data.IOVec[0])), uintptr(len(data.IOVec)))
		if errno == unix.EAGAIN {
			return false
		}
		if errno != 0 {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("readv", errno)})
			return true
		}
		e.SetResult(envelope.Result{N: int(n)})
		return true
	})
	if err := s.ctx.Scheduler().Schedule(e); err != nil {
		w.Release()
		return err
	}
	return nil
}

// Writev schedules a single gather write of bufs via writev.
func (s *Socket) Writev(bufs [][]byte, completion func(n int, err error)) error {
	w := s.ctx.LatchWork()
	e := envelope.New(s.fd, envelope.Write, nil, func(r envelope.Result) {
		w.Release()
		completion(r.N, resultError(r))
	})
	e.SetPerform(func() bool {
		data := iovec.NewIOData(iovec.WithLength(len(bufs)))
		copy(data.ByteVec, bufs)
		for i, b := range data.ByteVec {
			if len(b) == 0 {
				continue
			}
			data.IOVec[i] = unix.Iovec{Base: &b[0]}
			data.IOVec[i].SetLen(len(b))
		}
		n, _, errno := unix.Syscall(unix.SYS_WRITEV, uintptr(s.fd), uintptr(unsafe.Pointer(&data.IOVec[0])), uintptr(len(data.IOVec)))
		if errno == unix.EAGAIN {
			return false
		}
		if errno != 0 {
			e.SetResult(envelope.Result{Err: os.NewSyscallError("writev", errno)})
			return true
		}
		e.SetResult(envelope.Result{N: int(n)})
		return true
	})
	if err := s.ctx.Scheduler().Schedule(e); err != nil {
		w.Release()
		return err
	}
	return nil
}

// Cancel cancels every outstanding wait (read, write, recvmsg, sendmsg,
// connect) on this socket.
func (s *Socket) Cancel() (int, error) {
	return s.ctx.Scheduler().Cancel(s.fd)
}

// Close closes the connected socket. Safe to call more than once; only
// the first call actually closes the fd.
func (s *Socket) Close() error {
	if !s.closeJob.Begin() {
		return nil
	}
	s.readJob.Close()
	s.writeJob.Close()
	return os.NewSyscallError("close", unix.Close(s.fd))
}

func sockaddrOf(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, errors.Errorf("ioobjects: invalid address %v", addr)
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip16)
	return sa, nil
}
