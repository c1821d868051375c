package envelope

import (
	"errors"
)

// ErrCancelled is the distinguished error every envelope outstanding on a
// descriptor at the moment of Cancel completes with. It is the one error
// the core itself ever manufactures; every other error surfaced to a
// continuation is a wrapped syscall error from the kind-specific syscall.
var ErrCancelled = errors.New("aio: operation cancelled")

// Result is the success payload discriminated by Kind, or an error. Only
// one of the fields the active Kind defines is meaningful; the rest are
// left zero. This mirrors the "success payload discriminated by kind, or
// an error code" slot in the data model instead of a sum type, since Go
// has none cheap enough to justify here.
type Result struct {
	Err error

	// N is bytes transferred for Read/Write/Sendmsg/EventfdWrite, or the
	// packet length for Recvmsg.
	N int

	// Msg carries Recvmsg's returned message header (flags, source
	// address length, control data length).
	Msg MsgResult

	// Fd is the accepted descriptor for Accept.
	Fd int

	// Counter is the 64-bit value read back for TimerOrEventRead.
	Counter uint64

	// Signal carries the signal-info record for SignalfdRead.
	Signal SignalInfo
}

// MsgResult is the portion of a recvmsg(2) result a continuation needs:
// how much of the name/control buffers the kernel actually used.
type MsgResult struct {
	Flags        int
	NameLen      uint32
	ControlLen   uint32
	ControlFlags int
}

// SignalInfo is the decoded signalfd_siginfo record for SignalfdRead.
type SignalInfo struct {
	Signo  uint32
	Errno  int32
	Code   int32
	PID    uint32
	UID    uint32
	Status int32
}

// OK reports whether the result carries a success payload.
func (r Result) OK() bool { return r.Err == nil }
