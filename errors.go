//go:build linux
// +build linux

package aio

import "github.com/aio-go/aio/internal/envelope"

// Kind categorises an Error so callers can distinguish failure families
// without parsing strings. The set is open: future I/O-object layers
// (e.g. a TLS handshake built on top of Socket) get their own Kind rather
// than collapsing into System.
type Kind int

// The error kinds this runtime itself produces.
const (
	// System wraps a syscall failure (*os.SyscallError / syscall.Errno).
	System Kind = iota
	// Cancelled marks the ErrCancelled sentinel.
	Cancelled
	// Contract marks an invariant violation inside the runtime itself:
	// double dispatch, a negative work counter, popping an empty
	// completion queue. These are bugs, not recoverable by callers, and
	// are raised as panics rather than returned as Error values; the Kind
	// exists so a recovered panic can still be categorised if a caller
	// chooses to recover it.
	Contract
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case System:
		return "system"
	case Cancelled:
		return "cancelled"
	case Contract:
		return "contract"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind, so callers can distinguish
// "system", "cancelled", and future protocol-specific error families
// without re-parsing error strings.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap lets errors.Is/errors.As see through to the underlying error,
// e.g. errors.Is(err, aio.ErrCancelled).
func (e *Error) Unwrap() error { return e.Err }

// ErrCancelled is the error every envelope outstanding on a descriptor at
// the moment of Cancel completes with. Re-exported from internal/envelope
// so callers never need to import that package directly.
var ErrCancelled = envelope.ErrCancelled

// wrapResultErr wraps a raw result error (syscall or ErrCancelled) into an
// *Error with the appropriate Kind, or returns nil if err is nil.
func wrapResultErr(err error) error {
	if err == nil {
		return nil
	}
	if err == envelope.ErrCancelled {
		return &Error{Kind: Cancelled, Err: err}
	}
	return &Error{Kind: System, Err: err}
}
