// Package errors provides domain-specific error types for pgdial.
//
// Every failure on the connect path is classified into a [Kind] so that
// callers can branch on what went wrong (no host, timeout, TLS, protocol)
// without parsing messages, while the original cause stays reachable
// through errors.Is / errors.As.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNoHost            = errors.New("host missing")
	ErrUnsupported       = errors.New("unsupported transport")
	ErrConnectFailed     = errors.New("connect failed")
	ErrTimedOut          = errors.New("operation timed out")
	ErrTLSNegotiation    = errors.New("tls negotiation failed")
	ErrProtocolHandshake = errors.New("protocol handshake failed")
	ErrClosed            = errors.New("connection closed")
)

// Kind classifies a connect-path failure.
type Kind int

const (
	KindConnectFailed Kind = iota
	KindNoHost
	KindUnsupported
	KindTimedOut
	KindTLSNegotiation
	KindProtocolHandshake
)

func (k Kind) String() string {
	switch k {
	case KindNoHost:
		return "no host"
	case KindUnsupported:
		return "unsupported"
	case KindTimedOut:
		return "timed out"
	case KindTLSNegotiation:
		return "tls negotiation"
	case KindProtocolHandshake:
		return "protocol handshake"
	default:
		return "connect failed"
	}
}

// sentinel returns the package-level error matching k.
func (k Kind) sentinel() error {
	switch k {
	case KindNoHost:
		return ErrNoHost
	case KindUnsupported:
		return ErrUnsupported
	case KindTimedOut:
		return ErrTimedOut
	case KindTLSNegotiation:
		return ErrTLSNegotiation
	case KindProtocolHandshake:
		return ErrProtocolHandshake
	default:
		return ErrConnectFailed
	}
}

// ── Structured error types ───────────────────────────────────────────

// ConnectError represents a failure at one stage of establishing a
// connection.
type ConnectError struct {
	Kind Kind
	Op   string // "connect", "tls", "startup", "dial"
	Addr string // candidate address involved, if any
	Err  error  // underlying error
}

func (e *ConnectError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Addr != "" {
		b.WriteString(" ")
		b.WriteString(e.Addr)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.sentinel().Error())
	}
	return b.String()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind, so
// errors.Is(err, ErrTLSNegotiation) works regardless of the cause.
func (e *ConnectError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Timeout reports whether the error is a timed-out attempt.
func (e *ConnectError) Timeout() bool { return e.Kind == KindTimedOut }

// TimeoutError is returned when an operation exceeded its time bound.
type TimeoutError struct {
	After time.Duration
	Err   error // the cause observed when the deadline fired, may be nil
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.After)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimedOut }

// Timeout implements net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// Temporary implements net.Error.
func (e *TimeoutError) Temporary() bool { return true }

var _ net.Error = (*TimeoutError)(nil)

// Attempt records one failed candidate.
type Attempt struct {
	Addr string
	Err  error
}

// FallbackError is returned when every candidate failed. It unwraps to
// the last candidate's error only; earlier failures stay available
// through Attempts and All.
type FallbackError struct {
	attempts []Attempt
}

// NewFallbackError builds a FallbackError from the recorded attempts.
// attempts must not be empty.
func NewFallbackError(attempts []Attempt) *FallbackError {
	return &FallbackError{attempts: attempts}
}

func (e *FallbackError) Error() string {
	last := e.attempts[len(e.attempts)-1]
	if len(e.attempts) == 1 {
		return last.Err.Error()
	}
	return fmt.Sprintf("all %d candidates failed, last: %v", len(e.attempts), last.Err)
}

func (e *FallbackError) Unwrap() error { return e.attempts[len(e.attempts)-1].Err }

// Attempts returns every failed attempt in trial order.
func (e *FallbackError) Attempts() []Attempt {
	out := make([]Attempt, len(e.attempts))
	copy(out, e.attempts)
	return out
}

// All combines every attempt's error into one.
func (e *FallbackError) All() error {
	var err error
	for _, a := range e.attempts {
		err = multierr.Append(err, a.Err)
	}
	return err
}

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: %s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a ConnectError, classifying timeouts automatically. An
// err that already is a ConnectError keeps its kind.
func Wrap(op, addr string, err error) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return &ConnectError{Kind: ce.Kind, Op: op, Addr: addr, Err: err}
	}
	kind := KindConnectFailed
	switch {
	case errors.Is(err, ErrUnsupported):
		kind = KindUnsupported
	case IsTimeout(err):
		kind = KindTimedOut
	}
	return &ConnectError{Kind: kind, Op: op, Addr: addr, Err: err}
}

// WrapKind creates a ConnectError of the given kind.
func WrapKind(kind Kind, op, addr string, err error) *ConnectError {
	return &ConnectError{Kind: kind, Op: op, Addr: addr, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// KindOf returns the kind of the outermost ConnectError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsTimeout reports whether err represents an expired time bound.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimedOut) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
