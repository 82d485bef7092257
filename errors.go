package pms7003

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	// InvalidArgument: the caller passed a bad argument, e.g. a negative timeout.
	InvalidArgument Kind = iota + 1
	// Timeout: no data arrived within the requested bound.
	Timeout
	// FramingError: wrong start bytes or declared length.
	FramingError
	// ChecksumError: the frame checksum does not match its contents.
	ChecksumError
	// DeviceError: the serial port or readiness monitor failed.
	// The session must be closed and reopened.
	DeviceError
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case Timeout:
		return "timeout"
	case FramingError:
		return "framing error"
	case ChecksumError:
		return "checksum error"
	case DeviceError:
		return "device error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether another read on the same session may succeed.
func (k Kind) Retryable() bool {
	return k == Timeout || k == FramingError || k == ChecksumError
}

// Error is the error type returned by this package.
// Expected and Actual are set for framing and checksum errors.
type Error struct {
	Kind     Kind
	Op       string
	Expected int
	Actual   int
	Err      error
}

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrInvalidArgument = &Error{Kind: InvalidArgument}
	ErrTimeout         = &Error{Kind: Timeout}
	ErrFraming         = &Error{Kind: FramingError}
	ErrChecksum        = &Error{Kind: ChecksumError}
	ErrDevice          = &Error{Kind: DeviceError}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("pms7003: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	switch e.Kind {
	case FramingError, ChecksumError:
		if e.Expected != 0 || e.Actual != 0 {
			fmt.Fprintf(&b, " (expected %d, received %d)", e.Expected, e.Actual)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, pms7003.ErrTimeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or 0 if err is not from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func deviceErr(op string, err error) error {
	return &Error{Kind: DeviceError, Op: op, Err: err}
}
