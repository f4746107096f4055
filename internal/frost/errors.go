package frost

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the fatal-to-session error categories from
// SPEC_FULL.md §7 that originate inside the FROST engine.
type ErrorKind int

const (
	ErrDuplicatePackage ErrorKind = iota + 1
	ErrInvalidPackage
	ErrVerificationFailure
	ErrAggregationFailure
	ErrInvalidParams
	ErrCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrDuplicatePackage:
		return "DuplicatePackage"
	case ErrInvalidPackage:
		return "InvalidPackage"
	case ErrVerificationFailure:
		return "VerificationFailure"
	case ErrAggregationFailure:
		return "AggregationFailure"
	case ErrInvalidParams:
		return "InvalidParams"
	case ErrCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with the error kind the rest of the
// core needs to react to (e.g. Cancelled is not reported as a failure,
// every other kind aborts the session).
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// IsCancelled reports whether err is (or wraps) a cooperative cancellation.
func IsCancelled(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == ErrCancelled
	}
	return false
}
