// Package errs defines the wire error taxonomy shared by every control
// stream and lifecycle operation in the engine (spec §6/§7): a small set
// of string kinds that MUST survive wrapping so callers can branch on
// them with errors.As, the same way collab/service.go used sentinel
// errors (ErrRevisionConflict, ErrDuplicateOrOutOfOrder) and
// store/Snapshot.go used errors.As against *mysql.MySQLError.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the wire-visible error codes from spec §6.
type Kind string

const (
	BadValue              Kind = "bad_value"
	RevisionNotAvailable  Kind = "revision_not_available"
	PathNotEmpty          Kind = "path_not_empty"
	PathHashMismatch      Kind = "path_hash_mismatch"
	TimedOut              Kind = "timed_out"
	Aborted               Kind = "aborted"
	TooManyRetries        Kind = "too_many_retries"
	StorageCorrupt        Kind = "storage_corrupt"
	InvariantViolation    Kind = "invariant_violation"
	UnknownSession        Kind = "unknown_session"
	WrongAuthor           Kind = "wrong_author"
	TransactionAborted    Kind = "transaction_aborted"
)

// Error wraps a cause with a Kind that propagation MUST preserve.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to cause, adding context without discarding cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err doesn't carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
