package lace

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error classifications from spec §7. Each kind
// has a fixed recovery policy enforced by the agent loop and tool executor,
// not by the caller inspecting strings.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindBusy             Kind = "Busy"
	KindUnknownTool      Kind = "UnknownTool"
	KindToolFailure      Kind = "ToolFailure"
	KindDenied           Kind = "Denied"
	KindUserStopped      Kind = "UserStopped"
	KindTransientProvider Kind = "TransientProvider"
	KindFatal            Kind = "Fatal"
	KindStorage          Kind = "StorageError"
	KindThreadCorrupt    Kind = "ThreadCorrupt"
	KindConflict         Kind = "ConflictError"
)

// Error is Lace's structured error type: every failure surfaced across
// package boundaries carries a Kind so callers can switch on recovery policy
// with errors.As instead of string matching.
type Error struct {
	Kind    Kind
	Message string
	ThreadId ThreadId
	Cause   error
}

func (e *Error) Error() string {
	if e.ThreadId != "" {
		return fmt.Sprintf("%s: %s (thread=%s)", e.Kind, e.Message, e.ThreadId)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, lace.KindX) style checks work via a sentinel kind
// wrapper; most callers should prefer errors.As and inspect Kind directly.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithThread attaches a thread id to the error and returns it for chaining.
func (e *Error) WithThread(id ThreadId) *Error {
	e.ThreadId = id
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
