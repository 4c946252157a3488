// Package domain provides shared domain-level error kinds for the research
// task orchestrator.
package domain

import (
	"errors"
	"fmt"
)

// Kind identifies one of the fixed error categories the core can surface.
type Kind string

const (
	// KindInvalidInput marks an out-of-range or malformed argument.
	KindInvalidInput Kind = "InvalidInput"
	// KindProviderUnavailable marks the remote provider as unreachable or misconfigured.
	KindProviderUnavailable Kind = "ProviderUnavailable"
	// KindProviderFailed marks a provider-reported failure for a specific task.
	KindProviderFailed Kind = "ProviderFailed"
	// KindSessionExpired marks a provider session the remote side has discarded.
	KindSessionExpired Kind = "SessionExpired"
	// KindNotFound marks a missing Task row.
	KindNotFound Kind = "NotFound"
	// KindNotCompleted marks an operation that requires a terminal state with a Result.
	KindNotCompleted Kind = "NotCompleted"
	// KindAlreadyTerminal marks a cancel request against a Task already terminal.
	KindAlreadyTerminal Kind = "AlreadyTerminal"
	// KindCapacityExceeded marks a background-unit submission beyond the executor cap.
	KindCapacityExceeded Kind = "CapacityExceeded"
	// KindStorage marks a structural StateStore failure (not transient contention).
	KindStorage Kind = "Storage"
	// KindIO marks a filesystem failure during save.
	KindIO Kind = "IO"
)

// Error is a typed, wrapped error carrying a Kind plus an optional
// remediation hint and field name, matching the §7 response envelope.
type Error struct {
	Kind  Kind
	Field string // populated for KindInvalidInput
	Hint  string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// match with errors.Is against a bare Kind-carrying *Error, or use errors.As
// to recover the full value.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NewError builds an *Error of the given kind wrapping msg as a plain error.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

// Wrap builds an *Error of the given kind wrapping an existing error.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// InvalidInput builds a KindInvalidInput error naming the offending field.
func InvalidInput(field, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Field: field, Err: errors.New(msg)}
}

// WithHint attaches a remediation hint and returns the same *Error for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
// Errors outside the taxonomy are reported as KindStorage, the generic
// internal-failure bucket.
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return KindStorage
}

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")
