// Package fault defines the error taxonomy shared by the store adapters,
// the lifecycle and automation engines, and the CLI. Errors carry a string
// kind for classification plus an optional wrapped cause, so callers can
// branch on fault.KindOf(err) while %w chains stay intact.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kinds are string-based for debuggability and
// natural JSON serialization.
type Kind string

const (
	// ValidationFailed indicates a malformed or missing required field,
	// detected before any remote call.
	ValidationFailed Kind = "validation_failed"

	// NotFound indicates a referenced record id is absent.
	NotFound Kind = "not_found"

	// InvalidStateTransition indicates a mutation of a terminal pipeline or
	// an advance past the last stage.
	InvalidStateTransition Kind = "invalid_state_transition"

	// UnknownCriteria indicates an unrecognized automation predicate name.
	UnknownCriteria Kind = "unknown_criteria"

	// RemoteUnavailable indicates a transport failure or 5xx from the
	// record store.
	RemoteUnavailable Kind = "remote_unavailable"

	// AuthRequired indicates no credential exists and no refresh path is
	// available; the user must re-authenticate interactively.
	AuthRequired Kind = "auth_required"

	// RefreshFailed indicates the token refresh call itself failed.
	RefreshFailed Kind = "refresh_failed"

	// Timeout indicates a deadline expired while waiting on the store.
	Timeout Kind = "timeout"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, keeping it on the unwrap chain.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" if err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
