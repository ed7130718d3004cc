// Package apperr holds the error taxonomy shared by the scheduler and the
// billing ledger. Callers branch on Kind, never on message text.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidTransition Kind = "invalid_transition"
	KindSlotUnavailable   Kind = "slot_unavailable"
	KindInvalidAmount     Kind = "invalid_amount"
	KindNotFound          Kind = "not_found"
	KindUnavailable       Kind = "unavailable"
)

// Error is a classified failure. Message is safe to show to a user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Unavailable wraps a store or lock failure. Errors that already carry a
// kind pass through untouched so a NotFound from a repository stays NotFound.
func Unavailable(message string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindUnavailable, Message: message, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or "" when err carries none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a caller may retry the same call. Only transient
// store failures qualify; a conflict must be re-read first.
func Retryable(err error) bool {
	return IsKind(err, KindUnavailable)
}

// Message returns the user facing message of the outermost classified
// error, falling back to err.Error().
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
