// Package apperr provides a small typed-error wrapper used at service
// boundaries to map internal failures to transport-appropriate responses
// without losing the wrapped cause (callers still use errors.Is/As against
// the underlying error).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for the purpose of mapping it onto a transport
// status code (see writeError in internal/httpapi/errors.go).
type Kind int

const (
	// KindUnknown is the zero value; treated as an internal error.
	KindUnknown Kind = iota
	KindConfiguration
	KindPersistence
	KindValidation
	KindAuthN
	KindAuthZ
	KindNotFound
	KindUpstream
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPersistence:
		return "persistence"
	case KindValidation:
		return "validation"
	case KindAuthN:
		return "authentication"
	case KindAuthZ:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a typed, wrapped error carrying a Kind for boundary mapping.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping cause. If cause is nil,
// Wrap returns nil, allowing the common `return apperr.Wrap(kind, msg, err)`
// idiom to propagate a nil error unchanged.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, returning KindUnknown if err is not (or
// does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
