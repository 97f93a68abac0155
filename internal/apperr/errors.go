// Package apperr defines the error taxonomy shared by the REST and socket paths.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the stable machine-readable failure category.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindValidation      Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindInternal        Kind = "internal"
)

// Error is a classified failure with a human readable message.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// WithReason attaches a finer grained code, e.g. invite_expired.
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

func NotFound(msg string) *Error        { return &Error{Kind: KindNotFound, Message: msg} }
func Forbidden(msg string) *Error       { return &Error{Kind: KindForbidden, Message: msg} }
func Conflict(msg string) *Error        { return &Error{Kind: KindConflict, Message: msg} }
func Validation(msg string) *Error      { return &Error{Kind: KindValidation, Message: msg} }
func Unauthenticated(msg string) *Error { return &Error{Kind: KindUnauthenticated, Message: msg} }

// Internal wraps an unexpected failure. The cause is kept for logging, never shown.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies err; anything unclassified is internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of err.
func MessageOf(err error) string {
	if e, ok := As(err); ok && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

// ReasonOf returns the reason code of err, if any.
func ReasonOf(err error) string {
	if e, ok := As(err); ok {
		return e.Reason
	}
	return ""
}

// HTTPStatus maps a kind to its REST status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
