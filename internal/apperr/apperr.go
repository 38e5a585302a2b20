// Package apperr defines the error kinds services return and how they map to
// HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the boundary layer.
type Kind int

const (
	KindUnexpected Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	default:
		return "unexpected"
	}
}

// Error is a classified failure with a user-facing message.
type Error struct {
	Kind        Kind
	Message     string
	Suggestions []string
	// Status overrides the default HTTP status for the kind when non-zero.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the response code for the error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindValidation, KindState:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

// WeakPassword is a validation error carrying strength suggestions.
func WeakPassword(msg string, suggestions []string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Suggestions: suggestions}
}

func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }
func Forbidden(msg string) *Error    { return &Error{Kind: KindForbidden, Message: msg} }
func NotFound(msg string) *Error     { return &Error{Kind: KindNotFound, Message: msg} }

// State reports an operation that is invalid for the entity's current state.
func State(msg string) *Error { return &Error{Kind: KindState, Message: msg} }

// StateNotFound is a state error surfaced as 404, e.g. checkout with no open session.
func StateNotFound(msg string) *Error {
	return &Error{Kind: KindState, Message: msg, Status: http.StatusNotFound}
}

// Unexpected wraps a store or collaborator failure.
func Unexpected(err error) *Error { return &Error{Kind: KindUnexpected, Err: err} }

// As extracts an *Error from err. Unclassified errors come back as KindUnexpected.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unexpected(err)
}

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	if e := As(err); e != nil {
		return e.Kind
	}
	return KindUnexpected
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
