// Package apperr defines the error taxonomy shared by the dispatch core and
// its HTTP and realtime adapters.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain failure.
type Kind int

const (
	Internal Kind = iota
	NotFound
	Forbidden
	Conflict
	BadRequest
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error is a classified error with a client-safe message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound     = &Error{Kind: NotFound}
	ErrForbidden    = &Error{Kind: Forbidden}
	ErrConflict     = &Error{Kind: Conflict}
	ErrBadRequest   = &Error{Kind: BadRequest}
	ErrUnauthorized = &Error{Kind: Unauthorized}
)

func newf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error     { return newf(NotFound, format, args...) }
func Forbiddenf(format string, args ...any) error    { return newf(Forbidden, format, args...) }
func Conflictf(format string, args ...any) error     { return newf(Conflict, format, args...) }
func BadRequestf(format string, args ...any) error   { return newf(BadRequest, format, args...) }
func Unauthorizedf(format string, args ...any) error { return newf(Unauthorized, format, args...) }

// KindOf returns the kind of the first *Error in the chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps an error to the response status used by the handlers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text for err. Internal errors are masked.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
