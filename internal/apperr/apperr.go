// Package apperr defines the typed errors that cross from domain code to the HTTP boundary.
//
// Domain packages return *Error for client-visible failures; anything else is treated
// as internal and collapses to a generic 500 at the boundary.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an Error and fixes its HTTP status.
type Kind int

const (
	Internal Kind = iota
	Validation
	Authentication
	Forbidden
	NotFound
	Conflict
	RateLimit
)

// Status returns the HTTP status for k.
// Conflict maps to 400: storefront clients treat duplicate signups as a form error.
func (k Kind) Status() int {
	switch k {
	case Validation, Conflict:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case RateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authentication:
		return "authentication"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case RateLimit:
		return "rate_limit"
	}
	return "internal"
}

// Error is a client-visible failure. Message and Details are echoed to the caller;
// Err is logged only.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status is shorthand for e.Kind.Status().
func (e *Error) Status() int { return e.Kind.Status() }

// New returns an Error of kind k.
func New(k Kind, message string) *Error {
	return &Error{Kind: k, Message: message}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Unavailable wraps an infrastructure failure (cache, mail) as a rate-limit-shaped error
// so the client sees "Service temporarily unavailable" instead of a raw 500.
func Unavailable(err error) *Error {
	return &Error{Kind: RateLimit, Message: "Service temporarily unavailable", Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of kind k.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}
