// Package apperr defines the typed error kinds used across the API and
// worker, and maps them to HTTP status codes and stable string codes for
// the JSON error envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuth            Kind = "auth"
	KindForbidden       Kind = "forbidden"
	KindForbiddenDemo   Kind = "forbidden_demo"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindTokenUnavail    Kind = "token_unavailable"
	KindFormatInvalid   Kind = "format_invalid"
	KindLLMTransport    Kind = "llm_transport"
	KindBudgetExhausted Kind = "budget_exhausted"
	KindPaused          Kind = "paused"
	KindStalled         Kind = "stalled"
	KindIdle            Kind = "idle"
	KindInternal        Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindAuth:            http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindForbiddenDemo:   http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindTokenUnavail:    http.StatusUnprocessableEntity,
	KindFormatInvalid:   http.StatusUnprocessableEntity,
	KindLLMTransport:    http.StatusBadGateway,
	KindBudgetExhausted: http.StatusPaymentRequired,
	KindPaused:          http.StatusConflict,
	KindStalled:         http.StatusConflict,
	KindIdle:            http.StatusConflict,
	KindInternal:        http.StatusInternalServerError,
}

// Error is a typed application error carrying an HTTP-mappable Kind, a
// stable machine-readable Code, and a human message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code this error's Kind maps to.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error with Code defaulting to the Kind's string value.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches an underlying error to a typed Error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message, Err: err}
}

// As extracts an *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// StatusOf returns the HTTP status for any error: the mapped status if it
// wraps an *Error, or 500 otherwise.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// CodeOf returns the stable string code for any error, defaulting to
// "internal" when err isn't a typed Error.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return string(KindInternal)
}

var (
	ErrNotFound      = New(KindNotFound, "resource not found")
	ErrForbidden     = New(KindForbidden, "not a member of this project")
	ErrForbiddenDemo = New(KindForbiddenDemo, "demo project is read-only")
	ErrUnauthorized  = New(KindAuth, "authentication required")
	ErrPaused        = New(KindPaused, "conversation is paused")
)
