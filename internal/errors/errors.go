// Package errors defines the typed error values the HTTP surface speaks.
// Webhook handlers return *Error for every rejection; the echo middleware
// turns them into JSON responses, counts them by type and writes one log
// line with the request context attached.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes an error for status mapping, logging and metrics.
type ErrorType string

// The types cover the webhook endpoint's rejection paths plus the internal
// catch-all for everything unexpected.
const (
	TypeValidation ErrorType = "validation"
	TypeForbidden  ErrorType = "forbidden"
	TypeNotFound   ErrorType = "not_found"
	TypeGone       ErrorType = "gone"
	TypeInternal   ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	TypeValidation: http.StatusBadRequest,
	TypeForbidden:  http.StatusForbidden,
	TypeNotFound:   http.StatusNotFound,
	TypeGone:       http.StatusGone,
	TypeInternal:   http.StatusInternalServerError,
}

// Error carries a typed message plus structured context for the log line.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func newError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message, Context: make(map[string]any)}
}

// ValidationError rejects malformed input (HTTP 400).
func ValidationError(message string) *Error { return newError(TypeValidation, message) }

// ForbiddenError rejects a failed authenticity check (HTTP 403).
func ForbiddenError(message string) *Error { return newError(TypeForbidden, message) }

// NotFoundError reports an unknown resource or host (HTTP 404).
func NotFoundError(message string) *Error { return newError(TypeNotFound, message) }

// GoneError reports a permanently retired resource (HTTP 410).
func GoneError(message string) *Error { return newError(TypeGone, message) }

// InternalError wraps an unexpected server-side failure (HTTP 500).
func InternalError(message string, cause error) *Error {
	err := newError(TypeInternal, message)
	err.Cause = cause
	return err
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps the error type onto a response code. Unknown types are
// treated as internal.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByType[e.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithContext attaches a key/value pair carried into the log line and the
// JSON response. Chainable.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body written for a rejected request.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts the error into its wire form.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// AsStructuredError returns err as *Error, wrapping foreign errors as
// internal so no failure escapes untyped.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	return InternalError("internal server error", err)
}
