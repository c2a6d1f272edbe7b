package weft

import (
	"fmt"
	"net/http"
)

// HTTPError is an error that carries an HTTP status code and a message
// intended to reach the client.
//
// The dispatch engine's final handler (see DefaultErrorHandler) reads the
// StatusCode of any error that implements this shape; errors that don't are
// treated as InternalError.
type HTTPError struct {
	StatusCode int
	Message string

	// Operational marks an error as an expected, documented failure mode
	// (a bad request, a missing resource) rather than a bug. In
	// production mode, the message of a non-operational error is replaced
	// with a generic string before it reaches the client.
	Operational bool

	// Err is the underlying cause, if any. Never written to the wire.
	Err error
}

// NewHTTPError returns a new operational *HTTPError with the statusCode and
// a message. If no message is given, the status text of the statusCode is
// used.
func NewHTTPError(statusCode int, message ...string) *HTTPError {
	m := http.StatusText(statusCode)
	if len(message) > 0 && message[0] != "" {
		m = message[0]
	}

	return &HTTPError{
		StatusCode: statusCode,
		Message: m,
		Operational: true,
	}
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

// Unwrap returns the underlying cause of e, if any.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// WithCause returns a copy of the e with its Err set to cause.
func (e *HTTPError) WithCause(cause error) *HTTPError {
	c := *e
	c.Err = cause
	return &c
}

// Behavioral error constructors covering the common HTTP error taxonomy.
// Each wraps NewHTTPError with the matching status code.

// ErrBadRequest returns a 400 HTTPError.
func ErrBadRequest(message ...string) *HTTPError {
	return NewHTTPError(http.StatusBadRequest, message...)
}

// ErrUnauthorized returns a 401 HTTPError.
func ErrUnauthorized(message ...string) *HTTPError {
	return NewHTTPError(http.StatusUnauthorized, message...)
}

// ErrForbidden returns a 403 HTTPError.
func ErrForbidden(message ...string) *HTTPError {
	return NewHTTPError(http.StatusForbidden, message...)
}

// ErrNotFound returns a 404 HTTPError.
func ErrNotFound(message ...string) *HTTPError {
	return NewHTTPError(http.StatusNotFound, message...)
}

// ErrMethodNotAllowed returns a 405 HTTPError.
func ErrMethodNotAllowed(message ...string) *HTTPError {
	return NewHTTPError(http.StatusMethodNotAllowed, message...)
}

// ErrPayloadTooLarge returns a 413 HTTPError.
func ErrPayloadTooLarge(message ...string) *HTTPError {
	return NewHTTPError(http.StatusRequestEntityTooLarge, message...)
}

// ErrUnsupportedMediaType returns a 415 HTTPError.
func ErrUnsupportedMediaType(message ...string) *HTTPError {
	return NewHTTPError(http.StatusUnsupportedMediaType, message...)
}

// ErrInternal returns a non-operational 500 HTTPError wrapping cause.
func ErrInternal(cause error) *HTTPError {
	e := NewHTTPError(http.StatusInternalServerError)
	e.Operational = false
	e.Err = cause
	return e
}

// ErrResponseAlreadyEnded is raised when response mutators are invoked after
// Response.End has already been observed. It is a programming error, never a
// wire-visible HTTPError.
var ErrResponseAlreadyEnded = fmt.Errorf("weft: response already ended")

// ErrInvalidPattern is returned by CompilePattern when the source path
// grammar is violated.
type ErrInvalidPattern struct {
	Source string
	Reason string
}

func (e *ErrInvalidPattern) Error() string {
	return fmt.Sprintf("weft: invalid path pattern %q: %s", e.Source, e.Reason)
}

// ErrInvalidHandler is raised by Layer construction when a nil handler is
// registered.
var ErrInvalidHandler = fmt.Errorf("weft: handler must not be nil")

// statusCodeOf returns the HTTP status code that should be written for err.
// Unwrapped errors are treated as internal (500).
func statusCodeOf(err error) int {
	if he, ok := err.(*HTTPError); ok && he.StatusCode != 0 {
		return he.StatusCode
	}

	return http.StatusInternalServerError
}
