// Package errors defines the relay's error taxonomy and the structured
// error type carried from services up to the HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by who is at fault and how the client should react.
type Kind string

const (
	// KindAuthentication means the caller presented no credential or a bad one.
	KindAuthentication Kind = "authentication"
	// KindValidation means the request itself is malformed.
	KindValidation Kind = "validation"
	// KindUpstream means the external provider failed or refused.
	KindUpstream Kind = "upstream"
	// KindMethodNotAllowed means the endpoint does not serve the HTTP method.
	KindMethodNotAllowed Kind = "method_not_allowed"
	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

// Shared sentinels. Component packages declare their own sentinels and wrap
// them in a RelayError of the right kind.
var (
	ErrMissingBearer    = errors.New("missing or invalid Authorization header")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrInternal         = errors.New("internal error")
)

// RelayError is a classified error with a client-facing message and an
// optional detail payload.
type RelayError struct {
	// Kind selects the HTTP status family.
	Kind Kind

	// Message is the client-facing summary.
	Message string

	// Detail is rendered as the "detail" member of the error envelope.
	Detail any

	// Status overrides the status derived from Kind when non-zero.
	Status int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error to its response status.
func (e *RelayError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return StatusForKind(e.Kind)
}

// WithDetail sets the detail payload.
func (e *RelayError) WithDetail(detail any) *RelayError {
	e.Detail = detail
	return e
}

// WithStatus overrides the status derived from the kind.
func (e *RelayError) WithStatus(status int) *RelayError {
	e.Status = status
	return e
}

// New creates a RelayError.
func New(kind Kind, message string, cause error) *RelayError {
	return &RelayError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// Authentication creates a 401-class error.
func Authentication(message string, cause error) *RelayError {
	return New(KindAuthentication, message, cause)
}

// Validation creates a 400-class error.
func Validation(message string, cause error) *RelayError {
	return New(KindValidation, message, cause)
}

// Upstream creates a 502-class error.
func Upstream(message string, cause error) *RelayError {
	return New(KindUpstream, message, cause)
}

// Internal creates a 500-class error.
func Internal(message string, cause error) *RelayError {
	return New(KindInternal, message, cause)
}

// MethodNotAllowed creates the 405 error.
func MethodNotAllowed() *RelayError {
	return New(KindMethodNotAllowed, "Method not allowed", ErrMethodNotAllowed)
}

// StatusForKind returns the default HTTP status for a kind.
func StatusForKind(kind Kind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// AsRelayError extracts a RelayError from err's chain. Errors that are not
// classified become internal errors carrying the given fallback message.
func AsRelayError(err error, fallback string) *RelayError {
	var re *RelayError
	if errors.As(err, &re) {
		return re
	}
	return Internal(fallback, err)
}

// Is reports whether err matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
