// Package apperror defines the application's error taxonomy.
//
// Every error that reaches a client is an *AppError wrapping one of the
// sentinels below. Handlers use errors.Is on the sentinel to pick an HTTP
// status and read AppError.Message for the body.
//
// TWO KINDS OF ERRORS:
//   - Expected outcomes (validation, conflict, not found, bad signature):
//     Message is safe to show to the caller as-is.
//   - Server faults (configuration, upstream, persistence): Message is a
//     generic string. The underlying cause is kept in Cause so it can be
//     logged, and only shown to the client outside production.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("conflict")
	ErrInvalidState   = errors.New("invalid state")
	ErrAuthentication = errors.New("authentication failed")
	ErrRateLimited    = errors.New("rate limited")
	ErrConfiguration  = errors.New("configuration error")
	ErrUpstream       = errors.New("upstream error")
	ErrPersistence    = errors.New("persistence error")
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, never sent to clients in production
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is works for
// either (e.g. errors.Is(err, context.DeadlineExceeded) on a persistence error).
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Internal reports whether the error is a server-side fault whose details
// must not leak to clients.
func (e *AppError) Internal() bool {
	return errors.Is(e.Err, ErrConfiguration) ||
		errors.Is(e.Err, ErrUpstream) ||
		errors.Is(e.Err, ErrPersistence)
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation, e.g. "Username already taken".
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// InvalidState reports an operation attempted at the wrong point of a
// lifecycle, such as verifying a signature with no outstanding nonce.
func InvalidState(message string) *AppError {
	return &AppError{
		Err:     ErrInvalidState,
		Message: message,
	}
}

// Unauthenticated returns an AppError for bad signatures and bad tokens.
// HTTP handlers map this to 401 Unauthorized.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrAuthentication,
		Message: message,
	}
}

func RateLimited() *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: "Too many requests, please try again later",
	}
}

// Misconfigured signals a server setup problem (e.g. missing JWT secret).
// It is meant to stop startup, not to be returned per request.
func Misconfigured(message string) *AppError {
	return &AppError{
		Err:     ErrConfiguration,
		Message: message,
	}
}

// Upstream wraps a failure talking to an external service.
func Upstream(service string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: fmt.Sprintf("Failed to reach %s", service),
		Cause:   cause,
	}
}

// Persistence wraps a store failure. op names the operation for the logs.
func Persistence(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrPersistence,
		Message: "Server error",
		Field:   op,
		Cause:   cause,
	}
}
