// Package errors defines structured error types for the SearchGuard service.
// Errors carry a machine-readable code and an HTTP status so transport layers
// can render rejections without inspecting internals.
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/searchguard/searchguard/pkg/constants"
)

// ================================================================================
// Error Codes
// ================================================================================

const (
	// ErrCodeRateLimitExceeded signals ordinary quota exhaustion (PolicyDenied)
	ErrCodeRateLimitExceeded constants.ErrorCode = "rate_limit_exceeded"

	// ErrCodeIdentityBlocked signals an abuse-escalation block, distinct from quota exhaustion
	ErrCodeIdentityBlocked constants.ErrorCode = "identity_blocked"

	// ErrCodeStoreUnavailable signals counter store failure; absorbed by the engine, never user-facing
	ErrCodeStoreUnavailable constants.ErrorCode = "store_unavailable"

	// ErrCodeInvalidConfig signals an invalid policy or service configuration
	ErrCodeInvalidConfig constants.ErrorCode = "invalid_config"

	// ErrCodeInvalidRequest signals malformed caller input
	ErrCodeInvalidRequest constants.ErrorCode = "invalid_request"

	// ErrCodeNotFound signals a missing record
	ErrCodeNotFound constants.ErrorCode = "not_found"

	// ErrCodeInternal signals an unexpected internal failure
	ErrCodeInternal constants.ErrorCode = "internal_error"
)

// ================================================================================
// AppError
// ================================================================================

// AppError is a structured error with code, HTTP status and optional metadata.
type AppError interface {
	error

	// Code returns the machine-readable error code
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status the error maps to
	HTTPStatus() int

	// Unwrap returns the underlying cause for error chain support
	Unwrap() error

	// WithCause attaches a cause error
	WithCause(cause error) AppError

	// WithMetadata attaches context metadata
	WithMetadata(key string, value interface{}) AppError

	// Metadata returns all attached metadata
	Metadata() map[string]interface{}
}

type appError struct {
	code       constants.ErrorCode
	httpStatus int
	message    string
	cause      error
	metadata   map[string]interface{}
}

func (e *appError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *appError) Code() constants.ErrorCode { return e.code }

func (e *appError) HTTPStatus() int { return e.httpStatus }

func (e *appError) Unwrap() error { return e.cause }

func (e *appError) WithCause(cause error) AppError {
	e.cause = cause
	return e
}

func (e *appError) WithMetadata(key string, value interface{}) AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *appError) Metadata() map[string]interface{} { return e.metadata }

// New creates a new AppError with the specified code, status and message.
func New(code constants.ErrorCode, httpStatus int, message string) AppError {
	return &appError{
		code:       code,
		httpStatus: httpStatus,
		message:    message,
	}
}

// ================================================================================
// Predefined Constructors
// ================================================================================

// ErrRateLimitExceeded creates a quota exhaustion rejection.
func ErrRateLimitExceeded(message string) AppError {
	return New(ErrCodeRateLimitExceeded, http.StatusTooManyRequests, message)
}

// ErrIdentityBlocked creates an abuse-escalation rejection.
func ErrIdentityBlocked(message string) AppError {
	return New(ErrCodeIdentityBlocked, http.StatusTooManyRequests, message)
}

// ErrStoreUnavailable creates a counter store failure error.
func ErrStoreUnavailable(message string) AppError {
	return New(ErrCodeStoreUnavailable, http.StatusServiceUnavailable, message)
}

// ErrInvalidConfig creates a configuration error. Configuration errors are
// rejected at load time, never silently defaulted.
func ErrInvalidConfig(message string) AppError {
	return New(ErrCodeInvalidConfig, http.StatusInternalServerError, message)
}

// ErrInvalidRequest creates a malformed input error.
func ErrInvalidRequest(message string) AppError {
	return New(ErrCodeInvalidRequest, http.StatusBadRequest, message)
}

// ErrNotFound creates a missing record error.
func ErrNotFound(message string) AppError {
	return New(ErrCodeNotFound, http.StatusNotFound, message)
}

// ErrInternal creates an unexpected internal error.
func ErrInternal(message string) AppError {
	return New(ErrCodeInternal, http.StatusInternalServerError, message)
}

// ================================================================================
// Classification Helpers
// ================================================================================

// CodeOf extracts the error code from an error chain. Unclassified errors
// report ErrCodeInternal.
func CodeOf(err error) constants.ErrorCode {
	var app AppError
	if stderrors.As(err, &app) {
		return app.Code()
	}
	return ErrCodeInternal
}

// IsRateLimited reports whether err represents ordinary quota exhaustion.
func IsRateLimited(err error) bool {
	return CodeOf(err) == ErrCodeRateLimitExceeded
}

// IsBlocked reports whether err represents an abuse-escalation block.
func IsBlocked(err error) bool {
	return CodeOf(err) == ErrCodeIdentityBlocked
}

// IsStoreUnavailable reports whether err represents counter store failure.
func IsStoreUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeStoreUnavailable
}
