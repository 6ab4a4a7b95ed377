package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Generation error codes, produced by each backend adapter's
// classification step. The fallback chain only ever inspects these
// codes, never raw provider error text.
const (
	ErrQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	ErrTransient        ErrorCode = "TRANSIENT"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
// Quota, transient and timeout errors are retryable by default.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: code == ErrQuotaExceeded || code == ErrTransient || code == ErrTimeout,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable checks if an error may be retried within the same tier.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsQuota reports whether the error is a provider quota rejection.
func IsQuota(err error) bool {
	return GetErrorCode(err) == ErrQuotaExceeded
}

// IsTierFatal reports whether the error abandons the current tier
// without consuming further attempts (malformed request for that
// provider, or missing permission).
func IsTierFatal(err error) bool {
	code := GetErrorCode(err)
	return code == ErrPermissionDenied || code == ErrInvalidArgument
}
