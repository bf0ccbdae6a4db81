package stockagent

import (
	"errors"
	"fmt"
)

// ErrorCode defines error classification codes for structured error handling.
type ErrorCode string

// Error codes for different error categories.
const (
	ErrCodeConfig            ErrorCode = "CONFIG_ERROR"       // missing credential or invalid setup; never retried
	ErrCodeAuth              ErrorCode = "AUTH_ERROR"         // credential rejected (HTTP 401); never retried
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"       // HTTP 429; retried with backoff
	ErrCodeTimeout           ErrorCode = "TIMEOUT"            // network timeout; retried with backoff
	ErrCodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE" // well-formed HTTP response lacking expected structure
	ErrCodeUpstreamData      ErrorCode = "UPSTREAM_DATA_ERROR"
	ErrCodeUpstream          ErrorCode = "UPSTREAM_ERROR" // transport-level failure; retried with backoff
	ErrCodeHTTP              ErrorCode = "HTTP_ERROR"     // unexpected upstream HTTP status; never retried
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeDatabase          ErrorCode = "DATABASE_ERROR"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with classification code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with classification code and additional context.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsErrorCode checks if an error matches a specific error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the classification code of err, or ErrCodeInternal for
// unclassified errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
