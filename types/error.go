package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the platform.
type ErrorCode string

// Validation error codes. Rejected synchronously, never retried.
const (
	ErrValidation             ErrorCode = "VALIDATION_ERROR"
	ErrUnsupportedContentType ErrorCode = "UNSUPPORTED_CONTENT_TYPE"
	ErrPermissionDenied       ErrorCode = "PERMISSION_DENIED"
)

// Transient error codes. Retried per the backoff policy until exhausted,
// then surfaced as DELIVERY_FAILED.
const (
	ErrTransient      ErrorCode = "TRANSIENT"
	ErrDeliveryFailed ErrorCode = "DELIVERY_FAILED"
)

// Resource-state error codes. The message names the conflicting state.
const (
	ErrInvalidState     ErrorCode = "INVALID_STATE"
	ErrAgentUnavailable ErrorCode = "AGENT_UNAVAILABLE"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrUndeliverable    ErrorCode = "UNDELIVERABLE"
)

// Systemic error codes. Surfaced immediately, retrying would not help.
const (
	ErrCircuitOpen    ErrorCode = "CIRCUIT_OPEN"
	ErrSessionExpired ErrorCode = "SESSION_EXPIRED"
)

// Expiry error codes.
const (
	ErrExpiredMessage ErrorCode = "EXPIRED_MESSAGE"
	ErrTaskTimeout    ErrorCode = "TASK_TIMEOUT"
)

// ErrInternal covers failures with no more specific classification.
const ErrInternal ErrorCode = "INTERNAL_ERROR"

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	AgentID   string    `json:"agent_id,omitempty"`
	Cause     error     `json:"-"`
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
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAgent records the agent the error relates to.
func (e *Error) WithAgent(agentID string) *Error {
	e.AgentID = agentID
	return e
}

// IsRetryable checks if an error, or any error it wraps, is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
