// Package errors defines the canonical error taxonomy shared by every
// component of the model gateway core. Errors are values: every public
// operation returns either a success value or an *AppError carrying a
// code, a component/provider tag, and retry metadata.
package errors

import (
	"errors"
	"fmt"
)

// Code is the canonical error code emitted by the gateway core.
type Code string

const (
	CodeAuthFailed             Code = "AUTH_FAILED"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeContextLengthExceeded  Code = "CONTEXT_LENGTH_EXCEEDED"
	CodeInsufficientCredits    Code = "INSUFFICIENT_CREDITS"
	CodeNetworkError           Code = "NETWORK_ERROR"
	CodeTimeout                Code = "TIMEOUT"
	CodeAPIError               Code = "API_ERROR"
	CodeCircuitOpen            Code = "CIRCUIT_OPEN"
	CodeCancelled              Code = "CANCELLED"
	CodePoolDestroyed          Code = "POOL_DESTROYED"
	CodeNoCredential           Code = "NO_CREDENTIAL"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInternal               Code = "INTERNAL_ERROR"
)

// Severity classifies how urgently an error needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RecoveryStrategy is the recommended caller response to an error.
type RecoveryStrategy string

const (
	RecoveryRetry    RecoveryStrategy = "retry"
	RecoveryFallback RecoveryStrategy = "fallback"
	RecoveryTruncate RecoveryStrategy = "truncate"
	RecoveryAbort    RecoveryStrategy = "abort"
)

// AppError is the structured error value every public operation returns.
type AppError struct {
	Code             Code
	Message          string
	Provider         string // provider or component tag, e.g. "openai", "session-store"
	Err              error
	Retryable        bool
	Severity         Severity
	RecoveryStrategy RecoveryStrategy
	RetryAfterMs     int64 // explicit provider-specified retry delay, 0 if absent
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Provider, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Provider, e.Code, e.Message)
}

// Unwrap enables errors.Is/errors.As on the cause chain.
func (e *AppError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether this error should be retried.
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// New constructs an AppError with explicit metadata.
func New(code Code, provider, message string, cause error) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Provider: provider,
		Err:      cause,
	}
}

// NewNotFound is a convenience constructor for the common not-found case.
func NewNotFound(component, message string) *AppError {
	return &AppError{Code: CodeNotFound, Provider: component, Message: message}
}

// NewInternal is a convenience constructor for internal/programmer errors.
func NewInternal(component, message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Provider: component, Message: message, Err: cause, Severity: SeverityCritical}
}

// As reports whether err (or an error in its chain) is an *AppError, and
// returns it if so.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an *AppError with the given code.
func HasCode(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
