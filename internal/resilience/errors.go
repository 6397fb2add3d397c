package resilience

import (
	"strings"

	gwerrors "github.com/modelgateway/core/pkg/errors"
)

// providerRule is one row of the per-provider error mapping table.
// Patterns are matched case-insensitively against the lowercased error
// string (and, when available, the HTTP status code).
type providerRule struct {
	statusCodes []int
	substrings  []string
	code        gwerrors.Code
	retryable   bool
	severity    gwerrors.Severity
	strategy    gwerrors.RecoveryStrategy
}

// defaultTable is the single error-classification table shared by every
// provider; the provider argument to ClassifyError is carried onto the
// resulting AppError but does not select a different table. Unknown
// errors fall through to API_ERROR, non-retryable, medium severity,
// fallback strategy.
var defaultTable = []providerRule{
	{statusCodes: []int{401, 403}, substrings: []string{"unauthorized", "invalid api key", "authentication", "permission denied"},
		code: gwerrors.CodeAuthFailed, retryable: false, severity: gwerrors.SeverityHigh, strategy: gwerrors.RecoveryFallback},
	{statusCodes: []int{429}, substrings: []string{"rate limit", "too many requests"},
		code: gwerrors.CodeRateLimited, retryable: true, severity: gwerrors.SeverityMedium, strategy: gwerrors.RecoveryRetry},
	{substrings: []string{"context length", "maximum context", "too many tokens", "context_length_exceeded"},
		code: gwerrors.CodeContextLengthExceeded, retryable: false, severity: gwerrors.SeverityMedium, strategy: gwerrors.RecoveryTruncate},
	{substrings: []string{"insufficient_quota", "insufficient credits", "billing", "quota exceeded"},
		code: gwerrors.CodeInsufficientCredits, retryable: false, severity: gwerrors.SeverityHigh, strategy: gwerrors.RecoveryFallback},
	{statusCodes: []int{400, 422}, substrings: []string{"invalid_request", "bad request", "invalid argument", "model not found"},
		code: gwerrors.CodeInvalidRequest, retryable: false, severity: gwerrors.SeverityMedium, strategy: gwerrors.RecoveryAbort},
	{substrings: []string{"context deadline exceeded", "i/o timeout", "client.timeout"},
		code: gwerrors.CodeTimeout, retryable: true, severity: gwerrors.SeverityMedium, strategy: gwerrors.RecoveryRetry},
	{substrings: []string{"context canceled", "context.canceled", "operation was canceled"},
		code: gwerrors.CodeCancelled, retryable: false, severity: gwerrors.SeverityLow, strategy: gwerrors.RecoveryAbort},
	{statusCodes: []int{502, 503, 504}, substrings: []string{"connection reset", "connection refused", "no such host", "eof", "broken pipe"},
		code: gwerrors.CodeNetworkError, retryable: true, severity: gwerrors.SeverityMedium, strategy: gwerrors.RecoveryRetry},
}

// ClassifyError maps a raw error (typically an HTTP status + body, or a
// transport-level Go error) from provider to the canonical taxonomy in
// spec.md §4.B. statusCode is 0 when not applicable (e.g. a dial error).
// Unknown errors fall through to API_ERROR / non-retryable / medium /
// fallback, per spec.
func ClassifyError(provider string, statusCode int, err error) *gwerrors.AppError {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())

	for _, rule := range defaultTable {
		if matches(rule, statusCode, msg) {
			return &gwerrors.AppError{
				Code:             rule.code,
				Message:          err.Error(),
				Provider:         provider,
				Err:              err,
				Retryable:        rule.retryable,
				Severity:         rule.severity,
				RecoveryStrategy: rule.strategy,
			}
		}
	}

	return &gwerrors.AppError{
		Code:             gwerrors.CodeAPIError,
		Message:          err.Error(),
		Provider:         provider,
		Err:              err,
		Retryable:        false,
		Severity:         gwerrors.SeverityMedium,
		RecoveryStrategy: gwerrors.RecoveryFallback,
	}
}

func matches(rule providerRule, statusCode int, lowerMsg string) bool {
	for _, sc := range rule.statusCodes {
		if sc == statusCode {
			return true
		}
	}
	for _, s := range rule.substrings {
		if strings.Contains(lowerMsg, s) {
			return true
		}
	}
	return false
}
