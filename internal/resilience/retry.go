package resilience

import (
	"context"
	"fmt"
	"time"

	gwerrors "github.com/modelgateway/core/pkg/errors"
	"go.uber.org/zap"
)

// RetryConfig tunes the exponential-backoff retry executor.
type RetryConfig struct {
	MaxRetries int           // additional attempts after the first, so total = MaxRetries+1
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig matches the teacher's historical defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

// Operation is a unit of work the retry executor attempts repeatedly. It
// returns a result and an error; errors are expected to be (or wrap) an
// *gwerrors.AppError so the executor can consult Retryable/RetryAfterMs.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Executor wraps an Operation with retry, backoff, and a circuit breaker.
type Executor struct {
	cfg     RetryConfig
	breaker *CircuitBreaker
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error // overridable for tests
}

// NewExecutor creates a retry executor bound to a single provider's
// circuit breaker.
func NewExecutor(cfg RetryConfig, breaker *CircuitBreaker, logger *zap.Logger) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	return &Executor{cfg: cfg, breaker: breaker, logger: logger, sleep: ctxSleep}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op, retrying on retryable errors with exponential backoff
// (min(MaxDelay, BaseDelay*2^(attempt-1)), or the error's RetryAfterMs
// when present) up to MaxRetries additional times. It fails fast with
// CIRCUIT_OPEN without invoking op if the breaker rejects the call.
func (e *Executor) Do(ctx context.Context, op Operation[any]) (any, error) {
	if e.breaker != nil && !e.breaker.Allow() {
		return nil, &gwerrors.AppError{
			Code:             gwerrors.CodeCircuitOpen,
			Message:          "circuit breaker is open",
			Retryable:        false,
			Severity:         gwerrors.SeverityHigh,
			RecoveryStrategy: gwerrors.RecoveryFallback,
		}
	}

	var lastErr error
	totalAttempts := e.cfg.MaxRetries + 1

	for attempt := 1; attempt <= totalAttempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			if e.breaker != nil {
				e.breaker.RecordSuccess()
			}
			return result, nil
		}

		lastErr = err

		appErr, _ := gwerrors.As(err)
		retryable := appErr == nil || appErr.Retryable

		if e.breaker != nil {
			e.breaker.RecordFailure()
		}

		if !retryable || attempt == totalAttempts {
			break
		}

		delay := backoffDelay(e.cfg.BaseDelay, e.cfg.MaxDelay, attempt)
		if appErr != nil && appErr.RetryAfterMs > 0 {
			delay = time.Duration(appErr.RetryAfterMs) * time.Millisecond
		}

		if e.logger != nil {
			e.logger.Debug("retrying after error",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return nil, fmt.Errorf("retry cancelled after attempt %d: %w", attempt, sleepErr)
		}
	}

	return nil, fmt.Errorf("operation failed after %d attempt(s): %w", totalAttempts, lastErr)
}

// backoffDelay computes min(maxDelay, baseDelay*2^(attempt-1)).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
