// Package resilience implements the error taxonomy, retry executor, and
// per-provider circuit breaker that shield callers from heterogeneous LLM
// backend failure modes.
package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject calls fast
	CircuitHalfOpen                     // Probing for recovery
)

// String returns a human-readable label for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the rolling-window failure detector.
type CircuitBreakerConfig struct {
	FailureThreshold int           // failures within TimeWindow to trip the circuit
	TimeWindow       time.Duration // rolling window over which failures are counted
	SuccessThreshold int           // consecutive half-open successes required to close
	OpenTimeout      time.Duration // how long Open lasts before a probe is allowed
}

// DefaultCircuitBreakerConfig matches the teacher's historical defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		TimeWindow:       60 * time.Second,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker implements a per-provider circuit breaker.
//
// Closed: failures are counted in a rolling window; reaching
// FailureThreshold within TimeWindow opens the circuit.
// Open: requests fail fast with CircuitOpen until OpenTimeout elapses,
// at which point the next Allow() call transitions to HalfOpen. Every
// Allow() call while HalfOpen admits its request as a probe.
// HalfOpen: a success advances the probe counter toward SuccessThreshold
// (which closes the circuit); any failure immediately reopens it.
type CircuitBreaker struct {
	mu         sync.RWMutex
	state      CircuitState
	cfg        CircuitBreakerConfig
	failures   []time.Time // timestamps within the rolling window
	probeCount int         // successes observed while half-open
	openedAt   time.Time
	onTransition func(from, to CircuitState)
}

// SetTransitionHook registers fn to be called (outside the internal lock)
// whenever the breaker changes state, so a caller can mirror transitions
// into external telemetry (internal/diagnostics) without the breaker
// itself depending on that package.
func (cb *CircuitBreaker) SetTransitionHook(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	cb.onTransition = fn
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if from == to {
		return
	}
	cb.mu.RLock()
	fn := cb.onTransition
	cb.mu.RUnlock()
	if fn != nil {
		fn(from, to)
	}
}

// NewCircuitBreaker creates a circuit breaker with the given config,
// filling in defaults for zero-valued fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = def.TimeWindow
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	return &CircuitBreaker{state: CircuitClosed, cfg: cfg}
}

// Allow reports whether a request should be let through. It performs the
// Open→HalfOpen transition as a side effect once OpenTimeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()

	switch cb.state {
	case CircuitClosed:
		cb.mu.Unlock()
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) >= cb.cfg.OpenTimeout {
			cb.state = CircuitHalfOpen
			cb.probeCount = 0
			cb.mu.Unlock()
			cb.notify(CircuitOpen, CircuitHalfOpen)
			return true
		}
		cb.mu.Unlock()
		return false
	case CircuitHalfOpen:
		cb.mu.Unlock()
		return true
	}
	cb.mu.Unlock()
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()

	cb.failures = nil
	closed := false
	if cb.state == CircuitHalfOpen {
		cb.probeCount++
		if cb.probeCount >= cb.cfg.SuccessThreshold {
			cb.transitionToClosed()
			closed = true
		}
	}
	cb.mu.Unlock()
	if closed {
		cb.notify(CircuitHalfOpen, CircuitClosed)
	}
}

// RecordFailure records a failed call, trimming the rolling window and
// tripping the breaker if the threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()

	now := time.Now()

	if cb.state == CircuitHalfOpen {
		cb.openedAt = now
		cb.state = CircuitOpen
		cb.failures = nil
		cb.mu.Unlock()
		cb.notify(CircuitHalfOpen, CircuitOpen)
		return
	}

	cb.failures = append(cb.failures, now)
	cb.failures = pruneOlderThan(cb.failures, now.Add(-cb.cfg.TimeWindow))

	tripped := false
	if len(cb.failures) >= cb.cfg.FailureThreshold {
		cb.openedAt = now
		cb.state = CircuitOpen
		tripped = true
	}
	cb.mu.Unlock()
	if tripped {
		cb.notify(CircuitClosed, CircuitOpen)
	}
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.state = CircuitClosed
	cb.failures = nil
	cb.probeCount = 0
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the circuit back to Closed, for tests and operator control.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionToClosed()
}

// ForceState forces a specific state, for tests and operator control.
func (cb *CircuitBreaker) ForceState(s CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = s
	cb.failures = nil
	cb.probeCount = 0
	if s == CircuitOpen {
		cb.openedAt = time.Now()
	}
}
