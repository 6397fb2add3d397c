package resilience

import (
	"testing"
	"time"
)

func cfg(threshold int, window, openTimeout time.Duration) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: threshold,
		TimeWindow:       window,
		SuccessThreshold: 1,
		OpenTimeout:      openTimeout,
	}
}

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(cfg(3, time.Second, 100*time.Millisecond))
	if cb.State() != CircuitClosed {
		t.Fatal("expected closed state by default")
	}
	if !cb.Allow() {
		t.Fatal("expected allow in closed state")
	}
}

func TestCircuitBreaker_OpensAfterThresholdWithinWindow(t *testing.T) {
	cb := NewCircuitBreaker(cfg(3, time.Second, 100*time.Millisecond))

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatal("should still be closed after 2 failures")
	}

	cb.RecordFailure() // 3rd failure within window
	if cb.State() != CircuitOpen {
		t.Fatal("should be open after 3 failures within the window")
	}
	if cb.Allow() {
		t.Fatal("should not allow when open")
	}
}

func TestCircuitBreaker_FailuresOutsideWindowDontCount(t *testing.T) {
	cb := NewCircuitBreaker(cfg(2, 20*time.Millisecond, time.Second))

	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond) // first failure ages out of the window
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Fatal("stale failure outside the rolling window should not count toward the threshold")
	}
}

func TestCircuitBreaker_SuccessResetsRollingWindow(t *testing.T) {
	cb := NewCircuitBreaker(cfg(3, time.Second, 100*time.Millisecond))

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess() // clears the window
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Fatal("should still be closed — success cleared the rolling window")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(cfg(2, time.Second, 10*time.Millisecond))

	cb.RecordFailure()
	cb.RecordFailure() // opens
	if cb.State() != CircuitOpen {
		t.Fatal("should be open")
	}

	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("should allow probe after open timeout")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatal("should be half-open after open timeout")
	}
}

func TestCircuitBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(cfg(2, time.Second, 10*time.Millisecond))

	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow() // transitions to half-open

	cb.RecordSuccess() // should close
	if cb.State() != CircuitClosed {
		t.Fatal("should be closed after success in half-open")
	}
}

func TestCircuitBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(cfg(2, time.Second, 10*time.Millisecond))

	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow() // transitions to half-open

	cb.RecordFailure() // should re-open
	if cb.State() != CircuitOpen {
		t.Fatal("should re-open after failure in half-open")
	}
}

func TestCircuitBreaker_MultiSuccessThreshold(t *testing.T) {
	c := cfg(2, time.Second, 10*time.Millisecond)
	c.SuccessThreshold = 2
	cb := NewCircuitBreaker(c)

	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow()

	cb.RecordSuccess()
	if cb.State() != CircuitHalfOpen {
		t.Fatal("should remain half-open until SuccessThreshold probes succeed")
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatal("should close once SuccessThreshold probes succeed")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(cfg(2, time.Second, 100*time.Millisecond))

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("should be open")
	}

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Fatal("should be closed after reset")
	}
	if !cb.Allow() {
		t.Fatal("should allow after reset")
	}
}

func TestCircuitBreaker_ForceState(t *testing.T) {
	cb := NewCircuitBreaker(cfg(2, time.Second, time.Hour))
	cb.ForceState(CircuitOpen)
	if cb.Allow() {
		t.Fatal("forced open circuit should reject immediately")
	}
	cb.ForceState(CircuitClosed)
	if !cb.Allow() {
		t.Fatal("forced closed circuit should allow")
	}
}

func TestCircuitBreaker_TransitionHookFiresOnStateChange(t *testing.T) {
	cb := NewCircuitBreaker(cfg(2, time.Second, 10*time.Millisecond))

	var transitions []string
	cb.SetTransitionHook(func(from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cb.RecordFailure()
	cb.RecordFailure() // closed -> open
	time.Sleep(20 * time.Millisecond)
	cb.Allow() // open -> half_open
	cb.RecordSuccess() // half_open -> closed

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, transitions)
		}
	}
}

func TestCircuitBreaker_StateStrings(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half_open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
