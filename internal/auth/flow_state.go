package auth

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FlowState is a discrete stage of the Authorization Code + PKCE flow.
type FlowState string

const (
	FlowIdle            FlowState = "idle"
	FlowAwaitingCallback FlowState = "awaiting_callback"
	FlowExchanging      FlowState = "exchanging"
	FlowAuthenticated   FlowState = "authenticated"
	FlowFailed          FlowState = "failed"
)

var validFlowTransitions = map[FlowState]map[FlowState]bool{
	FlowIdle: {
		FlowAwaitingCallback: true,
	},
	FlowAwaitingCallback: {
		FlowExchanging: true,
		FlowFailed:     true,
	},
	FlowExchanging: {
		FlowAuthenticated: true,
		FlowFailed:        true,
	},
	// Terminal states — no transitions out.
	FlowAuthenticated: {},
	FlowFailed:         {},
}

// PendingAuth carries the state an AwaitingCallback flow needs to
// validate and complete its callback.
type PendingAuth struct {
	State           string
	Verifier        string
	ExpectedScopes  []string
	Provider        string
	StartedAt       time.Time
}

// FlowMachine drives a single OAuth flow instance through Idle →
// AwaitingCallback → Exchanging → Authenticated|Failed. One instance
// serves one in-flight login attempt.
type FlowMachine struct {
	mu      sync.RWMutex
	state   FlowState
	pending *PendingAuth
	failErr error
	logger  *zap.Logger
}

// NewFlowMachine creates a machine starting in Idle.
func NewFlowMachine(logger *zap.Logger) *FlowMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlowMachine{state: FlowIdle, logger: logger}
}

// State returns the current flow state.
func (m *FlowMachine) State() FlowState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Pending returns the in-flight PKCE/state parameters, if any.
func (m *FlowMachine) Pending() (PendingAuth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pending == nil {
		return PendingAuth{}, false
	}
	return *m.pending, true
}

// FailureReason returns the error recorded on transition into Failed.
func (m *FlowMachine) FailureReason() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failErr
}

func (m *FlowMachine) transition(to FlowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed, ok := validFlowTransitions[m.state]
	if !ok || !allowed[to] {
		return fmt.Errorf("invalid oauth flow transition: %s -> %s", m.state, to)
	}
	from := m.state
	m.state = to
	m.logger.Debug("oauth flow transition", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

// BeginAwaitingCallback moves Idle -> AwaitingCallback, recording the
// PKCE verifier and state the eventual callback must match.
func (m *FlowMachine) BeginAwaitingCallback(pending PendingAuth) error {
	if err := m.transition(FlowAwaitingCallback); err != nil {
		return err
	}
	m.mu.Lock()
	pending.StartedAt = time.Now()
	m.pending = &pending
	m.mu.Unlock()
	return nil
}

// BeginExchanging moves AwaitingCallback -> Exchanging.
func (m *FlowMachine) BeginExchanging() error {
	return m.transition(FlowExchanging)
}

// Succeed moves Exchanging -> Authenticated.
func (m *FlowMachine) Succeed() error {
	return m.transition(FlowAuthenticated)
}

// Fail moves the current state to Failed and records why. It is valid
// from both AwaitingCallback (e.g. state mismatch, timeout) and
// Exchanging (e.g. token endpoint rejected the code).
func (m *FlowMachine) Fail(cause error) error {
	if err := m.transition(FlowFailed); err != nil {
		return err
	}
	m.mu.Lock()
	m.failErr = cause
	m.mu.Unlock()
	return nil
}
