package session

import (
	"strings"
	"sync"
	"time"
)

// FailureKind classifies a restoration failure by message heuristics.
type FailureKind string

const (
	FailureFileNotFound    FailureKind = "file-not-found"
	FailurePermissionDenied FailureKind = "permission-denied"
	FailureCorrupted       FailureKind = "corrupted"
	FailureUnknown         FailureKind = "unknown"
)

// classifyFailure maps an error's message to a FailureKind via
// substring heuristics, per spec.md §4.E.
func classifyFailure(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "enoent") || strings.Contains(msg, "not found"):
		return FailureFileNotFound
	case strings.Contains(msg, "eacces") || strings.Contains(msg, "permission"):
		return FailurePermissionDenied
	case strings.Contains(msg, "parse") || strings.Contains(msg, "corrupt") || strings.Contains(msg, "invalid"):
		return FailureCorrupted
	default:
		return FailureUnknown
	}
}

// FailureRecord tracks restoration failures for one session, driving
// the blacklist escalation ladder.
type FailureRecord struct {
	SessionID       string
	TotalFailures   int
	LastKind        FailureKind
	LastFailureAt   time.Time
	BlacklistedUntil time.Time
}

// RecoveryOption is one action the caller may offer the user once a
// session has exceeded its retry budget.
type RecoveryOption struct {
	Action      string // "Retry", "Skip", "SelectDifferent", "NewSession"
	Recommended bool
}

// RecoveryPolicy configures the escalation thresholds.
type RecoveryPolicy struct {
	MaxRetries          int
	BaseDelayMs         int64
	MaxDelayMs          int64
	BlacklistDurationMs int64
}

// DefaultRecoveryPolicy matches the values spec.md §8's concrete
// scenarios exercise.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{MaxRetries: 3, BaseDelayMs: 200, MaxDelayMs: 5000, BlacklistDurationMs: 30000}
}

// RecoveryTracker maintains FailureRecords for a set of sessions and
// answers the retry/skip/blacklist questions spec.md §4.E describes.
type RecoveryTracker struct {
	mu      sync.Mutex
	records map[string]*FailureRecord
	policy  RecoveryPolicy
	now     func() time.Time
}

// NewRecoveryTracker builds a tracker with policy.
func NewRecoveryTracker(policy RecoveryPolicy) *RecoveryTracker {
	return &RecoveryTracker{records: map[string]*FailureRecord{}, policy: policy, now: time.Now}
}

// RecordFailure classifies err and updates id's FailureRecord,
// blacklisting the session once TotalFailures reaches MaxRetries.
func (t *RecoveryTracker) RecordFailure(id string, err error) FailureRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		rec = &FailureRecord{SessionID: id}
		t.records[id] = rec
	}
	rec.TotalFailures++
	rec.LastKind = classifyFailure(err)
	rec.LastFailureAt = t.now()
	if rec.TotalFailures >= t.policy.MaxRetries {
		rec.BlacklistedUntil = t.now().Add(time.Duration(t.policy.BlacklistDurationMs) * time.Millisecond)
	}
	return *rec
}

// ShouldSkipSession reports whether id is currently within its
// blacklist window. The record is implicitly de-blacklisted once the
// window has passed — this just checks the timestamp, it never needs
// an explicit expiry sweep.
func (t *RecoveryTracker) ShouldSkipSession(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return false
	}
	return t.now().Before(rec.BlacklistedUntil)
}

// IsProblematic is an alias for ShouldSkipSession matching spec.md
// §8's scenario naming.
func (t *RecoveryTracker) IsProblematic(id string) bool {
	return t.ShouldSkipSession(id)
}

// RetryDelayMs returns the next backoff delay for id, or -1 once past
// MaxRetries.
func (t *RecoveryTracker) RetryDelayMs(id string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return t.policy.BaseDelayMs
	}
	if rec.TotalFailures >= t.policy.MaxRetries {
		return -1
	}
	delay := t.policy.BaseDelayMs << uint(rec.TotalFailures)
	if delay > t.policy.MaxDelayMs {
		delay = t.policy.MaxDelayMs
	}
	return delay
}

// RecoveryOptions returns the recovery menu for id, with Recommended
// flags escalating as TotalFailures grows: <=2 recommends Retry, >=3
// recommends NewSession, >=5 recommends Skip. NewSession is always
// present and deterministic.
func (t *RecoveryTracker) RecoveryOptions(id string) []RecoveryOption {
	t.mu.Lock()
	total := 0
	if rec, ok := t.records[id]; ok {
		total = rec.TotalFailures
	}
	t.mu.Unlock()

	options := []RecoveryOption{
		{Action: "Retry", Recommended: total <= 2},
		{Action: "Skip", Recommended: total >= 5},
		{Action: "SelectDifferent"},
		{Action: "NewSession", Recommended: total >= 3},
	}
	return options
}

// Record returns a copy of id's FailureRecord, if any.
func (t *RecoveryTracker) Record(id string) (FailureRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return FailureRecord{}, false
	}
	return *rec, true
}
