package diagnostics

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink combines the live Prometheus Collector with the persisted Store so
// a single value can be handed to internal/adapter.Router.SetDiagnostics
// and internal/pool.Pool: metrics update in-process immediately, and a
// row lands in the diagnostics database for post-hoc inspection.
type Sink struct {
	collector *Collector
	store     *Store
	logger    *zap.Logger

	mu     sync.Mutex
	totals map[string]*providerTotals
}

type providerTotals struct {
	calls    int64
	failures int64
}

// NewSink builds a combined sink. store may be nil to run metrics-only
// (e.g. in tests, or when persisted diagnostics are disabled).
func NewSink(collector *Collector, store *Store, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		collector: collector,
		store:     store,
		logger:    logger.With(zap.String("component", "diagnostics-sink")),
		totals:    make(map[string]*providerTotals),
	}
}

// RecordProviderCall implements adapter.DiagnosticsSink: updates the live
// gauge/counters and accumulates per-provider totals for the next
// latency-snapshot persistence.
func (s *Sink) RecordProviderCall(provider string, failed bool, latency time.Duration) {
	if s.collector != nil {
		s.collector.RecordProviderCall(provider, failed, latency)
	}

	s.mu.Lock()
	t, ok := s.totals[provider]
	if !ok {
		t = &providerTotals{}
		s.totals[provider] = t
	}
	t.calls++
	if failed {
		t.failures++
	}
	calls, failures := t.calls, t.failures
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	if err := s.store.RecordLatencySnapshot(provider, calls, failures, latency.Milliseconds(), ""); err != nil {
		s.logger.Warn("failed to persist latency snapshot", zap.String("provider", provider), zap.Error(err))
	}
}

// RecordCircuitTransition implements adapter.DiagnosticsSink: updates the
// live gauge/counter and persists the transition row.
func (s *Sink) RecordCircuitTransition(provider, from, to string) {
	if s.collector != nil {
		s.collector.RecordCircuitTransition(provider, from, to)
	}
	if s.store == nil {
		return
	}
	reason := "breaker threshold"
	if err := s.store.RecordCircuitTransition(provider, from, to, reason); err != nil {
		s.logger.Warn("failed to persist circuit transition", zap.String("provider", provider), zap.Error(err))
	}
}

// RecordPoolOccupancy updates the live gauges and persists a pool
// occupancy snapshot, wired from internal/pool.Pool's reaper tick.
func (s *Sink) RecordPoolOccupancy(host string, inUse, idle, waiters int) {
	if s.collector != nil {
		s.collector.RecordPoolOccupancy(host, inUse, idle, waiters)
	}
	if s.store == nil {
		return
	}
	if err := s.store.RecordPoolSnapshot(host, inUse, idle, waiters); err != nil {
		s.logger.Warn("failed to persist pool snapshot", zap.String("host", host), zap.Error(err))
	}
}
