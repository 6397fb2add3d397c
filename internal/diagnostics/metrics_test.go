package diagnostics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordProviderCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestCollector(t, reg)

	c.RecordProviderCall("openai", false, 120*time.Millisecond)
	c.RecordProviderCall("openai", true, 80*time.Millisecond)

	if got := testutil.ToFloat64(c.providerCallsTotal.WithLabelValues("openai")); got != 2 {
		t.Fatalf("expected 2 calls recorded, got %v", got)
	}
	if got := testutil.ToFloat64(c.providerFailureTotal.WithLabelValues("openai")); got != 1 {
		t.Fatalf("expected 1 failure recorded, got %v", got)
	}
}

func TestCollector_RecordCircuitTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestCollector(t, reg)

	c.RecordCircuitTransition("anthropic", "closed", "open")
	if got := testutil.ToFloat64(c.circuitState.WithLabelValues("anthropic")); got != 2 {
		t.Fatalf("expected circuit state gauge 2 (open), got %v", got)
	}
}

func TestCollector_RecordPoolOccupancy(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestCollector(t, reg)

	c.RecordPoolOccupancy("api.openai.com", 3, 2, 1)
	if got := testutil.ToFloat64(c.poolInUse.WithLabelValues("api.openai.com")); got != 3 {
		t.Fatalf("expected in-use gauge 3, got %v", got)
	}
}

// newTestCollector builds a Collector against an isolated registry so
// repeated test runs don't collide on promauto's default registerer.
func newTestCollector(t *testing.T, reg *prometheus.Registry) *Collector {
	t.Helper()
	c := &Collector{}
	c.providerCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "provider_calls_total"}, []string{"provider"})
	c.providerFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "provider_failures_total"}, []string{"provider"})
	c.providerLatencyMs = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "provider_last_latency_ms"}, []string{"provider"})
	c.circuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "circuit_state"}, []string{"provider"})
	c.circuitTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "circuit_transitions_total"}, []string{"provider", "from", "to"})
	c.poolInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pool_connections_in_use"}, []string{"host"})
	c.poolIdle = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pool_connections_idle"}, []string{"host"})
	c.poolWaiters = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pool_waiters"}, []string{"host"})
	reg.MustRegister(c.providerCallsTotal, c.providerFailureTotal, c.providerLatencyMs, c.circuitState, c.circuitTransitions, c.poolInUse, c.poolIdle, c.poolWaiters)
	return c
}
