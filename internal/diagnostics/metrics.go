package diagnostics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes pool/breaker/adapter gauges and counters over
// Prometheus, scoped to what the Adapter Set and Connection Pool
// already track in-process (internal/adapter.Router.ListProviders,
// internal/pool.Pool stats).
type Collector struct {
	providerCallsTotal   *prometheus.CounterVec
	providerFailureTotal *prometheus.CounterVec
	providerLatencyMs    *prometheus.GaugeVec
	circuitState         *prometheus.GaugeVec
	circuitTransitions   *prometheus.CounterVec

	poolInUse     *prometheus.GaugeVec
	poolIdle      *prometheus.GaugeVec
	poolWaiters   *prometheus.GaugeVec

	logger *zap.Logger
}

// circuitStateValue maps a CircuitBreaker state name to the numeric
// value Prometheus gauges require.
func circuitStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half_open", "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

// NewCollector registers the gateway's gauges/counters under namespace
// (e.g. "modelgateway") and returns a Collector ready to record.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{logger: logger.With(zap.String("component", "diagnostics"))}

	c.providerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_calls_total",
		Help:      "Total number of generate calls attempted per provider",
	}, []string{"provider"})

	c.providerFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_failures_total",
		Help:      "Total number of failed generate calls per provider",
	}, []string{"provider"})

	c.providerLatencyMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "provider_last_latency_ms",
		Help:      "Most recently observed latency in milliseconds per provider",
	}, []string{"provider"})

	c.circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_state",
		Help:      "Current circuit breaker state per provider (0=closed,1=half_open,2=open)",
	}, []string{"provider"})

	c.circuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_transitions_total",
		Help:      "Total number of circuit breaker state transitions per provider",
	}, []string{"provider", "from", "to"})

	c.poolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_connections_in_use",
		Help:      "Number of pooled connections currently checked out, by host",
	}, []string{"host"})

	c.poolIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_connections_idle",
		Help:      "Number of pooled connections currently idle, by host",
	}, []string{"host"})

	c.poolWaiters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_waiters",
		Help:      "Number of callers waiting on a connection slot, by host",
	}, []string{"host"})

	return c
}

// RecordProviderCall updates the call/failure counters and latency
// gauge for one completed generate call to provider (all retries included).
func (c *Collector) RecordProviderCall(provider string, failed bool, latency time.Duration) {
	c.providerCallsTotal.WithLabelValues(provider).Inc()
	if failed {
		c.providerFailureTotal.WithLabelValues(provider).Inc()
	}
	c.providerLatencyMs.WithLabelValues(provider).Set(float64(latency.Milliseconds()))
}

// RecordCircuitTransition updates the current-state gauge and the
// transition counter for provider.
func (c *Collector) RecordCircuitTransition(provider, from, to string) {
	c.circuitState.WithLabelValues(provider).Set(circuitStateValue(to))
	c.circuitTransitions.WithLabelValues(provider, from, to).Inc()
}

// RecordPoolOccupancy sets the current in-use/idle/waiter gauges for
// host, sampled periodically off internal/pool.Pool.
func (c *Collector) RecordPoolOccupancy(host string, inUse, idle, waiters int) {
	c.poolInUse.WithLabelValues(host).Set(float64(inUse))
	c.poolIdle.WithLabelValues(host).Set(float64(idle))
	c.poolWaiters.WithLabelValues(host).Set(float64(waiters))
}
