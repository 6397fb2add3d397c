package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelgateway/core/internal/resilience"
	gwerrors "github.com/modelgateway/core/pkg/errors"

	"go.uber.org/zap"
)

// DiagnosticsSink receives provider-call outcomes and circuit transitions
// from the Router. internal/diagnostics.Collector and internal/diagnostics.Sink
// both satisfy it; the Router stays unaware of Prometheus or gorm.
type DiagnosticsSink interface {
	RecordProviderCall(provider string, failed bool, latency time.Duration)
	RecordCircuitTransition(provider, from, to string)
}

// Router implements Provider by routing to the best available configured
// provider: per-provider latency tracking, a resilience.CircuitBreaker
// per provider, and ordered failover.
type Router struct {
	providers  []Provider
	stats      map[string]*providerStats
	breakers   map[string]*resilience.CircuitBreaker
	retryCfg   resilience.RetryConfig
	breakerCfg resilience.CircuitBreakerConfig
	mu         sync.RWMutex
	logger     *zap.Logger
	diag       DiagnosticsSink
}

// SetRetryConfig overrides the backoff tunables used for every provider
// call made after this point. Safe to call concurrently with Generate/
// GenerateStream; takes effect on their next provider call, while a call
// already retrying keeps the config it started with.
func (r *Router) SetRetryConfig(cfg resilience.RetryConfig) {
	r.mu.Lock()
	r.retryCfg = cfg
	r.mu.Unlock()
}

// SetBreakerConfig overrides the circuit-breaker tunables used for every
// provider added after this call via AddProvider. Providers already
// added keep the breaker they were created with.
func (r *Router) SetBreakerConfig(cfg resilience.CircuitBreakerConfig) {
	r.mu.Lock()
	r.breakerCfg = cfg
	r.mu.Unlock()
}

func (r *Router) retryConfig() resilience.RetryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.retryCfg
}

// SetDiagnostics wires sink into the router: every future AddProvider call
// attaches a circuit-breaker transition hook reporting to it, and every
// Generate/GenerateStream outcome reports call latency/failure to it.
// Providers already added before this call also get the hook attached.
func (r *Router) SetDiagnostics(sink DiagnosticsSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diag = sink
	for name, cb := range r.breakers {
		r.attachTransitionHookLocked(name, cb)
	}
}

func (r *Router) attachTransitionHookLocked(name string, cb *resilience.CircuitBreaker) {
	cb.SetTransitionHook(func(from, to resilience.CircuitState) {
		r.mu.RLock()
		sink := r.diag
		r.mu.RUnlock()
		if sink != nil {
			sink.RecordCircuitTransition(name, from.String(), to.String())
		}
	})
}

type providerStats struct {
	TotalCalls   int64
	FailureCount int64
	LastLatency  time.Duration
}

// NewRouter creates an empty router; providers are added with AddProvider
// in priority order.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		stats:      make(map[string]*providerStats),
		breakers:   make(map[string]*resilience.CircuitBreaker),
		retryCfg:   resilience.DefaultRetryConfig(),
		breakerCfg: resilience.DefaultCircuitBreakerConfig(),
		logger:     logger.With(zap.String("component", "adapter-router")),
	}
}

// AddProvider adds a provider to the router. Providers are tried in
// insertion (priority) order.
func (r *Router) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.stats[p.Name()] = &providerStats{}
	cb := resilience.NewCircuitBreaker(r.breakerCfg)
	r.breakers[p.Name()] = cb
	r.attachTransitionHookLocked(p.Name(), cb)
	r.logger.Info("provider added", zap.String("name", p.Name()), zap.Strings("models", p.Models()))
}

func (r *Router) snapshot() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]Provider, len(r.providers))
	copy(providers, r.providers)
	return providers
}

// recordOutcome updates per-provider stats and diagnostics for one
// Generate/GenerateStream call. Circuit-breaker state is updated per
// attempt by the resilience.Executor that wraps the call, not here.
func (r *Router) recordOutcome(name string, latency time.Duration, err error) {
	r.mu.Lock()
	if s, ok := r.stats[name]; ok {
		s.TotalCalls++
		s.LastLatency = latency
		if err != nil {
			s.FailureCount++
		}
	}
	sink := r.diag
	r.mu.Unlock()

	if sink != nil {
		sink.RecordProviderCall(name, err != nil, latency)
	}
}

func (r *Router) breakerFor(name string) *resilience.CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Generate routes to the first available provider that supports
// req.Model, wrapping each provider's call in a resilience.Executor
// (retry with backoff, bound to that provider's circuit breaker) and
// failing over to the next provider only once the executor gives up.
func (r *Router) Generate(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error

	for _, p := range r.snapshot() {
		if !p.SupportsModel(req.Model) || !p.IsAvailable(ctx) {
			continue
		}

		executor := resilience.NewExecutor(r.retryConfig(), r.breakerFor(p.Name()), r.logger)
		start := time.Now()
		result, err := executor.Do(ctx, func(ctx context.Context, attempt int) (any, error) {
			return p.Generate(ctx, req)
		})
		latency := time.Since(start)
		r.recordOutcome(p.Name(), latency, err)

		if err != nil {
			lastErr = err
			r.logFailover(p.Name(), "provider failed after retries, trying next", latency, err)
			continue
		}

		resp := result.(*Response)
		r.logger.Debug("provider succeeded",
			zap.String("provider", p.Name()), zap.Duration("latency", latency), zap.Int("tokens", resp.TokensUsed))
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
	}
	return nil, fmt.Errorf("no provider available for model %q", req.Model)
}

// GenerateStream routes to the first available streaming-capable
// provider, with the same retry-then-failover discipline as Generate.
func (r *Router) GenerateStream(ctx context.Context, req *Request, deltaCh chan<- StreamChunk) (*Response, error) {
	var lastErr error

	for _, p := range r.snapshot() {
		if !p.SupportsModel(req.Model) || !p.IsAvailable(ctx) {
			continue
		}

		executor := resilience.NewExecutor(r.retryConfig(), r.breakerFor(p.Name()), r.logger)
		start := time.Now()
		result, err := executor.Do(ctx, func(ctx context.Context, attempt int) (any, error) {
			return p.GenerateStream(ctx, req, deltaCh)
		})
		latency := time.Since(start)
		r.recordOutcome(p.Name(), latency, err)

		if err != nil {
			lastErr = err
			r.logFailover(p.Name(), "streaming provider failed after retries, trying next", latency, err)
			continue
		}
		return result.(*Response), nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all streaming providers failed, last error: %w", lastErr)
	}
	return nil, fmt.Errorf("no streaming provider available for model %q", req.Model)
}

// logFailover logs a provider's final (post-retry) failure at Debug for
// an open circuit (routine, expected under sustained failure) and at
// Warn otherwise.
func (r *Router) logFailover(name, msg string, latency time.Duration, err error) {
	if appErr, ok := gwerrors.As(err); ok && appErr.Code == gwerrors.CodeCircuitOpen {
		r.logger.Debug("provider circuit open, skipping", zap.String("provider", name))
		return
	}
	r.logger.Warn(msg, zap.String("provider", name), zap.Duration("latency", latency), zap.Error(err))
}

// Name identifies the router itself as a meta-provider, so a Router can
// be nested inside another Router if ever needed.
func (r *Router) Name() string { return "router" }

// Models returns the union of all registered providers' models.
func (r *Router) Models() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range r.snapshot() {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// SupportsModel reports whether any registered provider supports model.
func (r *Router) SupportsModel(model string) bool {
	for _, p := range r.snapshot() {
		if p.SupportsModel(model) {
			return true
		}
	}
	return false
}

// IsAvailable reports whether at least one registered provider is available.
func (r *Router) IsAvailable(ctx context.Context) bool {
	for _, p := range r.snapshot() {
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// ContextLimit returns the limit of the first provider supporting model.
func (r *Router) ContextLimit(model string) int {
	for _, p := range r.snapshot() {
		if p.SupportsModel(model) {
			return p.ContextLimit(model)
		}
	}
	return 0
}

// SupportsToolCalling reports whether any registered provider supports tools.
func (r *Router) SupportsToolCalling() bool {
	for _, p := range r.snapshot() {
		if p.SupportsToolCalling() {
			return true
		}
	}
	return false
}

// ValidateConfig validates every registered provider's configuration.
func (r *Router) ValidateConfig() error {
	for _, p := range r.snapshot() {
		if err := p.ValidateConfig(); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

// CountTokens delegates to the first provider supporting req.Model.
func (r *Router) CountTokens(req *Request) (int, error) {
	for _, p := range r.snapshot() {
		if p.SupportsModel(req.Model) {
			return p.CountTokens(req)
		}
	}
	return 0, fmt.Errorf("no provider available for model %q", req.Model)
}

var _ Provider = (*Router)(nil)

// ListProviders returns names, status, and performance stats of all
// registered providers, for the `gatewayctl providers status` CLI
// command and internal/diagnostics persistence.
func (r *Router) ListProviders(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		ps := ProviderStatus{
			Name:      p.Name(),
			Models:    p.Models(),
			Available: p.IsAvailable(ctx),
		}
		if s, ok := r.stats[p.Name()]; ok {
			ps.TotalCalls = s.TotalCalls
			ps.FailureCount = s.FailureCount
			ps.LastLatencyMs = float64(s.LastLatency) / float64(time.Millisecond)
		}
		if cb, ok := r.breakers[p.Name()]; ok {
			ps.CircuitState = cb.State().String()
		}
		result = append(result, ps)
	}
	return result
}

// ProviderStatus describes a provider's current state and performance.
type ProviderStatus struct {
	Name          string   `json:"name"`
	Models        []string `json:"models"`
	Available     bool     `json:"available"`
	TotalCalls    int64    `json:"total_calls"`
	FailureCount  int64    `json:"failure_count"`
	LastLatencyMs float64  `json:"last_latency_ms"`
	CircuitState  string   `json:"circuit_state"`
}
