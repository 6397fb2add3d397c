// Package pool implements the host-scoped HTTP connection pool shared by
// every provider adapter: acquire/release/close/destroy over a bounded
// number of per-host and total outbound connections, with a FIFO waiter
// queue and a background idle reaper.
package pool

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	gwerrors "github.com/modelgateway/core/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes pool capacity and lifecycle.
type Config struct {
	MaxPerHost       int
	MaxTotal         int
	KeepAliveTimeout time.Duration // idle connections older than this are reaped
	AcquireTimeout   time.Duration // 0 means wait indefinitely (bounded by ctx)
	ReaperInterval   time.Duration
}

// DefaultConfig mirrors the transport tuning the teacher hard-coded into
// each provider's http.Transport, now centralized in one pool.
func DefaultConfig() Config {
	return Config{
		MaxPerHost:       5,
		MaxTotal:         50,
		KeepAliveTimeout: 90 * time.Second,
		AcquireTimeout:   30 * time.Second,
		ReaperInterval:   30 * time.Second,
	}
}

// Connection is a pooled outbound HTTP client scoped to one host origin.
type Connection struct {
	ID           string
	Host         string
	CreatedAt    time.Time
	LastUsedAt   time.Time
	RequestCount int64
	Active       bool
	Client       *http.Client
}

// DiagnosticsSink receives periodic per-host occupancy samples.
// internal/diagnostics.Sink satisfies this without the pool package
// depending on Prometheus or gorm.
type DiagnosticsSink interface {
	RecordPoolOccupancy(host string, inUse, idle, waiters int)
}

// Stats is the snapshot returned by GetStats.
type Stats struct {
	ActiveConnections int
	IdleConnections   int
	PendingRequests   int
	ConnectionsByHost map[string]int
	TotalRequests     int64
	ConnectionReuses  int64
}

type waitResult struct {
	conn *Connection
	err  error
}

type waiter struct {
	ch chan waitResult
}

// Pool is a per-process, host-indexed connection pool.
type Pool struct {
	mu               sync.Mutex
	cfg              Config
	logger           *zap.Logger
	idle             map[string][]*Connection
	activeByHost     map[string]int
	activeTotal      int
	waiters          map[string][]*waiter
	totalRequests    int64
	connectionReuses int64
	destroyed        bool
	stopReaper       context.CancelFunc
	reaperDone       chan struct{}
	diag             DiagnosticsSink
}

// SetDiagnostics wires sink into the pool: every reaper tick will report
// a per-host occupancy snapshot to it after sweeping idle connections.
func (p *Pool) SetDiagnostics(sink DiagnosticsSink) {
	p.mu.Lock()
	p.diag = sink
	p.mu.Unlock()
}

// New creates a pool and starts its background reaper.
func New(cfg Config, logger *zap.Logger) *Pool {
	def := DefaultConfig()
	if cfg.MaxPerHost <= 0 {
		cfg.MaxPerHost = def.MaxPerHost
	}
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = def.MaxTotal
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = def.KeepAliveTimeout
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = def.ReaperInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "pool")),
		idle:         make(map[string][]*Connection),
		activeByHost: make(map[string]int),
		waiters:      make(map[string][]*waiter),
		reaperDone:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.stopReaper = cancel
	go p.runReaper(ctx)

	return p
}

// hostOf extracts the scheme+host origin from rawURL. An unparsable or
// host-less URL is pooled under its raw string per spec: the caller still
// sees a uniform error once the request itself fires against that value.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

// Acquire returns a connection for rawURL's host, reusing an idle one,
// creating a new one under capacity, or waiting in FIFO order for the
// host otherwise. It blocks until a slot frees, ctx is cancelled, or
// AcquireTimeout elapses.
func (p *Pool) Acquire(ctx context.Context, rawURL string) (*Connection, error) {
	host := hostOf(rawURL)

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, poolDestroyedErr()
	}
	p.totalRequests++

	if list := p.idle[host]; len(list) > 0 {
		conn := list[len(list)-1]
		p.idle[host] = list[:len(list)-1]
		conn.Active = true
		conn.LastUsedAt = time.Now()
		conn.RequestCount++
		p.activeByHost[host]++
		p.activeTotal++
		p.connectionReuses++
		p.mu.Unlock()
		return conn, nil
	}

	if p.activeByHost[host] < p.cfg.MaxPerHost && p.activeTotal < p.cfg.MaxTotal {
		conn := p.newConnection(host)
		p.activeByHost[host]++
		p.activeTotal++
		p.mu.Unlock()
		return conn, nil
	}

	w := &waiter{ch: make(chan waitResult, 1)}
	p.waiters[host] = append(p.waiters[host], w)
	p.mu.Unlock()

	waitCtx := ctx
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	select {
	case res := <-w.ch:
		return res.conn, res.err
	case <-waitCtx.Done():
		select {
		case res := <-w.ch:
			// release raced with the timeout; honor the delivered result.
			return res.conn, res.err
		default:
		}
		p.removeWaiter(host, w)
		if ctx.Err() != nil {
			return nil, &gwerrors.AppError{
				Code: gwerrors.CodeCancelled, Provider: "pool",
				Message: "acquire cancelled while waiting for a connection slot", Retryable: false,
			}
		}
		return nil, &gwerrors.AppError{
			Code: gwerrors.CodeTimeout, Provider: "pool",
			Message: "timed out waiting for a connection slot", Retryable: true,
			Severity: gwerrors.SeverityMedium, RecoveryStrategy: gwerrors.RecoveryRetry,
		}
	}
}

func (p *Pool) removeWaiter(host string, target *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.waiters[host]
	for i, w := range list {
		if w == target {
			p.waiters[host] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.waiters[host]) == 0 {
		delete(p.waiters, host)
	}
}

// Release returns conn to the pool: it's handed directly to the oldest
// waiter for its host if one is queued, otherwise it joins the idle set.
func (p *Pool) Release(conn *Connection) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	host := conn.Host

	if list := p.waiters[host]; len(list) > 0 {
		w := list[0]
		p.waiters[host] = list[1:]
		if len(p.waiters[host]) == 0 {
			delete(p.waiters, host)
		}
		conn.LastUsedAt = time.Now()
		conn.RequestCount++
		conn.Active = true
		p.connectionReuses++
		p.mu.Unlock()
		w.ch <- waitResult{conn: conn}
		return
	}

	conn.Active = false
	conn.LastUsedAt = time.Now()
	p.activeByHost[host]--
	if p.activeByHost[host] <= 0 {
		delete(p.activeByHost, host)
	}
	p.activeTotal--
	p.idle[host] = append(p.idle[host], conn)
	p.mu.Unlock()
}

// Close drops conn from the pool entirely, freeing its capacity slot
// without returning it to the idle set.
func (p *Pool) Close(conn *Connection) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn.Active {
		conn.Active = false
		p.activeByHost[conn.Host]--
		if p.activeByHost[conn.Host] <= 0 {
			delete(p.activeByHost, conn.Host)
		}
		p.activeTotal--
		return
	}

	list := p.idle[conn.Host]
	for i, c := range list {
		if c.ID == conn.ID {
			p.idle[conn.Host] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Destroy drains the pool: every queued waiter is rejected with
// PoolDestroyed and subsequent Acquire calls fail immediately.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	for host, list := range p.waiters {
		for _, w := range list {
			w.ch <- waitResult{err: poolDestroyedErr()}
		}
		delete(p.waiters, host)
	}
	p.idle = make(map[string][]*Connection)
	p.mu.Unlock()
	p.stopReaper()
}

// GetStats returns a point-in-time snapshot of pool occupancy.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	byHost := make(map[string]int, len(p.activeByHost)+len(p.idle))
	for h, c := range p.activeByHost {
		byHost[h] += c
	}
	idleCount := 0
	for h, list := range p.idle {
		byHost[h] += len(list)
		idleCount += len(list)
	}
	pending := 0
	for _, list := range p.waiters {
		pending += len(list)
	}

	return Stats{
		ActiveConnections: p.activeTotal,
		IdleConnections:   idleCount,
		PendingRequests:   pending,
		ConnectionsByHost: byHost,
		TotalRequests:     p.totalRequests,
		ConnectionReuses:  p.connectionReuses,
	}
}

// newConnection builds a fresh pooled client, carrying forward the
// teacher's per-adapter transport tuning now centralized here.
func (p *Pool) newConnection(host string) *Connection {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	now := time.Now()
	return &Connection{
		ID:           uuid.NewString(),
		Host:         host,
		CreatedAt:    now,
		LastUsedAt:   now,
		RequestCount: 1,
		Active:       true,
		Client:       &http.Client{Transport: transport},
	}
}

func poolDestroyedErr() *gwerrors.AppError {
	return &gwerrors.AppError{
		Code: gwerrors.CodePoolDestroyed, Provider: "pool",
		Message: "connection pool has been destroyed", Retryable: false,
		Severity: gwerrors.SeverityHigh, RecoveryStrategy: gwerrors.RecoveryAbort,
	}
}
