// Package config loads and hot-reloads the gateway's configuration:
// pool limits, resilience tunables, provider credentials, auth settings,
// and session-store paths, all from one layered gatewayctl.yaml plus
// environment overrides.
package config

import (
	"time"

	"github.com/modelgateway/core/internal/adapter"
	"github.com/modelgateway/core/internal/auth"
	"github.com/modelgateway/core/internal/diagnostics"
	logger "github.com/modelgateway/core/internal/logging"
	"github.com/modelgateway/core/internal/pool"
	"github.com/modelgateway/core/internal/resilience"
)

// Config is the root configuration tree, unmarshaled from YAML/env by viper.
type Config struct {
	Gateway     GatewayConfig               `mapstructure:"gateway"`
	Pool        PoolConfig                  `mapstructure:"pool"`
	Resilience  ResilienceConfig            `mapstructure:"resilience"`
	Providers   []adapter.ProviderConfig    `mapstructure:"providers"`
	Auth        map[string]AuthConfig       `mapstructure:"auth"`
	Session     SessionConfig               `mapstructure:"session"`
	Log         LogConfig                   `mapstructure:"log"`
	Diagnostics DiagnosticsConfig           `mapstructure:"diagnostics"`
}

// GatewayConfig is the gateway's own listen address, unused for routing
// decisions but carried for the operator-facing /metrics surface.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// PoolConfig mirrors internal/pool.Config with mapstructure tags.
type PoolConfig struct {
	MaxPerHost       int           `mapstructure:"max_per_host"`
	MaxTotal         int           `mapstructure:"max_total"`
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout"`
	AcquireTimeout   time.Duration `mapstructure:"acquire_timeout"`
	ReaperInterval   time.Duration `mapstructure:"reaper_interval"`
}

// ToPoolConfig converts to the pool package's native config type.
func (c PoolConfig) ToPoolConfig() pool.Config {
	return pool.Config{
		MaxPerHost:       c.MaxPerHost,
		MaxTotal:         c.MaxTotal,
		KeepAliveTimeout: c.KeepAliveTimeout,
		AcquireTimeout:   c.AcquireTimeout,
		ReaperInterval:   c.ReaperInterval,
	}
}

// ResilienceConfig groups retry and circuit-breaker tunables.
type ResilienceConfig struct {
	Retry   RetryConfig          `mapstructure:"retry"`
	Breaker CircuitBreakerConfig `mapstructure:"breaker"`
}

// RetryConfig mirrors internal/resilience.RetryConfig.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

func (c RetryConfig) ToRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{MaxRetries: c.MaxRetries, BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay}
}

// CircuitBreakerConfig mirrors internal/resilience.CircuitBreakerConfig.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	TimeWindow       time.Duration `mapstructure:"time_window"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

func (c CircuitBreakerConfig) ToCircuitBreakerConfig() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold: c.FailureThreshold,
		TimeWindow:       c.TimeWindow,
		SuccessThreshold: c.SuccessThreshold,
		OpenTimeout:      c.OpenTimeout,
	}
}

// AuthConfig mirrors internal/auth.ProviderSettings, keyed by provider name
// in Config.Auth.
type AuthConfig struct {
	ClientID         string            `mapstructure:"client_id"`
	AuthorizationURL string            `mapstructure:"authorization_url"`
	TokenURL         string            `mapstructure:"token_url"`
	RevocationURL    string            `mapstructure:"revocation_url"`
	Scopes           []string          `mapstructure:"scopes"`
	AdditionalParams map[string]string `mapstructure:"additional_params"`
	PreferredMethod  string            `mapstructure:"preferred_method"` // "oauth" | "api_key"
	EnableFallback   bool              `mapstructure:"enable_fallback"`
	RefreshBuffer    time.Duration     `mapstructure:"refresh_buffer"`
	CallbackTimeout  time.Duration     `mapstructure:"callback_timeout"`
	APIKeyEnvVar     string            `mapstructure:"api_key_env_var"`
	ConfiguredAPIKey string            `mapstructure:"configured_api_key"`
}

// ToProviderSettings converts to auth.ProviderSettings for the named provider.
func (c AuthConfig) ToProviderSettings(provider string) auth.ProviderSettings {
	method := auth.PreferAPIKey
	if c.PreferredMethod == string(auth.PreferOAuth) {
		method = auth.PreferOAuth
	}
	return auth.ProviderSettings{
		Provider:         provider,
		ClientID:         c.ClientID,
		AuthorizationURL: c.AuthorizationURL,
		TokenURL:         c.TokenURL,
		RevocationURL:    c.RevocationURL,
		Scopes:           c.Scopes,
		AdditionalParams: c.AdditionalParams,
		PreferredMethod:  method,
		EnableFallback:   c.EnableFallback,
		RefreshBuffer:    c.RefreshBuffer,
		CallbackTimeout:  c.CallbackTimeout,
		APIKeyEnvVar:     c.APIKeyEnvVar,
		ConfiguredAPIKey: c.ConfiguredAPIKey,
	}
}

// SessionConfig points at the on-disk session store root.
type SessionConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LogConfig mirrors internal/logging.Config plus the JSONL audit sink.
type LogConfig struct {
	Level      string      `mapstructure:"level"`
	Format     string      `mapstructure:"format"`
	OutputPath string      `mapstructure:"output_path"`
	Audit      AuditConfig `mapstructure:"audit"`
}

func (c LogConfig) ToLoggerConfig() logger.Config {
	return logger.Config{Level: c.Level, Format: c.Format, OutputPath: c.OutputPath}
}

// AuditConfig tunes the rotated JSONL audit sink.
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxFiles   int    `mapstructure:"max_files"`
}

func (c AuditConfig) ToAuditConfig() logger.AuditConfig {
	return logger.AuditConfig{
		Enabled:   c.Enabled,
		Path:      c.Path,
		MaxSizeMB: c.MaxSizeMB,
		MaxFiles:  c.MaxFiles,
	}
}

// DiagnosticsConfig controls the persisted telemetry store and the
// Prometheus metrics namespace.
type DiagnosticsConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	DatabaseType     string `mapstructure:"database_type"` // sqlite | postgres
	DatabaseDSN      string `mapstructure:"database_dsn"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`
}

func (c DiagnosticsConfig) ToStoreConfig() diagnostics.Config {
	return diagnostics.Config{Type: c.DatabaseType, DSN: c.DatabaseDSN}
}
