// Package adapter defines the universal request/response/stream types
// every provider implementation translates to and from, the provider
// factory registry, and the failover router that sits in front of them.
package adapter

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ProviderConfig holds configuration for one configured provider instance.
type ProviderConfig struct {
	Name     string   `mapstructure:"name" json:"name"`
	Type     string   `mapstructure:"type" json:"type"` // "openai" (default) | "anthropic" | "gemini" | "openrouter" | "ollama"
	BaseURL  string   `mapstructure:"base_url" json:"base_url"`
	APIKey   string   `mapstructure:"api_key" json:"api_key"`
	Models   []string `mapstructure:"models" json:"models"`
	Priority int      `mapstructure:"priority" json:"priority"` // lower = higher priority
}

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each provider sub-package (adapter/openai,
// adapter/anthropic, ...).
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for
// cfg.Type. If Type is empty, defaults to "openai".
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		available := make([]string, 0, len(factories))
		factoryMu.RLock()
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}

	return factory(cfg, logger), nil
}
