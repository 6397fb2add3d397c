package auth

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TokenStore is the persistence boundary credential resolution reads
// from and, via Refresher, writes back to. keystore.go provides the
// OS-keychain-backed implementation.
type TokenStore interface {
	Load(provider string) (*TokenSet, error)
	Save(provider string, tokens TokenSet) error
	Delete(provider string) error
}

// Refresher exchanges a refresh token for a new access token. flow.go's
// OAuth client implements this against each provider's token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, settings ProviderSettings, tokens TokenSet) (TokenSet, error)
}

// Resolver resolves a usable credential for a provider, applying the
// precedence order from ProviderSettings and serializing concurrent
// OAuth refreshes via refresh.go's singleflight group.
type Resolver struct {
	store     TokenStore
	refresher Refresher
	refresh   *RefreshGroup
	logger    *zap.Logger
}

// NewResolver builds a Resolver. refresher may be nil if OAuth is never
// configured for any provider — attempts to refresh then fail closed.
func NewResolver(store TokenStore, refresher Refresher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:     store,
		refresher: refresher,
		refresh:   NewRefreshGroup(),
		logger:    logger,
	}
}

type credentialMethod func(ctx context.Context, settings ProviderSettings) (Credential, error)

// Resolve returns a usable credential for settings.Provider following:
//  1. environment variable settings.APIKeyEnvVar
//  2/3. configured API key and stored OAuth token, ordered by
//     settings.PreferredMethod
//  4. NoCredentialError
//
// If settings.EnableFallback is set and the preferred method (2 or 3)
// fails, the other is attempted before giving up.
func (r *Resolver) Resolve(ctx context.Context, settings ProviderSettings) (Credential, error) {
	if cred, ok := r.fromEnv(settings); ok {
		return cred, nil
	}

	apiKeyMethod := r.fromConfiguredAPIKey
	oauthMethod := r.fromOAuth

	first, second := apiKeyMethod, oauthMethod
	if settings.PreferredMethod == PreferOAuth {
		first, second = oauthMethod, apiKeyMethod
	}

	cred, err := first(ctx, settings)
	if err == nil {
		return cred, nil
	}
	r.logger.Debug("preferred credential method failed",
		zap.String("provider", settings.Provider), zap.Error(err))

	if !settings.EnableFallback {
		return Credential{}, &NoCredentialError{Provider: settings.Provider}
	}

	cred, err = second(ctx, settings)
	if err == nil {
		return cred, nil
	}
	r.logger.Debug("fallback credential method failed",
		zap.String("provider", settings.Provider), zap.Error(err))

	return Credential{}, &NoCredentialError{Provider: settings.Provider}
}

func (r *Resolver) fromEnv(settings ProviderSettings) (Credential, bool) {
	if settings.APIKeyEnvVar == "" {
		return Credential{}, false
	}
	v := strings.TrimSpace(os.Getenv(settings.APIKeyEnvVar))
	if v == "" {
		return Credential{}, false
	}
	return Credential{Value: v, Source: "env"}, true
}

func (r *Resolver) fromConfiguredAPIKey(ctx context.Context, settings ProviderSettings) (Credential, error) {
	if settings.ConfiguredAPIKey == "" {
		return Credential{}, &NoCredentialError{Provider: settings.Provider}
	}
	return Credential{Value: settings.ConfiguredAPIKey, Source: "configured_api_key"}, nil
}

func (r *Resolver) fromOAuth(ctx context.Context, settings ProviderSettings) (Credential, error) {
	if r.store == nil {
		return Credential{}, &NoCredentialError{Provider: settings.Provider}
	}
	tokens, err := r.store.Load(settings.Provider)
	if err != nil || tokens == nil {
		return Credential{}, &NoCredentialError{Provider: settings.Provider}
	}

	buffer := settings.RefreshBuffer
	if buffer <= 0 {
		buffer = 5 * time.Minute
	}

	if tokens.Valid(time.Now(), buffer) {
		return Credential{Value: tokens.AccessToken, Source: "oauth"}, nil
	}

	if tokens.RefreshToken == "" || r.refresher == nil {
		return Credential{}, &NoCredentialError{Provider: settings.Provider}
	}

	refreshed, err := r.refresh.Do(settings.Provider, func() (TokenSet, error) {
		// Re-check after acquiring the per-provider slot: a concurrent
		// caller may already have refreshed while we waited.
		current, loadErr := r.store.Load(settings.Provider)
		if loadErr == nil && current != nil && current.Valid(time.Now(), buffer) {
			return *current, nil
		}
		next, refreshErr := r.refresher.Refresh(ctx, settings, *tokens)
		if refreshErr != nil {
			return TokenSet{}, refreshErr
		}
		if saveErr := r.store.Save(settings.Provider, next); saveErr != nil {
			r.logger.Warn("persist refreshed oauth token failed", zap.String("provider", settings.Provider), zap.Error(saveErr))
		}
		return next, nil
	})
	if err != nil {
		return Credential{}, &NoCredentialError{Provider: settings.Provider}
	}

	return Credential{Value: refreshed.AccessToken, Source: "oauth"}, nil
}
