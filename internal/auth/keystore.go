package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

const keyringService = "theo-code-oauth"

func keyringAccount(provider string) string {
	return "oauth-tokens-" + provider
}

// KeychainStore persists TokenSets in the OS keychain (Keychain on
// macOS, Credential Manager on Windows, Secret Service on Linux) via
// zalando/go-keyring. It never writes tokens to disk.
type KeychainStore struct {
	logger *zap.Logger
}

// NewKeychainStore returns a TokenStore backed by the OS keychain.
func NewKeychainStore(logger *zap.Logger) *KeychainStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeychainStore{logger: logger}
}

// Load reads and validates the stored token for provider. A record
// that fails to parse or fails schema validation is treated as absent
// and deleted rather than returned, so a corrupted entry never causes
// Resolve to fail loudly — the credential pipeline just falls through
// to the next method.
func (s *KeychainStore) Load(provider string) (*TokenSet, error) {
	raw, err := keyring.Get(keyringService, keyringAccount(provider))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read keychain entry for %s: %w", provider, err)
	}

	var tokens TokenSet
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		s.logger.Warn("stored oauth token failed to parse, discarding", zap.String("provider", provider), zap.Error(err))
		_ = s.Delete(provider)
		return nil, nil
	}
	if tokens.AccessToken == "" || tokens.ExpiresAt.IsZero() {
		s.logger.Warn("stored oauth token failed schema validation, discarding", zap.String("provider", provider))
		_ = s.Delete(provider)
		return nil, nil
	}

	return &tokens, nil
}

// Save writes tokens for provider to the OS keychain, replacing any
// existing entry.
func (s *KeychainStore) Save(provider string, tokens TokenSet) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshal oauth token for %s: %w", provider, err)
	}
	if err := keyring.Set(keyringService, keyringAccount(provider), string(raw)); err != nil {
		return fmt.Errorf("write keychain entry for %s: %w", provider, err)
	}
	return nil
}

// Delete removes any stored token for provider. Deleting an absent
// entry is not an error.
func (s *KeychainStore) Delete(provider string) error {
	if err := keyring.Delete(keyringService, keyringAccount(provider)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete keychain entry for %s: %w", provider, err)
	}
	return nil
}
