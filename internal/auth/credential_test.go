package auth

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[string]TokenSet
}

func newMemStore() *memStore { return &memStore{tokens: map[string]TokenSet{}} }

func (s *memStore) Load(provider string) (*TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[provider]
	if !ok {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

func (s *memStore) Save(provider string, tokens TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[provider] = tokens
	return nil
}

func (s *memStore) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, provider)
	return nil
}

type countingRefresher struct {
	calls int32
	delay time.Duration
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context, settings ProviderSettings, tokens TokenSet) (TokenSet, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return TokenSet{}, r.err
	}
	return TokenSet{AccessToken: "refreshed", RefreshToken: tokens.RefreshToken, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func TestResolver_EnvVarTakesPrecedence(t *testing.T) {
	os.Setenv("TESTPROVIDER_API_KEY", "env-key")
	defer os.Unsetenv("TESTPROVIDER_API_KEY")

	r := NewResolver(newMemStore(), nil, zap.NewNop())
	cred, err := r.Resolve(context.Background(), ProviderSettings{
		Provider:         "testprovider",
		APIKeyEnvVar:     "TESTPROVIDER_API_KEY",
		ConfiguredAPIKey: "configured-key",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Value != "env-key" || cred.Source != "env" {
		t.Fatalf("expected env var to win, got %+v", cred)
	}
}

func TestResolver_ConfiguredAPIKeyBeforeOAuthByDefault(t *testing.T) {
	store := newMemStore()
	_ = store.Save("testprovider", TokenSet{AccessToken: "oauth-token", ExpiresAt: time.Now().Add(time.Hour)})

	r := NewResolver(store, nil, zap.NewNop())
	cred, err := r.Resolve(context.Background(), ProviderSettings{
		Provider:         "testprovider",
		ConfiguredAPIKey: "configured-key",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Source != "configured_api_key" {
		t.Fatalf("expected configured api key by default precedence, got %q", cred.Source)
	}
}

func TestResolver_PreferredMethodReordersOAuthFirst(t *testing.T) {
	store := newMemStore()
	_ = store.Save("testprovider", TokenSet{AccessToken: "oauth-token", ExpiresAt: time.Now().Add(time.Hour)})

	r := NewResolver(store, nil, zap.NewNop())
	cred, err := r.Resolve(context.Background(), ProviderSettings{
		Provider:         "testprovider",
		ConfiguredAPIKey: "configured-key",
		PreferredMethod:  PreferOAuth,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Source != "oauth" {
		t.Fatalf("expected oauth to win when preferred, got %q", cred.Source)
	}
}

func TestResolver_FallbackTriesNextMethodOnFailure(t *testing.T) {
	r := NewResolver(newMemStore(), nil, zap.NewNop())
	_, err := r.Resolve(context.Background(), ProviderSettings{
		Provider:        "testprovider",
		PreferredMethod: PreferOAuth,
		EnableFallback:  false,
	})
	if err == nil {
		t.Fatal("expected NoCredentialError with no fallback and nothing configured")
	}

	cred, err := r.Resolve(context.Background(), ProviderSettings{
		Provider:         "testprovider",
		PreferredMethod:  PreferOAuth,
		EnableFallback:   true,
		ConfiguredAPIKey: "configured-key",
	})
	if err != nil {
		t.Fatalf("expected fallback to configured api key to succeed: %v", err)
	}
	if cred.Source != "configured_api_key" {
		t.Fatalf("expected fallback credential, got %q", cred.Source)
	}
}

func TestResolver_NoCredentialErrorWhenNothingResolves(t *testing.T) {
	r := NewResolver(newMemStore(), nil, zap.NewNop())
	_, err := r.Resolve(context.Background(), ProviderSettings{Provider: "testprovider"})
	var noCred *NoCredentialError
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*NoCredentialError); !ok {
		t.Fatalf("expected *NoCredentialError, got %T", err)
	}
	_ = noCred
}

func TestResolver_RefreshesExpiredTokenAndPersists(t *testing.T) {
	store := newMemStore()
	_ = store.Save("testprovider", TokenSet{
		AccessToken:  "stale",
		RefreshToken: "refresh-me",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	refresher := &countingRefresher{}

	r := NewResolver(store, refresher, zap.NewNop())
	cred, err := r.Resolve(context.Background(), ProviderSettings{Provider: "testprovider"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Value != "refreshed" {
		t.Fatalf("expected refreshed token, got %q", cred.Value)
	}
	stored, _ := store.Load("testprovider")
	if stored == nil || stored.AccessToken != "refreshed" {
		t.Fatal("expected refreshed token to be persisted")
	}
}

func TestResolver_ConcurrentRefreshesDeduplicate(t *testing.T) {
	store := newMemStore()
	_ = store.Save("testprovider", TokenSet{
		AccessToken:  "stale",
		RefreshToken: "refresh-me",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	refresher := &countingRefresher{delay: 50 * time.Millisecond}
	r := NewResolver(store, refresher, zap.NewNop())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), ProviderSettings{Provider: "testprovider"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error from concurrent resolve: %v", err)
		}
	}
	if atomic.LoadInt32(&refresher.calls) != 1 {
		t.Fatalf("expected exactly one network refresh across 10 concurrent callers, got %d", refresher.calls)
	}
}

func TestResolver_RefreshFailureFallsBackToAPIKey(t *testing.T) {
	store := newMemStore()
	_ = store.Save("testprovider", TokenSet{
		AccessToken:  "stale",
		RefreshToken: "refresh-me",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	refresher := &countingRefresher{err: fmt.Errorf("token endpoint unreachable")}
	r := NewResolver(store, refresher, zap.NewNop())

	cred, err := r.Resolve(context.Background(), ProviderSettings{
		Provider:         "testprovider",
		PreferredMethod:  PreferOAuth,
		EnableFallback:   true,
		ConfiguredAPIKey: "configured-key",
	})
	if err != nil {
		t.Fatalf("expected fallback to succeed despite refresh failure: %v", err)
	}
	if cred.Source != "configured_api_key" {
		t.Fatalf("expected fallback to api key, got %q", cred.Source)
	}
}
