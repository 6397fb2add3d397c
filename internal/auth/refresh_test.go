package auth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefreshGroup_DeduplicatesConcurrentCallsPerKey(t *testing.T) {
	g := NewRefreshGroup()
	var calls int32

	var wg sync.WaitGroup
	results := make([]TokenSet, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := g.Do("providerA", func() (TokenSet, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(20 * time.Millisecond)
				return TokenSet{AccessToken: "shared"}, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = tok
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected exactly 1 underlying call, got %d", calls)
	}
	for _, r := range results {
		if r.AccessToken != "shared" {
			t.Fatalf("expected all callers to observe shared result, got %+v", r)
		}
	}
}

func TestRefreshGroup_DistinctKeysRunIndependently(t *testing.T) {
	g := NewRefreshGroup()
	var calls int32

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _ = g.Do(key, func() (TokenSet, error) {
				atomic.AddInt32(&calls, 1)
				return TokenSet{AccessToken: key}, nil
			})
		}(key)
	}
	wg.Wait()

	if calls != 3 {
		t.Fatalf("expected independent calls per key, got %d", calls)
	}
}
