package adapter

import "testing"

func TestTokenCache_GetPutRoundTrip(t *testing.T) {
	c := NewTokenCache(2)
	c.Put("a", 10)
	if n, ok := c.Get("a"); !ok || n != 10 {
		t.Fatalf("expected cached 10, got %d ok=%v", n, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestTokenCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewTokenCache(2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // touch a, making b the LRU
	c.Put("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted as least-recently-used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to be present")
	}
	if c.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", c.Len())
	}
}

func TestRequestFingerprint_StableForEquivalentRequests(t *testing.T) {
	req1 := &Request{Model: "gpt-4", Messages: []Message{{Role: "user", Content: "hi"}}}
	req2 := &Request{Model: "gpt-4", Messages: []Message{{Role: "user", Content: "hi"}}}
	if RequestFingerprint(req1) != RequestFingerprint(req2) {
		t.Fatal("expected identical requests to fingerprint identically")
	}

	req3 := &Request{Model: "gpt-4", Messages: []Message{{Role: "user", Content: "bye"}}}
	if RequestFingerprint(req1) == RequestFingerprint(req3) {
		t.Fatal("expected different content to fingerprint differently")
	}
}

func TestCharHeuristicTokens_ScalesWithRatio(t *testing.T) {
	req := &Request{Messages: []Message{{Role: "user", Content: "0123456789"}}}
	fast := CharHeuristicTokens(req, 2.0)
	slow := CharHeuristicTokens(req, 10.0)
	if fast <= slow {
		t.Fatalf("expected a smaller chars-per-token ratio to produce a higher count: fast=%d slow=%d", fast, slow)
	}
}
