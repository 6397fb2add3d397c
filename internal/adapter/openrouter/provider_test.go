package openrouter

import (
	"testing"

	"github.com/modelgateway/core/internal/adapter"

	"go.uber.org/zap"
)

func TestProvider_BuildAPIRequest_NoModelPrefixStripping(t *testing.T) {
	p := New(adapter.ProviderConfig{Name: "openrouter", APIKey: "test-key"}, zap.NewNop(), nil)

	req := &adapter.Request{
		Model:    "anthropic/claude-3.5-sonnet",
		Messages: []adapter.Message{{Role: "user", Content: "hello"}},
	}

	apiReq := p.buildAPIRequest(req)
	if apiReq.Model != "anthropic/claude-3.5-sonnet" {
		t.Fatalf("expected vendor-prefixed model to survive untouched, got %q", apiReq.Model)
	}
	if len(apiReq.Messages) != 1 || apiReq.Messages[0].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", apiReq.Messages)
	}
}

func TestProvider_ContextLimit_KnownAndUnknownModels(t *testing.T) {
	p := New(adapter.ProviderConfig{Name: "openrouter", APIKey: "k"}, zap.NewNop(), nil)

	if limit := p.ContextLimit("anthropic/claude-3.5-sonnet"); limit != 200000 {
		t.Fatalf("expected 200000, got %d", limit)
	}
	if limit := p.ContextLimit("some/unlisted-model"); limit != 0 {
		t.Fatalf("expected 0 for unlisted model, got %d", limit)
	}
}

func TestProvider_ValidateConfig_RequiresAPIKey(t *testing.T) {
	p := New(adapter.ProviderConfig{Name: "openrouter"}, zap.NewNop(), nil)
	if err := p.ValidateConfig(); err == nil {
		t.Fatal("expected error for missing API key")
	}

	p2 := New(adapter.ProviderConfig{Name: "openrouter", APIKey: "k"}, zap.NewNop(), nil)
	if err := p2.ValidateConfig(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProvider_ParseAPIResponse_ExtractsToolCalls(t *testing.T) {
	p := New(adapter.ProviderConfig{Name: "openrouter", APIKey: "k"}, zap.NewNop(), nil)

	body := []byte(`{
		"model": "anthropic/claude-3.5-sonnet",
		"usage": {"total_tokens": 17},
		"choices": [{
			"finish_reason": "tool_calls",
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"weather\"}"}}]
			}
		}]
	}`)

	resp, err := p.parseAPIResponse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ModelUsed != "anthropic/claude-3.5-sonnet" || resp.TokensUsed != 17 {
		t.Fatalf("unexpected response metadata: %+v", resp)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "lookup" {
		t.Fatalf("expected one lookup tool call, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["q"] != "weather" {
		t.Fatalf("expected arguments to be parsed, got %+v", resp.ToolCalls[0].Arguments)
	}
}

func TestProvider_CountTokens_CachesByFingerprint(t *testing.T) {
	p := New(adapter.ProviderConfig{Name: "openrouter", APIKey: "k"}, zap.NewNop(), nil)
	req := &adapter.Request{Model: "m", Messages: []adapter.Message{{Role: "user", Content: "hello there"}}}

	n1, err := p.CountTokens(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n2, err := p.CountTokens(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n1 != n2 {
		t.Fatalf("expected cached count to match: %d vs %d", n1, n2)
	}
}
