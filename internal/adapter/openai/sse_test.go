package openai

import (
	"context"
	"strings"
	"testing"

	"github.com/modelgateway/core/internal/adapter"

	"go.uber.org/zap"
)

func drainChunks(ch <-chan adapter.StreamChunk) []adapter.StreamChunk {
	var result []adapter.StreamChunk
	for c := range ch {
		result = append(result, c)
	}
	return result
}

func TestParseSSEStream_TextOnly(t *testing.T) {
	sseData := `data: {"id":"chatcmpl-1","choices":[{"delta":{"role":"assistant","content":"Hello"},"finish_reason":null}],"model":"gpt-4"}

data: {"id":"chatcmpl-1","choices":[{"delta":{"content":" world"},"finish_reason":null}],"model":"gpt-4"}

data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"!"},"finish_reason":"stop"}],"model":"gpt-4","usage":{"total_tokens":42}}

data: [DONE]
`

	reader := strings.NewReader(sseData)
	deltaCh := make(chan adapter.StreamChunk, 64)

	resp, err := ParseSSEStream(context.Background(), reader, deltaCh, zap.NewNop())
	close(deltaCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello world!" {
		t.Fatalf("expected 'Hello world!', got %q", resp.Content)
	}
	if resp.TokensUsed != 42 {
		t.Fatalf("expected 42 tokens, got %d", resp.TokensUsed)
	}

	chunks := drainChunks(deltaCh)
	terminal := 0
	for _, c := range chunks {
		if c.FinishReason != "" {
			terminal++
		}
	}
	if terminal != 1 {
		t.Fatalf("expected exactly one terminal chunk, got %d", terminal)
	}
}

func TestParseSSEStream_OutOfOrderToolCallIndices(t *testing.T) {
	// Index 1 arrives before index 0 — the teacher's original map-length
	// iteration would have silently dropped or misordered this.
	sseData := `data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"write_file","arguments":"{\"path\":\"b.go\"}"}}]},"finish_reason":null}],"model":"gpt-4"}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.go\"}"}}]},"finish_reason":null}],"model":"gpt-4"}

data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}],"model":"gpt-4","usage":{"total_tokens":10}}

data: [DONE]
`
	reader := strings.NewReader(sseData)
	deltaCh := make(chan adapter.StreamChunk, 64)

	resp, err := ParseSSEStream(context.Background(), reader, deltaCh, zap.NewNop())
	close(deltaCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	// First-sight order: index 1 arrived first.
	if resp.ToolCalls[0].Name != "write_file" || resp.ToolCalls[1].Name != "read_file" {
		t.Fatalf("unexpected tool call order: %+v", resp.ToolCalls)
	}
}

func TestParseSSEStream_DropsEmptyNamedToolCall(t *testing.T) {
	sseData := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"","arguments":"{}"}}]},"finish_reason":null}],"model":"gpt-4"}

data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}],"model":"gpt-4"}

data: [DONE]
`
	reader := strings.NewReader(sseData)
	deltaCh := make(chan adapter.StreamChunk, 64)

	resp, err := ParseSSEStream(context.Background(), reader, deltaCh, zap.NewNop())
	close(deltaCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 0 {
		t.Fatalf("expected empty-name tool call to be dropped, got %+v", resp.ToolCalls)
	}
}

func TestParseSSEStream_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n")
	deltaCh := make(chan adapter.StreamChunk, 64)

	_, err := ParseSSEStream(ctx, reader, deltaCh, zap.NewNop())
	close(deltaCh)
	if err == nil {
		t.Fatal("expected context error")
	}
}
