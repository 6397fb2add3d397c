package gemini

import (
	"context"
	"strings"
	"testing"

	"github.com/modelgateway/core/internal/adapter"

	"go.uber.org/zap"
)

func TestParseSSEStream_TextAndFunctionCall(t *testing.T) {
	sseData := `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Checking "}]},"finishReason":""}],"modelVersion":"gemini-1.5-pro"}

data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"read_file","args":{"path":"a.go"}}}]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":57}}

`
	deltaCh := make(chan adapter.StreamChunk, 64)
	resp, err := ParseSSEStream(context.Background(), strings.NewReader(sseData), deltaCh, zap.NewNop())
	close(deltaCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Checking " {
		t.Fatalf("expected 'Checking ', got %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "read_file" {
		t.Fatalf("expected one read_file tool call, got %+v", resp.ToolCalls)
	}
	if resp.TokensUsed != 57 {
		t.Fatalf("expected 57 tokens, got %d", resp.TokensUsed)
	}

	var terminalCount int
	for c := range deltaCh {
		if c.FinishReason != "" {
			terminalCount++
		}
	}
	if terminalCount != 1 {
		t.Fatalf("expected exactly one terminal chunk, got %d", terminalCount)
	}
}

func TestParseSSEStream_SkipsEmptyFunctionCallName(t *testing.T) {
	sseData := `data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"","args":{}}}]},"finishReason":"STOP"}]}

`
	deltaCh := make(chan adapter.StreamChunk, 64)
	resp, err := ParseSSEStream(context.Background(), strings.NewReader(sseData), deltaCh, zap.NewNop())
	close(deltaCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 0 {
		t.Fatalf("expected empty-name function call to be dropped, got %+v", resp.ToolCalls)
	}
}
