package ollama

import (
	"context"
	"strings"
	"testing"

	"github.com/modelgateway/core/internal/adapter"

	"go.uber.org/zap"
)

func TestParseToolCallsFromText_ToolCallConvention(t *testing.T) {
	text := "Let me look that up.\nTool call: read_file({\"path\":\"main.go\"})\nDone."

	cleaned, calls := ParseToolCallsFromText(text, zap.NewNop())
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].Name != "read_file" {
		t.Fatalf("expected 'read_file', got %q", calls[0].Name)
	}
	if calls[0].Arguments["path"] != "main.go" {
		t.Fatalf("expected path 'main.go', got %v", calls[0].Arguments["path"])
	}
	if strings.Contains(cleaned, "Tool call:") {
		t.Fatalf("expected tool call line stripped from cleaned text, got %q", cleaned)
	}
}

func TestParseToolCallsFromText_CodeFenceConvention(t *testing.T) {
	text := "Here:\n```tool_call\n{\"name\":\"write_file\",\"arguments\":{\"path\":\"b.go\",\"content\":\"x\"}}\n```\nthanks"

	cleaned, calls := ParseToolCallsFromText(text, zap.NewNop())
	if len(calls) != 1 || calls[0].Name != "write_file" {
		t.Fatalf("expected 1 write_file call, got %+v", calls)
	}
	if strings.Contains(cleaned, "```") {
		t.Fatalf("expected code fence stripped, got %q", cleaned)
	}
}

func TestParseToolCallsFromText_MalformedJSONDropped(t *testing.T) {
	text := "Tool call: broken({not json})"

	_, calls := ParseToolCallsFromText(text, zap.NewNop())
	if len(calls) != 0 {
		t.Fatalf("expected malformed call to be dropped, got %+v", calls)
	}
}

func TestParseToolCallsFromText_NoConventionReturnsTextUnchanged(t *testing.T) {
	text := "Just a plain answer, no tools needed."
	cleaned, calls := ParseToolCallsFromText(text, zap.NewNop())
	if len(calls) != 0 {
		t.Fatalf("expected no tool calls, got %+v", calls)
	}
	if cleaned != text {
		t.Fatalf("expected text unchanged, got %q", cleaned)
	}
}

func TestParseNDJSONStream_AccumulatesAndDetectsToolCall(t *testing.T) {
	ndjson := `{"model":"llama3.2","message":{"role":"assistant","content":"Tool call: "},"done":false}
{"model":"llama3.2","message":{"role":"assistant","content":"read_file({\"path\":\"a.go\"})"},"done":false}
{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":10,"eval_count":5}
`
	deltaCh := make(chan adapter.StreamChunk, 64)
	resp, err := parseNDJSONStream(context.Background(), strings.NewReader(ndjson), deltaCh, zap.NewNop())
	close(deltaCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "read_file" {
		t.Fatalf("expected one read_file tool call, got %+v", resp.ToolCalls)
	}
	if resp.TokensUsed != 15 {
		t.Fatalf("expected 15 tokens, got %d", resp.TokensUsed)
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
