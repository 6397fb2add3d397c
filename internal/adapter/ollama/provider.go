// Package ollama adapts a locally-served Ollama instance. Ollama has no
// native tool-calling wire format for most models, so tool calls are
// recovered from free text via the convention parser in text.go, and it
// streams NDJSON rather than SSE.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelgateway/core/internal/adapter"
	"github.com/modelgateway/core/internal/pool"
	"github.com/modelgateway/core/internal/resilience"

	"go.uber.org/zap"
)

func init() {
	adapter.RegisterFactory("ollama", func(cfg adapter.ProviderConfig, logger *zap.Logger) adapter.Provider {
		return New(cfg, logger, nil)
	})
}

// Provider talks to a local or self-hosted Ollama server.
type Provider struct {
	name    string
	baseURL string
	models  []string
	client  *http.Client
	pool    *pool.Pool
	logger  *zap.Logger
	cache   *adapter.TokenCache
}

// New creates an Ollama provider. If p is non-nil, outbound HTTP
// connections are borrowed from it instead of a private client. Ollama
// has no API key concept; ProviderConfig.APIKey is ignored.
func New(cfg adapter.ProviderConfig, logger *zap.Logger, p *pool.Pool) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	prov := &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		models:  cfg.Models,
		pool:    p,
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "ollama")),
		cache:   adapter.NewTokenCache(adapter.DefaultTokenCacheSize),
	}
	if p == nil {
		prov.client = &http.Client{}
	}
	return prov
}

var _ adapter.Provider = (*Provider)(nil)

func (p *Provider) Name() string     { return p.name }
func (p *Provider) Models() []string { return p.models }

func (p *Provider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

// IsAvailable probes /api/tags; an unreachable or unconfigured local
// server is the common case, unlike hosted providers gated on an API key.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClientOnly().Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *Provider) httpClientOnly() *http.Client {
	if p.client != nil {
		return p.client
	}
	return &http.Client{}
}

// ContextLimit has no fixed table — Ollama serves whatever model the
// operator pulled, and context length varies by quantization/Modelfile.
func (p *Provider) ContextLimit(model string) int { return 0 }

// SupportsToolCalling is false: calls are recovered best-effort from
// text, not solicited through a native tool-calling request field.
func (p *Provider) SupportsToolCalling() bool { return false }

func (p *Provider) ValidateConfig() error {
	if p.baseURL == "" {
		return fmt.Errorf("ollama provider %q: missing base URL", p.name)
	}
	return nil
}

// CountTokens applies a 3.75 chars-per-token heuristic, the middle
// ground between the more English-token-dense OpenAI family and the
// more verbose Gemini tokenization, since locally served models vary
// widely in their actual tokenizer.
func (p *Provider) CountTokens(req *adapter.Request) (int, error) {
	key := adapter.RequestFingerprint(req)
	if n, ok := p.cache.Get(key); ok {
		return n, nil
	}
	total := adapter.CharHeuristicTokens(req, 3.75)
	p.cache.Put(key, total)
	return total, nil
}

// Generate implements adapter.Provider (non-streaming).
func (p *Provider) Generate(ctx context.Context, req *adapter.Request) (*adapter.Response, error) {
	apiReq := p.buildAPIRequest(req, false)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client, release, err := p.acquireClient(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, resilience.ClassifyError(p.name, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.ClassifyError(p.name, resp.StatusCode, fmt.Errorf("%s", string(respBody)))
	}

	var apiResp ChatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	cleanedText, toolCalls := ParseToolCallsFromText(apiResp.Message.Content, p.logger)
	return &adapter.Response{
		Content:      cleanedText,
		ToolCalls:    toolCalls,
		ModelUsed:    apiResp.Model,
		TokensUsed:   apiResp.Total(),
		FinishReason: "stop",
	}, nil
}

// GenerateStream implements adapter.Provider with Ollama's NDJSON stream.
func (p *Provider) GenerateStream(ctx context.Context, req *adapter.Request, deltaCh chan<- adapter.StreamChunk) (*adapter.Response, error) {
	apiReq := p.buildAPIRequest(req, true)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client, release, err := p.acquireClient(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, resilience.ClassifyError(p.name, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, resilience.ClassifyError(p.name, resp.StatusCode, fmt.Errorf("%s", string(respBody)))
	}

	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.logger.Info("context cancelled, force-closing Ollama NDJSON stream", zap.Error(ctx.Err()))
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	result, err := parseNDJSONStream(ctx, resp.Body, deltaCh, p.logger)
	close(streamDone)
	return result, err
}

// parseNDJSONStream reads one JSON object per line, emitting text deltas
// as they arrive and running the text-convention tool-call parser once
// against the fully accumulated content, since a tool call's closing
// paren/fence can straddle multiple NDJSON lines.
func parseNDJSONStream(ctx context.Context, r io.Reader, deltaCh chan<- adapter.StreamChunk, logger *zap.Logger) (*adapter.Response, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	var modelUsed string
	var tokensUsed int

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			logger.Debug("skip unparseable Ollama NDJSON line", zap.Error(err))
			continue
		}

		if chunk.Model != "" {
			modelUsed = chunk.Model
		}
		if chunk.Message.Content != "" {
			contentBuilder.WriteString(chunk.Message.Content)
			deltaCh <- adapter.StreamChunk{DeltaText: chunk.Message.Content}
		}
		if chunk.Done {
			tokensUsed = chunk.Total()
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("NDJSON scan error: %w", err)
	}

	cleanedText, toolCalls := ParseToolCallsFromText(contentBuilder.String(), logger)
	for _, tc := range toolCalls {
		tcCopy := tc
		deltaCh <- adapter.StreamChunk{DeltaToolCall: &tcCopy}
	}

	deltaCh <- adapter.StreamChunk{FinishReason: "stop", Usage: tokensUsed}

	return &adapter.Response{
		Content:      cleanedText,
		ToolCalls:    toolCalls,
		ModelUsed:    modelUsed,
		TokensUsed:   tokensUsed,
		FinishReason: "stop",
	}, nil
}

func (p *Provider) acquireClient(ctx context.Context) (*http.Client, func(), error) {
	if p.pool == nil {
		return p.client, func() {}, nil
	}
	conn, err := p.pool.Acquire(ctx, p.baseURL)
	if err != nil {
		return nil, nil, err
	}
	return conn.Client, func() { p.pool.Release(conn) }, nil
}

func (p *Provider) buildAPIRequest(req *adapter.Request, stream bool) *Request {
	apiReq := &Request{
		Model:  req.Model,
		Stream: stream,
	}
	if req.Temperature != 0 || req.MaxTokens != 0 {
		apiReq.Options = &Options{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, Message{
			Role:    msg.Role,
			Content: msg.TextContent(),
		})
	}

	// Ollama has no native tool field; tool definitions are appended to
	// the system prompt so small models can at least attempt the
	// "Tool call: name({...})" text convention this adapter parses back.
	if len(req.Tools) > 0 {
		var b strings.Builder
		b.WriteString("You may call the following tools using the exact format `Tool call: name({\"arg\":\"value\"})` on its own line:\n")
		for _, td := range req.Tools {
			b.WriteString(fmt.Sprintf("- %s: %s\n", td.Name, td.Description))
		}
		apiReq.Messages = append([]Message{{Role: "system", Content: b.String()}}, apiReq.Messages...)
	}

	return apiReq
}
