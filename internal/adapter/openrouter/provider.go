// Package openrouter adapts the OpenRouter aggregator API, which speaks
// the same chat/completions wire format as OpenAI but routes by a
// vendor-prefixed model string (e.g. "anthropic/claude-3.5-sonnet").
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelgateway/core/internal/adapter"
	"github.com/modelgateway/core/internal/adapter/openai"
	"github.com/modelgateway/core/internal/pool"
	"github.com/modelgateway/core/internal/resilience"

	"go.uber.org/zap"
)

func init() {
	adapter.RegisterFactory("openrouter", func(cfg adapter.ProviderConfig, logger *zap.Logger) adapter.Provider {
		return New(cfg, logger, nil)
	})
}

// defaultContextLimits covers a handful of widely used OpenRouter routes;
// most routed models are unlisted and return 0 (unknown).
var defaultContextLimits = map[string]int{
	"openai/gpt-4o":                     128000,
	"anthropic/claude-3.5-sonnet":       200000,
	"google/gemini-1.5-pro":             2000000,
	"meta-llama/llama-3.1-70b-instruct": 131072,
}

// Provider talks to the OpenRouter API. Unlike the openai adapter it
// never strips the model's vendor prefix — OpenRouter uses the prefix
// to route to the underlying vendor.
type Provider struct {
	name     string
	baseURL  string
	apiKey   string
	referer  string
	title    string
	models   []string
	client   *http.Client
	pool     *pool.Pool
	logger   *zap.Logger
	cache    *adapter.TokenCache
}

// New creates an OpenRouter provider. If p is non-nil, outbound HTTP
// connections are borrowed from it instead of a private client.
func New(cfg adapter.ProviderConfig, logger *zap.Logger, p *pool.Pool) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}

	prov := &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		referer: "https://github.com/modelgateway/core",
		title:   "Model Gateway Core",
		models:  cfg.Models,
		pool:    p,
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "openrouter")),
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

func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

func (p *Provider) ContextLimit(model string) int {
	if limit, ok := defaultContextLimits[model]; ok {
		return limit
	}
	return 0
}

func (p *Provider) SupportsToolCalling() bool { return true }

func (p *Provider) ValidateConfig() error {
	if p.apiKey == "" {
		return fmt.Errorf("openrouter provider %q: missing API key", p.name)
	}
	return nil
}

// CountTokens has no vendor-specific tokenizer (OpenRouter fans out to
// many underlying model families), so it uses the general 4.0
// chars-per-token heuristic memoized by content fingerprint.
func (p *Provider) CountTokens(req *adapter.Request) (int, error) {
	key := adapter.RequestFingerprint(req)
	if n, ok := p.cache.Get(key); ok {
		return n, nil
	}
	total := adapter.CharHeuristicTokens(req, 4.0)
	p.cache.Put(key, total)
	return total, nil
}

// Generate implements adapter.Provider (non-streaming).
func (p *Provider) Generate(ctx context.Context, req *adapter.Request) (*adapter.Response, error) {
	apiReq := p.buildAPIRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

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

	return p.parseAPIResponse(respBody)
}

// GenerateStream implements adapter.Provider with SSE streaming,
// reusing the openai adapter's decoder since OpenRouter's streaming
// wire format is the same chat/completions SSE shape.
func (p *Provider) GenerateStream(ctx context.Context, req *adapter.Request, deltaCh chan<- adapter.StreamChunk) (*adapter.Response, error) {
	apiReq := p.buildAPIRequest(req)

	streamBody := openai.StreamRequest{
		Request:       apiReq,
		Stream:        true,
		StreamOptions: map[string]interface{}{"include_usage": true},
	}

	body, err := json.Marshal(streamBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

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
			p.logger.Info("context cancelled, force-closing OpenRouter SSE stream", zap.Error(ctx.Err()))
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	result, err := openai.ParseSSEStream(ctx, resp.Body, deltaCh, p.logger)
	close(streamDone)
	return result, err
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

// --- Internal ---

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	// OpenRouter uses these for its public leaderboard attribution; both
	// are optional but recommended by its API docs.
	if p.referer != "" {
		req.Header.Set("HTTP-Referer", p.referer)
	}
	if p.title != "" {
		req.Header.Set("X-Title", p.title)
	}
}

func (p *Provider) buildAPIRequest(req *adapter.Request) *openai.Request {
	apiReq := &openai.Request{
		Model:       req.Model, // no prefix stripping — OpenRouter routes on it
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, msg := range req.Messages {
		apiMsg := openai.Message{
			Role:       msg.Role,
			Content:    msg.TextContent(),
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, tc := range msg.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openai.ToolCallFunc{
					Name:      tc.Name,
					Arguments: openai.MarshalToolCallArgs(tc.Arguments),
				},
			})
		}
		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, td := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  openai.ConvertSchema(td.Parameters),
			},
		})
	}

	return apiReq
}

func (p *Provider) parseAPIResponse(body []byte) (*adapter.Response, error) {
	var apiResp openai.Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response: no choices")
	}

	choice := apiResp.Choices[0]
	resp := &adapter.Response{
		Content:      choice.Message.Content,
		ModelUsed:    apiResp.Model,
		TokensUsed:   apiResp.Usage.Total(),
		FinishReason: choice.FinishReason,
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("parse tool call arguments for %s: %w", tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, adapter.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return resp, nil
}
