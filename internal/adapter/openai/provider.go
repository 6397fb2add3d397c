package openai

import (
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

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

func init() {
	adapter.RegisterFactory("openai", func(cfg adapter.ProviderConfig, logger *zap.Logger) adapter.Provider {
		return New(cfg, logger, nil)
	})
}

// defaultContextLimits covers the model families this adapter is known
// to serve; an unlisted model returns 0 (unknown).
var defaultContextLimits = map[string]int{
	"gpt-4o":       128000,
	"gpt-4-turbo":  128000,
	"gpt-4":        8192,
	"gpt-3.5-turbo": 16385,
	"o1":           200000,
	"o1-mini":      128000,
}

// Provider is a Go-native OpenAI-compatible HTTP client. Compatible
// with OpenAI, Bailian (Qwen), MiniMax, DeepSeek, vLLM, and other
// providers that speak the chat/completions wire format.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	pool    *pool.Pool
	logger  *zap.Logger
	cache   *adapter.TokenCache
	enc     *tiktoken.Tiktoken
}

// New creates an OpenAI-compatible provider. If p is non-nil, outbound
// HTTP connections are borrowed from it instead of a private client.
func New(cfg adapter.ProviderConfig, logger *zap.Logger, p *pool.Pool) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}

	prov := &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		pool:    p,
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "openai")),
		cache:   adapter.NewTokenCache(adapter.DefaultTokenCacheSize),
		enc:     enc,
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
	stripped := stripProviderPrefix(model)
	if limit, ok := defaultContextLimits[stripped]; ok {
		return limit
	}
	return 0
}

func (p *Provider) SupportsToolCalling() bool { return true }

func (p *Provider) ValidateConfig() error {
	if p.apiKey == "" {
		return fmt.Errorf("openai provider %q: missing API key", p.name)
	}
	if p.baseURL == "" {
		return fmt.Errorf("openai provider %q: missing base URL", p.name)
	}
	return nil
}

// CountTokens uses tiktoken's cl100k_base encoding when available,
// memoized by content fingerprint in a bounded LRU cache.
func (p *Provider) CountTokens(req *adapter.Request) (int, error) {
	key := adapter.RequestFingerprint(req)
	if n, ok := p.cache.Get(key); ok {
		return n, nil
	}

	var total int
	if p.enc != nil {
		for _, m := range req.Messages {
			total += len(p.enc.Encode(m.TextContent(), nil, nil)) + 4 // role/name overhead
		}
		for _, t := range req.Tools {
			total += len(p.enc.Encode(t.Name+t.Description, nil, nil))
		}
	} else {
		total = adapter.CharHeuristicTokens(req, 4.0)
	}

	p.cache.Put(key, total)
	return total, nil
}

func stripProviderPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
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
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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

// GenerateStream implements adapter.Provider with SSE streaming.
func (p *Provider) GenerateStream(ctx context.Context, req *adapter.Request, deltaCh chan<- adapter.StreamChunk) (*adapter.Response, error) {
	apiReq := p.buildAPIRequest(req)

	streamBody := StreamRequest{
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
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
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
			p.logger.Info("context cancelled, force-closing SSE stream", zap.Error(ctx.Err()))
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	result, err := ParseSSEStream(ctx, resp.Body, deltaCh, p.logger)
	close(streamDone)
	return result, err
}

// acquireClient borrows a pooled client scoped to baseURL when a pool is
// configured, otherwise returns the provider's private client.
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

// --- Internal conversion methods ---

func (p *Provider) buildAPIRequest(req *adapter.Request) *Request {
	model := stripProviderPrefix(req.Model)

	apiReq := &Request{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, msg := range req.Messages {
		apiMsg := Message{
			Role:       msg.Role,
			Content:    msg.TextContent(),
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}

		for _, tc := range msg.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: ToolCallFunc{
					Name:      tc.Name,
					Arguments: MarshalToolCallArgs(tc.Arguments),
				},
			})
		}

		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, td := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  ConvertSchema(td.Parameters),
			},
		})
	}

	return apiReq
}

func (p *Provider) parseAPIResponse(body []byte) (*adapter.Response, error) {
	var apiResp Response
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
