package anthropic

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

	"go.uber.org/zap"
)

const anthropicVersion = "2023-06-01"

func init() {
	adapter.RegisterFactory("anthropic", func(cfg adapter.ProviderConfig, logger *zap.Logger) adapter.Provider {
		return New(cfg, logger, nil)
	})
}

var defaultContextLimits = map[string]int{
	"claude-3-5-sonnet-20241022": 200000,
	"claude-3-5-haiku-20241022":  200000,
	"claude-3-opus-20240229":     200000,
}

// Provider implements the Anthropic Messages API natively.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	pool    *pool.Pool
	logger  *zap.Logger
	cache   *adapter.TokenCache
}

// New creates an Anthropic API provider. If p is non-nil, outbound HTTP
// connections are borrowed from it instead of a private client.
func New(cfg adapter.ProviderConfig, logger *zap.Logger, p *pool.Pool) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	prov := &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		pool:    p,
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "anthropic")),
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
	return 200000 // Anthropic's current family-wide default
}

func (p *Provider) SupportsToolCalling() bool { return true }

func (p *Provider) ValidateConfig() error {
	if p.apiKey == "" {
		return fmt.Errorf("anthropic provider %q: missing API key", p.name)
	}
	return nil
}

// CountTokens applies the ≈3.5 chars-per-token heuristic documented for
// Anthropic, since no vendor tokenizer ships in the retrieval pack.
func (p *Provider) CountTokens(req *adapter.Request) (int, error) {
	key := adapter.RequestFingerprint(req)
	if n, ok := p.cache.Get(key); ok {
		return n, nil
	}
	total := adapter.CharHeuristicTokens(req, 3.5)
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

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(body))
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

// GenerateStream implements adapter.Provider with Anthropic's typed SSE stream.
func (p *Provider) GenerateStream(ctx context.Context, req *adapter.Request, deltaCh chan<- adapter.StreamChunk) (*adapter.Response, error) {
	apiReq := p.buildAPIRequest(req)
	apiReq.Stream = true

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(body))
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
			p.logger.Info("context cancelled, force-closing Anthropic SSE stream", zap.Error(ctx.Err()))
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	result, err := ParseSSEStream(ctx, resp.Body, deltaCh, p.logger)
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
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

func (p *Provider) buildAPIRequest(req *adapter.Request) *Request {
	model := req.Model
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}

	apiReq := &Request{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if apiReq.MaxTokens == 0 {
		apiReq.MaxTokens = 8192 // Anthropic requires explicit max_tokens
	}

	var messages []Message
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			apiReq.System = msg.Content

		case "assistant":
			var blocks []ContentBlock
			if msg.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, ContentBlock{
					Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments,
				})
			}
			if len(blocks) > 0 {
				messages = append(messages, Message{Role: "assistant", Content: blocks})
			}

		case "tool":
			messages = append(messages, Message{
				Role: "user",
				Content: []ContentBlock{{
					Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content,
				}},
			})

		default: // user
			messages = append(messages, Message{
				Role:    "user",
				Content: []ContentBlock{{Type: "text", Text: msg.TextContent()}},
			})
		}
	}
	apiReq.Messages = messages

	for _, td := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Name: td.Name, Description: td.Description, InputSchema: ConvertSchema(td.Parameters),
		})
	}

	return apiReq
}

func (p *Provider) parseAPIResponse(body []byte) (*adapter.Response, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse Anthropic response: %w", err)
	}

	resp := &adapter.Response{
		ModelUsed:    apiResp.Model,
		TokensUsed:   apiResp.Usage.Total(),
		FinishReason: apiResp.StopReason,
	}

	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, adapter.ToolCall{
				ID: block.ID, Name: block.Name, Arguments: block.Input,
			})
		}
	}

	return resp, nil
}
