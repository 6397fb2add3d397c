package gemini

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

func init() {
	adapter.RegisterFactory("gemini", func(cfg adapter.ProviderConfig, logger *zap.Logger) adapter.Provider {
		return New(cfg, logger, nil)
	})
}

var defaultContextLimits = map[string]int{
	"gemini-1.5-pro":   2000000,
	"gemini-1.5-flash": 1000000,
	"gemini-2.0-flash": 1000000,
}

// Provider implements the Google Gemini API natively.
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

// New creates a Google Gemini API provider. If p is non-nil, outbound
// HTTP connections are borrowed from it instead of a private client.
func New(cfg adapter.ProviderConfig, logger *zap.Logger, p *pool.Pool) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	prov := &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		pool:    p,
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "gemini")),
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
	if limit, ok := defaultContextLimits[p.stripPrefix(model)]; ok {
		return limit
	}
	return 0
}

func (p *Provider) SupportsToolCalling() bool { return true }

func (p *Provider) ValidateConfig() error {
	if p.apiKey == "" {
		return fmt.Errorf("gemini provider %q: missing API key", p.name)
	}
	return nil
}

// CountTokens uses a char-per-token heuristic; no vendor tokenizer for
// Gemini is available in the retrieval pack, so this falls back to the
// same class of estimate spec.md prescribes for Ollama/Anthropic.
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
	model := p.stripPrefix(req.Model)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
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

	return p.parseAPIResponse(respBody)
}

// GenerateStream implements adapter.Provider with Gemini SSE streaming.
func (p *Provider) GenerateStream(ctx context.Context, req *adapter.Request, deltaCh chan<- adapter.StreamChunk) (*adapter.Response, error) {
	apiReq := p.buildAPIRequest(req)
	model := p.stripPrefix(req.Model)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
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
			p.logger.Info("context cancelled, force-closing Gemini SSE stream", zap.Error(ctx.Err()))
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

func (p *Provider) stripPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

func (p *Provider) buildAPIRequest(req *adapter.Request) *Request {
	apiReq := &Request{
		GenerationConfig: &GenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			apiReq.SystemInstruction = &Content{Parts: []Part{{Text: msg.Content}}}

		case "assistant":
			content := Content{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content.Parts = append(content.Parts, Part{
					FunctionCall: &FunctionCall{Name: tc.Name, Args: tc.Arguments},
				})
			}
			if len(content.Parts) > 0 {
				apiReq.Contents = append(apiReq.Contents, content)
			}

		case "tool":
			result := map[string]interface{}{"output": msg.Content}
			apiReq.Contents = append(apiReq.Contents, Content{
				Role: "user",
				Parts: []Part{{
					FunctionResponse: &FunctionResponse{Name: msg.Name, Response: result},
				}},
			})

		default: // user
			apiReq.Contents = append(apiReq.Contents, Content{
				Role:  "user",
				Parts: []Part{{Text: msg.TextContent()}},
			})
		}
	}

	if len(req.Tools) > 0 {
		var decls []FunctionDeclarationSpec
		for _, td := range req.Tools {
			decls = append(decls, FunctionDeclarationSpec{
				Name: td.Name, Description: td.Description, Parameters: ConvertSchema(td.Parameters),
			})
		}
		apiReq.Tools = []ToolDeclaration{{FunctionDeclarations: decls}}
	}

	return apiReq
}

func (p *Provider) parseAPIResponse(body []byte) (*adapter.Response, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse Gemini response: %w", err)
	}

	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("empty Gemini response: no candidates")
	}

	candidate := apiResp.Candidates[0]
	resp := &adapter.Response{
		ModelUsed:    apiResp.ModelVersion,
		FinishReason: candidate.FinishReason,
	}
	if apiResp.UsageMetadata != nil {
		resp.TokensUsed = apiResp.UsageMetadata.Total()
	}

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			resp.Content += part.Text
		}
		if part.FunctionCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, adapter.ToolCall{
				ID:        fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, len(resp.ToolCalls)),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}

	return resp, nil
}
