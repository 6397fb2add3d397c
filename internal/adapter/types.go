package adapter

import (
	"context"
	"strings"
)

// ToolCall is a single invocation of a tool, either requested by the
// model (in a Response/StreamChunk) or supplied back as history (in a
// Message with role "tool").
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ContentPart is one fragment of a multimodal message.
type ContentPart struct {
	Type     string `json:"type"` // "text", "image", "audio", "file"
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// Message is the universal conversation turn every provider adapter
// translates to and from its own wire format.
type Message struct {
	Role       string        `json:"role"` // "system", "user", "assistant", "tool"
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// TextContent returns all text content, joining text parts or falling
// back to Content.
func (m *Message) TextContent() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 0 {
		return m.Content
	}
	return strings.Join(texts, "\n")
}

// HasMedia reports whether the message carries non-text content.
func (m *Message) HasMedia() bool {
	for _, p := range m.Parts {
		if p.Type != "text" {
			return true
		}
	}
	return false
}

// ToolDefinition is the universal tool schema adapters translate into
// provider-specific shapes (Anthropic's input_schema, OpenAI's function
// spec, Ollama's text preamble). Round-tripping universal → provider →
// universal preserves Name, Description, and Parameters["properties"];
// a missing Parameters["required"] round-trips as an empty list.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is the universal generation request passed to every adapter.
type Request struct {
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
}

// Response is the universal generation result.
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	ModelUsed    string     `json:"model_used"`
	TokensUsed   int        `json:"tokens_used"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// StreamChunk is a single delta from a streaming generation. Exactly one
// terminal chunk is emitted per stream: either a FinishReason-bearing
// chunk or an Error. No ToolCall chunk carries an empty Name.
type StreamChunk struct {
	DeltaText     string    `json:"delta_text,omitempty"`
	DeltaToolCall *ToolCall `json:"delta_tool_call,omitempty"`
	FinishReason  string    `json:"finish_reason,omitempty"`
	Usage         int       `json:"usage,omitempty"`
	Error         error     `json:"-"`
}

// Provider is the capability set every adapter implements: request
// translation, streaming decode, and vendor-aware token counting.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Models returns the list of explicitly configured model identifiers.
	// An empty list means the provider accepts any model name.
	Models() []string

	// SupportsModel reports whether model is servable by this provider.
	SupportsModel(model string) bool

	// IsAvailable reports whether the provider is currently usable
	// (e.g. has a credential configured).
	IsAvailable(ctx context.Context) bool

	// ContextLimit returns the provider's maximum context window in
	// tokens for the given model, or 0 if unknown.
	ContextLimit(model string) int

	// SupportsToolCalling reports whether this provider can accept tool
	// definitions at all.
	SupportsToolCalling() bool

	// ValidateConfig checks the provider's own configuration (credential
	// presence, base URL shape) independent of any particular request.
	ValidateConfig() error

	// CountTokens estimates or exactly computes the token count of req,
	// using a vendor tokenizer where available.
	CountTokens(req *Request) (int, error)

	// Generate sends req and returns the full response.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GenerateStream sends req and streams back partial responses over
	// deltaCh, which is drained (not closed) by the adapter; the adapter
	// returns the final accumulated Response once the stream ends.
	GenerateStream(ctx context.Context, req *Request, deltaCh chan<- StreamChunk) (*Response, error)
}
