package ollama

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/modelgateway/core/internal/adapter"

	"go.uber.org/zap"
)

// toolCallPattern matches the "Tool call: name({...})" convention some
// small locally-served models fall back to when they have no native
// function-calling support. Arguments must be a single-line JSON object;
// multi-line tool_call code fences are handled separately below.
var toolCallPattern = regexp.MustCompile(`(?m)^\s*Tool call:\s*([a-zA-Z_][a-zA-Z0-9_.-]*)\((\{.*\})\)\s*$`)

// codeFencePattern matches the ```tool_call\n{...}\n``` convention.
var codeFencePattern = regexp.MustCompile("(?s)```tool_call\\s*\\n(.*?)\\n```")

// ParseToolCallsFromText extracts best-effort tool calls from a model's
// free-text response and returns the text with those calls stripped out.
// A call whose argument JSON fails to parse is dropped (logged at warn)
// rather than surfacing a malformed ToolCall to the router.
func ParseToolCallsFromText(text string, logger *zap.Logger) (string, []adapter.ToolCall) {
	var calls []adapter.ToolCall
	cleaned := text

	cleaned = toolCallPattern.ReplaceAllStringFunc(cleaned, func(match string) string {
		groups := toolCallPattern.FindStringSubmatch(match)
		if groups == nil {
			return ""
		}
		name, argsStr := groups[1], groups[2]
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
			logger.Warn("dropping unparseable text-convention tool call", zap.String("tool", name), zap.Error(err))
			return ""
		}
		calls = append(calls, adapter.ToolCall{
			ID:        fmt.Sprintf("tc_%d", len(calls)),
			Name:      name,
			Arguments: args,
		})
		return ""
	})

	cleaned = codeFencePattern.ReplaceAllStringFunc(cleaned, func(match string) string {
		groups := codeFencePattern.FindStringSubmatch(match)
		if groups == nil {
			return ""
		}
		var call struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(groups[1])), &call); err != nil {
			logger.Warn("dropping unparseable tool_call code fence", zap.Error(err))
			return ""
		}
		if call.Name == "" {
			return ""
		}
		calls = append(calls, adapter.ToolCall{
			ID:        fmt.Sprintf("tc_%d", len(calls)),
			Name:      call.Name,
			Arguments: call.Arguments,
		})
		return ""
	})

	return strings.TrimSpace(cleaned), calls
}
