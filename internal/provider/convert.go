package provider

import (
	"encoding/json"
	"strings"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// errorChunk builds a failure terminator. A unified stream has no error
// slot, so failures travel as the final chunk with FinishReason
// models.FinishError; the agent loop converts them back to typed errors.
func errorChunk(err error) *models.StreamChunk {
	chunk := models.DoneChunk(models.FinishError)
	chunk.Content = err.Error()
	return chunk
}

// normalizeToolInput turns partial or empty streamed tool-argument JSON
// into a valid object document. Providers stream tool inputs as fragments;
// an empty accumulation means "no arguments".
func normalizeToolInput(input string) json.RawMessage {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(trimmed)
}

// toolResultText renders a tool result for providers that expect plain
// text blocks. Errors take priority over payloads.
func toolResultText(tr models.ToolResult) string {
	if tr.Error != "" {
		return tr.Error
	}
	if len(tr.Result) == 0 {
		return ""
	}
	// Unquote bare JSON strings so the model sees clean text.
	var s string
	if err := json.Unmarshal(tr.Result, &s); err == nil {
		return s
	}
	return string(tr.Result)
}
