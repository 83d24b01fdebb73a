package models

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents an LLM's request to execute a tool.
// ID is unique within a single assistant turn; providers that omit it get a
// synthesized one before dispatch.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of exactly one prior ToolCall.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// IsError reports whether the result carries an error instead of a payload.
func (r ToolResult) IsError() bool {
	return r.Error != ""
}

// Message is one entry in an agent's conversation history.
//
// Invariants: assistant messages may carry tool_calls and/or content; tool
// messages carry only tool_results and immediately follow the assistant
// message whose tool_calls they satisfy, in matching order; system messages
// appear only at the head of history.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message carrying content and any tool
// calls accumulated during the turn.
func AssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage builds a tool message answering a prior assistant turn.
func ToolMessage(results []ToolResult) Message {
	return Message{Role: RoleTool, ToolResults: results}
}

// NewToolCallID returns a stable short identifier for a tool call whose
// provider omitted one.
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
