package models

// ChunkKind identifies the active payload of a StreamChunk.
type ChunkKind string

const (
	ChunkContent           ChunkKind = "content"
	ChunkToolCall          ChunkKind = "tool_call"
	ChunkToolResult        ChunkKind = "tool_result"
	ChunkPermissionRequest ChunkKind = "permission_request"
	ChunkUsage             ChunkKind = "usage"
)

// Finish reasons set on terminator chunks. Provider adapters may emit
// vendor-specific reasons for normal completion; the agent loop emits these.
const (
	// FinishEndTurn marks a successfully completed run.
	FinishEndTurn = "end_turn"

	// FinishMaxSteps marks a run that exhausted its step budget.
	FinishMaxSteps = "max_steps"

	// FinishPermission marks a run suspended awaiting user approval.
	FinishPermission = "permission_required"

	// FinishError marks a failed run or stream; Content carries the error.
	FinishError = "error"
)

// UsageMetadata carries token accounting for a provider turn.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamChunk is one element of an agent or provider stream. Exactly one of
// the payload fields is meaningful per chunk; Usage may piggyback on any
// chunk. FinishReason is set on the stream's terminator chunk.
type StreamChunk struct {
	Content           string         `json:"content,omitempty"`
	ToolCall          *ToolCall      `json:"tool_call,omitempty"`
	ToolResult        *ToolResult    `json:"tool_result,omitempty"`
	PermissionRequest []ToolCall     `json:"permission_request,omitempty"`
	Usage             *UsageMetadata `json:"usage,omitempty"`
	FinishReason      string         `json:"finish_reason,omitempty"`
}

// Kind returns the active payload variant, checked in payload order. A chunk
// with no payload and a finish reason is a usage/terminator chunk.
func (c *StreamChunk) Kind() ChunkKind {
	switch {
	case c.ToolCall != nil:
		return ChunkToolCall
	case c.ToolResult != nil:
		return ChunkToolResult
	case len(c.PermissionRequest) > 0:
		return ChunkPermissionRequest
	case c.Content != "":
		return ChunkContent
	default:
		return ChunkUsage
	}
}

// Done reports whether the chunk terminates its stream.
func (c *StreamChunk) Done() bool {
	return c.FinishReason != ""
}

// ContentChunk builds a content chunk.
func ContentChunk(text string) *StreamChunk {
	return &StreamChunk{Content: text}
}

// ToolCallChunk builds a tool_call chunk.
func ToolCallChunk(call ToolCall) *StreamChunk {
	return &StreamChunk{ToolCall: &call}
}

// ToolResultChunk builds a tool_result chunk.
func ToolResultChunk(result ToolResult) *StreamChunk {
	return &StreamChunk{ToolResult: &result}
}

// PermissionRequestChunk builds a permission_request chunk carrying the
// sensitive calls awaiting approval.
func PermissionRequestChunk(calls []ToolCall) *StreamChunk {
	return &StreamChunk{PermissionRequest: calls}
}

// DoneChunk builds a terminator chunk with the given finish reason.
func DoneChunk(reason string) *StreamChunk {
	return &StreamChunk{FinishReason: reason}
}
