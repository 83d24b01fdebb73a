package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// AgentTool exposes a sub-agent as a callable tool. The parent agent hands
// it a single task_input string; the sub-agent runs to completion and the
// final assistant content comes back as the tool result.
type AgentTool struct {
	name        string
	description string
	runner      Runner

	// clearMemory resets the sub-agent before every invocation so parallel
	// tasks do not bleed context into each other.
	clearMemory bool
}

type agentToolArgs struct {
	TaskInput string `json:"task_input"`
}

// NewAgentTool wraps a runner as a tool.
func NewAgentTool(name, description string, runner Runner, clearMemory bool) *AgentTool {
	return &AgentTool{
		name:        name,
		description: description,
		runner:      runner,
		clearMemory: clearMemory,
	}
}

func (t *AgentTool) Name() string { return t.name }

func (t *AgentTool) Description() string { return t.description }

func (t *AgentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_input": {
				"type": "string",
				"description": "The task or question to delegate to this agent."
			}
		},
		"required": ["task_input"]
	}`)
}

// Execute runs the sub-agent over task_input and returns its final content.
// Content streamed before an intermediate tool round is discarded; only the
// closing assistant turn survives.
func (t *AgentTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input agentToolArgs
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid task_input: %w", err)
	}
	if strings.TrimSpace(input.TaskInput) == "" {
		return nil, fmt.Errorf("task_input is required")
	}

	if t.clearMemory {
		t.runner.Reset()
	}

	chunks, err := t.runner.Run(ctx, input.TaskInput)
	if err != nil {
		return nil, err
	}

	var final strings.Builder
	for chunk := range chunks {
		switch chunk.Kind() {
		case models.ChunkContent:
			final.WriteString(chunk.Content)
		case models.ChunkToolCall, models.ChunkToolResult:
			// An intermediate round: whatever was streamed so far is
			// reasoning, not the answer.
			final.Reset()
		case models.ChunkPermissionRequest:
			return nil, fmt.Errorf("sub-agent %q requested permission for a sensitive tool; delegated runs cannot prompt the user", t.name)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(final.String())
}
