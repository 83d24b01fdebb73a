// Package tools defines the tool contract, the registry that provider
// adapters export from, and the built-in tools shipped with the runtime.
package tools

import (
	"context"
	"encoding/json"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// Tool is one callable capability exposed to agents.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the tool
	// does. This helps the LLM decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON arguments. The arguments
	// match the schema returned by Schema(). Blocking work must honor ctx;
	// the executor enforces the per-call timeout through it.
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Runner is the slice of an agent instance that AgentTool needs: run a plain
// text input to completion, streaming chunks back. It is implemented by
// agent instances and kept minimal so this package does not depend on the
// agent loop.
type Runner interface {
	// Run streams one full reasoning run over the input.
	Run(ctx context.Context, input string) (<-chan *models.StreamChunk, error)

	// Reset clears conversational memory back to the seeded system prompt.
	Reset()
}
