package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// fakeRunner replays one scripted chunk sequence per Run call.
type fakeRunner struct {
	chunks []*models.StreamChunk
	runs   int
	resets int
	input  string
}

func (r *fakeRunner) Run(ctx context.Context, input string) (<-chan *models.StreamChunk, error) {
	r.runs++
	r.input = input
	out := make(chan *models.StreamChunk, len(r.chunks))
	for _, chunk := range r.chunks {
		out <- chunk
	}
	close(out)
	return out, nil
}

func (r *fakeRunner) Reset() { r.resets++ }

func runAgentTool(t *testing.T, tool *AgentTool, args string) (string, error) {
	t.Helper()
	raw, err := tool.Execute(context.Background(), json.RawMessage(args))
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("result is not a JSON string: %s", raw)
	}
	return out, nil
}

func TestAgentTool_ReturnsFinalContent(t *testing.T) {
	runner := &fakeRunner{chunks: []*models.StreamChunk{
		models.ContentChunk("the answer"),
		models.DoneChunk("end_turn"),
	}}
	tool := NewAgentTool("researcher", "Delegates research.", runner, false)

	got, err := runAgentTool(t, tool, `{"task_input":"look this up"}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got != "the answer" {
		t.Errorf("Execute() = %q, want %q", got, "the answer")
	}
	if runner.input != "look this up" {
		t.Errorf("runner saw input %q", runner.input)
	}
	if runner.resets != 0 {
		t.Errorf("Reset() called %d times, want 0", runner.resets)
	}
}

func TestAgentTool_DiscardsPreToolCallContent(t *testing.T) {
	runner := &fakeRunner{chunks: []*models.StreamChunk{
		models.ContentChunk("thinking out loud"),
		models.ToolCallChunk(models.ToolCall{ID: "c1", Name: "echo"}),
		models.ToolResultChunk(models.ToolResult{ToolCallID: "c1", Name: "echo", Result: json.RawMessage(`{}`)}),
		models.ContentChunk("final summary"),
		models.DoneChunk("end_turn"),
	}}
	tool := NewAgentTool("worker", "Works.", runner, false)

	got, err := runAgentTool(t, tool, `{"task_input":"do it"}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got != "final summary" {
		t.Errorf("Execute() = %q, want only the closing turn", got)
	}
}

func TestAgentTool_ClearMemoryResetsBeforeRun(t *testing.T) {
	runner := &fakeRunner{chunks: []*models.StreamChunk{models.DoneChunk("end_turn")}}
	tool := NewAgentTool("fresh", "Fresh each time.", runner, true)

	if _, err := runAgentTool(t, tool, `{"task_input":"x"}`); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if runner.resets != 1 {
		t.Errorf("Reset() called %d times, want 1", runner.resets)
	}
}

func TestAgentTool_RejectsEmptyInput(t *testing.T) {
	tool := NewAgentTool("strict", "Strict.", &fakeRunner{}, false)
	if _, err := runAgentTool(t, tool, `{"task_input":"   "}`); err == nil {
		t.Error("Execute() with blank task_input succeeded, want error")
	}
	if _, err := runAgentTool(t, tool, `{bad json`); err == nil {
		t.Error("Execute() with invalid JSON succeeded, want error")
	}
}

func TestAgentTool_PermissionRequestFails(t *testing.T) {
	runner := &fakeRunner{chunks: []*models.StreamChunk{
		models.PermissionRequestChunk([]models.ToolCall{{ID: "c1", Name: "restart_server"}}),
		models.DoneChunk("permission_required"),
	}}
	tool := NewAgentTool("guarded", "Guarded.", runner, false)

	_, err := runAgentTool(t, tool, `{"task_input":"restart"}`)
	if err == nil {
		t.Fatal("Execute() with permission request succeeded, want error")
	}
	if !strings.Contains(err.Error(), "permission") {
		t.Errorf("error = %v, want permission explanation", err)
	}
}
