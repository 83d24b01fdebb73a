package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AtharvJoshigit/valuablehelper/internal/provider"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// approvalTokens are the inputs that grant a pending permission request,
// matched case-insensitively after trimming.
var approvalTokens = map[string]bool{
	"yes":     true,
	"y":       true,
	"approve": true,
	"confirm": true,
}

// Run executes one reasoning run over the input and streams chunks until
// the turn completes, suspends for permission, or fails. The returned
// channel is closed by the loop goroutine; the terminator chunk's
// FinishReason tells the caller how the run ended.
//
// When the previous run suspended on a permission request, input is
// interpreted as the approval token instead of conversation: approval
// executes the pending batch, anything else denies it. Either way the
// pending set is cleared and no user message is appended.
func (a *Instance) Run(ctx context.Context, input string) (<-chan *models.StreamChunk, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, fmt.Errorf("agent %s: run already in progress", a.ID)
	}
	a.running = true
	pending := a.pending
	a.pending = nil
	memory := a.memory
	a.mu.Unlock()

	runID := uuid.NewString()[:8]
	logger := a.logger.With("run_id", runID)

	out := make(chan *models.StreamChunk)
	go func() {
		defer close(out)
		defer func() {
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
		}()

		state := &runState{
			instance: a,
			memory:   memory,
			out:      out,
			runID:    runID,
			logger:   logger,
		}

		if err := state.run(ctx, input, pending); err != nil {
			logger.Error("agent run failed", "error", err)
			switch {
			case IsMaxSteps(err):
				a.recordRun("max_steps")
			default:
				a.recordRun("error")
			}
			return
		}
		a.recordRun("completed")
	}()
	return out, nil
}

// runState carries one run's working set through the loop phases.
type runState struct {
	instance *Instance
	memory   *Memory
	out      chan<- *models.StreamChunk
	runID    string
	logger   *slog.Logger
}

func (s *runState) run(ctx context.Context, input string, pending []models.ToolCall) error {
	if len(pending) > 0 {
		resumed, err := s.resolvePermission(ctx, input, pending)
		if err != nil || !resumed {
			return err
		}
	} else {
		s.memory.Add(models.UserMessage(input))
	}
	return s.stepLoop(ctx)
}

// resolvePermission handles the HITL resume. It returns false when the run
// ended inside (cancelled mid-resume); true means the step loop continues.
func (s *runState) resolvePermission(ctx context.Context, input string, pending []models.ToolCall) (bool, error) {
	approved := approvalTokens[strings.ToLower(strings.TrimSpace(input))]

	if approved {
		if !s.emit(ctx, models.ContentChunk(fmt.Sprintf(
			"✅ Permission granted — executing %d tool call(s).\n", len(pending)))) {
			return false, ctx.Err()
		}
		results := s.instance.executor.ExecuteBatch(ctx, pending)
		for _, result := range results {
			if !s.emit(ctx, models.ToolResultChunk(result)) {
				return false, ctx.Err()
			}
		}
		s.memory.Add(models.ToolMessage(results))
		return true, nil
	}

	if !s.emit(ctx, models.ContentChunk(
		"❌ Permission denied — the requested tools were not executed.\n")) {
		return false, ctx.Err()
	}
	results := make([]models.ToolResult, len(pending))
	for i, call := range pending {
		results[i] = models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Error:      fmt.Sprintf("user denied permission; input: %s", input),
		}
	}
	s.memory.Add(models.ToolMessage(results))
	return true, nil
}

// stepLoop drives provider turns until the model stops calling tools, the
// step budget runs out, or a sensitive call suspends the run.
func (s *runState) stepLoop(ctx context.Context) error {
	cfg := s.instance.Config

	for step := 0; step < cfg.MaxSteps; step++ {
		content, toolCalls, err := s.streamTurn(ctx)
		if err != nil {
			s.emit(ctx, s.errorTerminator(err))
			return &AgentError{AgentID: s.instance.ID, RunID: s.runID, Cause: err}
		}

		if len(toolCalls) == 0 {
			s.memory.Add(models.AssistantMessage(content, nil))
			s.emit(ctx, models.DoneChunk(models.FinishEndTurn))
			return nil
		}

		provider.EnsureToolCallIDs(toolCalls)
		s.memory.Add(models.AssistantMessage(content, toolCalls))

		if sensitive := s.sensitiveCalls(toolCalls); len(sensitive) > 0 {
			s.logger.Debug("suspending for permission",
				"sensitive", len(sensitive), "pending", len(toolCalls))
			s.instance.mu.Lock()
			s.instance.pending = toolCalls
			s.instance.mu.Unlock()
			s.emit(ctx, models.PermissionRequestChunk(toolCalls))
			s.emit(ctx, models.DoneChunk(models.FinishPermission))
			s.instance.recordRun("suspended")
			return nil
		}

		results := s.instance.executor.ExecuteBatch(ctx, toolCalls)
		s.logger.Debug("tool batch executed", "step", step, "calls", len(results))
		for _, result := range results {
			if !s.emit(ctx, models.ToolResultChunk(result)) {
				return ctx.Err()
			}
		}
		s.memory.Add(models.ToolMessage(results))
	}

	s.emit(ctx, models.ContentChunk(fmt.Sprintf(
		"\n⚠️ Stopping: reached the maximum of %d reasoning steps.", cfg.MaxSteps)))
	s.emit(ctx, models.DoneChunk(models.FinishMaxSteps))
	return &AgentError{AgentID: s.instance.ID, RunID: s.runID, Cause: ErrMaxSteps}
}

// streamTurn runs one provider turn, forwarding content and tool_call
// chunks while accumulating them for the memory update.
func (s *runState) streamTurn(ctx context.Context) (string, []models.ToolCall, error) {
	cfg := s.instance.Config
	req := &provider.Request{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		History:      s.memory.All(),
		Tools:        s.instance.Registry.Export(),
		Temperature:  cfg.Temperature,
		TopP:         cfg.TopP,
		TopK:         cfg.TopK,
		MaxTokens:    cfg.MaxTokens,
	}

	start := time.Now()
	chunks, err := s.instance.provider.Stream(ctx, req)
	if err != nil {
		s.recordLLM(cfg, "error", start, nil)
		return "", nil, err
	}

	var content strings.Builder
	var toolCalls []models.ToolCall
	for {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				s.recordLLM(cfg, "success", start, nil)
				return content.String(), toolCalls, nil
			}
			if chunk.FinishReason == models.FinishError {
				s.recordLLM(cfg, "error", start, chunk.Usage)
				return "", nil, fmt.Errorf("provider stream failed: %s", chunk.Content)
			}
			if chunk.Content != "" && !chunk.Done() {
				content.WriteString(chunk.Content)
				if !s.emit(ctx, models.ContentChunk(chunk.Content)) {
					return "", nil, ctx.Err()
				}
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
				if !s.emit(ctx, models.ToolCallChunk(*chunk.ToolCall)) {
					return "", nil, ctx.Err()
				}
			}
			if chunk.Done() {
				s.recordLLM(cfg, "success", start, chunk.Usage)
				// Drain remaining chunks; adapters close right after the
				// terminator.
				for range chunks {
				}
				return content.String(), toolCalls, nil
			}
		}
	}
}

func (s *runState) recordLLM(cfg models.AgentConfig, status string, start time.Time, usage *models.UsageMetadata) {
	if s.instance.metrics == nil {
		return
	}
	in, out := 0, 0
	if usage != nil {
		in, out = usage.InputTokens, usage.OutputTokens
	}
	s.instance.metrics.RecordLLMRequest(
		s.instance.provider.Name(), cfg.Model, status,
		time.Since(start).Seconds(), in, out)
}

func (s *runState) sensitiveCalls(calls []models.ToolCall) []models.ToolCall {
	var sensitive []models.ToolCall
	for _, call := range calls {
		if s.instance.Config.IsSensitive(call.Name) {
			sensitive = append(sensitive, call)
		}
	}
	return sensitive
}

func (s *runState) errorTerminator(err error) *models.StreamChunk {
	chunk := models.DoneChunk(models.FinishError)
	chunk.Content = fmt.Sprintf("\n🛑 Agent error: %v", err)
	return chunk
}

func (s *runState) emit(ctx context.Context, chunk *models.StreamChunk) bool {
	select {
	case s.out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
