package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/AtharvJoshigit/valuablehelper/internal/observability"
	"github.com/AtharvJoshigit/valuablehelper/internal/tools"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

const (
	// DefaultToolTimeout bounds a single tool call.
	DefaultToolTimeout = 300 * time.Second

	// DefaultMaxConcurrency caps tool calls in flight per executor.
	DefaultMaxConcurrency = 8

	// eventResultLimit truncates results embedded in lifecycle events so a
	// verbose tool cannot flood the bus.
	eventResultLimit = 500
)

// Publisher is the slice of the event bus the executor needs.
type Publisher interface {
	Publish(ctx context.Context, ev *models.Event)
}

// Guardrails post-filters tool execution: an optional allow-list of tool
// names and a cap on string result length.
type Guardrails struct {
	// AllowedTools, when non-empty, is the only set of executable tools.
	AllowedTools []string

	// MaxResultLength truncates string results beyond this many runes.
	// 0 disables truncation.
	MaxResultLength int
}

func (g Guardrails) allows(name string) bool {
	if len(g.AllowedTools) == 0 {
		return true
	}
	for _, allowed := range g.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}

// ExecutorConfig configures the tool execution engine.
type ExecutorConfig struct {
	Timeout        time.Duration
	MaxConcurrency int
	Guardrails     Guardrails

	// ValidateArgs checks call arguments against the tool schema before
	// dispatch; a validation failure becomes a tool error result.
	ValidateArgs bool
}

// Executor runs tool call batches concurrently with per-call timeouts and
// lifecycle events. Every input call produces exactly one result at the
// same index, whatever happens inside the tool.
type Executor struct {
	registry *tools.Registry
	bus      Publisher
	metrics  *observability.Metrics
	logger   *slog.Logger
	config   ExecutorConfig

	sem chan struct{}
}

// NewExecutor creates an executor over the registry. bus and metrics may
// be nil; events and metrics are then skipped.
func NewExecutor(registry *tools.Registry, bus Publisher, metrics *observability.Metrics, logger *slog.Logger, config ExecutorConfig) *Executor {
	if config.Timeout <= 0 {
		config.Timeout = DefaultToolTimeout
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// ExecuteBatch runs all calls concurrently and returns one result per call
// in input index order. Results never go missing: timeouts, panics, and
// unknown tools all land as error results at their slot.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(slot int, call models.ToolCall) {
			defer wg.Done()

			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				results[slot] = e.failResult(ctx, call, ctx.Err().Error(), "error", 0)
				return
			}

			results[slot] = e.executeOne(ctx, call)
		}(i, call)
	}

	wg.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	e.publish(ctx, models.NewEvent(models.EventToolExecutionStarted, map[string]any{
		"tool_call_id": call.ID,
		"tool_name":    call.Name,
		"arguments":    string(call.Arguments),
	}))

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return e.failResult(ctx, call, fmt.Sprintf("unknown tool: %s", call.Name), "error", time.Since(start).Seconds())
	}
	if !e.config.Guardrails.allows(call.Name) {
		return e.failResult(ctx, call, fmt.Sprintf("tool %s is not allowed", call.Name), "denied", time.Since(start).Seconds())
	}
	if e.config.ValidateArgs {
		if err := e.registry.ValidateArgs(call.Name, call.Arguments); err != nil {
			return e.failResult(ctx, call, err.Error(), "error", time.Since(start).Seconds())
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	// Run the tool on its own goroutine so a blocking tool that ignores
	// its context cannot stall the batch; on timeout the invocation is
	// abandoned and the goroutine drains into the buffered channel.
	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.logger.Error("tool panicked",
					"tool", call.Name,
					"panic", rec,
					"stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		result, err := tool.Execute(callCtx, call.Arguments)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		elapsed := time.Since(start).Seconds()
		if ctx.Err() != nil {
			return e.failResult(ctx, call, "execution cancelled", "error", elapsed)
		}
		return e.failResult(ctx, call, fmt.Sprintf("tool %s timed out after %s", call.Name, e.config.Timeout), "timeout", elapsed)

	case out := <-done:
		elapsed := time.Since(start).Seconds()
		if out.err != nil {
			return e.failResult(ctx, call, out.err.Error(), "error", elapsed)
		}

		result := e.applyResultCap(out.result)
		if e.metrics != nil {
			e.metrics.RecordToolExecution(call.Name, "success", elapsed)
		}
		e.publish(ctx, models.NewEvent(models.EventToolExecutionCompleted, map[string]any{
			"tool_call_id": call.ID,
			"tool_name":    call.Name,
			"result":       truncateRunes(string(result), eventResultLimit),
		}))
		return models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Result:     result,
		}
	}
}

func (e *Executor) failResult(ctx context.Context, call models.ToolCall, message, status string, elapsed float64) models.ToolResult {
	if e.metrics != nil {
		e.metrics.RecordToolExecution(call.Name, status, elapsed)
	}
	e.publish(ctx, models.NewEvent(models.EventToolExecutionFailed, map[string]any{
		"tool_call_id": call.ID,
		"tool_name":    call.Name,
		"error":        message,
	}))
	e.logger.Warn("tool execution failed",
		"tool", call.Name, "call_id", call.ID, "status", status, "error", message)
	return models.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Error:      message,
	}
}

// applyResultCap enforces the guardrail length limit on string results.
// Non-string JSON passes through untouched.
func (e *Executor) applyResultCap(result json.RawMessage) json.RawMessage {
	limit := e.config.Guardrails.MaxResultLength
	if limit <= 0 || len(result) == 0 {
		return result
	}

	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return result
	}
	truncated := truncateRunes(s, limit)
	if truncated == s {
		return result
	}
	capped, err := json.Marshal(truncated)
	if err != nil {
		return result
	}
	return capped
}

func (e *Executor) publish(ctx context.Context, ev *models.Event) {
	if e.bus != nil {
		e.bus.Publish(ctx, ev)
	}
}

// truncateRunes shortens s to at most limit runes, appending a marker when
// anything was cut. Rune-safe so multibyte text never splits mid-character.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "… [truncated]"
}
