package agent

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/AtharvJoshigit/valuablehelper/internal/observability"
	"github.com/AtharvJoshigit/valuablehelper/internal/provider"
	"github.com/AtharvJoshigit/valuablehelper/internal/tools"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// DefaultMaxSteps bounds reasoning iterations when the config leaves
// MaxSteps unset.
const DefaultMaxSteps = 25

// Instance is one named agent: a config, a memory log, a tool registry,
// and the provider it reasons with. The streaming loop is not safe to
// invoke concurrently on the same instance; Run rejects overlapping calls.
type Instance struct {
	ID       string
	Config   models.AgentConfig
	Registry *tools.Registry

	provider provider.Provider
	executor *Executor
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	memory   *Memory
	pending  []models.ToolCall
	metadata map[string]any
	running  bool
}

// InstanceOptions carries the optional collaborators of a new instance.
type InstanceOptions struct {
	// Memory reuses an existing log instead of creating a fresh one.
	Memory *Memory

	// MaxMessages caps a freshly created memory; ignored when Memory is set.
	MaxMessages int

	// CompactTail is the number of trailing messages kept verbatim when
	// an over-limit memory is compacted into a checkpoint; 0 disables
	// compaction and retention falls back to plain trimming.
	CompactTail int

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewInstance constructs an agent. When no memory is supplied the agent
// creates its own, seeded with the config's system prompt.
func NewInstance(id string, cfg models.AgentConfig, p provider.Provider, registry *tools.Registry, executor *Executor, opts InstanceOptions) (*Instance, error) {
	if id == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if p == nil {
		return nil, fmt.Errorf("agent %s: provider is required", id)
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}

	memory := opts.Memory
	if memory == nil {
		memory = NewMemory(opts.MaxMessages)
		memory.SetCompactTail(opts.CompactTail)
		if cfg.SystemPrompt != "" {
			memory.Add(models.SystemMessage(cfg.SystemPrompt))
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Instance{
		ID:       id,
		Config:   cfg,
		Registry: registry,
		provider: p,
		executor: executor,
		logger:   logger.With("agent_id", id),
		metrics:  opts.Metrics,
		memory:   memory,
		metadata: make(map[string]any),
	}, nil
}

// Memory returns the instance's current message log.
func (a *Instance) Memory() *Memory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memory
}

// SetMemory rebinds the instance to another log. Used by the manager's
// transfer operation; atomic under the instance lock.
func (a *Instance) SetMemory(m *Memory) {
	if m == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory = m
}

// Reset clears conversational memory back to the seeded system prompt and
// drops any pending permission request.
func (a *Instance) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = nil
	a.memory.Clear(true)
	if a.memory.Len() == 0 && a.Config.SystemPrompt != "" {
		a.memory.Add(models.SystemMessage(a.Config.SystemPrompt))
	}
}

// PendingToolCalls returns a copy of the calls awaiting approval; non-empty
// exactly while the last run ended in a permission request.
func (a *Instance) PendingToolCalls() []models.ToolCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.ToolCall(nil), a.pending...)
}

// Suspended reports whether the instance awaits a permission decision.
func (a *Instance) Suspended() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending) > 0
}

// Metadata returns a copy of the instance metadata.
func (a *Instance) Metadata() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.metadata))
	for k, v := range a.metadata {
		out[k] = v
	}
	return out
}

// SetMetadata records one metadata entry.
func (a *Instance) SetMetadata(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadata[key] = value
}

func (a *Instance) recordRun(outcome string) {
	if a.metrics != nil {
		a.metrics.RecordAgentRun(a.ID, outcome)
	}
}
