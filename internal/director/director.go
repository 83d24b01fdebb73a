// Package director drives the task graph: it watches task lifecycle
// events, feeds runnable tasks to agents, and polices stuck runs with a
// watchdog.
package director

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/AtharvJoshigit/valuablehelper/internal/bus"
	"github.com/AtharvJoshigit/valuablehelper/internal/observability"
	"github.com/AtharvJoshigit/valuablehelper/internal/tasks"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// Defaults for the scheduling and watchdog knobs.
const (
	DefaultMaxConcurrent     = 1
	DefaultWatchdogInterval  = 45 * time.Second
	DefaultInactivityTimeout = 240 * time.Second
	DefaultMaxTotalTime      = 900 * time.Second
	DefaultMaxToolCalls      = 100
	DefaultAgentID           = "planner"
)

// AgentRunner is the slice of an agent instance the director needs.
type AgentRunner interface {
	Run(ctx context.Context, input string) (<-chan *models.StreamChunk, error)
}

// AgentResolver maps a task's assignee to a runnable agent. An empty id
// asks for the default planner agent.
type AgentResolver func(agentID string) (AgentRunner, error)

// Config carries the director's scheduling and watchdog knobs.
type Config struct {
	// MaxConcurrent is K, the number of tasks driven at once.
	MaxConcurrent int

	// WatchdogInterval is how often stuck-run checks fire.
	WatchdogInterval time.Duration

	// InactivityTimeout blocks a task whose run produced no chunk for
	// this long.
	InactivityTimeout time.Duration

	// MaxTotalTime blocks a task whose run has been going this long.
	MaxTotalTime time.Duration

	// MaxToolCalls blocks a task whose run crossed this many tool calls.
	MaxToolCalls int

	// DefaultAgent serves tasks with no assignee.
	DefaultAgent string
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.MaxTotalTime <= 0 {
		c.MaxTotalTime = DefaultMaxTotalTime
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = DefaultMaxToolCalls
	}
	if c.DefaultAgent == "" {
		c.DefaultAgent = DefaultAgentID
	}
	return c
}

// Tracker is a snapshot of one in-flight task run.
type Tracker struct {
	TaskID       string    `json:"task_id"`
	AgentID      string    `json:"agent_id"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
	ToolCalls    int       `json:"tool_calls"`
}

// tracked is the mutable run state behind a Tracker snapshot. cancel tears
// down the run's context so the agent goroutine unwinds.
type tracked struct {
	Tracker
	cancel context.CancelFunc
}

// Options carries the director's optional collaborators.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Now     func() time.Time
}

// Director schedules runnable tasks onto agents, at most K at a time.
type Director struct {
	store   *tasks.Store
	events  *bus.EventBus
	resolve AgentResolver
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time

	mu       sync.Mutex
	trackers map[string]*tracked
	running  bool
	baseCtx  context.Context
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// New builds a director over the store and event bus. resolve must not be
// nil; everything in opts may be.
func New(store *tasks.Store, events *bus.EventBus, resolve AgentResolver, cfg Config, opts Options) *Director {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Director{
		store:    store,
		events:   events,
		resolve:  resolve,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "director"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		now:      now,
		trackers: make(map[string]*tracked),
	}
}

// Start recovers zombie tasks, subscribes to task lifecycle events, starts
// the watchdog, and kicks the first queue pass. It is not blocking.
func (d *Director) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("director already started")
	}
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.running = true
	d.baseCtx = baseCtx
	d.cancel = cancel
	d.mu.Unlock()

	d.recoverZombies(ctx)

	for _, eventType := range []models.EventType{
		models.EventTaskCreated,
		models.EventTaskStatusChanged,
		models.EventTaskCompleted,
		models.EventTaskFailed,
	} {
		d.events.Subscribe(eventType, func(ctx context.Context, ev *models.Event) {
			d.onTaskEvent(ctx, ev)
		})
	}

	d.wg.Add(1)
	go d.watchdogLoop(baseCtx)

	d.ProcessQueue(baseCtx)
	return nil
}

// Stop cancels in-flight runs and waits for them up to ctx's deadline.
func (d *Director) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	for _, t := range d.trackers {
		t.cancel()
	}
	d.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("director shutdown: %w", ctx.Err())
	}
}

// Trackers returns snapshots of the in-flight runs, ordered by task id.
func (d *Director) Trackers() []Tracker {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Tracker, 0, len(d.trackers))
	for _, t := range d.trackers {
		out = append(out, t.Tracker)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// recoverZombies pauses in_progress tasks left over from a previous
// process; none of them can have a live tracker at startup.
func (d *Director) recoverZombies(ctx context.Context) {
	for _, task := range d.store.List(tasks.Filter{Status: models.TaskInProgress}) {
		id := task.ID
		if d.isTracked(id) {
			continue
		}
		_, err := d.store.Update(ctx, id, func(t *models.Task) {
			t.Status = models.TaskPaused
			if t.Context == nil {
				t.Context = map[string]any{}
			}
			t.Context["pause_reason"] = "system restart cleanup"
		})
		if err != nil {
			d.logger.Error("zombie recovery failed", "task_id", id, "error", err)
			continue
		}
		d.logger.Info("paused zombie task", "task_id", id)
	}
}

func (d *Director) onTaskEvent(ctx context.Context, ev *models.Event) {
	// Completion of a subtask may finish or block its parent even though
	// no run just exited for it.
	if ev.Type == models.EventTaskCompleted || ev.Type == models.EventTaskFailed {
		if task, _ := ev.Payload["task"].(*models.Task); task != nil && task.ParentID != "" {
			d.verifyAndCleanup(ctx, task.ParentID)
		}
	}
	d.ProcessQueue(ctx)
}

// ProcessQueue starts runs for runnable tasks until K is reached or the
// queue is empty. Safe to call from any goroutine.
func (d *Director) ProcessQueue(ctx context.Context) {
	for {
		d.mu.Lock()
		if !d.running || len(d.trackers) >= d.cfg.MaxConcurrent {
			d.mu.Unlock()
			return
		}
		next := d.store.NextRunnable()
		if next == nil {
			d.mu.Unlock()
			return
		}
		if _, dup := d.trackers[next.ID]; dup {
			d.mu.Unlock()
			return
		}

		agentID := next.AssignedTo
		if agentID == "" {
			agentID = d.cfg.DefaultAgent
		}
		runCtx, cancel := context.WithCancel(d.baseCtx)
		now := d.now().UTC()
		d.trackers[next.ID] = &tracked{
			Tracker: Tracker{
				TaskID:       next.ID,
				AgentID:      agentID,
				StartTime:    now,
				LastActivity: now,
			},
			cancel: cancel,
		}
		d.setGaugeLocked()
		d.mu.Unlock()

		d.wg.Add(1)
		go d.runTask(runCtx, next, agentID)
	}
}

// runTask drives one task through one agent run and settles the task's
// status from how the run ended.
func (d *Director) runTask(ctx context.Context, task *models.Task, agentID string) {
	defer d.wg.Done()
	defer func() {
		// The per-run context dies with deregistration; settlement and the
		// next queue pass must outlive it.
		after := context.WithoutCancel(ctx)
		d.deregister(task.ID)
		d.verifyAndCleanup(after, task.ID)
		d.ProcessQueue(after)
	}()

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.TraceTaskRun(ctx, task.ID, task.Title)
		defer span.End()
	}
	logger := d.logger.With("task_id", task.ID, "agent_id", agentID)

	if _, err := d.store.UpdateStatus(ctx, task.ID, models.TaskInProgress); err != nil {
		logger.Error("failed to mark task in_progress", "error", err)
		return
	}

	runner, err := d.resolve(agentID)
	if err != nil {
		logger.Error("no agent for task", "error", err)
		d.pauseTask(ctx, task.ID, fmt.Sprintf("agent %q unavailable: %v", agentID, err))
		return
	}

	chunks, err := runner.Run(ctx, taskPrompt(task))
	if err != nil {
		logger.Error("agent run did not start", "error", err)
		return
	}
	logger.Info("task run started")

	d.consumeRun(ctx, task.ID, chunks, logger)
}

// consumeRun drains one agent run, refreshing the tracker per chunk and
// enforcing the tool-call cap and the permission handoff.
func (d *Director) consumeRun(ctx context.Context, taskID string, chunks <-chan *models.StreamChunk, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			calls := d.touch(taskID, chunk)
			switch chunk.Kind() {
			case models.ChunkToolCall:
				if calls > d.cfg.MaxToolCalls {
					logger.Warn("tool call cap crossed", "tool_calls", calls)
					d.blockTask(ctx, taskID,
						fmt.Sprintf("exceeded %d tool calls", d.cfg.MaxToolCalls))
					return
				}
			case models.ChunkPermissionRequest:
				d.suspendForApproval(ctx, taskID, chunk.PermissionRequest)
				return
			}
		}
	}
}

// touch refreshes last_activity and returns the tool-call count after this
// chunk.
func (d *Director) touch(taskID string, chunk *models.StreamChunk) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.trackers[taskID]
	if !ok {
		return 0
	}
	t.LastActivity = d.now().UTC()
	if chunk.Kind() == models.ChunkToolCall {
		t.ToolCalls++
	}
	return t.ToolCalls
}

// suspendForApproval parks the task in waiting_approval and tells the
// gateways which calls need a decision.
func (d *Director) suspendForApproval(ctx context.Context, taskID string, calls []models.ToolCall) {
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Name
	}
	_, err := d.store.Update(ctx, taskID, func(t *models.Task) {
		t.Status = models.TaskWaitingApproval
		if t.Context == nil {
			t.Context = map[string]any{}
		}
		t.Context["pending_permissions"] = names
	})
	if err != nil {
		d.logger.Error("failed to suspend task for approval", "task_id", taskID, "error", err)
		return
	}
	ev := models.NewEvent(models.EventPermissionRequest, map[string]any{
		"task_id": taskID,
		"tools":   names,
	})
	ev.Source = "director"
	d.events.Publish(ctx, ev)
	d.logger.Info("task awaiting approval", "task_id", taskID, "tools", names)
}

// verifyAndCleanup settles a task that is still in_progress after its run
// exited: pause orphans, auto-complete finished parents, propagate blocks.
func (d *Director) verifyAndCleanup(ctx context.Context, taskID string) {
	task, ok := d.store.Get(taskID)
	if !ok || task.Status != models.TaskInProgress {
		return
	}

	subtasks := d.store.Subtasks(taskID)
	if len(subtasks) == 0 {
		if task.AssignedTo == "" {
			d.pauseTask(ctx, taskID, "no subtasks/agent assigned")
		}
		return
	}

	allDone := true
	anyBlocked := false
	for _, sub := range subtasks {
		if sub.Status != models.TaskDone {
			allDone = false
		}
		if sub.Status == models.TaskBlocked {
			anyBlocked = true
		}
	}
	switch {
	case allDone:
		_, err := d.store.Update(ctx, taskID, func(t *models.Task) {
			t.Status = models.TaskDone
			t.ResultSummary = "auto-complete: all subtasks finished"
		})
		if err != nil {
			d.logger.Error("auto-complete failed", "task_id", taskID, "error", err)
		}
	case anyBlocked:
		d.blockTask(ctx, taskID, "subtask blocked")
	}
}

func (d *Director) pauseTask(ctx context.Context, taskID, reason string) {
	_, err := d.store.Update(ctx, taskID, func(t *models.Task) {
		t.Status = models.TaskPaused
		if t.Context == nil {
			t.Context = map[string]any{}
		}
		t.Context["pause_reason"] = reason
	})
	if err != nil {
		d.logger.Error("failed to pause task", "task_id", taskID, "error", err)
	}
}

func (d *Director) blockTask(ctx context.Context, taskID, reason string) {
	_, err := d.store.Update(ctx, taskID, func(t *models.Task) {
		t.Status = models.TaskBlocked
		if t.Context == nil {
			t.Context = map[string]any{}
		}
		t.Context["blocked_reason"] = reason
	})
	if err != nil {
		d.logger.Error("failed to block task", "task_id", taskID, "error", err)
	}
}

func (d *Director) deregister(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.trackers[taskID]; ok {
		t.cancel()
		delete(d.trackers, taskID)
		d.setGaugeLocked()
	}
}

func (d *Director) isTracked(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.trackers[taskID]
	return ok
}

func (d *Director) setGaugeLocked() {
	if d.metrics != nil {
		d.metrics.SetActiveTaskRuns(len(d.trackers))
	}
}

// taskPrompt is the instruction the driving agent receives for a task.
func taskPrompt(task *models.Task) string {
	return fmt.Sprintf(
		"You are working on task %s.\nTitle: %s\nDescription: %s\nStatus: %s\n\n"+
			"Break the task into subtasks with the task tools if it is too large "+
			"to finish directly, otherwise complete it and record the outcome.",
		task.ID, task.Title, task.Description, task.Status)
}
