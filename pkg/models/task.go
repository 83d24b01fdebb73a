package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskTodo            TaskStatus = "todo"
	TaskInProgress      TaskStatus = "in_progress"
	TaskBlocked         TaskStatus = "blocked"
	TaskWaitingApproval TaskStatus = "waiting_approval"
	TaskApproved        TaskStatus = "approved"
	TaskDone            TaskStatus = "done"
	TaskFailed          TaskStatus = "failed"
	TaskCancelled       TaskStatus = "cancelled"
	TaskPaused          TaskStatus = "paused"
	TaskWaitingReview   TaskStatus = "waiting_review"
)

// Terminal reports whether the status is a settled end state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskDone, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is a known lifecycle state.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskBlocked, TaskWaitingApproval,
		TaskApproved, TaskDone, TaskFailed, TaskCancelled, TaskPaused,
		TaskWaitingReview:
		return true
	default:
		return false
	}
}

// TaskPriority orders tasks for scheduling. Lower weight runs first.
type TaskPriority string

const (
	PriorityCritical  TaskPriority = "critical"
	PriorityHigh      TaskPriority = "high"
	PriorityMedium    TaskPriority = "medium"
	PriorityLow       TaskPriority = "low"
	PriorityScheduled TaskPriority = "scheduled"
)

// Weight returns the scheduling weight: critical=0 through scheduled=4.
// Unknown priorities sort after scheduled.
func (p TaskPriority) Weight() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	case PriorityScheduled:
		return 4
	default:
		return 5
	}
}

// Task is one node of the persistent task graph. Parent and dependency edges
// are by id only; dangling dependency ids are treated as unsatisfied.
type Task struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         TaskStatus     `json:"status"`
	Priority       TaskPriority   `json:"priority"`
	ParentID       string         `json:"parent_id,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	AssignedTo     string         `json:"assigned_to,omitempty"`
	RequiresReview bool           `json:"requires_review,omitempty"`
	ReviewFeedback string         `json:"review_feedback,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ResultSummary  string         `json:"result_summary,omitempty"`
}

// NewTask builds a todo task with a fresh id and timestamps.
func NewTask(title string, priority TaskPriority) *Task {
	now := time.Now().UTC()
	if priority == "" {
		priority = PriorityMedium
	}
	return &Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    TaskTodo,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy, so store snapshots cannot be mutated by callers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Context != nil {
		c.Context = make(map[string]any, len(t.Context))
		for k, v := range t.Context {
			c.Context[k] = v
		}
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// DependsOn reports whether id appears in the task's dependency list.
func (t *Task) DependsOn(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// SetContext writes a key into the task context, allocating the map if
// needed.
func (t *Task) SetContext(key string, value any) {
	if t.Context == nil {
		t.Context = make(map[string]any)
	}
	t.Context[key] = value
}
