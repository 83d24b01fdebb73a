package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AtharvJoshigit/valuablehelper/internal/tasks"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// RegisterTaskTools adds the task graph tools backed by the store.
func RegisterTaskTools(reg *Registry, store *tasks.Store) error {
	taskTools := []Tool{
		&TaskCreateTool{store: store},
		&TaskListTool{store: store},
		&TaskUpdateStatusTool{store: store},
		&TaskAddDependencyTool{store: store},
	}
	for _, tool := range taskTools {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// TaskCreateTool lets an agent add work to the task graph.
type TaskCreateTool struct {
	store *tasks.Store
}

func (t *TaskCreateTool) Name() string { return "task_create" }

func (t *TaskCreateTool) Description() string {
	return "Create a task in the plan. Subtasks reference their parent; dependencies gate scheduling."
}

func (t *TaskCreateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "Short imperative summary of the work."},
			"description": {"type": "string", "description": "Details, acceptance criteria, links."},
			"priority": {"type": "string", "enum": ["critical", "high", "medium", "low", "scheduled"]},
			"parent_id": {"type": "string", "description": "Id of the parent task, for subtasks."},
			"dependencies": {"type": "array", "items": {"type": "string"}, "description": "Task ids that must be done first."},
			"assigned_to": {"type": "string", "description": "Agent id that should execute this task."}
		},
		"required": ["title"]
	}`)
}

func (t *TaskCreateTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		Priority     string   `json:"priority"`
		ParentID     string   `json:"parent_id"`
		Dependencies []string `json:"dependencies"`
		AssignedTo   string   `json:"assigned_to"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	task := models.NewTask(input.Title, models.TaskPriority(input.Priority))
	task.Description = input.Description
	task.ParentID = input.ParentID
	task.Dependencies = input.Dependencies
	task.AssignedTo = input.AssignedTo

	if err := t.store.Add(ctx, task); err != nil {
		return nil, err
	}
	return json.Marshal(task)
}

// TaskListTool reports the plan, optionally narrowed by status or priority.
type TaskListTool struct {
	store *tasks.Store
}

func (t *TaskListTool) Name() string { return "task_list" }

func (t *TaskListTool) Description() string {
	return "List tasks in the plan, optionally filtered by status and priority."
}

func (t *TaskListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"status": {"type": "string", "enum": ["todo", "in_progress", "blocked", "waiting_approval", "approved", "done", "failed", "cancelled", "paused", "waiting_review"]},
			"priority": {"type": "string", "enum": ["critical", "high", "medium", "low", "scheduled"]}
		}
	}`)
}

func (t *TaskListTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Status   string `json:"status"`
		Priority string `json:"priority"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	list := t.store.List(tasks.Filter{
		Status:   models.TaskStatus(input.Status),
		Priority: models.TaskPriority(input.Priority),
	})
	return json.Marshal(list)
}

// TaskUpdateStatusTool transitions one task.
type TaskUpdateStatusTool struct {
	store *tasks.Store
}

func (t *TaskUpdateStatusTool) Name() string { return "task_update_status" }

func (t *TaskUpdateStatusTool) Description() string {
	return "Move a task to a new status, for example to mark it done or blocked."
}

func (t *TaskUpdateStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id": {"type": "string"},
			"status": {"type": "string", "enum": ["todo", "in_progress", "blocked", "waiting_approval", "approved", "done", "failed", "cancelled", "paused", "waiting_review"]}
		},
		"required": ["task_id", "status"]
	}`)
}

func (t *TaskUpdateStatusTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	task, err := t.store.UpdateStatus(ctx, input.TaskID, models.TaskStatus(input.Status))
	if err != nil {
		return nil, err
	}
	return json.Marshal(task)
}

// TaskAddDependencyTool gates one task on another.
type TaskAddDependencyTool struct {
	store *tasks.Store
}

func (t *TaskAddDependencyTool) Name() string { return "task_add_dependency" }

func (t *TaskAddDependencyTool) Description() string {
	return "Make one task depend on another so it only runs after the dependency is done."
}

func (t *TaskAddDependencyTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id": {"type": "string", "description": "The task that must wait."},
			"depends_on": {"type": "string", "description": "The task that must finish first."}
		},
		"required": ["task_id", "depends_on"]
	}`)
}

func (t *TaskAddDependencyTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		TaskID    string `json:"task_id"`
		DependsOn string `json:"depends_on"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.TaskID == "" || input.DependsOn == "" {
		return nil, fmt.Errorf("task_id and depends_on are required")
	}

	if err := t.store.AddDependency(ctx, input.TaskID, input.DependsOn); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{
		"task_id":    input.TaskID,
		"depends_on": input.DependsOn,
		"result":     "dependency added",
	})
}
