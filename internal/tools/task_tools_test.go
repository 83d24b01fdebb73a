package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/AtharvJoshigit/valuablehelper/internal/tasks"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

func newTaskToolStore(t *testing.T) *tasks.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return tasks.NewStore(filepath.Join(t.TempDir(), "tasks.json"), nil, logger)
}

func TestRegisterTaskTools(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterTaskTools(reg, newTaskToolStore(t)); err != nil {
		t.Fatalf("RegisterTaskTools() error = %v", err)
	}
	for _, name := range []string{"task_create", "task_list", "task_update_status", "task_add_dependency"} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestTaskCreateTool(t *testing.T) {
	store := newTaskToolStore(t)
	tool := &TaskCreateTool{store: store}

	raw, err := tool.Execute(context.Background(), json.RawMessage(
		`{"title":"write report","priority":"high","description":"quarterly numbers","assigned_to":"analyst"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var created models.Task
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("result not a task: %v", err)
	}
	if created.Title != "write report" || created.Priority != models.PriorityHigh || created.AssignedTo != "analyst" {
		t.Errorf("created task = %+v", created)
	}

	stored, ok := store.Get(created.ID)
	if !ok {
		t.Fatal("task not persisted in store")
	}
	if stored.Status != models.TaskTodo {
		t.Errorf("stored status = %s, want todo", stored.Status)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"description":"no title"}`)); err == nil {
		t.Error("Execute() without title succeeded, want error")
	}
}

func TestTaskListTool_Filters(t *testing.T) {
	store := newTaskToolStore(t)
	ctx := context.Background()

	a := models.NewTask("a", models.PriorityHigh)
	b := models.NewTask("b", models.PriorityLow)
	for _, task := range []*models.Task{a, b} {
		if err := store.Add(ctx, task); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.UpdateStatus(ctx, b.ID, models.TaskDone); err != nil {
		t.Fatal(err)
	}

	tool := &TaskListTool{store: store}
	raw, err := tool.Execute(ctx, json.RawMessage(`{"status":"done"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var list []*models.Task
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("filtered list = %v, want only b", list)
	}

	// No arguments lists everything.
	raw, err = tool.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("Execute(nil) error = %v", err)
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("unfiltered list = %d tasks, want 2", len(list))
	}
}

func TestTaskUpdateStatusTool(t *testing.T) {
	store := newTaskToolStore(t)
	ctx := context.Background()
	task := models.NewTask("flip me", models.PriorityMedium)
	if err := store.Add(ctx, task); err != nil {
		t.Fatal(err)
	}

	tool := &TaskUpdateStatusTool{store: store}
	raw, err := tool.Execute(ctx, json.RawMessage(`{"task_id":"`+task.ID+`","status":"done"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var updated models.Task
	if err := json.Unmarshal(raw, &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.TaskDone || updated.CompletedAt == nil {
		t.Errorf("updated = %+v, want done with completed_at", updated)
	}

	if _, err := tool.Execute(ctx, json.RawMessage(`{"task_id":"`+task.ID+`","status":"sideways"}`)); err == nil {
		t.Error("Execute() with invalid status succeeded, want error")
	}
	if _, err := tool.Execute(ctx, json.RawMessage(`{"task_id":"nope","status":"done"}`)); err == nil {
		t.Error("Execute() with unknown task succeeded, want error")
	}
}

func TestTaskAddDependencyTool(t *testing.T) {
	store := newTaskToolStore(t)
	ctx := context.Background()
	first := models.NewTask("first", models.PriorityMedium)
	second := models.NewTask("second", models.PriorityMedium)
	for _, task := range []*models.Task{first, second} {
		if err := store.Add(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	tool := &TaskAddDependencyTool{store: store}
	if _, err := tool.Execute(ctx, json.RawMessage(`{"task_id":"`+second.ID+`","depends_on":"`+first.ID+`"}`)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got, _ := store.Get(second.ID)
	if !got.DependsOn(first.ID) {
		t.Error("dependency not recorded in store")
	}

	if _, err := tool.Execute(ctx, json.RawMessage(`{"task_id":"`+first.ID+`"}`)); err == nil {
		t.Error("Execute() without depends_on succeeded, want error")
	}
}
