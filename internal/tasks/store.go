// Package tasks implements the persistent task graph: a JSON-file-backed
// store with change events, the runnable-task priority queue, and a watcher
// that picks up external edits to the task file.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// Publisher is the slice of the event bus the store needs.
type Publisher interface {
	Publish(ctx context.Context, ev *models.Event)
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status   models.TaskStatus
	Priority models.TaskPriority
}

// Store is the persistent task graph. Every mutation is written to disk via
// a temp file and atomic rename, then published as a task_* event.
type Store struct {
	mu     sync.RWMutex
	path   string
	tasks  map[string]*models.Task
	bus    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewStore opens the task file at path, creating an empty store when the
// file does not exist. A corrupt or unreadable file is logged and treated
// as empty rather than aborting startup.
func NewStore(path string, bus Publisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		tasks:  make(map[string]*models.Task),
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("failed to read task file, starting empty",
				"path", s.path, "error", err)
		}
		return
	}

	var list []*models.Task
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Error("failed to parse task file, starting empty",
			"path", s.path, "error", err)
		return
	}

	for _, task := range list {
		if task != nil && task.ID != "" {
			s.tasks[task.ID] = task
		}
	}
	s.logger.Info("task store loaded", "path", s.path, "tasks", len(s.tasks))
}

// Reload replaces the in-memory graph with the current file contents. Used
// when the file is edited outside the process.
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*models.Task)
	s.load()
}

// saveLocked writes the whole graph to disk. Callers hold s.mu.
func (s *Store) saveLocked() error {
	list := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		list = append(list, task)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write task file: %w", err)
	}
	return nil
}

// writeFileAtomic writes to a sibling temp file, fsyncs, and renames over
// the target so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tasks-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *Store) publish(ctx context.Context, ev *models.Event) {
	if s.bus != nil {
		s.bus.Publish(ctx, ev)
	}
}

func snapshotPayload(task *models.Task) map[string]any {
	return map[string]any{"task": task.Clone()}
}

// Add inserts a task and publishes task_created.
func (s *Store) Add(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task requires an id")
	}
	if task.DependsOn(task.ID) {
		return fmt.Errorf("task %s cannot depend on itself", task.ID)
	}
	if !task.Status.Valid() {
		return fmt.Errorf("invalid task status %q", task.Status)
	}

	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(ctx, models.NewEvent(models.EventTaskCreated, snapshotPayload(task)))
	return nil
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (*models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// List returns copies of tasks matching the filter, sorted by creation time.
func (s *Store) List(filter Filter) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && task.Priority != filter.Priority {
			continue
		}
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateStatus transitions one task and publishes task_status_changed, plus
// task_completed or task_failed with the full snapshot on those statuses.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid task status %q", status)
	}

	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("task %s not found", id)
	}

	oldStatus := task.Status
	task.Status = status
	task.UpdatedAt = s.now().UTC()
	if status == models.TaskDone {
		at := task.UpdatedAt
		task.CompletedAt = &at
	}
	updated := task.Clone()
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.NewEvent(models.EventTaskStatusChanged, map[string]any{
		"task_id":    id,
		"old_status": oldStatus,
		"new_status": status,
	}))
	switch status {
	case models.TaskDone:
		s.publish(ctx, models.NewEvent(models.EventTaskCompleted, snapshotPayload(updated)))
	case models.TaskFailed:
		s.publish(ctx, models.NewEvent(models.EventTaskFailed, snapshotPayload(updated)))
	}
	return updated, nil
}

// Update applies mutate to a copy of the task, persists it, and publishes
// task_updated. Status changes made inside mutate also get their status
// events. Identity fields (id, created_at) are preserved.
func (s *Store) Update(ctx context.Context, id string, mutate func(*models.Task)) (*models.Task, error) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("task %s not found", id)
	}

	oldStatus := task.Status
	next := task.Clone()
	mutate(next)
	next.ID = task.ID
	next.CreatedAt = task.CreatedAt
	next.UpdatedAt = s.now().UTC()
	if !next.Status.Valid() {
		s.mu.Unlock()
		return nil, fmt.Errorf("invalid task status %q", next.Status)
	}
	if next.DependsOn(next.ID) {
		s.mu.Unlock()
		return nil, fmt.Errorf("task %s cannot depend on itself", next.ID)
	}
	if next.Status == models.TaskDone && next.CompletedAt == nil {
		at := next.UpdatedAt
		next.CompletedAt = &at
	}

	s.tasks[id] = next
	updated := next.Clone()
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.NewEvent(models.EventTaskUpdated, snapshotPayload(updated)))
	if updated.Status != oldStatus {
		s.publish(ctx, models.NewEvent(models.EventTaskStatusChanged, map[string]any{
			"task_id":    id,
			"old_status": oldStatus,
			"new_status": updated.Status,
		}))
		switch updated.Status {
		case models.TaskDone:
			s.publish(ctx, models.NewEvent(models.EventTaskCompleted, snapshotPayload(updated)))
		case models.TaskFailed:
			s.publish(ctx, models.NewEvent(models.EventTaskFailed, snapshotPayload(updated)))
		}
	}
	return updated, nil
}

// AddDependency records that id depends on dep. Dangling dep ids are
// allowed; they simply keep the task unrunnable.
func (s *Store) AddDependency(ctx context.Context, id, dep string) error {
	if id == dep {
		return fmt.Errorf("task %s cannot depend on itself", id)
	}

	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s not found", id)
	}
	if task.DependsOn(dep) {
		s.mu.Unlock()
		return nil
	}
	task.Dependencies = append(task.Dependencies, dep)
	task.UpdatedAt = s.now().UTC()
	updated := task.Clone()
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(ctx, models.NewEvent(models.EventTaskUpdated, snapshotPayload(updated)))
	return nil
}

// RemoveDependency removes dep from the task's dependency list.
func (s *Store) RemoveDependency(ctx context.Context, id, dep string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s not found", id)
	}

	kept := task.Dependencies[:0]
	removed := false
	for _, d := range task.Dependencies {
		if d == dep {
			removed = true
			continue
		}
		kept = append(kept, d)
	}
	if !removed {
		s.mu.Unlock()
		return nil
	}
	task.Dependencies = kept
	task.UpdatedAt = s.now().UTC()
	updated := task.Clone()
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(ctx, models.NewEvent(models.EventTaskUpdated, snapshotPayload(updated)))
	return nil
}

// Delete removes a task, detaches its children, and strips it from every
// dependency list. The cascade is silent: exactly one task_deleted event is
// published no matter how many rows it touched.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s not found", id)
	}
	snapshot := task.Clone()
	delete(s.tasks, id)

	now := s.now().UTC()
	for _, other := range s.tasks {
		if other.ParentID == id {
			other.ParentID = ""
			other.UpdatedAt = now
		}
		if other.DependsOn(id) {
			kept := other.Dependencies[:0]
			for _, d := range other.Dependencies {
				if d != id {
					kept = append(kept, d)
				}
			}
			other.Dependencies = kept
			other.UpdatedAt = now
		}
	}
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(ctx, models.NewEvent(models.EventTaskDeleted, map[string]any{
		"task_id": id,
		"task":    snapshot,
	}))
	return nil
}

// Subtasks returns the direct children of a task.
func (s *Store) Subtasks(parentID string) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task
	for _, task := range s.tasks {
		if task.ParentID == parentID {
			out = append(out, task.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Dependencies returns the tasks that id depends on. Dangling ids are
// skipped.
func (s *Store) Dependencies(id string) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil
	}
	var out []*models.Task
	for _, dep := range task.Dependencies {
		if t, ok := s.tasks[dep]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Dependents returns the tasks that depend on id.
func (s *Store) Dependents(id string) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task
	for _, task := range s.tasks {
		if task.DependsOn(id) {
			out = append(out, task.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CountByStatus returns how many tasks sit in each status.
func (s *Store) CountByStatus() map[models.TaskStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.TaskStatus]int)
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }
