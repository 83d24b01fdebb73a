package tasks

import (
	"sort"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// Runnable filters a snapshot down to tasks ready to run, ordered best
// first. A task is runnable when its status is todo or approved and every
// dependency id resolves to a task in status done; dangling dependency ids
// count as unsatisfied.
//
// Ordering is by effective priority weight, then creation time. Effective
// priority is the strongest (lowest) weight found walking parent_id upward,
// so a low-priority subtask of a critical parent runs like critical work.
func Runnable(snapshot []*models.Task) []*models.Task {
	byID := make(map[string]*models.Task, len(snapshot))
	for _, task := range snapshot {
		byID[task.ID] = task
	}

	var out []*models.Task
	for _, task := range snapshot {
		if task.Status != models.TaskTodo && task.Status != models.TaskApproved {
			continue
		}
		if !depsSatisfied(task, byID) {
			continue
		}
		out = append(out, task)
	}

	sort.SliceStable(out, func(i, j int) bool {
		wi := effectiveWeight(out[i], byID)
		wj := effectiveWeight(out[j], byID)
		if wi != wj {
			return wi < wj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// NextTask returns the best runnable task from the snapshot, or nil.
func NextTask(snapshot []*models.Task) *models.Task {
	runnable := Runnable(snapshot)
	if len(runnable) == 0 {
		return nil
	}
	return runnable[0]
}

// NextRunnable snapshots the store and returns the head of the queue.
func (s *Store) NextRunnable() *models.Task {
	return NextTask(s.List(Filter{}))
}

func depsSatisfied(task *models.Task, byID map[string]*models.Task) bool {
	for _, dep := range task.Dependencies {
		t, ok := byID[dep]
		if !ok || t.Status != models.TaskDone {
			return false
		}
	}
	return true
}

// effectiveWeight walks the parent chain collecting the minimum priority
// weight. A visited set guards against parent cycles in hand-edited files.
func effectiveWeight(task *models.Task, byID map[string]*models.Task) int {
	weight := task.Priority.Weight()
	visited := map[string]bool{task.ID: true}

	current := task
	for current.ParentID != "" {
		parent, ok := byID[current.ParentID]
		if !ok || visited[parent.ID] {
			break
		}
		visited[parent.ID] = true
		if w := parent.Priority.Weight(); w < weight {
			weight = w
		}
		current = parent
	}
	return weight
}
