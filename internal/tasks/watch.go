package tasks

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// Watcher republishes external edits of the task file as plan_updated
// events. The store's own atomic renames also register; consumers treat
// plan_updated as "reconcile now" rather than a diff.
type Watcher struct {
	store    *Store
	bus      Publisher
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher over the store's backing file.
func NewWatcher(store *Store, bus Publisher, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:    store,
		bus:      bus,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched
// rather than the file itself because atomic renames replace the inode.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.store.Path())
	base := filepath.Base(w.store.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			w.store.Reload()
			if w.bus != nil {
				w.bus.Publish(context.Background(), models.NewEvent(models.EventPlanUpdated, map[string]any{
					"path": w.store.Path(),
				}))
			}
			w.logger.Debug("task file change published", "path", w.store.Path())
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("task file watch error", "error", err)
		}
	}
}
