package main

// handlers.go contains the command implementations.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/AtharvJoshigit/valuablehelper/internal/config"
	"github.com/AtharvJoshigit/valuablehelper/internal/runtime"
	"github.com/AtharvJoshigit/valuablehelper/internal/tasks"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// runServe builds the runtime from config and blocks until a shutdown
// signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	// A missing .env is not an error; it simply means credentials come
	// from the environment or the config file.
	_ = godotenv.Load()

	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	slog.Info("starting runtime",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	rt, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start runtime: %w", err)
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), runtime.ShutdownTimeout)
	defer shutdownCancel()
	if err := rt.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown incomplete: %w", err)
	}
	slog.Info("runtime stopped gracefully")
	return nil
}

// openStore opens the task store read-write without an event bus. The
// CLI edits the same file the server watches; the fsnotify watcher picks
// up external changes.
func openStore(file string) (*tasks.Store, error) {
	if file == "" {
		return nil, fmt.Errorf("task store file is required")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return tasks.NewStore(file, nil, logger), nil
}

func runTasksList(out io.Writer, file, status string) error {
	store, err := openStore(file)
	if err != nil {
		return err
	}

	filter := tasks.Filter{}
	if status != "" {
		s := models.TaskStatus(status)
		if !s.Valid() {
			return fmt.Errorf("unknown status %q", status)
		}
		filter.Status = s
	}

	list := store.List(filter)
	if len(list) == 0 {
		fmt.Fprintln(out, "no tasks")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTITLE")
	for _, task := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", task.ID, task.Status, task.Priority, task.Title)
	}
	return w.Flush()
}

type taskAddOptions struct {
	title        string
	priority     string
	description  string
	parentID     string
	dependencies []string
}

func runTasksAdd(out io.Writer, file string, opts taskAddOptions) error {
	store, err := openStore(file)
	if err != nil {
		return err
	}

	priority := models.TaskPriority(opts.priority)
	switch priority {
	case models.PriorityCritical, models.PriorityHigh, models.PriorityMedium,
		models.PriorityLow, models.PriorityScheduled:
	default:
		return fmt.Errorf("unknown priority %q", opts.priority)
	}

	task := models.NewTask(opts.title, priority)
	task.Description = opts.description
	task.ParentID = opts.parentID
	task.Dependencies = opts.dependencies

	if err := store.Add(context.Background(), task); err != nil {
		return err
	}
	fmt.Fprintf(out, "created %s\n", task.ID)
	return nil
}

func runTasksShow(out io.Writer, file, id string) error {
	store, err := openStore(file)
	if err != nil {
		return err
	}

	task, ok := store.Get(id)
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}

	fmt.Fprintf(out, "ID:          %s\n", task.ID)
	fmt.Fprintf(out, "Title:       %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", task.Description)
	}
	fmt.Fprintf(out, "Status:      %s\n", task.Status)
	fmt.Fprintf(out, "Priority:    %s\n", task.Priority)
	if task.AssignedTo != "" {
		fmt.Fprintf(out, "Assigned:    %s\n", task.AssignedTo)
	}
	if task.ParentID != "" {
		fmt.Fprintf(out, "Parent:      %s\n", task.ParentID)
	}
	if task.ResultSummary != "" {
		fmt.Fprintf(out, "Result:      %s\n", task.ResultSummary)
	}
	fmt.Fprintf(out, "Created:     %s\n", task.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Updated:     %s\n", task.UpdatedAt.Format("2006-01-02 15:04:05"))

	if deps := store.Dependencies(task.ID); len(deps) > 0 {
		fmt.Fprintln(out, "Dependencies:")
		for _, dep := range deps {
			fmt.Fprintf(out, "  %s [%s] %s\n", dep.ID, dep.Status, dep.Title)
		}
	}
	if subs := store.Subtasks(task.ID); len(subs) > 0 {
		fmt.Fprintln(out, "Subtasks:")
		for _, sub := range subs {
			fmt.Fprintf(out, "  %s [%s] %s\n", sub.ID, sub.Status, sub.Title)
		}
	}
	return nil
}
