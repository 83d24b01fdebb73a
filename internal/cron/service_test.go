package cron

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitForCount(t *testing.T, counter *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for counter.Load() < want {
		select {
		case <-deadline:
			t.Fatalf("counter = %d, want at least %d", counter.Load(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestService_RunsJobOnInterval(t *testing.T) {
	s := newTestService(t)
	var runs atomic.Int64
	err := s.AddJob("tick", "10ms", func(ctx context.Context, args map[string]any) error {
		runs.Add(1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitForCount(t, &runs, 2)

	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "tick" {
		t.Fatalf("ListJobs() = %+v", jobs)
	}
	if jobs[0].RunCount < 2 || jobs[0].LastRun.IsZero() {
		t.Errorf("job snapshot = %+v, want run count and last_run recorded", jobs[0])
	}
}

func TestService_IntervalJobFiresImmediately(t *testing.T) {
	s := newTestService(t)
	var intervalRuns, cronRuns atomic.Int64
	s.AddJob("slow", "1h", func(ctx context.Context, args map[string]any) error {
		intervalRuns.Add(1)
		return nil
	}, nil)
	s.AddJob("nightly", "0 3 * * *", func(ctx context.Context, args map[string]any) error {
		cronRuns.Add(1)
		return nil
	}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The interval job runs on launch rather than waiting a full hour.
	waitForCount(t, &intervalRuns, 1)
	// Cron expressions keep waiting for their matching time.
	time.Sleep(50 * time.Millisecond)
	if got := cronRuns.Load(); got != 0 {
		t.Errorf("cron-expression job ran %d times at startup, want 0", got)
	}
}

func TestService_AddJobAfterStart(t *testing.T) {
	s := newTestService(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var runs atomic.Int64
	s.AddJob("late", "10ms", func(ctx context.Context, args map[string]any) error {
		runs.Add(1)
		return nil
	}, nil)

	waitForCount(t, &runs, 1)
}

func TestService_AddJobReplacesSameName(t *testing.T) {
	s := newTestService(t)
	var old, replacement atomic.Int64
	s.AddJob("job", "10ms", func(ctx context.Context, args map[string]any) error {
		old.Add(1)
		return nil
	}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForCount(t, &old, 1)

	s.AddJob("job", "10ms", func(ctx context.Context, args map[string]any) error {
		replacement.Add(1)
		return nil
	}, nil)
	waitForCount(t, &replacement, 2)

	// The old loop is cancelled; its counter settles.
	settled := old.Load()
	time.Sleep(50 * time.Millisecond)
	if old.Load() > settled+1 {
		t.Errorf("old job still running after replacement: %d -> %d", settled, old.Load())
	}
	if got := len(s.ListJobs()); got != 1 {
		t.Errorf("ListJobs() len = %d, want 1", got)
	}
}

func TestService_StopJob(t *testing.T) {
	s := newTestService(t)
	var runs atomic.Int64
	s.AddJob("gone", "10ms", func(ctx context.Context, args map[string]any) error {
		runs.Add(1)
		return nil
	}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForCount(t, &runs, 1)

	if !s.StopJob("gone") {
		t.Fatal("StopJob() = false for existing job")
	}
	if s.StopJob("gone") {
		t.Error("StopJob() = true for removed job")
	}
	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() > settled+1 {
		t.Errorf("job still running after StopJob: %d -> %d", settled, runs.Load())
	}
}

func TestService_PanicDoesNotStopJob(t *testing.T) {
	s := newTestService(t)
	var runs atomic.Int64
	s.AddJob("flaky", "10ms", func(ctx context.Context, args map[string]any) error {
		runs.Add(1)
		panic("iteration blew up")
	}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitForCount(t, &runs, 3)
}

func TestService_ArgsPassedToCallback(t *testing.T) {
	s := newTestService(t)
	got := make(chan string, 1)
	s.AddJob("args", "10ms", func(ctx context.Context, args map[string]any) error {
		name, _ := args["chat_id"].(string)
		select {
		case got <- name:
		default:
		}
		return nil
	}, map[string]any{"chat_id": "chat-7"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case v := <-got:
		if v != "chat-7" {
			t.Errorf("args[chat_id] = %q, want chat-7", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("callback never ran")
	}
}
