package cron

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Callback is one job iteration. Errors are logged, never fatal.
type Callback func(ctx context.Context, args map[string]any) error

// JobInfo is a snapshot of one registered job.
type JobInfo struct {
	Name     string        `json:"name"`
	Schedule string        `json:"schedule"`
	LastRun  time.Time     `json:"last_run,omitzero"`
	RunCount int           `json:"run_count"`
	Interval time.Duration `json:"-"`
}

// job is the mutable state behind a JobInfo.
type job struct {
	name     string
	schedule Schedule
	callback Callback
	args     map[string]any
	cancel   context.CancelFunc

	mu       sync.Mutex
	lastRun  time.Time
	runCount int
}

// Service owns the job set. Jobs added before Start begin on Start; jobs
// added after begin immediately. Adding a name that already exists cancels
// and replaces the old job.
type Service struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// NewService creates an empty, stopped service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger: logger.With("component", "cron"),
		jobs:   make(map[string]*job),
	}
}

// AddJob registers (or replaces) a named job. spec is a duration or cron
// expression per ParseSchedule.
func (s *Service) AddJob(name, spec string, callback Callback, args map[string]any) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if callback == nil {
		return fmt.Errorf("job %q: callback is required", name)
	}
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.jobs[name]; exists {
		if old.cancel != nil {
			old.cancel()
		}
		s.logger.Info("replacing cron job", "job", name)
	}
	j := &job{name: name, schedule: schedule, callback: callback, args: args}
	s.jobs[name] = j
	if s.running {
		s.launchLocked(j)
	}
	return nil
}

// StopJob cancels and removes a job. It reports whether the job existed.
func (s *Service) StopJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	if j.cancel != nil {
		j.cancel()
	}
	delete(s.jobs, name)
	return true
}

// ListJobs returns job snapshots sorted by name.
func (s *Service) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		out = append(out, JobInfo{
			Name:     j.name,
			Schedule: j.schedule.String(),
			LastRun:  j.lastRun,
			RunCount: j.runCount,
			Interval: j.schedule.Every,
		})
		j.mu.Unlock()
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches every registered job. Not blocking.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("cron service already started")
	}
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	for _, j := range s.jobs {
		s.launchLocked(j)
	}
	return nil
}

// Stop cancels all jobs and waits for their goroutines up to ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron shutdown: %w", ctx.Err())
	}
}

func (s *Service) launchLocked(j *job) {
	jobCtx, cancel := context.WithCancel(s.baseCtx)
	j.cancel = cancel
	s.wg.Add(1)
	go s.runLoop(jobCtx, j)
}

// runLoop runs the callback and sleeps until each scheduled fire time.
// Interval jobs fire once on launch before settling into their cadence;
// cron expressions wait for their first matching time. Panics and errors
// from one iteration never stop the loop.
func (s *Service) runLoop(ctx context.Context, j *job) {
	defer s.wg.Done()

	if j.schedule.Kind == "every" {
		s.runOnce(ctx, j)
	}

	for {
		next, err := j.schedule.Next(time.Now())
		if err != nil {
			s.logger.Error("cron job schedule broken", "job", j.name, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.runOnce(ctx, j)
	}
}

func (s *Service) runOnce(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cron job panicked",
				"job", j.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	j.mu.Lock()
	j.lastRun = time.Now().UTC()
	j.runCount++
	j.mu.Unlock()

	if err := j.callback(ctx, j.args); err != nil {
		s.logger.Error("cron job failed", "job", j.name, "error", err)
		return
	}
	s.logger.Debug("cron job ran", "job", j.name)
}
