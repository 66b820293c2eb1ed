// Package scheduler runs periodic maintenance jobs (ledger snapshots,
// retention sweeps) on standard cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is one maintenance task. A returned error is logged and counted;
// the job keeps its schedule.
type JobFunc func(ctx context.Context) error

// Job is a registered maintenance task with its run state.
type Job struct {
	ID       string
	Expr     string
	schedule cron.Schedule
	fn       JobFunc

	mu         sync.Mutex
	runCount   int64
	errorCount int64
	lastRun    time.Time
	lastError  string
}

// JobState is a point-in-time copy of a job's run counters.
type JobState struct {
	ID         string    `json:"id"`
	Expr       string    `json:"expr"`
	RunCount   int64     `json:"runCount"`
	ErrorCount int64     `json:"errorCount"`
	LastRun    time.Time `json:"lastRun"`
	LastError  string    `json:"lastError,omitempty"`
	NextRun    time.Time `json:"nextRun"`
}

// Scheduler manages all scheduled jobs
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:   make(map[string]*Job),
		logger: logger.With("component", "scheduler"),
	}
}

// Add registers a job. The cron expression is validated here; a bad
// expression is a config error, not a runtime one.
func (s *Scheduler) Add(id, expr string, fn JobFunc) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression for %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("scheduler: job %s already exists", id)
	}

	job := &Job{ID: id, Expr: expr, schedule: schedule, fn: fn}
	s.jobs[id] = job

	if s.started {
		s.wg.Add(1)
		go s.run(job)
	}
	s.logger.Info("job added", "job", id, "expr", expr)
	return nil
}

// Start launches a runner per job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.run(job)
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts all runners and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow triggers a job immediately, bypassing its schedule.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: job not found: %s", id)
	}
	s.execute(ctx, job)
	return nil
}

// Jobs returns the state of every registered job.
func (s *Scheduler) Jobs() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]JobState, 0, len(s.jobs))
	for _, job := range s.jobs {
		job.mu.Lock()
		out = append(out, JobState{
			ID:         job.ID,
			Expr:       job.Expr,
			RunCount:   job.runCount,
			ErrorCount: job.errorCount,
			LastRun:    job.lastRun,
			LastError:  job.lastError,
			NextRun:    job.schedule.Next(now),
		})
		job.mu.Unlock()
	}
	return out
}

func (s *Scheduler) run(job *Job) {
	defer s.wg.Done()

	for {
		next := job.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(s.ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) {
	started := time.Now()
	err := job.fn(ctx)

	job.mu.Lock()
	job.runCount++
	job.lastRun = started
	if err != nil {
		job.errorCount++
		job.lastError = err.Error()
	} else {
		job.lastError = ""
	}
	job.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", job.ID, "error", err)
	} else {
		s.logger.Debug("job completed", "job", job.ID, "duration", time.Since(started))
	}
}
