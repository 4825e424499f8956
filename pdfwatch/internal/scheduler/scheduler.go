// Package scheduler triggers a job on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is the work run on every tick.
type Job func(ctx context.Context) error

// Config configures the scheduler.
type Config struct {
	// Interval between two runs. Default: 1 hour.
	Interval time.Duration
	// RunOnStart runs the job once immediately.
	RunOnStart bool
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
}

// Scheduler runs a Job periodically.
type Scheduler struct {
	job    Job
	config Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(job Job, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{job: job, config: cfg, logger: logger}
}

// Run calls the job on a ticker. Blocks until ctx is cancelled. A failing
// job is logged and retried at the next tick. Ticks that fire while a job
// is still running are dropped.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler: started", "interval", s.config.Interval.String(), "run_on_start", s.config.RunOnStart)
	if s.config.RunOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	if err := s.job(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduler: job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.logger.Debug("scheduler: job done", "duration_ms", time.Since(start).Milliseconds())
}
