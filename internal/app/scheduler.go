/**
 * @description
 * Cron scheduler for the in-process auto-release sweep.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// AutoReleaser is the sweep entry point the jobs call.
type AutoReleaser interface {
	ProcessAutoReleaseOrders(ctx context.Context) (AutoReleaseResult, error)
}

// Jobs contains the logic for the scheduled tasks.
type Jobs struct {
	releaser AutoReleaser
	logger   *slog.Logger
	timeout  time.Duration
}

// NewJobs creates a new Jobs runner. A zero timeout leaves sweeps unbounded.
func NewJobs(releaser AutoReleaser, logger *slog.Logger, timeout time.Duration) *Jobs {
	return &Jobs{releaser: releaser, logger: logger, timeout: timeout}
}

// ProcessAutoRelease runs one auto-release sweep.
func (j *Jobs) ProcessAutoRelease() {
	j.logger.Info("starting auto-release job")
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	result, err := j.releaser.ProcessAutoReleaseOrders(ctx)
	if err != nil {
		j.logger.Error("auto-release job failed", "error", err, "processed", result.Processed, "errors", result.Errors)
		return
	}

	j.logger.Info("auto-release job finished",
		"due", result.Due,
		"processed", result.Processed,
		"errors", result.Errors,
		"skipped", result.Skipped,
	)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance. Overlapping runs are skipped
// so at most one sweep is in flight.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.ProcessAutoRelease); err != nil {
		s.logger.Error("failed to schedule auto-release job", "error", err, "schedule", s.schedule)
		return err
	}
	s.logger.Info("scheduled auto-release job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
