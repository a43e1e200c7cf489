// Package scheduler runs the control plane's background maintenance jobs on
// cron schedules: process cleanup, malicious IP blacklisting, task timeout
// sweeping, and log retention.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// Stats is the outcome of a single job run.
type Stats struct {
	Produced int
	Skipped  int
}

// Result is what a job reports after running once.
type Result struct {
	Success  bool
	Stats    Stats
	Duration time.Duration
}

// Job is one scheduled maintenance task. Run must be idempotent: a missed
// tick is coalesced into the next run rather than queued, so a job may be
// asked to cover more ground than a single interval's worth of work.
type Job interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

// Scheduler owns the cron runtime and the registered jobs. Each job runs
// non-reentrantly: if a run is still in flight when its next tick fires, the
// tick is skipped rather than run concurrently, per the job scheduler's
// single-flight contract.
type Scheduler struct {
	cron   *cron.Cron
	logger *logger.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a Scheduler using 6-field cron expressions (seconds field
// included), matching the schedules in platform/config.
func New(log *logger.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds(), cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	return &Scheduler{cron: c, logger: log, entries: make(map[string]cron.EntryID)}
}

// Register schedules job to run on the given 6-field cron expression.
func (s *Scheduler) Register(ctx context.Context, expr string, job Job) error {
	id, err := s.cron.AddFunc(expr, func() { s.runOnce(ctx, job) })
	if err != nil {
		return fmt.Errorf("registering job %q on schedule %q: %w", job.Name(), expr, err)
	}

	s.mu.Lock()
	s.entries[job.Name()] = id
	s.mu.Unlock()
	return nil
}

// Start begins running registered jobs on their schedules. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job run to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	s.logger.Info("job run starting", zap.String("job", job.Name()))

	result, err := job.Run(ctx)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("job run failed",
			zap.String("job", job.Name()),
			zap.Duration("duration", duration),
			zap.Error(err))
		return
	}

	s.logger.Info("job run finished",
		zap.String("job", job.Name()),
		zap.Bool("success", result.Success),
		zap.Int("produced", result.Stats.Produced),
		zap.Int("skipped", result.Stats.Skipped),
		zap.Duration("duration", duration))
}
