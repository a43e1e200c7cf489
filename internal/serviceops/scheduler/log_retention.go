package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// LogPruner deletes log rows older than before, returning how many rows
// were removed.
type LogPruner interface {
	PruneLogsBefore(ctx context.Context, before time.Time) (int, error)
}

// LogRetentionJob deletes log rows past their retention window.
type LogRetentionJob struct {
	pruner    LogPruner
	retention time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

// NewLogRetentionJob constructs the job. retention is how long a log row is
// kept before it becomes eligible for deletion.
func NewLogRetentionJob(pruner LogPruner, retention time.Duration, log *logger.Logger) *LogRetentionJob {
	return &LogRetentionJob{pruner: pruner, retention: retention, logger: log, now: time.Now}
}

func (j *LogRetentionJob) Name() string { return "log_retention" }

func (j *LogRetentionJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	before := j.now().Add(-j.retention)
	deleted, err := j.pruner.PruneLogsBefore(ctx, before)
	if err != nil {
		return Result{Success: false, Duration: time.Since(start)}, err
	}

	j.logger.Info("pruned old log rows", zap.Int("deleted", deleted), zap.Time("before", before))
	return Result{Success: true, Stats: Stats{Produced: deleted}, Duration: time.Since(start)}, nil
}
