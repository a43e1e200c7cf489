package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// StaleTaskFinder locates tasks still in a non-terminal state after
// deadline, for the timeout sweeper to force-fail.
type StaleTaskFinder interface {
	FindStaleRunningTasks(ctx context.Context, startedBefore time.Time) ([]ids.TaskID, error)
}

// TaskFailer force-fails a task. The reason is passed to FailTask, but the
// taskrepo implementations do not store it; they write only the Failed state
// and the completion time.
type TaskFailer interface {
	FailTask(ctx context.Context, taskID ids.TaskID, reason string) error
}

// TaskTimeoutSweeperJob fails tasks that have been running longer than
// maxDuration, the pipeline's hard execution budget.
type TaskTimeoutSweeperJob struct {
	finder      StaleTaskFinder
	failer      TaskFailer
	maxDuration time.Duration
	logger      *logger.Logger
	now         func() time.Time
}

// NewTaskTimeoutSweeperJob constructs the job.
func NewTaskTimeoutSweeperJob(finder StaleTaskFinder, failer TaskFailer, maxDuration time.Duration, log *logger.Logger) *TaskTimeoutSweeperJob {
	return &TaskTimeoutSweeperJob{finder: finder, failer: failer, maxDuration: maxDuration, logger: log, now: time.Now}
}

func (j *TaskTimeoutSweeperJob) Name() string { return "task_timeout_sweeper" }

func (j *TaskTimeoutSweeperJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	stats := Stats{}

	deadline := j.now().Add(-j.maxDuration)
	stale, err := j.finder.FindStaleRunningTasks(ctx, deadline)
	if err != nil {
		return Result{Success: false, Duration: time.Since(start)}, err
	}

	for _, taskID := range stale {
		if err := j.failer.FailTask(ctx, taskID, "execution exceeded task timeout"); err != nil {
			j.logger.Error("failed to force-fail stale task", zap.String("task_id", string(taskID)), zap.Error(err))
			stats.Skipped++
			continue
		}
		j.logger.Warn("force-failed stale task", zap.String("task_id", string(taskID)))
		stats.Produced++
	}

	return Result{Success: true, Stats: stats, Duration: time.Since(start)}, nil
}
