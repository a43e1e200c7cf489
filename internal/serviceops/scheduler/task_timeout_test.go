package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

type fakeStaleFinder struct {
	tasks []ids.TaskID
}

func (f fakeStaleFinder) FindStaleRunningTasks(ctx context.Context, startedBefore time.Time) ([]ids.TaskID, error) {
	return f.tasks, nil
}

type fakeFailer struct {
	failed map[ids.TaskID]string
}

func (f *fakeFailer) FailTask(ctx context.Context, taskID ids.TaskID, reason string) error {
	f.failed[taskID] = reason
	return nil
}

func TestTaskTimeoutSweeperJob_FailsStaleTasks(t *testing.T) {
	finder := fakeStaleFinder{tasks: []ids.TaskID{"task-1", "task-2"}}
	failer := &fakeFailer{failed: make(map[ids.TaskID]string)}
	job := NewTaskTimeoutSweeperJob(finder, failer, 30*time.Minute, logger.Default())

	result, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Stats.Produced)
	require.Len(t, failer.failed, 2)
	require.Contains(t, failer.failed, ids.TaskID("task-1"))
}

func TestTaskTimeoutSweeperJob_NoStaleTasks(t *testing.T) {
	finder := fakeStaleFinder{}
	failer := &fakeFailer{failed: make(map[ids.TaskID]string)}
	job := NewTaskTimeoutSweeperJob(finder, failer, 30*time.Minute, logger.Default())

	result, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Stats.Produced)
}
