package taskrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchestra-run/controlplane/internal/ids"
)

func TestMemoryRepository_GetTaskWithHistory_OrdersAndGroupsCorrectly(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	task := Task{
		TaskID:    "task-1",
		ContextID: "ctx-1",
		State:     TaskWorking,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateTask(ctx, task))

	_, err := repo.AppendMessage(ctx, "task-1", "ctx-1", NewMessageInput{
		Role:  RoleUser,
		Parts: []Part{{Kind: PartText, Text: "hello"}},
	})
	require.NoError(t, err)

	_, err = repo.AppendMessage(ctx, "task-1", "ctx-1", NewMessageInput{
		Role:  RoleAgent,
		Parts: nil,
	})
	require.NoError(t, err)

	_, err = repo.PublishArtifact(ctx, "task-1", "ctx-1", NewArtifactInput{
		Kind:  ArtifactText,
		Parts: []Part{{Kind: PartText, Text: "result"}},
		Metadata: ArtifactMetadata{
			ArtifactType: "summary",
			Source:       CallSourceA2A,
			Fingerprint:  "abc123",
		},
	})
	require.NoError(t, err)

	hist, err := repo.GetTaskWithHistory(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, TaskWorking, hist.Task.State)
	require.Len(t, hist.Messages, 2)
	require.Len(t, hist.Messages[0].Parts, 1)
	require.Equal(t, "hello", hist.Messages[0].Parts[0].Text)
	require.Empty(t, hist.Messages[1].Parts) // empty-parts message kept, not rejected
	require.Len(t, hist.Artifacts, 1)
}

func TestMemoryRepository_PublishArtifact_ClearsDanglingExecutionReference(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateTask(ctx, Task{TaskID: "task-1", ContextID: "ctx-1", State: TaskWorking, StartedAt: time.Now().UTC()}))
	require.NoError(t, repo.AppendStep(ctx, "task-1", ExecutionStep{StepID: "step-real", TaskID: "task-1", Status: StepCompleted, StartedAt: time.Now().UTC()}))

	missing := ids.ToolCallID("step-missing")
	artifact, err := repo.PublishArtifact(ctx, "task-1", "ctx-1", NewArtifactInput{
		Kind: ArtifactTable,
		Metadata: ArtifactMetadata{
			ArtifactType:   "table",
			Source:         CallSourceMCP,
			Fingerprint:    "fp",
			MCPExecutionID: &missing,
		},
	})
	require.NoError(t, err)
	require.Nil(t, artifact.Metadata.MCPExecutionID)
}

func TestMemoryRepository_FindStaleRunningTasks_ExcludesTerminalStates(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	require.NoError(t, repo.CreateTask(ctx, Task{TaskID: "stale", ContextID: "ctx", State: TaskWorking, StartedAt: old}))
	require.NoError(t, repo.CreateTask(ctx, Task{TaskID: "done", ContextID: "ctx", State: TaskCompleted, StartedAt: old}))
	require.NoError(t, repo.CreateTask(ctx, Task{TaskID: "fresh", ContextID: "ctx", State: TaskWorking, StartedAt: time.Now()}))

	stale, err := repo.FindStaleRunningTasks(ctx, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []ids.TaskID{"stale"}, stale)
}

func TestMemoryRepository_UpdateTaskState_RejectsTransitionFromTerminalState(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateTask(ctx, Task{TaskID: "task-1", ContextID: "ctx-1", State: TaskCompleted, StartedAt: time.Now()}))

	err := repo.UpdateTaskState(ctx, "task-1", TaskWorking)
	require.Error(t, err)

	task, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, task.State) // unchanged
}

func TestMemoryRepository_UpdateTaskState_SameTerminalStateIsNoop(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateTask(ctx, Task{TaskID: "task-1", ContextID: "ctx-1", State: TaskFailed, StartedAt: time.Now()}))

	require.NoError(t, repo.UpdateTaskState(ctx, "task-1", TaskFailed))
}

func TestMemoryRepository_FailTask(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateTask(ctx, Task{TaskID: "task-1", ContextID: "ctx-1", State: TaskWorking, StartedAt: time.Now()}))
	require.NoError(t, repo.FailTask(ctx, "task-1", "timeout"))

	task, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, TaskFailed, task.State)
	require.NotNil(t, task.CompletedAt)
}
