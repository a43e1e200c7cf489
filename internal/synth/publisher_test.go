package synth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/taskrepo"
)

func newTaskFixture(t *testing.T, repo *taskrepo.MemoryRepository) (ids.TaskID, ids.ContextID) {
	t.Helper()
	taskID := ids.TaskID("task-1")
	contextID := ids.ContextID("ctx-1")
	require.NoError(t, repo.CreateTask(context.Background(), taskrepo.Task{
		TaskID:    taskID,
		ContextID: contextID,
		State:     taskrepo.TaskWorking,
		StartedAt: time.Now().UTC(),
	}))
	return taskID, contextID
}

func TestPublishFromMCP_Direct_SynthesizesTwoMessages(t *testing.T) {
	repo := taskrepo.NewMemoryRepository()
	taskID, contextID := newTaskFixture(t, repo)
	pub := NewPublisher(repo, nil, nil)

	_, err := pub.PublishFromMCP(context.Background(), taskID, contextID, taskrepo.NewArtifactInput{
		Kind: taskrepo.ArtifactTable,
	}, "search", `{"q":"rust"}`, CallModeDirect)
	require.NoError(t, err)

	history, err := repo.GetTaskWithHistory(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	require.Equal(t, taskrepo.RoleUser, history.Messages[0].Role)
	require.Equal(t, taskrepo.RoleAgent, history.Messages[1].Role)
}

func TestPublishFromMCP_Agentic_SynthesizesNoMessages(t *testing.T) {
	repo := taskrepo.NewMemoryRepository()
	taskID, contextID := newTaskFixture(t, repo)
	pub := NewPublisher(repo, nil, nil)

	_, err := pub.PublishFromMCP(context.Background(), taskID, contextID, taskrepo.NewArtifactInput{
		Kind: taskrepo.ArtifactTable,
	}, "search", `{"q":"rust"}`, CallModeAgentic)
	require.NoError(t, err)

	history, err := repo.GetTaskWithHistory(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, history.Messages, 0)
}

func TestPublishFromA2A_SetsA2ASource(t *testing.T) {
	repo := taskrepo.NewMemoryRepository()
	taskID, contextID := newTaskFixture(t, repo)
	pub := NewPublisher(repo, nil, nil)

	artifact, err := pub.PublishFromA2A(context.Background(), taskID, contextID, taskrepo.NewArtifactInput{
		Kind: taskrepo.ArtifactText,
	})
	require.NoError(t, err)
	require.Equal(t, taskrepo.CallSourceA2A, artifact.Metadata.Source)
}

type fakeExecChecker struct{ exists bool }

func (f fakeExecChecker) ToolExecutionExists(ctx context.Context, executionID ids.ToolCallID) (bool, error) {
	return f.exists, nil
}

func TestPublish_ClearsDanglingExecutionReference(t *testing.T) {
	repo := taskrepo.NewMemoryRepository()
	taskID, contextID := newTaskFixture(t, repo)
	pub := NewPublisher(repo, nil, fakeExecChecker{exists: false})

	execID := ids.ToolCallID("missing-exec")
	artifact, err := pub.PublishFromA2A(context.Background(), taskID, contextID, taskrepo.NewArtifactInput{
		Kind:     taskrepo.ArtifactTable,
		Metadata: taskrepo.ArtifactMetadata{MCPExecutionID: &execID},
	})
	require.NoError(t, err)
	require.Nil(t, artifact.Metadata.MCPExecutionID)
}
