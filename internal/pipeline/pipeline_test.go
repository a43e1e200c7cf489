package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchestra-run/controlplane/internal/eventbus"
	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/llmprovider"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
	"github.com/orchestra-run/controlplane/internal/taskrepo"
	"github.com/orchestra-run/controlplane/internal/toolexec"
)

type fakeProvider struct {
	calls   int
	plan    llmprovider.CompletionResult
	synth   llmprovider.CompletionResult
}

func (f *fakeProvider) Complete(ctx context.Context, req llmprovider.CompletionRequest) (*llmprovider.CompletionResult, error) {
	f.calls++
	if f.calls == 1 {
		return &f.plan, nil
	}
	return &f.synth, nil
}
func (f *fakeProvider) Name() string                    { return "fake" }
func (f *fakeProvider) Models() []llmprovider.Model     { return nil }
func (f *fakeProvider) SupportsTools() bool             { return true }

type fakeInvoker struct{}

func (fakeInvoker) Call(ctx context.Context, name string, arguments json.RawMessage) (any, error) {
	return map[string]any{"hits": 3}, nil
}

func newTaskFixture(t *testing.T, repo *taskrepo.MemoryRepository) (ids.TaskID, ids.ContextID) {
	t.Helper()
	taskID := ids.TaskID("task-1")
	contextID := ids.ContextID("ctx-1")
	require.NoError(t, repo.CreateTask(context.Background(), taskrepo.Task{
		TaskID: taskID, ContextID: contextID, State: taskrepo.TaskWorking, StartedAt: time.Now().UTC(),
	}))
	return taskID, contextID
}

func TestRun_ToolCallFollowedBySynthesis_CompletesTask(t *testing.T) {
	repo := taskrepo.NewMemoryRepository()
	taskID, contextID := newTaskFixture(t, repo)

	provider := &fakeProvider{
		plan: llmprovider.CompletionResult{
			ToolCalls: []llmprovider.ToolCall{{ID: "1", Name: "search", Arguments: json.RawMessage(`{"q":"rust"}`)}},
		},
		synth: llmprovider.CompletionResult{Text: "I found 3 matches"},
	}
	bus := eventbus.NewMemoryEventBus(logger.Default())
	p := New(provider, repo, bus, logger.Default())

	executor := toolexec.NewExecutor(fakeInvoker{}, logger.Default())
	err := p.Run(context.Background(), taskID, Request{
		ContextID: contextID,
		Model:     "claude-sonnet-4-5",
		UserText:  "search for rust",
		Tools:     ToolSet{Executor: executor},
	})
	require.NoError(t, err)

	task, err := repo.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, taskrepo.TaskCompleted, task.State)

	history, err := repo.GetTaskWithHistory(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, history.Steps, 2)
	require.Len(t, history.Messages, 1)
	require.Equal(t, "I found 3 matches", history.Messages[0].Parts[0].Text)
}

func TestRun_PlannerError_FailsTask(t *testing.T) {
	repo := taskrepo.NewMemoryRepository()
	taskID, contextID := newTaskFixture(t, repo)

	p := New(&erroringProvider{}, repo, nil, logger.Default())
	executor := toolexec.NewExecutor(fakeInvoker{}, logger.Default())

	err := p.Run(context.Background(), taskID, Request{ContextID: contextID, Tools: ToolSet{Executor: executor}})
	require.Error(t, err)

	task, err := repo.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, taskrepo.TaskFailed, task.State)
}

type erroringProvider struct{}

func (erroringProvider) Complete(ctx context.Context, req llmprovider.CompletionRequest) (*llmprovider.CompletionResult, error) {
	return nil, errBoom
}
func (erroringProvider) Name() string                { return "erroring" }
func (erroringProvider) Models() []llmprovider.Model { return nil }
func (erroringProvider) SupportsTools() bool         { return false }

var errBoom = pipelineTestErr("boom")

type pipelineTestErr string

func (e pipelineTestErr) Error() string { return string(e) }
