package taskrepo

import (
	"context"
	"time"

	"github.com/orchestra-run/controlplane/internal/ids"
)

// TaskWithHistory is the full assembled view returned by GetTaskWithHistory:
// the task row plus every message (with its parts), artifact (with its
// parts), and execution step, grouped and ready for the pipeline or API
// layer to serialize without further queries.
type TaskWithHistory struct {
	Task      Task
	Messages  []Message
	Artifacts []Artifact
	Steps     []ExecutionStep
}

// NewMessageInput is what callers provide to append a message; MessageID and
// CreatedAt are assigned by the repository.
type NewMessageInput struct {
	Role            MessageRole
	Parts           []Part
	ClientMessageID *string
	Metadata        map[string]any
}

// NewArtifactInput is what callers provide to publish an artifact; ArtifactID
// and CreatedAt are assigned by the repository.
type NewArtifactInput struct {
	Kind        ArtifactKind
	Name        *string
	Description *string
	Parts       []Part
	Metadata    ArtifactMetadata
}

// TaskRepository persists tasks and their associated history. Writes to a
// single aggregate (a task's messages, or an artifact's parts) are
// transactional; GetTaskWithHistory is read-optimized to avoid N+1 queries.
type TaskRepository interface {
	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID ids.TaskID) (*Task, error)
	UpdateTaskState(ctx context.Context, taskID ids.TaskID, state TaskState) error
	UpdateTaskMetadata(ctx context.Context, taskID ids.TaskID, metadata TaskMetadata) error
	CompleteTask(ctx context.Context, taskID ids.TaskID, at time.Time) error

	AppendMessage(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, input NewMessageInput) (*Message, error)

	PublishArtifact(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, input NewArtifactInput) (*Artifact, error)

	AppendStep(ctx context.Context, taskID ids.TaskID, step ExecutionStep) error
	UpdateStepStatus(ctx context.Context, stepID ids.StepID, status StepStatus, completedAt *time.Time, durationMS *int64, errMsg *string) error

	GetTaskWithHistory(ctx context.Context, taskID ids.TaskID) (*TaskWithHistory, error)

	FindStaleRunningTasks(ctx context.Context, startedBefore time.Time) ([]ids.TaskID, error)
	FailTask(ctx context.Context, taskID ids.TaskID, reason string) error
}
