package taskrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/platform/apperr"
)

// MemoryRepository is an in-memory TaskRepository, used in pipeline unit
// tests where spinning up Postgres would only slow the suite down.
type MemoryRepository struct {
	mu        sync.RWMutex
	tasks     map[ids.TaskID]*Task
	messages  map[ids.TaskID][]*Message
	artifacts map[ids.TaskID][]*Artifact
	steps     map[ids.TaskID][]*ExecutionStep
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks:     make(map[ids.TaskID]*Task),
		messages:  make(map[ids.TaskID][]*Message),
		artifacts: make(map[ids.TaskID][]*Artifact),
		steps:     make(map[ids.TaskID][]*ExecutionStep),
	}
}

func (r *MemoryRepository) CreateTask(ctx context.Context, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.TaskID]; exists {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("task %s already exists", task.TaskID))
	}
	t := task
	r.tasks[task.TaskID] = &t
	return nil
}

func (r *MemoryRepository) GetTask(ctx context.Context, taskID ids.TaskID) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) UpdateTaskState(ctx context.Context, taskID ids.TaskID, state TaskState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	if t.State.IsTerminal() && state != t.State {
		return apperr.New(apperr.KindValidation,
			fmt.Sprintf("task %s is in terminal state %q, cannot transition to %q", taskID, t.State, state))
	}
	t.State = state
	return nil
}

func (r *MemoryRepository) UpdateTaskMetadata(ctx context.Context, taskID ids.TaskID, metadata TaskMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	t.Metadata = metadata
	return nil
}

func (r *MemoryRepository) CompleteTask(ctx context.Context, taskID ids.TaskID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	t.State = TaskCompleted
	completed := at
	t.CompletedAt = &completed
	return nil
}

func (r *MemoryRepository) AppendMessage(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, input NewMessageInput) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[taskID]; !ok {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}

	// Parts with no content are kept as an empty slice rather than rejected:
	// a tool-only agent turn may legitimately carry no text.
	parts := input.Parts
	if parts == nil {
		parts = []Part{}
	}

	msg := &Message{
		MessageID:       ids.MessageID(uuid.NewString()),
		TaskID:          taskID,
		ContextID:       contextID,
		Role:            input.Role,
		Parts:           parts,
		ClientMessageID: input.ClientMessageID,
		CreatedAt:       time.Now().UTC(),
	}
	r.messages[taskID] = append(r.messages[taskID], msg)

	cp := *msg
	return &cp, nil
}

func (r *MemoryRepository) PublishArtifact(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, input NewArtifactInput) (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[taskID]; !ok {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}

	metadata := input.Metadata
	if metadata.MCPExecutionID != nil {
		if !r.toolCallExists(taskID, *metadata.MCPExecutionID) {
			// The referenced tool execution row is gone (or never existed in
			// this in-memory fixture): clear the FK rather than fail the
			// publish, matching the Postgres implementation's safety net.
			metadata.MCPExecutionID = nil
		}
	}

	artifact := &Artifact{
		ArtifactID:  ids.ArtifactID(uuid.NewString()),
		TaskID:      taskID,
		ContextID:   contextID,
		Kind:        input.Kind,
		Name:        input.Name,
		Description: input.Description,
		Parts:       input.Parts,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	r.artifacts[taskID] = append(r.artifacts[taskID], artifact)

	cp := *artifact
	return &cp, nil
}

// toolCallExists stands in for the Postgres implementation's own query
// against mcp_tool_executions; the in-memory store has no such table so every
// referenced id is assumed valid unless a test wires steps that say
// otherwise via AppendStep.
func (r *MemoryRepository) toolCallExists(taskID ids.TaskID, toolCallID ids.ToolCallID) bool {
	for _, s := range r.steps[taskID] {
		if string(s.StepID) == string(toolCallID) {
			return true
		}
	}
	return len(r.steps[taskID]) == 0 // no steps recorded at all: don't second-guess the caller
}

func (r *MemoryRepository) AppendStep(ctx context.Context, taskID ids.TaskID, step ExecutionStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[taskID]; !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	s := step
	r.steps[taskID] = append(r.steps[taskID], &s)
	return nil
}

func (r *MemoryRepository) UpdateStepStatus(ctx context.Context, stepID ids.StepID, status StepStatus, completedAt *time.Time, durationMS *int64, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, steps := range r.steps {
		for _, s := range steps {
			if s.StepID == stepID {
				s.Status = status
				s.CompletedAt = completedAt
				s.DurationMS = durationMS
				s.ErrorMessage = errMsg
				return nil
			}
		}
	}
	return apperr.New(apperr.KindNotFound, fmt.Sprintf("step %s not found", stepID))
}

func (r *MemoryRepository) GetTaskWithHistory(ctx context.Context, taskID ids.TaskID) (*TaskWithHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}

	out := &TaskWithHistory{Task: *t}
	for _, m := range r.messages[taskID] {
		out.Messages = append(out.Messages, *m)
	}
	for _, a := range r.artifacts[taskID] {
		out.Artifacts = append(out.Artifacts, *a)
	}
	for _, s := range r.steps[taskID] {
		out.Steps = append(out.Steps, *s)
	}

	sort.Slice(out.Messages, func(i, j int) bool { return out.Messages[i].CreatedAt.Before(out.Messages[j].CreatedAt) })
	sort.Slice(out.Artifacts, func(i, j int) bool { return out.Artifacts[i].CreatedAt.Before(out.Artifacts[j].CreatedAt) })
	sort.Slice(out.Steps, func(i, j int) bool { return out.Steps[i].StartedAt.Before(out.Steps[j].StartedAt) })

	return out, nil
}

func (r *MemoryRepository) FindStaleRunningTasks(ctx context.Context, startedBefore time.Time) ([]ids.TaskID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ids.TaskID
	for id, t := range r.tasks {
		if !t.State.IsTerminal() && t.StartedAt.Before(startedBefore) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *MemoryRepository) FailTask(ctx context.Context, taskID ids.TaskID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	t.State = TaskFailed
	now := time.Now().UTC()
	t.CompletedAt = &now
	return nil
}

var _ TaskRepository = (*MemoryRepository)(nil)
