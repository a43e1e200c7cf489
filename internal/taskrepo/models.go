// Package taskrepo persists tasks, their message/artifact history, and
// execution steps, and answers the pipeline's "get full history" hot path
// without an N+1 query per aggregate.
package taskrepo

import (
	"encoding/json"
	"time"

	"github.com/orchestra-run/controlplane/internal/ids"
)

// TaskState is a task's position in its lifecycle.
type TaskState string

const (
	TaskSubmitted     TaskState = "submitted"
	TaskWorking       TaskState = "working"
	TaskInputRequired TaskState = "input_required"
	TaskAuthRequired  TaskState = "auth_required"
	TaskCompleted     TaskState = "completed"
	TaskFailed        TaskState = "failed"
	TaskCanceled      TaskState = "canceled"
	TaskRejected      TaskState = "rejected"
	TaskUnknown       TaskState = "unknown"
)

// IsTerminal reports whether a task in this state will never transition
// again.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled, TaskRejected:
		return true
	default:
		return false
	}
}

// TaskMetadata carries the bookkeeping the execution pipeline records about
// a run: who executed it, what it cost, and what it produced.
type TaskMetadata struct {
	AgentName   ids.AgentName
	Model       string
	Tokens      int
	StepCount   int
	ArtifactIDs []ids.ArtifactID
}

// Task is one unit of work within a context (conversation).
type Task struct {
	TaskID      ids.TaskID
	ContextID   ids.ContextID
	State       TaskState
	StartedAt   time.Time
	CompletedAt *time.Time
	Metadata    TaskMetadata
}

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
)

// PartKind discriminates the variants of Part.
type PartKind string

const (
	PartText PartKind = "text"
	PartFile PartKind = "file"
	PartData PartKind = "data"
)

// Part is a tagged-union message/artifact content fragment. Exactly the
// fields relevant to Kind are populated; the rest are zero.
type Part struct {
	Kind PartKind

	// Text is populated when Kind == PartText.
	Text string

	// File fields are populated when Kind == PartFile.
	FileName string
	MimeType string
	Bytes    []byte

	// Data is populated when Kind == PartData.
	Data map[string]json.RawMessage
}

// Message is one entry in a task's conversation history.
type Message struct {
	MessageID       ids.MessageID
	TaskID          ids.TaskID
	ContextID       ids.ContextID
	Role            MessageRole
	Parts           []Part
	ClientMessageID *string
	Metadata        map[string]json.RawMessage
	CreatedAt       time.Time
}

// StepStatus is the lifecycle state of one execution step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// ExecutionStep is one planner/tool-loop/synthesizer iteration within a task.
type ExecutionStep struct {
	StepID       ids.StepID
	TaskID       ids.TaskID
	Kind         string
	Status       StepStatus
	Content      json.RawMessage
	StartedAt    time.Time
	CompletedAt  *time.Time
	DurationMS   *int64
	ErrorMessage *string
}

// ArtifactKind enumerates the shapes of output the execution pipeline can
// publish.
type ArtifactKind string

const (
	ArtifactTable            ArtifactKind = "table"
	ArtifactList             ArtifactKind = "list"
	ArtifactPresentationCard ArtifactKind = "presentation_card"
	ArtifactText             ArtifactKind = "text"
	ArtifactCopyPasteText    ArtifactKind = "copy_paste_text"
	ArtifactDashboard        ArtifactKind = "dashboard"
	ArtifactChart            ArtifactKind = "chart"
	ArtifactForm             ArtifactKind = "form"
	ArtifactImage            ArtifactKind = "image"
)

// CallSource distinguishes an artifact produced directly by an agent from
// one produced as the side effect of a tool call.
type CallSource string

const (
	CallSourceA2A CallSource = "a2a"
	CallSourceMCP CallSource = "mcp"
)

// ArtifactMetadata carries provenance for an artifact: which skill and tool
// produced it, and (for MCP-sourced artifacts) which tool execution row it
// is attached to.
type ArtifactMetadata struct {
	ArtifactType   string
	Source         CallSource
	MCPExecutionID *ids.ToolCallID
	Fingerprint    string
	SkillID        *ids.SkillID
	ToolName       *string
	Extensions     []string
}

// Artifact is a durable output produced by a task.
type Artifact struct {
	ArtifactID  ids.ArtifactID
	TaskID      ids.TaskID
	ContextID   ids.ContextID
	Kind        ArtifactKind
	Name        *string
	Description *string
	Parts       []Part
	Metadata    ArtifactMetadata
	CreatedAt   time.Time
}
