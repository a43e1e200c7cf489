// Package ids defines the typed identifiers shared across the control plane,
// keeping callers from accidentally passing a TaskID where a ContextID was
// expected.
package ids

// UserID identifies an authenticated caller.
type UserID string

// SessionID identifies an OAuth/MCP client session.
type SessionID string

// ContextID identifies a conversation (A2A context) spanning one or more tasks.
type ContextID string

// TaskID identifies a single unit of work within a context.
type TaskID string

// MessageID identifies a single message within a task's history.
type MessageID string

// ArtifactID identifies a durable output produced by a task.
type ArtifactID string

// StepID identifies one planner/tool-loop/synthesizer iteration within a task.
type StepID string

// ToolCallID identifies a single tool invocation within a step.
type ToolCallID string

// AgentName identifies a registered agent definition.
type AgentName string

// SkillID identifies a single capability an agent advertises.
type SkillID string

// ClientID identifies an OAuth dynamically-registered client.
type ClientID string

// TraceID identifies a distributed trace spanning a task's execution.
type TraceID string
