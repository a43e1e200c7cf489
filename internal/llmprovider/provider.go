// Package llmprovider defines the ChatProvider capability the execution
// planner calls against, and the request/response shapes shared by every
// concrete backend (Anthropic, OpenAI, Gemini).
package llmprovider

import (
	"context"
	"encoding/json"
)

// Tool is one callable tool definition, as advertised to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Model describes one model a provider exposes.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// MessageRole identifies who authored a CompletionMessage.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a ToolCall, fed back to the model.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Content    json.RawMessage `json:"content"`
	IsError    bool            `json:"is_error,omitempty"`
}

// CompletionMessage is one turn of conversation history sent to the model.
type CompletionMessage struct {
	Role        MessageRole  `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// CompletionRequest is everything the planner hands to a provider for one
// planning turn.
type CompletionRequest struct {
	Model     string               `json:"model"`
	System    string               `json:"system,omitempty"`
	Messages  []CompletionMessage  `json:"messages"`
	Tools     []Tool               `json:"tools,omitempty"`
	MaxTokens int                  `json:"max_tokens,omitempty"`
}

// CompletionResult is a provider's answer to one CompletionRequest. Unlike
// the teacher's token-by-token streaming channel, the planner needs the
// model's full turn (text and/or tool calls) before it can decide what to
// do next, so providers here return a single assembled result rather than a
// chunk stream; streaming to the Context Event Bus happens at a coarser
// granularity (step started/completed), not per-token.
type CompletionResult struct {
	Text         string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// ChatProvider is the capability interface the execution planner depends on.
// Each concrete backend (Anthropic, OpenAI, Gemini) implements this without
// the planner knowing which one it is talking to.
type ChatProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	Name() string
	Models() []Model
	SupportsTools() bool
}
