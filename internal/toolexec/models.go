// Package toolexec runs the tool calls a planning turn produced: either
// sequentially, or template-aware where a later call's arguments can
// reference an earlier call's result.
package toolexec

import (
	"context"
	"encoding/json"

	"github.com/orchestra-run/controlplane/internal/ids"
)

// ToolCall is one tool invocation requested by the planner.
type ToolCall struct {
	ID        ids.ToolCallID
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of running one ToolCall.
type ToolResult struct {
	ToolCallID ids.ToolCallID
	Content    json.RawMessage
	IsError    bool
	DurationMS int64
}

// Invoker executes a single tool call by name. internal/mcpbroker's
// ToolRegistry satisfies this directly.
type Invoker interface {
	Call(ctx context.Context, name string, arguments json.RawMessage) (any, error)
}
