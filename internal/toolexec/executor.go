package toolexec

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// haltSignal is the shape a tool's result may carry to ask the executor to
// stop processing any further calls in this batch, even though calls made
// so far succeeded.
type haltSignal struct {
	Halted bool `json:"halted"`
}

// Executor runs a batch of tool calls against an Invoker. Every error the
// Invoker returns produces a failed ToolResult and execution continues with
// the next call; errors are not told apart by cause, so none of them aborts
// the batch. A batch stops early only on a halt signal in a result or, in
// ExecuteWithTemplates, on a template that cannot be resolved.
type Executor struct {
	invoker Invoker
	logger  *logger.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(invoker Invoker, log *logger.Logger) *Executor {
	return &Executor{invoker: invoker, logger: log}
}

// ExecuteSequential runs every call in order, with no argument templating.
// Tool calls do not retry; a provider/runtime-level error on a specific
// invocation is recorded as a failed result, not surfaced to the caller, so
// the remaining calls still get a chance to run.
func (e *Executor) ExecuteSequential(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		result := e.runOne(ctx, call)
		results = append(results, result)
		if resultSignalsHalt(result) {
			e.logger.Info("tool requested halt, skipping remaining calls", zap.String("tool", call.Name))
			break
		}
	}
	return results
}

// ExecuteWithTemplates runs calls in order, resolving {{results.N.path}}
// placeholders in each call's arguments against the results already
// produced earlier in this same batch before invoking it.
func (e *Executor) ExecuteWithTemplates(ctx context.Context, calls []ToolCall) ([]ToolResult, error) {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		resolvedArgs, err := resolveTemplates(call.Arguments, results)
		if err != nil {
			// A template that cannot be resolved is a planning-time defect,
			// not a tool failure: abort the whole batch rather than guess.
			return results, err
		}
		call.Arguments = resolvedArgs

		result := e.runOne(ctx, call)
		results = append(results, result)
		if resultSignalsHalt(result) {
			e.logger.Info("tool requested halt, skipping remaining calls", zap.String("tool", call.Name))
			break
		}
	}
	return results, nil
}

func (e *Executor) runOne(ctx context.Context, call ToolCall) ToolResult {
	start := time.Now()
	output, err := e.invoker.Call(ctx, call.Name, call.Arguments)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		e.logger.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
		errContent, _ := json.Marshal(map[string]string{"error": err.Error()})
		return ToolResult{ToolCallID: call.ID, Content: errContent, IsError: true, DurationMS: duration}
	}

	content, err := json.Marshal(output)
	if err != nil {
		errContent, _ := json.Marshal(map[string]string{"error": "failed to encode tool result: " + err.Error()})
		return ToolResult{ToolCallID: call.ID, Content: errContent, IsError: true, DurationMS: duration}
	}

	return ToolResult{ToolCallID: call.ID, Content: content, DurationMS: duration}
}

func resultSignalsHalt(result ToolResult) bool {
	if result.IsError {
		return false
	}
	var signal haltSignal
	if err := json.Unmarshal(result.Content, &signal); err != nil {
		return false
	}
	return signal.Halted
}

// FormatResultsForResponse renders a batch's results into a plain-text
// summary: one "<tool> succeeded|failed: <content>" line per call that has a
// result.
func FormatResultsForResponse(calls []ToolCall, results []ToolResult) string {
	byID := make(map[string]ToolResult, len(results))
	for _, r := range results {
		byID[string(r.ToolCallID)] = r
	}

	var out string
	for _, call := range calls {
		r, ok := byID[string(call.ID)]
		if !ok {
			continue
		}
		status := "succeeded"
		if r.IsError {
			status = "failed"
		}
		out += call.Name + " " + status + ": " + string(r.Content) + "\n"
	}
	return out
}
