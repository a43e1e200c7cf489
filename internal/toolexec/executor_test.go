package toolexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

type fakeInvoker struct {
	results map[string]any
	errors  map[string]error
	calls   []string
}

func (f *fakeInvoker) Call(ctx context.Context, name string, arguments json.RawMessage) (any, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errors[name]; ok {
		return nil, err
	}
	return f.results[name], nil
}

func TestExecuteSequential_ToolErrorContinues(t *testing.T) {
	inv := &fakeInvoker{
		results: map[string]any{"search": map[string]any{"hits": 3}, "summarize": "done"},
		errors:  map[string]error{"broken_tool": errBoom},
	}
	exec := NewExecutor(inv, logger.Default())

	calls := []ToolCall{
		{ID: ids.ToolCallID("1"), Name: "search"},
		{ID: ids.ToolCallID("2"), Name: "broken_tool"},
		{ID: ids.ToolCallID("3"), Name: "summarize"},
	}

	results := exec.ExecuteSequential(context.Background(), calls)
	require.Len(t, results, 3)
	require.False(t, results[0].IsError)
	require.True(t, results[1].IsError)
	require.False(t, results[2].IsError)
	require.Equal(t, []string{"search", "broken_tool", "summarize"}, inv.calls)
}

func TestExecuteSequential_HaltStopsRemainingCalls(t *testing.T) {
	inv := &fakeInvoker{
		results: map[string]any{
			"gate":      map[string]any{"halted": true},
			"unreached": "should not run",
		},
	}
	exec := NewExecutor(inv, logger.Default())

	calls := []ToolCall{
		{ID: ids.ToolCallID("1"), Name: "gate"},
		{ID: ids.ToolCallID("2"), Name: "unreached"},
	}

	results := exec.ExecuteSequential(context.Background(), calls)
	require.Len(t, results, 1)
	require.Equal(t, []string{"gate"}, inv.calls)
}

func TestExecuteWithTemplates_ResolvesPriorResult(t *testing.T) {
	inv := &fakeInvoker{
		results: map[string]any{
			"search":      map[string]any{"hits": []any{map[string]any{"id": "doc-42"}}},
			"fetch_doc":   "fetched",
		},
	}
	exec := NewExecutor(inv, logger.Default())

	calls := []ToolCall{
		{ID: ids.ToolCallID("1"), Name: "search"},
		{ID: ids.ToolCallID("2"), Name: "fetch_doc", Arguments: json.RawMessage(`{"doc_id":"{{results.0.hits.0.id}}"}`)},
	}

	results, err := exec.ExecuteWithTemplates(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.False(t, results[1].IsError)
}

func TestExecuteWithTemplates_MalformedReferenceAborts(t *testing.T) {
	inv := &fakeInvoker{results: map[string]any{"search": map[string]any{"hits": 0}}}
	exec := NewExecutor(inv, logger.Default())

	calls := []ToolCall{
		{ID: ids.ToolCallID("1"), Name: "search"},
		{ID: ids.ToolCallID("2"), Name: "fetch_doc", Arguments: json.RawMessage(`{"doc_id":"{{results.0.hits.missing}}"}`)},
	}

	results, err := exec.ExecuteWithTemplates(context.Background(), calls)
	require.Error(t, err)
	require.Len(t, results, 1)
}

func TestFormatResultsForResponse(t *testing.T) {
	calls := []ToolCall{{ID: ids.ToolCallID("1"), Name: "search"}}
	results := []ToolResult{{ToolCallID: ids.ToolCallID("1"), Content: json.RawMessage(`{"hits":3}`)}}

	out := FormatResultsForResponse(calls, results)
	require.Contains(t, out, "search succeeded")
}

var errBoom = toolExecTestErr("boom")

type toolExecTestErr string

func (e toolExecTestErr) Error() string { return string(e) }
