// Package synth turns a completed tool loop into the user-visible content of
// a task: the planner's own text if it gave one, a note that artifacts speak
// for themselves, or a second LLM call asking the provider to narrate the
// tool results — falling back to deterministic text if that call comes back
// empty or fails, so the user is never served a blank reply.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/orchestra-run/controlplane/internal/llmprovider"
	"github.com/orchestra-run/controlplane/internal/toolexec"
)

// StrategyKind discriminates the three ways a task's final content can be
// decided, mirroring the planner's own branch on what it returned.
type StrategyKind string

const (
	// StrategyContentProvided: the planner's own assistant text is used verbatim.
	StrategyContentProvided StrategyKind = "content_provided"
	// StrategyArtifactsProvided: the planner produced structured artifacts and
	// intentionally left the assistant text empty.
	StrategyArtifactsProvided StrategyKind = "artifacts_provided"
	// StrategyToolsOnly: the planner only returned tool calls; a second
	// provider call is required to narrate the results.
	StrategyToolsOnly StrategyKind = "tools_only"
)

// Strategy is the decided response strategy for one task's tool loop.
type Strategy struct {
	Kind         StrategyKind
	Content      string
	ToolCalls    []toolexec.ToolCall
	ToolResults  []toolexec.ToolResult
	HasArtifacts bool
}

// DecideStrategy picks a Strategy from the planner's output. plannerContent
// is whatever assistant text the planner call returned (may be empty).
func DecideStrategy(plannerContent string, calls []toolexec.ToolCall, results []toolexec.ToolResult, hasArtifacts bool) Strategy {
	if strings.TrimSpace(plannerContent) != "" {
		return Strategy{Kind: StrategyContentProvided, Content: plannerContent}
	}
	if hasArtifacts {
		return Strategy{Kind: StrategyArtifactsProvided, HasArtifacts: true}
	}
	return Strategy{Kind: StrategyToolsOnly, ToolCalls: calls, ToolResults: results}
}

// Synthesizer produces the final user-visible content for a task.
type Synthesizer struct {
	provider llmprovider.ChatProvider
	model    string
}

// NewSynthesizer constructs a Synthesizer bound to a single provider/model
// pair, matching whichever provider ran the planning call for this task.
func NewSynthesizer(provider llmprovider.ChatProvider, model string) *Synthesizer {
	return &Synthesizer{provider: provider, model: model}
}

// Synthesize resolves a Strategy into final content. history is the original
// conversation passed to the planner; it is extended with the assistant's
// tool-call turn and the tool-response turn before the synthesis call, per
// the tools-only strategy's contract.
func (s *Synthesizer) Synthesize(ctx context.Context, strategy Strategy, history []llmprovider.CompletionMessage) string {
	switch strategy.Kind {
	case StrategyContentProvided:
		return strategy.Content
	case StrategyArtifactsProvided:
		return ""
	case StrategyToolsOnly:
		return s.synthesizeFromTools(ctx, strategy, history)
	default:
		return fallback("unknown response strategy")
	}
}

func (s *Synthesizer) synthesizeFromTools(ctx context.Context, strategy Strategy, history []llmprovider.CompletionMessage) string {
	messages := append([]llmprovider.CompletionMessage{}, history...)
	messages = append(messages, llmprovider.CompletionMessage{
		Role:      llmprovider.RoleAssistant,
		ToolCalls: convertToolCalls(strategy.ToolCalls),
	})
	messages = append(messages, llmprovider.CompletionMessage{
		Role:        llmprovider.RoleTool,
		ToolResults: convertToolResults(strategy.ToolResults),
	})

	result, err := s.provider.Complete(ctx, llmprovider.CompletionRequest{
		Model:    s.model,
		Messages: messages,
	})
	if err != nil {
		return fallback(err.Error())
	}
	if strings.TrimSpace(result.Text) == "" {
		return fallback("provider returned empty content")
	}
	return result.Text
}

// fallback produces the deterministic text shown when synthesis fails or
// comes back empty, so the task still completes with visible content
// instead of a blank reply.
func fallback(reason string) string {
	if reason == "" {
		return "Tool execution completed."
	}
	return fmt.Sprintf("Tool execution completed.\n\n[Synthesis error: %s]", reason)
}

func convertToolCalls(calls []toolexec.ToolCall) []llmprovider.ToolCall {
	out := make([]llmprovider.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, llmprovider.ToolCall{ID: string(c.ID), Name: c.Name, Arguments: c.Arguments})
	}
	return out
}

func convertToolResults(results []toolexec.ToolResult) []llmprovider.ToolResult {
	out := make([]llmprovider.ToolResult, 0, len(results))
	for _, r := range results {
		out = append(out, llmprovider.ToolResult{ToolCallID: string(r.ToolCallID), Content: r.Content, IsError: r.IsError})
	}
	return out
}
