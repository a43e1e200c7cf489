package synth

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/llmprovider"
	"github.com/orchestra-run/controlplane/internal/toolexec"
)

type fakeProvider struct {
	text string
	err  error
}

func (f fakeProvider) Complete(ctx context.Context, req llmprovider.CompletionRequest) (*llmprovider.CompletionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llmprovider.CompletionResult{Text: f.text}, nil
}
func (f fakeProvider) Name() string            { return "fake" }
func (f fakeProvider) Models() []llmprovider.Model { return nil }
func (f fakeProvider) SupportsTools() bool     { return true }

func TestDecideStrategy_ContentProvided(t *testing.T) {
	strat := DecideStrategy("I found 3 matches", nil, nil, false)
	require.Equal(t, StrategyContentProvided, strat.Kind)
}

func TestDecideStrategy_ArtifactsProvided(t *testing.T) {
	strat := DecideStrategy("", nil, nil, true)
	require.Equal(t, StrategyArtifactsProvided, strat.Kind)
}

func TestDecideStrategy_ToolsOnly(t *testing.T) {
	calls := []toolexec.ToolCall{{ID: ids.ToolCallID("1"), Name: "search"}}
	strat := DecideStrategy("", calls, nil, false)
	require.Equal(t, StrategyToolsOnly, strat.Kind)
}

func TestSynthesize_ToolsOnly_UsesProviderText(t *testing.T) {
	s := NewSynthesizer(fakeProvider{text: "I found 3 matches"}, "claude-sonnet-4-5")
	strat := Strategy{Kind: StrategyToolsOnly, ToolResults: []toolexec.ToolResult{
		{ToolCallID: ids.ToolCallID("1"), Content: json.RawMessage(`{"hits":3}`)},
	}}
	out := s.Synthesize(context.Background(), strat, nil)
	require.Equal(t, "I found 3 matches", out)
}

func TestSynthesize_EmptyProviderContent_FallsBack(t *testing.T) {
	s := NewSynthesizer(fakeProvider{text: ""}, "claude-sonnet-4-5")
	out := s.Synthesize(context.Background(), Strategy{Kind: StrategyToolsOnly}, nil)
	require.Equal(t, "Tool execution completed.\n\n[Synthesis error: provider returned empty content]", out)
}

func TestSynthesize_ProviderError_FallsBack(t *testing.T) {
	s := NewSynthesizer(fakeProvider{err: errBoom}, "claude-sonnet-4-5")
	out := s.Synthesize(context.Background(), Strategy{Kind: StrategyToolsOnly}, nil)
	require.Contains(t, out, "[Synthesis error: boom]")
}

func TestSynthesize_ArtifactsProvided_ReturnsEmpty(t *testing.T) {
	s := NewSynthesizer(fakeProvider{}, "claude-sonnet-4-5")
	out := s.Synthesize(context.Background(), Strategy{Kind: StrategyArtifactsProvided}, nil)
	require.Empty(t, out)
}

var errBoom = synthTestErr("boom")

type synthTestErr string

func (e synthTestErr) Error() string { return string(e) }
