package llmprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name string
}

func (f fakeProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	return &CompletionResult{Text: "ok from " + f.name}, nil
}

func (f fakeProvider) Name() string { return f.name }

func (f fakeProvider) Models() []Model { return nil }

func (f fakeProvider) SupportsTools() bool { return true }

func TestRegistry_DefaultAndLookup(t *testing.T) {
	reg := NewRegistry("anthropic")
	reg.Register(fakeProvider{name: "anthropic"})
	reg.Register(fakeProvider{name: "openai"})

	def, err := reg.Default()
	require.NoError(t, err)
	require.Equal(t, "anthropic", def.Name())

	p, err := reg.Get("openai")
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())

	_, err = reg.Get("missing")
	require.Error(t, err)
}
