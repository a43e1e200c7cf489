package llmprovider

import "fmt"

// Registry resolves a ChatProvider by name, so the planner can route a
// task's configured provider (Anthropic, OpenAI, Gemini, ...) without a
// type switch.
type Registry struct {
	providers   map[string]ChatProvider
	defaultName string
}

// NewRegistry creates a Registry. defaultName selects the provider returned
// by Default(); it must be registered via Register before Default is called.
func NewRegistry(defaultName string) *Registry {
	return &Registry{providers: make(map[string]ChatProvider), defaultName: defaultName}
}

// Register adds a provider under its own Name().
func (r *Registry) Register(p ChatProvider) {
	r.providers[p.Name()] = p
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (ChatProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("llmprovider: unknown provider %q", name)
	}
	return p, nil
}

// Default returns the registry's configured default provider.
func (r *Registry) Default() (ChatProvider, error) {
	return r.Get(r.defaultName)
}
