// Package agentregistry maintains the declared agent set and builds the A2A
// agent cards clients discover agents through.
package agentregistry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/serviceconfig"
)

const (
	agentPortRangeStart = 9000
	agentPortRangeEnd   = 9999
)

// TransportKind is the wire transport an agent card advertises.
type TransportKind string

const (
	TransportJSONRPC  TransportKind = "JSONRPC"
	TransportGRPC     TransportKind = "GRPC"
	TransportHTTPJSON TransportKind = "HTTP+JSON"
)

// Capabilities is the A2A agent-card capabilities block.
type Capabilities struct {
	Streaming    bool `json:"streaming"`
	PushNotify   bool `json:"pushNotifications"`
	StateHistory bool `json:"stateTransitionHistory"`
}

// Skill is one capability an agent advertises, loaded from disk keyed by id.
type Skill struct {
	ID          ids.SkillID `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
}

// SecurityScheme describes how a client authenticates to an agent, either
// taken verbatim from config or derived from the process-wide OAuth config.
type SecurityScheme struct {
	Type   string `json:"type"`
	Scheme string `json:"scheme,omitempty"`
	Flows  any    `json:"flows,omitempty"`
}

// AgentCard is the A2A-spec document describing one agent to a client.
type AgentCard struct {
	Name         string            `json:"name"`
	URL          string            `json:"url"`
	Capabilities Capabilities      `json:"capabilities"`
	Transport    TransportKind     `json:"preferredTransport"`
	Skills       []Skill           `json:"skills"`
	Security     []SecurityScheme  `json:"securitySchemes,omitempty"`
	Extensions   map[string]string `json:"extensions,omitempty"`
}

// SkillLoader resolves a skill id to its disk-loaded definition. Agent
// Registry never parses skill files itself; it only enriches cards with
// whatever the loader returns.
type SkillLoader interface {
	LoadSkills(agentName string) ([]Skill, error)
}

// Registry is the reader-writer-guarded declared agent set. Many readers
// (card lookups on every request) and one writer (a reload) share it.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]serviceconfig.AgentConfig
	loadCfg func() (*serviceconfig.ServicesConfig, error)
	skills  SkillLoader
}

// New constructs a Registry. loadCfg is invoked by Reload to re-parse the
// declared set from disk; it is the same loader serviceconfig.Load wraps.
func New(loadCfg func() (*serviceconfig.ServicesConfig, error), skills SkillLoader) (*Registry, error) {
	r := &Registry{loadCfg: loadCfg, skills: skills}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses the declared config from disk and replaces the in-memory
// set under the write lock, so readers never observe a partial set.
func (r *Registry) Reload() error {
	cfg, err := r.loadCfg()
	if err != nil {
		return fmt.Errorf("agentregistry: reload: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = cfg.Agents
	return nil
}

// Get returns the declared config for name.
func (r *Registry) Get(name string) (serviceconfig.AgentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.agents[name]
	return cfg, ok
}

// List returns every declared agent, sorted by name.
func (r *Registry) List() []serviceconfig.AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]serviceconfig.AgentConfig, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListEnabled returns declared agents enabled for the given caller, hiding
// dev-only agents from cloud callers.
func (r *Registry) ListEnabled(isCloud bool) []serviceconfig.AgentConfig {
	all := r.List()
	out := make([]serviceconfig.AgentConfig, 0, len(all))
	for _, a := range all {
		if a.Enabled && !(a.DevOnly && isCloud) {
			out = append(out, a)
		}
	}
	return out
}

// GetDefault returns the unique enabled agent marked default=true.
func (r *Registry) GetDefault(isCloud bool) (serviceconfig.AgentConfig, error) {
	var found *serviceconfig.AgentConfig
	for _, a := range r.ListEnabled(isCloud) {
		if !a.Default {
			continue
		}
		if found != nil {
			return serviceconfig.AgentConfig{}, fmt.Errorf("agentregistry: more than one default agent declared (%q and %q)", found.Name, a.Name)
		}
		cp := a
		found = &cp
	}
	if found == nil {
		return serviceconfig.AgentConfig{}, fmt.Errorf("agentregistry: no default agent declared")
	}
	return *found, nil
}

// ToAgentCard builds the A2A agent card for name.
func (r *Registry) ToAgentCard(name, externalURL string, mcpExtensions map[string]string, securitySchemes []SecurityScheme) (*AgentCard, error) {
	cfg, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("agentregistry: unknown agent %q", name)
	}

	var skills []Skill
	if r.skills != nil {
		loaded, err := r.skills.LoadSkills(name)
		if err != nil {
			return nil, fmt.Errorf("agentregistry: loading skills for %q: %w", name, err)
		}
		skills = loaded
	}

	extensions := map[string]string{
		"identity":            name,
		"system-instructions": "",
		"service-status":      "enabled",
	}
	for k, v := range mcpExtensions {
		extensions[k] = v
	}

	return &AgentCard{
		Name:         cfg.Name,
		URL:          fmt.Sprintf("%s/api/v1/agents/%s", externalURL, name),
		Capabilities: Capabilities{Streaming: true, PushNotify: false, StateHistory: true},
		Transport:    TransportJSONRPC,
		Skills:       skills,
		Security:     securitySchemes,
		Extensions:   extensions,
	}, nil
}

// FindNextAvailablePort returns the smallest port in 9000..=9999 not already
// used by a declared agent.
func (r *Registry) FindNextAvailablePort() (int, error) {
	r.mu.RLock()
	used := make(map[int]bool, len(r.agents))
	for _, a := range r.agents {
		used[a.Port] = true
	}
	r.mu.RUnlock()

	for p := agentPortRangeStart; p <= agentPortRangeEnd; p++ {
		if !used[p] {
			return p, nil
		}
	}
	return 0, fmt.Errorf("agentregistry: no available port in %d..%d", agentPortRangeStart, agentPortRangeEnd)
}
