// Package serviceconfig loads the declarative set of agent and MCP-server
// definitions that the service lifecycle manager supervises. Each service is
// described by one YAML file under a profile directory; a separate
// content-sources file describes the read-only content categories agents may
// reference.
package serviceconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orchestra-run/controlplane/internal/platform/apperr"
)

// Kind distinguishes an agent service from an MCP server.
type Kind string

const (
	KindAgent Kind = "agent"
	KindMCP   Kind = "mcp"
)

// AgentConfig is the declarative definition of one supervised agent process.
type AgentConfig struct {
	Name       string            `yaml:"name"`
	Port       int               `yaml:"port"`
	Binary     string            `yaml:"binary"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	Enabled    bool              `yaml:"enabled"`
	DevOnly    bool              `yaml:"devOnly"`
	Default    bool              `yaml:"default"`
	IsCloud    bool              `yaml:"isCloud"`
	CategoryID string            `yaml:"categoryId"`
}

// MCPConfig is the declarative definition of one supervised MCP server process.
type MCPConfig struct {
	Name    string            `yaml:"name"`
	Port    int               `yaml:"port"`
	Binary  string            `yaml:"binary"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Enabled bool              `yaml:"enabled"`
	DevOnly bool              `yaml:"devOnly"`
}

// ContentSource is a single entry of the root content-sources manifest.
type ContentSource struct {
	CategoryID          string   `yaml:"categoryId"`
	Path                string   `yaml:"path"`
	Enabled             bool     `yaml:"enabled"`
	AllowedContentTypes []string `yaml:"allowedContentTypes"`
	SitemapPatterns     []string `yaml:"sitemapPatterns"`
}

// ServicesConfig is the fully loaded and validated declarative service set.
type ServicesConfig struct {
	Agents        map[string]AgentConfig
	MCPServers    map[string]MCPConfig
	ContentSource map[string]ContentSource
}

var namePattern = regexp.MustCompile(`^[a-z0-9_]{3,50}$`)

// multiError collects every validation failure instead of stopping at the
// first one, per the config loader's contract.
type multiError struct {
	errs []string
}

func (m *multiError) add(format string, args ...any) {
	m.errs = append(m.errs, fmt.Sprintf(format, args...))
}

func (m *multiError) errOrNil() error {
	if len(m.errs) == 0 {
		return nil
	}
	return apperr.New(apperr.KindConfiguration, strings.Join(m.errs, "; "))
}

// Load reads every *.yaml file under profileRoot/agents, profileRoot/mcp, and
// the profileRoot/content-sources.yaml manifest, then validates the combined
// set. All invalid fields are collected and reported together.
func Load(profileRoot string) (*ServicesConfig, error) {
	merrs := &multiError{}

	agents, err := loadAgents(filepath.Join(profileRoot, "agents"), merrs)
	if err != nil {
		return nil, err
	}
	mcpServers, err := loadMCPServers(filepath.Join(profileRoot, "mcp"), merrs)
	if err != nil {
		return nil, err
	}
	sources, err := loadContentSources(profileRoot, merrs)
	if err != nil {
		return nil, err
	}

	validateNoDuplicatePorts(agents, mcpServers, merrs)
	validateCategoryReferences(agents, sources, merrs)

	if err := merrs.errOrNil(); err != nil {
		return nil, err
	}

	return &ServicesConfig{Agents: agents, MCPServers: mcpServers, ContentSource: sources}, nil
}

func loadAgents(dir string, merrs *multiError) (map[string]AgentConfig, error) {
	out := make(map[string]AgentConfig)
	files, err := yamlFilesIn(dir)
	if err != nil {
		return out, err
	}
	for _, f := range files {
		var cfg AgentConfig
		if err := readYAML(f, &cfg); err != nil {
			merrs.add("agent file %s: %v", f, err)
			continue
		}
		validateName(cfg.Name, f, merrs)
		validatePort(cfg.Port, f, merrs)
		if _, dup := out[cfg.Name]; dup {
			merrs.add("agent %q: duplicate declaration", cfg.Name)
			continue
		}
		out[cfg.Name] = cfg
	}
	return out, nil
}

func loadMCPServers(dir string, merrs *multiError) (map[string]MCPConfig, error) {
	out := make(map[string]MCPConfig)
	files, err := yamlFilesIn(dir)
	if err != nil {
		return out, err
	}
	for _, f := range files {
		var cfg MCPConfig
		if err := readYAML(f, &cfg); err != nil {
			merrs.add("mcp file %s: %v", f, err)
			continue
		}
		validateName(cfg.Name, f, merrs)
		validatePort(cfg.Port, f, merrs)
		if _, dup := out[cfg.Name]; dup {
			merrs.add("mcp server %q: duplicate declaration", cfg.Name)
			continue
		}
		out[cfg.Name] = cfg
	}
	return out, nil
}

func loadContentSources(profileRoot string, merrs *multiError) (map[string]ContentSource, error) {
	out := make(map[string]ContentSource)
	path := filepath.Join(profileRoot, "content-sources.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return out, nil
	}

	var list []ContentSource
	if err := readYAML(path, &list); err != nil {
		merrs.add("content sources file %s: %v", path, err)
		return out, nil
	}

	absRoot, err := filepath.Abs(profileRoot)
	if err != nil {
		return out, fmt.Errorf("resolving profile root: %w", err)
	}

	for _, src := range list {
		if src.CategoryID == "" {
			merrs.add("content source missing categoryId")
			continue
		}
		resolved := filepath.Join(absRoot, src.Path)
		cleanResolved, err := filepath.Abs(resolved)
		if err != nil || !strings.HasPrefix(cleanResolved, absRoot+string(filepath.Separator)) {
			merrs.add("content source %q: path %q escapes profile root", src.CategoryID, src.Path)
			continue
		}
		out[src.CategoryID] = src
	}
	return out, nil
}

func validateName(name, file string, merrs *multiError) {
	if !namePattern.MatchString(name) {
		merrs.add("%s: name %q must be lowercase alphanumeric/underscore, length 3-50", file, name)
	}
}

func validatePort(port int, file string, merrs *multiError) {
	if port < 1024 {
		merrs.add("%s: port %d must be >= 1024", file, port)
	}
}

func validateNoDuplicatePorts(agents map[string]AgentConfig, mcpServers map[string]MCPConfig, merrs *multiError) {
	seen := make(map[int]string)
	for name, a := range agents {
		if other, ok := seen[a.Port]; ok {
			merrs.add("agent port %d used by both %q and %q", a.Port, other, name)
			continue
		}
		seen[a.Port] = name
	}
	seen = make(map[int]string)
	for name, m := range mcpServers {
		if other, ok := seen[m.Port]; ok {
			merrs.add("mcp port %d used by both %q and %q", m.Port, other, name)
			continue
		}
		seen[m.Port] = name
	}
}

func validateCategoryReferences(agents map[string]AgentConfig, sources map[string]ContentSource, merrs *multiError) {
	for name, a := range agents {
		if a.CategoryID == "" {
			continue
		}
		if _, ok := sources[a.CategoryID]; !ok {
			merrs.add("agent %q: categoryId %q does not reference a known content source", name, a.CategoryID)
		}
	}
}

func yamlFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
