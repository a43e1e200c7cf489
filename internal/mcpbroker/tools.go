package mcpbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// ToolDefinition describes a single callable tool, independent of how it is
// transported. The arguments schema follows the same JSON Schema object
// shape agents receive from the planner (internal/llmprovider.Tool.Parameters).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema, type "object"
}

// ToolCallFunc executes a tool call and returns its structured result.
type ToolCallFunc func(ctx context.Context, arguments json.RawMessage) (any, error)

// ToolRegistry holds the tools currently exposed by the broker. Tools can be
// registered and unregistered at runtime (e.g. when an MCP-backed agent
// service starts or stops), mirroring the teacher's pattern of building the
// tool list once per server start but generalized to a live registry so the
// execution pipeline's tool loop can resolve tool names against it directly.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

type registeredTool struct {
	def ToolDefinition
	fn  ToolCallFunc
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]registeredTool)}
}

// Register adds or replaces a tool definition and its handler.
func (r *ToolRegistry) Register(def ToolDefinition, fn ToolCallFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = registeredTool{def: def, fn: fn}
}

// Unregister removes a tool by name. It is a no-op if the tool is not present.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// List returns the definitions of every registered tool, for handing to the
// execution planner as its available tool set.
func (r *ToolRegistry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.def)
	}
	return defs
}

// Call invokes a registered tool by name. Returns an error if the tool is
// unknown so callers (the tool executor) can surface a failed ToolCallResult
// instead of panicking.
func (r *ToolRegistry) Call(ctx context.Context, name string, arguments json.RawMessage) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return t.fn(ctx, arguments)
}

// registerAll mirrors every tool in the registry onto the mcp-go server so
// external MCP clients can discover and invoke them the same way the
// in-process tool executor does.
func (r *ToolRegistry) registerAll(s *server.MCPServer, log *logger.Logger) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, t := range r.tools {
		def := t.def
		fn := t.fn

		opts := []mcp.ToolOption{mcp.WithDescription(def.Description)}
		s.AddTool(mcp.NewTool(name, opts...), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := json.Marshal(req.GetArguments())
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to encode arguments: %v", err)), nil
			}

			result, err := fn(ctx, raw)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			formatted, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
			}
			return mcp.NewToolResultText(string(formatted)), nil
		})
	}

	log.Info("registered mcp tools", zap.Int("count", len(r.tools)))
}
