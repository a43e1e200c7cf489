// Package mcpbroker exposes a registry of agent tools over the Model Context
// Protocol, so any MCP-speaking client (or the in-process tool executor) can
// discover and invoke them. It supports both transports for compatibility
// with different MCP clients:
//   - SSE transport (/sse) for long-lived streaming clients.
//   - Streamable HTTP transport (/mcp) for request/response clients.
package mcpbroker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// Config holds the broker's listen configuration.
type Config struct {
	Port int // Port to listen on; 0 lets the OS assign one.
}

// Broker wraps the SSE and Streamable HTTP MCP servers with lifecycle
// management and a dynamic tool registry.
type Broker struct {
	cfg                  Config
	registry             *ToolRegistry
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server
	mu                   sync.Mutex
	running              bool
	logger               *logger.Logger
}

// New creates a new broker with the given configuration and tool registry.
func New(cfg Config, registry *ToolRegistry) *Broker {
	return &Broker{
		cfg:      cfg,
		registry: registry,
		logger:   logger.Default().WithFields(zap.String("component", "mcp-broker")),
	}
}

// NewWithLogger creates a new broker using the given logger instead of the default.
func NewWithLogger(cfg Config, registry *ToolRegistry, log *logger.Logger) *Broker {
	b := New(cfg, registry)
	b.logger = log.WithFields(zap.String("component", "mcp-broker"))
	return b
}

// Start starts the broker in a goroutine and returns once it is listening.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("broker already running")
	}
	b.mu.Unlock()

	mcpServer := server.NewMCPServer(
		"controlplane-tool-broker",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	b.registry.registerAll(mcpServer, b.logger)

	b.sseServer = server.NewSSEServer(mcpServer)
	b.streamableHTTPServer = server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", b.sseServer.SSEHandler())
	mux.Handle("/message", b.sseServer.MessageHandler())
	mux.Handle("/mcp", b.streamableHTTPServer)

	addr := fmt.Sprintf(":%d", b.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		b.cfg.Port = tcpAddr.Port
	}

	b.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})

	go func() {
		b.mu.Lock()
		b.running = true
		b.mu.Unlock()

		close(ready)

		b.logger.Info("mcp broker listening",
			zap.Int("port", b.cfg.Port),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := b.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			b.logger.Error("mcp broker error", zap.Error(err))
		}

		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the broker.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()

	if !running {
		return nil
	}

	if b.httpServer != nil {
		if err := b.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown http server: %w", err)
		}
	}
	if b.sseServer != nil {
		if err := b.sseServer.Shutdown(ctx); err != nil {
			b.logger.Warn("failed to shutdown sse server", zap.Error(err))
		}
	}
	if b.streamableHTTPServer != nil {
		if err := b.streamableHTTPServer.Shutdown(ctx); err != nil {
			b.logger.Warn("failed to shutdown streamable http server", zap.Error(err))
		}
	}

	return nil
}

// SSEEndpoint returns the full SSE URL for streaming MCP clients.
func (b *Broker) SSEEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/sse", b.cfg.Port)
}

// StreamableHTTPEndpoint returns the full Streamable HTTP URL for request/response MCP clients.
func (b *Broker) StreamableHTTPEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/mcp", b.cfg.Port)
}
