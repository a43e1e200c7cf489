// Package mcpbroker provides the MCP tool broker for the execution pipeline.
package mcpbroker

import (
	"context"
	"sync"
	"time"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Port: 9090}
}

// Provide starts the broker and returns a cleanup function to stop it.
func Provide(ctx context.Context, cfg Config, registry *ToolRegistry, log *logger.Logger) (*Broker, func() error, error) {
	b := NewWithLogger(cfg, registry, log)
	if err := b.Start(ctx); err != nil {
		return nil, nil, err
	}

	var stopOnce sync.Once
	cleanup := func() error {
		var stopErr error
		stopOnce.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopErr = b.Stop(stopCtx)
		})
		return stopErr
	}

	return b, cleanup, nil
}
