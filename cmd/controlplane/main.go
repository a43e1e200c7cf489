// Command controlplane runs the agent orchestration control plane: it
// reconciles declared agent/MCP services, serves the A2A-facing HTTP API,
// brokers tool calls, and fans out the context event bus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/agentregistry"
	"github.com/orchestra-run/controlplane/internal/common/database"
	"github.com/orchestra-run/controlplane/internal/eventbus"
	"github.com/orchestra-run/controlplane/internal/httpapi"
	"github.com/orchestra-run/controlplane/internal/llmprovider"
	"github.com/orchestra-run/controlplane/internal/llmprovider/providers"
	"github.com/orchestra-run/controlplane/internal/mcpbroker"
	"github.com/orchestra-run/controlplane/internal/oauthsrv"
	"github.com/orchestra-run/controlplane/internal/platform/config"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
	"github.com/orchestra-run/controlplane/internal/platform/tracing"
	"github.com/orchestra-run/controlplane/internal/serviceconfig"
	"github.com/orchestra-run/controlplane/internal/serviceops"
	"github.com/orchestra-run/controlplane/internal/serviceops/scheduler"
	"github.com/orchestra-run/controlplane/internal/taskrepo"
)

func main() {
	if err := run(); err != nil {
		logger.Default().Fatal("controlplane: fatal startup error", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, "controlplane")
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	db, err := database.NewDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	repo := taskrepo.NewPostgres(db)

	bus, err := newEventBus(cfg, log)
	if err != nil {
		return fmt.Errorf("constructing event bus: %w", err)
	}
	defer bus.Close()

	loadServiceConfig := func() (*serviceconfig.ServicesConfig, error) {
		return serviceconfig.Load(cfg.Services.ManifestRoots[0])
	}
	registry, err := agentregistry.New(loadServiceConfig, nil)
	if err != nil {
		return fmt.Errorf("constructing agent registry: %w", err)
	}

	providerRegistry, err := buildProviderRegistry(ctx, cfg.Providers)
	if err != nil {
		return fmt.Errorf("constructing provider registry: %w", err)
	}

	tools := mcpbroker.NewToolRegistry()
	broker := mcpbroker.NewWithLogger(mcpbroker.Config{Port: 0}, tools, log)
	if err := broker.Start(ctx); err != nil {
		return fmt.Errorf("starting MCP broker: %w", err)
	}
	defer broker.Stop(context.Background())

	serviceStateStore := serviceops.NewPostgresServiceStateStore(db)
	supervisor := serviceops.NewSupervisor(log, serviceStateStore)
	stateManager := serviceops.NewStateManager(supervisor, serviceStateStore, serviceops.NewOSLivenessProbe(), log)

	sched := scheduler.New(log)
	if cfg.Scheduler.Enabled {
		if err := registerSchedulerJobs(ctx, sched, cfg, db, repo, stateManager, supervisor, loadServiceConfig, log); err != nil {
			return fmt.Errorf("registering scheduler jobs: %w", err)
		}
		sched.Start()
		defer sched.Stop(context.Background())
	}

	oauthStore := oauthsrv.NewPostgresStore(db)
	tokenIssuer := oauthsrv.NewTokenIssuer(
		[]byte(cfg.OAuth.JWTSecret),
		cfg.OAuth.AccessTokenDurationTime(),
		cfg.OAuth.RefreshTokenTTL(),
		oauthStore,
	)

	server := httpapi.NewServer(
		registry,
		repo,
		providerRegistry,
		cfg.Providers.DefaultModel,
		bus,
		tokenIssuer,
		oauthStore,
		log,
		fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
		map[string]*mcpbroker.ToolRegistry{},
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serverErrs := make(chan error, 1)
	go func() {
		log.Info("controlplane: listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("controlplane: shutdown signal received")
	case err := <-serverErrs:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("controlplane: graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func newEventBus(cfg *config.Config, log *logger.Logger) (eventbus.EventBus, error) {
	if cfg.NATS.URL == "" {
		return eventbus.NewMemoryEventBus(log), nil
	}
	return eventbus.NewNATSEventBus(cfg.NATS, log)
}

func buildProviderRegistry(ctx context.Context, cfg config.ProvidersConfig) (*llmprovider.Registry, error) {
	registry := llmprovider.NewRegistry(cfg.DefaultProvider)

	if cfg.AnthropicAPIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: cfg.AnthropicAPIKey, DefaultModel: cfg.DefaultModel})
		if err != nil {
			return nil, fmt.Errorf("constructing anthropic provider: %w", err)
		}
		registry.Register(p)
	}
	if cfg.OpenAIAPIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, DefaultModel: cfg.DefaultModel})
		if err != nil {
			return nil, fmt.Errorf("constructing openai provider: %w", err)
		}
		registry.Register(p)
	}
	if cfg.GeminiAPIKey != "" {
		p, err := providers.NewGeminiProvider(ctx, providers.GeminiConfig{APIKey: cfg.GeminiAPIKey, DefaultModel: cfg.DefaultModel})
		if err != nil {
			return nil, fmt.Errorf("constructing gemini provider: %w", err)
		}
		registry.Register(p)
	}
	return registry, nil
}

func registerSchedulerJobs(
	ctx context.Context,
	sched *scheduler.Scheduler,
	cfg *config.Config,
	db *database.DB,
	repo taskrepo.TaskRepository,
	stateManager *serviceops.StateManager,
	supervisor *serviceops.Supervisor,
	loadServiceConfig func() (*serviceconfig.ServicesConfig, error),
	log *logger.Logger,
) error {
	activity := serviceops.NewSessionActivityStore(db)

	specFor := func(name string) (serviceops.ProcessSpec, bool) {
		declared, err := loadServiceConfig()
		if err != nil {
			return serviceops.ProcessSpec{}, false
		}
		agent, ok := declared.Agents[name]
		if !ok {
			return serviceops.ProcessSpec{}, false
		}
		return serviceops.ProcessSpec{Name: agent.Name, Binary: agent.Binary, Args: agent.Args, Env: agent.Env, Port: agent.Port}, true
	}

	if cfg.Scheduler.ProcessCleanupCron != "" {
		job := scheduler.NewProcessCleanupJob(stateManager, supervisor, func() *serviceconfig.ServicesConfig {
			declared, _ := loadServiceConfig()
			return declared
		}, specFor, log)
		if err := sched.Register(ctx, cfg.Scheduler.ProcessCleanupCron, job); err != nil {
			return err
		}
	}
	if cfg.Scheduler.MaliciousIPCron != "" {
		job := scheduler.NewMaliciousIPBlacklistJob(activity, activity, 24*time.Hour, log)
		if err := sched.Register(ctx, cfg.Scheduler.MaliciousIPCron, job); err != nil {
			return err
		}
	}
	if cfg.Scheduler.TaskTimeoutCron != "" {
		job := scheduler.NewTaskTimeoutSweeperJob(repo, repo, 30*time.Minute, log)
		if err := sched.Register(ctx, cfg.Scheduler.TaskTimeoutCron, job); err != nil {
			return err
		}
	}
	if cfg.Scheduler.LogRetentionCron != "" {
		job := scheduler.NewLogRetentionJob(activity, 30*24*time.Hour, log)
		if err := sched.Register(ctx, cfg.Scheduler.LogRetentionCron, job); err != nil {
			return err
		}
	}
	return nil
}
