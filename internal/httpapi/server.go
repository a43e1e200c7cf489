package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/orchestra-run/controlplane/internal/agentregistry"
	"github.com/orchestra-run/controlplane/internal/common/httpmw"
	"github.com/orchestra-run/controlplane/internal/eventbus"
	"github.com/orchestra-run/controlplane/internal/llmprovider"
	"github.com/orchestra-run/controlplane/internal/mcpbroker"
	"github.com/orchestra-run/controlplane/internal/oauthsrv"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
	"github.com/orchestra-run/controlplane/internal/taskrepo"
	"github.com/orchestra-run/controlplane/internal/toolexec"
)

// Server holds every dependency the HTTP handlers need. It carries no
// behavior of its own beyond routing and error translation; the core
// subsystems (agentregistry, taskrepo, pipeline, eventbus) do the work.
type Server struct {
	registry     *agentregistry.Registry
	repo         taskrepo.TaskRepository
	providers    *llmprovider.Registry
	defaultModel string
	bus          eventbus.EventBus
	tokens       *oauthsrv.TokenIssuer
	oauthStore   oauthsrv.Store
	logger       *logger.Logger
	externalURL  string

	// tools maps an agent name to the tool registry it may call; agents not
	// present here run with no tools available.
	tools map[string]*mcpbroker.ToolRegistry
}

// NewServer constructs a Server and its gin engine.
func NewServer(
	registry *agentregistry.Registry,
	repo taskrepo.TaskRepository,
	providers *llmprovider.Registry,
	defaultModel string,
	bus eventbus.EventBus,
	tokens *oauthsrv.TokenIssuer,
	oauthStore oauthsrv.Store,
	log *logger.Logger,
	externalURL string,
	tools map[string]*mcpbroker.ToolRegistry,
) *Server {
	return &Server{
		registry:     registry,
		repo:         repo,
		providers:    providers,
		defaultModel: defaultModel,
		bus:          bus,
		tokens:       tokens,
		oauthStore:   oauthStore,
		logger:       log,
		externalURL:  externalURL,
		tools:        tools,
	}
}

// toolExecutorFor builds a tool executor scoped to the given agent's tool
// registry. An agent with no registered tools gets an executor wired to an
// empty registry, so ExecuteSequential always has something to call.
func (s *Server) toolExecutorFor(agentName string) *toolexec.Executor {
	reg, ok := s.tools[agentName]
	if !ok {
		reg = mcpbroker.NewToolRegistry()
	}
	return toolexec.NewExecutor(reg, s.logger)
}

// Router assembles the full gin engine: middleware, then every route group.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmw.OtelTracing("controlplane"))
	r.Use(httpmw.RequestLogger(s.logger, "controlplane"))

	api := r.Group("/api/v1")
	s.registerAgentRoutes(api)
	s.registerTaskRoutes(api)
	s.registerStreamRoutes(api)
	s.registerWebhookRoutes(api)
	s.registerOAuthRoutes(r)

	return r
}
