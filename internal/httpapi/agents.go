package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orchestra-run/controlplane/internal/agentregistry"
)

// registerAgentRoutes wires GET /api/v1/agents and GET /api/v1/agents/:name.
func (s *Server) registerAgentRoutes(rg *gin.RouterGroup) {
	rg.GET("/agents", s.listAgents)
	rg.GET("/agents/:name", s.getAgentCard)
}

func (s *Server) listAgents(c *gin.Context) {
	isCloud := c.Query("is_cloud") == "true"
	agents := s.registry.ListEnabled(isCloud)

	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name)
	}
	c.JSON(http.StatusOK, gin.H{"agents": names})
}

func (s *Server) getAgentCard(c *gin.Context) {
	name := c.Param("name")
	card, err := s.registry.ToAgentCard(name, s.externalURL, nil, []agentregistry.SecurityScheme{})
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody{Error: "not_found", ErrorDescription: err.Error()})
		return
	}
	c.JSON(http.StatusOK, card)
}
