package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/pipeline"
	"github.com/orchestra-run/controlplane/internal/taskrepo"
)

func (s *Server) registerTaskRoutes(rg *gin.RouterGroup) {
	rg.POST("/agents/:name/tasks", s.createTask)
}

type createTaskRequest struct {
	Message   string `json:"message" binding:"required"`
	ContextID string `json:"context_id"`
}

type createTaskResponse struct {
	TaskID    string `json:"task_id"`
	ContextID string `json:"context_id"`
}

// createTask creates a task and dispatches it to the pipeline in the
// background, returning immediately with state=Working; the client follows
// progress over the SSE stream rather than waiting on this request.
func (s *Server) createTask(c *gin.Context) {
	agentName := c.Param("name")
	if _, ok := s.registry.Get(agentName); !ok {
		c.JSON(http.StatusNotFound, errorBody{Error: "not_found", ErrorDescription: "unknown agent"})
		return
	}

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", ErrorDescription: err.Error()})
		return
	}

	contextID := ids.ContextID(req.ContextID)
	if contextID == "" {
		contextID = ids.ContextID(uuid.NewString())
	}
	taskID := ids.TaskID(uuid.NewString())

	if err := s.repo.CreateTask(c.Request.Context(), taskrepo.Task{
		TaskID:    taskID,
		ContextID: contextID,
		State:     taskrepo.TaskWorking,
		StartedAt: time.Now().UTC(),
		Metadata:  taskrepo.TaskMetadata{AgentName: ids.AgentName(agentName)},
	}); err != nil {
		writeError(c, err)
		return
	}

	if _, err := s.repo.AppendMessage(c.Request.Context(), taskID, contextID, taskrepo.NewMessageInput{
		Role:  taskrepo.RoleUser,
		Parts: []taskrepo.Part{{Kind: taskrepo.PartText, Text: req.Message}},
	}); err != nil {
		writeError(c, err)
		return
	}

	provider, err := s.providers.Default()
	if err != nil {
		writeError(c, err)
		return
	}

	model := s.defaultModel
	if models := provider.Models(); model == "" && len(models) > 0 {
		model = models[0].ID
	}

	pl := pipeline.New(provider, s.repo, s.bus, s.logger)
	executor := s.toolExecutorFor(agentName)
	backgroundCtx := context.WithoutCancel(c.Request.Context())

	go func() {
		if err := pl.Run(backgroundCtx, taskID, pipeline.Request{
			AgentName: ids.AgentName(agentName),
			ContextID: contextID,
			Model:     model,
			UserText:  req.Message,
			Tools:     pipeline.ToolSet{Executor: executor},
		}); err != nil {
			s.logger.Error("httpapi: task run failed", zap.String("task_id", string(taskID)), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, createTaskResponse{TaskID: string(taskID), ContextID: string(contextID)})
}
