package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/taskrepo"
)

// webhookPayload is the generic envelope every event loader returns: a
// stable event name plus whatever payload shape that event carries.
type webhookPayload struct {
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func (s *Server) registerWebhookRoutes(rg *gin.RouterGroup) {
	rg.GET("/contexts/:id/webhook/:event", s.loadWebhookEvent)
}

// loadWebhookEvent dispatches on the event name in the path and assembles
// the payload an AG-UI webhook consumer expects, reading the task_id (or
// artifact-owning task) from the task_id query parameter. Unknown event
// names are rejected rather than silently ignored.
func (s *Server) loadWebhookEvent(c *gin.Context) {
	contextID := ids.ContextID(c.Param("id"))
	eventName := c.Param("event")
	taskID := ids.TaskID(c.Query("task_id"))

	switch eventName {
	case "task_completed":
		s.loadTaskCompleted(c, taskID)
	case "artifact_created", "artifact":
		s.loadArtifactCreated(c, taskID, c.Query("artifact_id"))
	case "message_received":
		s.loadMessageReceived(c, taskID, c.Query("message_id"))
	case "context_updated":
		s.loadContextUpdated(c, contextID)
	case "execution_step":
		s.loadExecutionStep(c, taskID, c.Query("step_id"))
	case "task_created":
		s.loadTaskCreated(c, taskID, contextID)
	default:
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", ErrorDescription: "unknown event type: " + eventName})
	}
}

func (s *Server) loadTaskCompleted(c *gin.Context, taskID ids.TaskID) {
	history, err := s.repo.GetTaskWithHistory(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, webhookPayload{
		EventName: "task_completed",
		Payload: gin.H{
			"task":           history.Task,
			"artifacts":      nonEmptyArtifacts(history.Artifacts),
			"executionSteps": nonEmptySteps(history.Steps),
		},
	})
}

func (s *Server) loadArtifactCreated(c *gin.Context, taskID ids.TaskID, artifactID string) {
	history, err := s.repo.GetTaskWithHistory(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	for _, artifact := range history.Artifacts {
		if string(artifact.ArtifactID) == artifactID {
			c.JSON(http.StatusOK, webhookPayload{
				EventName: "artifact",
				Payload: gin.H{
					"artifact":  artifact,
					"taskId":    string(taskID),
					"contextId": string(history.Task.ContextID),
				},
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, errorBody{Error: "not_found", ErrorDescription: "artifact not found: " + artifactID})
}

func (s *Server) loadMessageReceived(c *gin.Context, taskID ids.TaskID, messageID string) {
	history, err := s.repo.GetTaskWithHistory(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	for _, msg := range history.Messages {
		if string(msg.MessageID) == messageID {
			c.JSON(http.StatusOK, webhookPayload{
				EventName: "message_received",
				Payload:   gin.H{"messageId": messageID},
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, errorBody{Error: "not_found", ErrorDescription: "message not found: " + messageID})
}

func (s *Server) loadContextUpdated(c *gin.Context, contextID ids.ContextID) {
	c.JSON(http.StatusOK, webhookPayload{
		EventName: "context_updated",
		Payload:   gin.H{"contextId": string(contextID)},
	})
}

func (s *Server) loadExecutionStep(c *gin.Context, taskID ids.TaskID, stepID string) {
	history, err := s.repo.GetTaskWithHistory(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	for _, step := range history.Steps {
		if string(step.StepID) == stepID {
			eventName := "step_started"
			if step.Status == taskrepo.StepCompleted {
				eventName = "step_finished"
			}
			c.JSON(http.StatusOK, webhookPayload{
				EventName: eventName,
				Payload: gin.H{
					"stepName": step.Kind,
					"taskId":   string(taskID),
					"step":     step,
				},
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, errorBody{Error: "not_found", ErrorDescription: "execution step not found: " + stepID})
}

// loadTaskCreated rejects a task with no recorded history: the original user
// message must be present for a run_started frame to be meaningful downstream.
func (s *Server) loadTaskCreated(c *gin.Context, taskID ids.TaskID, contextID ids.ContextID) {
	history, err := s.repo.GetTaskWithHistory(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(history.Messages) == 0 {
		c.JSON(http.StatusUnprocessableEntity, errorBody{
			Error:            "invalid_state",
			ErrorDescription: "task has no history: user message is missing",
		})
		return
	}
	c.JSON(http.StatusOK, webhookPayload{
		EventName: "run_started",
		Payload: gin.H{
			"task":      history.Task,
			"threadId":  string(contextID),
			"runId":     string(taskID),
		},
	})
}

func nonEmptyArtifacts(artifacts []taskrepo.Artifact) []taskrepo.Artifact {
	if len(artifacts) == 0 {
		return nil
	}
	return artifacts
}

func nonEmptySteps(steps []taskrepo.ExecutionStep) []taskrepo.ExecutionStep {
	if len(steps) == 0 {
		return nil
	}
	return steps
}
