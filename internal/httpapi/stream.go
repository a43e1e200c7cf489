package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/eventbus"
)

const heartbeatInterval = 25 * time.Second

// contextEventFrame is the tagged-union shape written to the wire: every SSE
// record is `data: <json>\n\n` where <json> unmarshals to one of these kinds.
type contextEventFrame struct {
	Kind    string                 `json:"kind"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

func (s *Server) registerStreamRoutes(rg *gin.RouterGroup) {
	rg.GET("/stream/contexts", s.streamContext)
}

// streamContext opens an SSE stream of ContextEvents for one context_id,
// subscribing to the bus for the duration of the request and writing a
// heartbeat frame every heartbeatInterval, whether or not events arrived in
// between, so idle connections are never reclaimed by an intermediate proxy.
func (s *Server) streamContext(c *gin.Context) {
	contextID := c.Query("context_id")
	if contextID == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", ErrorDescription: "context_id is required"})
		return
	}

	frames := make(chan contextEventFrame, 32)
	sub, err := s.bus.Subscribe(eventbus.BuildContextSubject(contextID), func(ctx context.Context, event *eventbus.Event) error {
		payload, _ := event.Data.(map[string]interface{})
		frame := contextEventFrame{Kind: kindForEventType(event.Type), Type: event.Type, Payload: payload}
		select {
		case frames <- frame:
			return nil
		default:
		}

		// frames is full: the SSE write loop is behind, so drop the oldest
		// buffered frame to admit this one rather than discard the newest
		// event in favor of stale ones already queued.
		select {
		case <-frames:
			s.logger.Warn("httpapi: dropping oldest buffered context event, subscriber slow", zap.String("context_id", contextID))
		default:
		}
		select {
		case frames <- frame:
		default:
			// a concurrent delivery refilled frames between the drain and
			// this send; drop this event rather than block the bus.
		}
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case frame := <-frames:
			writeFrame(w, frame)
			return true
		case <-ticker.C:
			writeFrame(w, contextEventFrame{Kind: "system", Type: "heartbeat"})
			return true
		}
	})
}

func writeFrame(w io.Writer, frame contextEventFrame) {
	encoded, err := json.Marshal(frame)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(encoded)
	w.Write([]byte("\n\n"))
}

// kindForEventType maps an internal event type to the SSE tagged-union kind
// clients dispatch on: a2a protocol events, AG-UI execution progress events,
// or system-level frames such as the heartbeat.
func kindForEventType(eventType string) string {
	switch eventType {
	case eventbus.TaskCompleted, eventbus.TaskCreated, eventbus.TaskFailed, eventbus.TaskCanceled, eventbus.TaskStateChanged:
		return "a2a"
	case eventbus.StepStarted, eventbus.StepCompleted, eventbus.StepToolCall, eventbus.StepToolResult, eventbus.ArtifactPublished, eventbus.MessageAppended:
		return "agui"
	default:
		return "system"
	}
}
