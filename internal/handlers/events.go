package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/huangang/capstrack/internal/services"
	"github.com/huangang/capstrack/pkg/logger"
)

// EventsHandler streams change notifications. Events only name what changed;
// clients re-query the pull endpoints for the new state.
type EventsHandler struct {
	hub       *services.EventHub
	keepalive time.Duration
}

func NewEventsHandler(hub *services.EventHub) *EventsHandler {
	return &EventsHandler{hub: hub, keepalive: 25 * time.Second}
}

// GET /api/events
func (h *EventsHandler) Stream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := uuid.New().String()
	events := h.hub.Subscribe(clientID)
	defer h.hub.Unsubscribe(clientID)

	logger.Info().Str("client_id", clientID).Int("total", h.hub.ClientCount()).Msg("SSE client connected")

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("SSE marshal error")
				return true
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Entity, data)
			return true
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			return true
		case <-c.Request.Context().Done():
			logger.Info().Str("client_id", clientID).Msg("SSE client disconnected")
			return false
		}
	})
}
