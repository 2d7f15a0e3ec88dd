package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/services"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db    *gorm.DB
	hub   *services.EventHub
	queue services.TaskQueue
}

func NewHealthHandler(db *gorm.DB, hub *services.EventHub, queue services.TaskQueue) *HealthHandler {
	return &HealthHandler{db: db, hub: hub, queue: queue}
}

// CheckHealth reports the state of each subsystem.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "capstrack",
		"components": gin.H{
			"database":    dbStatus,
			"queue_mode":  queueMode,
			"sse_clients": h.hub.ClientCount(),
		},
	})
}
