package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/workers"
)

type HealthHandler struct {
	PG            *sql.DB
	notifications *workers.NotificationWorker
}

func NewHealthHandler(pg *sql.DB, notifications *workers.NotificationWorker) *HealthHandler {
	return &HealthHandler{PG: pg, notifications: notifications}
}

// Health handles GET /health. Reports database reachability and, when the
// notification worker runs in-process, its queue depth.
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if err := h.PG.Ping(); err != nil {
		resp["status"] = "degraded"
		resp["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp["database"] = "ok"
	}

	if h.notifications != nil {
		if stats, err := h.notifications.GetQueueStats(); err == nil {
			resp["notification_queue"] = stats
		}
	}

	c.JSON(status, resp)
}
