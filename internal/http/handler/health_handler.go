package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReadinessChecker reports whether the database schema is in place.
type ReadinessChecker interface {
	Ready(ctx context.Context) (bool, error)
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	DB ReadinessChecker
}

// NewHealthHandler creates the probe handler.
func NewHealthHandler(db ReadinessChecker) *HealthHandler {
	return &HealthHandler{DB: db}
}

// Health always reports the process as running.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"isError": false, "message": "Server is running"})
}

// Ready reports whether the database answers and holds the schema.
func (h *HealthHandler) Ready(c *gin.Context) {
	ready, err := h.DB.Ready(c.Request.Context())
	if err != nil {
		zap.L().Warn("readiness check failed", zap.Error(err))
	}
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"isError": true, "message": "Database is not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"isError": false, "message": "Database is ready"})
}
