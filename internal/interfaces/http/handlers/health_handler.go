package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	redisconn "github.com/searchguard/searchguard/internal/infrastructure/persistence/redis"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/logger"
)

// HealthHandler serves liveness, readiness and detailed health endpoints.
type HealthHandler struct {
	redis     *redisconn.Connection
	logger    logger.Logger
	startedAt time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(redis *redisconn.Connection, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		redis:     redis,
		logger:    log.WithComponent("HealthHandler"),
		startedAt: time.Now(),
	}
}

// Liveness reports that the process is up.
//
// GET /live
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness reports whether the counter store is reachable. A failing
// store does not make the engine reject traffic (it fails open), but a
// not-ready instance should be rotated out before taking load.
//
// GET /ready
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.redis.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Health reports detailed service health including store latency and pool
// statistics.
//
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	storeHealth, err := h.redis.HealthCheck(c.Request.Context())

	status := http.StatusOK
	overall := "healthy"
	if err != nil {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": constants.ServiceName,
		"version": constants.ServiceVersion,
		"uptime":  time.Since(h.startedAt).String(),
		"store":   storeHealth,
	})
}
