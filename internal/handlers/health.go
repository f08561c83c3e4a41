package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/storefront/internal/kv"
	"github.com/muandane/special-stack/storefront/internal/metrics"
)

const pingTimeout = time.Second

type HealthHandler struct {
	store  kv.Store
	logger *slog.Logger
}

func NewHealthHandler(store kv.Store, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		store:  store,
		logger: logger,
	}
}

// Health reports liveness. A down KV store degrades the service but the
// process still serves reads, so the status code stays 200.
func (h *HealthHandler) Health(c *gin.Context) {
	start := time.Now()
	status, kvStatus := "healthy", "up"

	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		status, kvStatus = "degraded", "down"
		h.logger.Warn("kv store ping failed", "error", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"kv":     kvStatus,
	})

	h.logger.Debug("health check completed",
		"duration", time.Since(start).String(),
		"remote_addr", c.ClientIP(),
	)
}

// Metrics serves the Prometheus scrape endpoint.
func Metrics(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.Status(http.StatusOK)
		reg.WritePrometheus(c.Writer)
	}
}
