package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/storefront/internal/metrics"
)

// WithMetrics records request counts, latency and sizes per matched route.
func WithMetrics(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		reg.ObserveRequest(
			c.Request.Method,
			c.FullPath(),
			c.Writer.Status(),
			time.Since(start),
			c.Request.ContentLength,
			int64(c.Writer.Size()),
		)
	}
}
