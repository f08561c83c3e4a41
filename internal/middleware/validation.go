package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type ValidationConfig struct {
	// ExcludedPaths skip validation entirely.
	ExcludedPaths []string
	// MaxBodyBytes caps request bodies; zero disables the cap.
	MaxBodyBytes int64
}

// WithValidation rejects oversized bodies up front and caps the reader for
// chunked requests that don't declare a length.
func WithValidation(config ValidationConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, path := range config.ExcludedPaths {
			if strings.HasPrefix(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}
		if config.MaxBodyBytes > 0 {
			if c.Request.ContentLength > config.MaxBodyBytes {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
					"error": "request body too large",
				})
				return
			}
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.MaxBodyBytes)
		}
		c.Next()
	}
}
