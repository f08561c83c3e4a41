package handlers

import (
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/storefront/internal/catalog"
	"github.com/muandane/special-stack/storefront/internal/imaging"
	"github.com/muandane/special-stack/storefront/internal/middleware"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func sendError(c *gin.Context, logger *slog.Logger, code int, message string, err error) {
	logger = middleware.Logger(c, logger)
	if code >= http.StatusInternalServerError {
		logger.Error(message, "error", err, "code", code)
	} else {
		logger.Warn(message, "error", err, "code", code)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		Message: message,
	})
}

// handleError maps domain errors onto HTTP status codes.
func handleError(c *gin.Context, logger *slog.Logger, err error) {
	var (
		code    int
		message string
		verr    *imaging.ValidationError
	)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		code, message = http.StatusNotFound, "resource not found"
	case errors.As(err, &verr):
		code, message = http.StatusBadRequest, "validation error"
	case errors.Is(err, imaging.ErrNoVariants):
		code, message = http.StatusUnprocessableEntity, "image processing failed"
	default:
		code, message = http.StatusInternalServerError, "internal server error"
	}
	sendError(c, logger, code, message, err)
}

func badRequest(c *gin.Context, logger *slog.Logger, err error) {
	sendError(c, logger, http.StatusBadRequest, "invalid request", err)
}
