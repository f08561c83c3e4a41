package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/storefront/internal/storage"
)

// ObjectHandler serves variants held by the in-process object store, so the
// URLs the image pipeline returns resolve when no bucket is configured.
type ObjectHandler struct {
	objects *storage.Memory
	logger  *slog.Logger
}

func NewObjectHandler(objects *storage.Memory, logger *slog.Logger) *ObjectHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectHandler{objects: objects, logger: logger}
}

// GetObject answers GET and HEAD for /objects/*path.
func (h *ObjectHandler) GetObject(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	obj, ok := h.objects.Get(path)
	if !ok {
		sendError(c, h.logger, http.StatusNotFound, "object not found", errors.Newf("no object at %q", path))
		return
	}

	if obj.CacheControl != "" {
		c.Header("Cache-Control", obj.CacheControl)
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", contentType)
		c.Header("Content-Length", strconv.Itoa(len(obj.Data)))
		c.Status(http.StatusOK)
		return
	}
	c.Data(http.StatusOK, contentType, obj.Data)
}
