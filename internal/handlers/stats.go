package handlers

import (
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/storefront/internal/cache"
	"github.com/muandane/special-stack/storefront/internal/metrics"
)

// CacheHandler exposes cache health, analysis, maintenance and invalidation.
type CacheHandler struct {
	monitor     *cache.Monitor
	analyzer    *cache.Analyzer
	maintenance *cache.Maintenance
	invalidator *cache.Invalidator
	metrics     *metrics.Registry
	logger      *slog.Logger
}

func NewCacheHandler(
	monitor *cache.Monitor,
	analyzer *cache.Analyzer,
	maintenance *cache.Maintenance,
	invalidator *cache.Invalidator,
	reg *metrics.Registry,
	logger *slog.Logger,
) *CacheHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheHandler{
		monitor:     monitor,
		analyzer:    analyzer,
		maintenance: maintenance,
		invalidator: invalidator,
		metrics:     reg,
		logger:      logger,
	}
}

func (h *CacheHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Check())
}

func (h *CacheHandler) Analysis(c *gin.Context) {
	analysis, err := h.analyzer.Analyze(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, errors.Wrap(err, "analyze cache"))
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// Maintenance runs every sub-task. Partial failures are part of the report,
// not an error status.
func (h *CacheHandler) Maintenance(c *gin.Context) {
	report := h.maintenance.Run(c.Request.Context())
	if h.metrics != nil {
		h.metrics.ObserveMaintenance(report)
	}
	c.JSON(http.StatusOK, report)
}

type invalidateRequest struct {
	Tags []string `json:"tags"`
	Keys []string `json:"keys"`
}

type invalidateResponse struct {
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
}

func (h *CacheHandler) Invalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	if len(req.Tags) == 0 && len(req.Keys) == 0 {
		badRequest(c, h.logger, errors.New("tags or keys required"))
		return
	}

	ctx := c.Request.Context()
	var resp invalidateResponse
	if len(req.Tags) > 0 {
		n, err := h.invalidator.InvalidateByTags(ctx, req.Tags...)
		resp.Deleted += n
		if err != nil {
			resp.Errors = append(resp.Errors, err.Error())
		}
	}
	if len(req.Keys) > 0 {
		n, err := h.invalidator.InvalidateByKeys(ctx, req.Keys...)
		resp.Deleted += n
		if err != nil {
			resp.Errors = append(resp.Errors, err.Error())
		}
	}
	status := http.StatusOK
	if len(resp.Errors) > 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, resp)
}
