package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/storefront/internal/catalog"
	"github.com/muandane/special-stack/storefront/internal/imaging"
	"github.com/muandane/special-stack/storefront/internal/metrics"
)

// ImageHandler uploads and removes product images.
type ImageHandler struct {
	processor *imaging.Processor
	catalog   *catalog.Service
	metrics   *metrics.Registry
	logger    *slog.Logger
}

func NewImageHandler(processor *imaging.Processor, svc *catalog.Service, reg *metrics.Registry, logger *slog.Logger) *ImageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageHandler{
		processor: processor,
		catalog:   svc,
		metrics:   reg,
		logger:    logger,
	}
}

// readUpload returns the multipart "file" field. An absent field is an empty
// File so the pipeline rejects it with its own validation message.
func readUpload(c *gin.Context) (*imaging.File, error) {
	header, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return &imaging.File{}, nil
	}
	if err != nil {
		return nil, err
	}
	f, err := header.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open upload")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "read upload")
	}
	return &imaging.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// Upload processes one image for a product and invalidates the product's
// cached entries before responding.
func (h *ImageHandler) Upload(c *gin.Context) {
	productID := c.Param("id")
	file, err := readUpload(c)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendError(c, h.logger, http.StatusRequestEntityTooLarge, "upload too large", err)
			return
		}
		badRequest(c, h.logger, err)
		return
	}

	index := 0
	if raw := c.PostForm("index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, h.logger, errors.Wrap(err, "invalid index"))
			return
		}
		index = n
	}

	ctx := c.Request.Context()
	result, err := h.processor.ProcessProductImage(ctx, file, productID, index)
	if h.metrics != nil {
		h.metrics.ObserveImage(result, err)
	}
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	if h.catalog != nil {
		// Failures are logged by the service; the upload itself succeeded.
		_, _ = h.catalog.InvalidateProduct(ctx, productID)
	}
	c.JSON(http.StatusCreated, result)
}

// Delete removes every stored image of a product.
func (h *ImageHandler) Delete(c *gin.Context) {
	productID := c.Param("id")
	ctx := c.Request.Context()
	n, err := h.processor.CleanupProductImages(ctx, productID)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	if h.catalog != nil {
		_, _ = h.catalog.InvalidateProduct(ctx, productID)
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}
