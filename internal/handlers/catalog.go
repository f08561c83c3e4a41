package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/storefront/internal/catalog"
)

type CatalogHandler struct {
	service *catalog.Service
	logger  *slog.Logger
}

func NewCatalogHandler(service *catalog.Service, logger *slog.Logger) *CatalogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogHandler{service: service, logger: logger}
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", name)
	}
	return n, nil
}

func (h *CatalogHandler) ListProducts(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		badRequest(c, h.logger, err)
		return
	}
	pageSize, err := queryInt(c, "page_size")
	if err != nil {
		badRequest(c, h.logger, err)
		return
	}
	filter := catalog.ProductFilter{
		CategoryID: c.Query("category"),
		Search:     c.Query("q"),
		Featured:   c.Query("featured") == "true",
		Sort:       c.Query("sort"),
		Page:       page,
		PageSize:   pageSize,
	}
	result, err := h.service.ListProducts(c.Request.Context(), filter)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CatalogHandler) GetProduct(c *gin.Context) {
	product, err := h.service.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *CatalogHandler) ListCategories(c *gin.Context) {
	cats, err := h.service.ListCategories(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (h *CatalogHandler) Homepage(c *gin.Context) {
	home, err := h.service.Homepage(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, home)
}
