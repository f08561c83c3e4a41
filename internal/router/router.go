package router

import (
	"log/slog"
	"net/netip"

	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/storefront/internal/handlers"
	"github.com/muandane/special-stack/storefront/internal/metrics"
	"github.com/muandane/special-stack/storefront/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Health  *handlers.HealthHandler
	Cache   *handlers.CacheHandler
	Catalog *handlers.CatalogHandler
	Images  *handlers.ImageHandler
	// Objects is set only when variants live in the in-process store.
	Objects *handlers.ObjectHandler
}

type Router struct {
	engine     *gin.Engine
	logger     *slog.Logger
	metrics    *metrics.Registry
	adminAllow []netip.Prefix
}

func NewRouter(logger *slog.Logger, reg *metrics.Registry) *Router {
	return &Router{
		engine:  gin.New(),
		logger:  logger,
		metrics: reg,
	}
}

// WithAdminAllowList restricts the /cache routes to the given prefixes.
func (r *Router) WithAdminAllowList(prefixes []netip.Prefix) *Router {
	r.adminAllow = prefixes
	return r
}

// Setup registers routes and middleware. maxBodyBytes bounds every request
// body; image uploads are the largest legitimate payload.
func (r *Router) Setup(h Handlers, maxBodyBytes int64) *gin.Engine {
	validationConfig := middleware.ValidationConfig{
		ExcludedPaths: []string{
			"/health",
			"/metrics",
		},
		MaxBodyBytes: maxBodyBytes,
	}

	r.engine.Use(
		gin.Recovery(),
		middleware.WithLogging(r.logger),
		middleware.WithMetrics(r.metrics),
		middleware.WithValidation(validationConfig),
	)

	r.engine.GET("/health", h.Health.Health)
	r.engine.GET("/metrics", handlers.Metrics(r.metrics))

	admin := r.engine.Group("/cache", middleware.WithAdminAccess(r.adminAllow, r.logger))
	admin.GET("/health", h.Cache.Health)
	admin.GET("/analysis", h.Cache.Analysis)
	admin.POST("/maintenance", h.Cache.Maintenance)
	admin.POST("/invalidate", h.Cache.Invalidate)

	r.engine.GET("/products", h.Catalog.ListProducts)
	r.engine.GET("/products/:id", h.Catalog.GetProduct)
	r.engine.GET("/categories", h.Catalog.ListCategories)
	r.engine.GET("/homepage", h.Catalog.Homepage)

	r.engine.POST("/products/:id/images", h.Images.Upload)
	r.engine.DELETE("/products/:id/images", h.Images.Delete)

	if h.Objects != nil {
		r.engine.GET("/objects/*path", h.Objects.GetObject)
		r.engine.HEAD("/objects/*path", h.Objects.GetObject)
	}

	return r.engine
}
