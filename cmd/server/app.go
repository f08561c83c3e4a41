package main

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/storefront/internal/cache"
	"github.com/muandane/special-stack/storefront/internal/catalog"
	"github.com/muandane/special-stack/storefront/internal/config"
	"github.com/muandane/special-stack/storefront/internal/handlers"
	"github.com/muandane/special-stack/storefront/internal/imaging"
	"github.com/muandane/special-stack/storefront/internal/kv"
	"github.com/muandane/special-stack/storefront/internal/metrics"
	"github.com/muandane/special-stack/storefront/internal/middleware"
	"github.com/muandane/special-stack/storefront/internal/router"
	"github.com/muandane/special-stack/storefront/internal/storage"
)

// uploadOverhead is the multipart framing allowed on top of the image limit.
const uploadOverhead = 1 << 20

type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store       kv.Store
	objects     storage.ObjectStore
	memObjects  *storage.Memory
	stats       *cache.Stats
	cache       *cache.Cache
	catalog     *catalog.Service
	processor   *imaging.Processor
	metrics     *metrics.Registry
	monitor     *cache.Monitor
	analyzer    *cache.Analyzer
	maintenance *cache.Maintenance
	adminAllow  []netip.Prefix
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, inMemory bool, source catalog.Source) (*app, error) {
	adminAllow, err := middleware.ParseAllowList(cfg.Server.AdminAllowList)
	if err != nil {
		return nil, errors.Wrap(err, "ADMIN_ALLOW_LIST")
	}
	a := &app{
		cfg:        cfg,
		logger:     logger,
		stats:      cache.NewStats(),
		metrics:    metrics.NewRegistry(),
		adminAllow: adminAllow,
	}

	if err := a.openStore(ctx, inMemory); err != nil {
		return nil, err
	}
	if err := a.openObjects(ctx, inMemory); err != nil {
		_ = a.store.Close()
		return nil, err
	}
	a.metrics.RegisterCacheStats(a.stats)

	a.cache = cache.New(a.store,
		cache.WithStats(a.stats),
		cache.WithLogger(logger),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
	)

	if source == nil {
		source = catalog.NewRESTSource(cfg.Server.CatalogURL, cfg.Server.CatalogKey, nil)
	}
	a.catalog = catalog.NewService(a.cache, source,
		catalog.WithLogger(logger),
		catalog.WithTTLs(catalog.TTLs{
			Product:  cfg.Cache.ProductTTL,
			Category: cfg.Cache.CategoryTTL,
			Search:   cfg.Cache.SearchTTL,
			Homepage: cfg.Cache.HomepageTTL,
			Banner:   cfg.Cache.HomepageTTL,
		}),
	)

	a.processor = imaging.NewProcessor(a.objects,
		imaging.WithLogger(logger),
		imaging.WithMaxUploadBytes(cfg.Image.MaxUploadBytes),
		imaging.WithMaxPixels(cfg.Image.MaxPixels),
		imaging.WithCacheControl(cfg.Image.CacheControl),
		imaging.WithConcurrency(cfg.Image.Concurrency),
		imaging.WithPNG(cfg.Image.EmitPNG),
	)

	a.monitor = cache.NewMonitor(a.stats, a.store, logger)
	a.analyzer = cache.NewAnalyzer(a.store)
	a.maintenance = cache.NewMaintenance(a.store,
		cache.WithStaleThreshold(cfg.Cache.StaleThreshold),
		cache.WithStatsRetention(cfg.Cache.StatsRetention),
		cache.WithMaintenanceLogger(logger),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context, inMemory bool) error {
	if inMemory || a.cfg.Redis.URL == "" {
		mem := kv.NewMemory(ctx, a.cfg.Cache.MemoryMaxBytes)
		a.metrics.RegisterMemoryStore(mem)
		a.store = mem
		a.logger.Info("using in-process cache store", "max_bytes", a.cfg.Cache.MemoryMaxBytes)
		return nil
	}
	store, err := kv.DialRedis(ctx, a.cfg.Redis.URL,
		kv.WithOpTimeout(a.cfg.Redis.OpTimeout),
		kv.WithPrefix(a.cfg.Redis.Prefix),
	)
	if err != nil {
		return errors.Wrap(err, "connect to redis")
	}
	a.store = store
	return nil
}

func (a *app) openObjects(ctx context.Context, inMemory bool) error {
	if inMemory {
		base := strings.TrimRight(a.cfg.Server.PublicURL, "/") + "/objects"
		a.memObjects = storage.NewMemory(base)
		a.objects = a.memObjects
		a.logger.Info("using in-process object store", "public_url", base)
		return nil
	}
	m, err := storage.NewMinio(&a.cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "create object store client")
	}
	if err := m.EnsureBucket(ctx); err != nil {
		return errors.Wrapf(err, "ensure bucket %s", a.cfg.Storage.Bucket)
	}
	a.objects = m
	return nil
}

// warmer builds the scheduled warm targets: the homepage aggregate with the
// category list, and a rotation over configured popular categories.
func (a *app) warmer() *cache.Warmer {
	targets := []cache.Target{
		cache.StaticTarget("homepage", a.cfg.Cache.HomepageInterval,
			a.catalog.WarmHomepage,
			a.catalog.WarmCategories,
		),
	}
	if len(a.cfg.Cache.PopularCategories) > 0 {
		targets = append(targets, cache.RotatingTarget(
			"popular-categories",
			a.cfg.Cache.PopularInterval,
			a.cfg.Cache.PopularCategories,
			a.cfg.Cache.PopularPerPass,
			a.catalog.WarmCategory,
		))
	}
	return cache.NewWarmer(targets,
		cache.WithBatchSize(a.cfg.Cache.WarmBatchSize),
		cache.WithWarmRate(a.cfg.Cache.WarmRate),
		cache.WithWarmerLogger(a.logger),
	)
}

func (a *app) engine() *gin.Engine {
	var objects *handlers.ObjectHandler
	if a.memObjects != nil {
		objects = handlers.NewObjectHandler(a.memObjects, a.logger)
	}
	return router.NewRouter(a.logger, a.metrics).WithAdminAllowList(a.adminAllow).Setup(router.Handlers{
		Health: handlers.NewHealthHandler(a.store, a.logger),
		Cache: handlers.NewCacheHandler(
			a.monitor,
			a.analyzer,
			a.maintenance,
			a.catalog.Invalidator(),
			a.metrics,
			a.logger,
		),
		Catalog: handlers.NewCatalogHandler(a.catalog, a.logger),
		Images:  handlers.NewImageHandler(a.processor, a.catalog, a.metrics, a.logger),
		Objects: objects,
	}, a.cfg.Image.MaxUploadBytes+uploadOverhead)
}

// runMaintenance runs one maintenance pass and snapshots the cache stats.
func (a *app) runMaintenance(ctx context.Context) cache.MaintenanceReport {
	report := a.maintenance.Run(ctx)
	a.metrics.ObserveMaintenance(report)
	if _, err := a.monitor.Persist(ctx); err != nil {
		a.logger.Warn("failed to persist cache stats", "error", err)
	}
	return report
}

func (a *app) Close() error {
	return a.store.Close()
}
