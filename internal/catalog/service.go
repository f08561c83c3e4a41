package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/muandane/special-stack/storefront/internal/cache"
)

// HomepageFeatured is how many featured products the homepage shows.
const HomepageFeatured = 12

// TTLs per entry family. Zero falls back to the cache default.
type TTLs struct {
	Product  time.Duration
	Category time.Duration
	Search   time.Duration
	Homepage time.Duration
	Banner   time.Duration
}

// Service is the cached read path over a Source.
type Service struct {
	cache       *cache.Cache
	invalidator *cache.Invalidator
	source      Source
	ttl         TTLs
	logger      *slog.Logger
}

type ServiceOption func(*Service)

func WithTTLs(ttl TTLs) ServiceOption {
	return func(s *Service) { s.ttl = ttl }
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(c *cache.Cache, source Source, opts ...ServiceOption) *Service {
	s := &Service{
		cache:       c,
		invalidator: cache.NewInvalidatorFor(c),
		source:      source,
		logger:      c.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invalidator exposes the invalidator bound to the service's cache.
func (s *Service) Invalidator() *cache.Invalidator { return s.invalidator }

func productKey(id string) string {
	return cache.NewKey(cache.KindProduct, id).String()
}

func (s *Service) productListEntry(filter ProductFilter) (cache.Entry, error) {
	if filter.Search != "" {
		key, err := cache.FilterKey(cache.KindSearch, filter)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.Entry{Key: key.String(), TTL: s.ttl.Search, Tags: []string{cache.TagProducts}}, nil
	}
	key, err := cache.FilterKey(cache.KindProduct, filter)
	if err != nil {
		return cache.Entry{}, err
	}
	key.Parts = append([]string{"list"}, key.Parts...)
	tags := []string{cache.TagProducts}
	if filter.CategoryID != "" {
		tags = append(tags, cache.CategoryTag(filter.CategoryID))
	}
	return cache.Entry{Key: key.String(), TTL: s.ttl.Product, Tags: tags}, nil
}

func (s *Service) productPage(filter ProductFilter) cache.Compute[ProductPage] {
	return func(ctx context.Context) (ProductPage, error) {
		items, err := s.source.Products(ctx, filter)
		if err != nil {
			return ProductPage{}, errors.Wrap(err, "load products")
		}
		return ProductPage{Items: items, Page: filter.Page, PageSize: filter.PageSize}, nil
	}
}

// ListProducts returns one page of products. Searches are cached under
// search keys with the short search TTL.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) (ProductPage, error) {
	filter = filter.Normalize()
	entry, err := s.productListEntry(filter)
	if err != nil {
		return ProductPage{}, err
	}
	return cache.GetOrCompute(ctx, s.cache, entry, s.productPage(filter))
}

// GetProduct returns ErrNotFound for unknown ids. Misses are not cached.
func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	entry := cache.Entry{
		Key:  productKey(id),
		TTL:  s.ttl.Product,
		Tags: []string{cache.TagProducts, cache.ProductTag(id)},
	}
	return cache.GetOrCompute(ctx, s.cache, entry, func(ctx context.Context) (Product, error) {
		p, found, err := s.source.Product(ctx, id)
		if err != nil {
			return Product{}, errors.Wrapf(err, "load product %s", id)
		}
		if !found {
			return Product{}, errors.Wrapf(ErrNotFound, "product %s", id)
		}
		return p, nil
	})
}

func (s *Service) categoriesEntry() cache.Entry {
	return cache.Entry{
		Key:  cache.NewKey(cache.KindCategory, "all").String(),
		TTL:  s.ttl.Category,
		Tags: []string{cache.TagCategories},
	}
}

func (s *Service) loadCategories(ctx context.Context) ([]Category, error) {
	cats, err := s.source.Categories(ctx)
	return cats, errors.Wrap(err, "load categories")
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return cache.GetOrCompute(ctx, s.cache, s.categoriesEntry(), s.loadCategories)
}

func (s *Service) Banners(ctx context.Context) ([]Banner, error) {
	entry := cache.Entry{
		Key:  cache.NewKey(cache.KindBanner, "active").String(),
		TTL:  s.ttl.Banner,
		Tags: []string{cache.TagBanners},
	}
	return cache.GetOrCompute(ctx, s.cache, entry, func(ctx context.Context) ([]Banner, error) {
		banners, err := s.source.Banners(ctx)
		return banners, errors.Wrap(err, "load banners")
	})
}

func (s *Service) homepageEntry() cache.Entry {
	return cache.Entry{
		Key:  cache.NewKey(cache.KindHomepage, "main").String(),
		TTL:  s.ttl.Homepage,
		Tags: []string{cache.TagProducts, cache.TagCategories, cache.TagBanners, cache.TagHomepage},
	}
}

func (s *Service) loadHomepage(ctx context.Context) (Homepage, error) {
	var home Homepage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		home.Featured, err = s.source.Products(gctx, ProductFilter{Featured: true, PageSize: HomepageFeatured}.Normalize())
		return errors.Wrap(err, "load featured products")
	})
	g.Go(func() (err error) {
		home.Categories, err = s.source.Categories(gctx)
		return errors.Wrap(err, "load categories")
	})
	g.Go(func() (err error) {
		home.Banners, err = s.source.Banners(gctx)
		return errors.Wrap(err, "load banners")
	})
	if err := g.Wait(); err != nil {
		return Homepage{}, err
	}
	return home, nil
}

func (s *Service) Homepage(ctx context.Context) (Homepage, error) {
	return cache.GetOrCompute(ctx, s.cache, s.homepageEntry(), s.loadHomepage)
}

// WarmHomepage recomputes the homepage aggregate.
func (s *Service) WarmHomepage(ctx context.Context) error {
	_, err := cache.Refresh(ctx, s.cache, s.homepageEntry(), s.loadHomepage)
	return err
}

// WarmCategory recomputes the first listing page of a category.
func (s *Service) WarmCategory(ctx context.Context, categoryID string) error {
	filter := ProductFilter{CategoryID: categoryID}.Normalize()
	entry, err := s.productListEntry(filter)
	if err != nil {
		return err
	}
	_, err = cache.Refresh(ctx, s.cache, entry, s.productPage(filter))
	return err
}

// WarmCategories recomputes the category list.
func (s *Service) WarmCategories(ctx context.Context) error {
	_, err := cache.Refresh(ctx, s.cache, s.categoriesEntry(), s.loadCategories)
	return err
}

// InvalidateProduct drops every entry derived from a product. The category is
// taken from the cached product when one is present.
func (s *Service) InvalidateProduct(ctx context.Context, id string) (int, error) {
	var categoryID string
	if p, ok := cache.Lookup[Product](ctx, s.cache, productKey(id)); ok {
		categoryID = p.CategoryID
	}
	n, err := s.invalidator.InvalidateProduct(ctx, id, categoryID)
	if err != nil {
		s.logger.Warn("product invalidation incomplete", "product_id", id, "error", err)
	}
	return n, err
}
