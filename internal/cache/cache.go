package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/muandane/special-stack/storefront/internal/kv"
)

// Cache is the read-through layer in front of the catalog read paths.
// Store failures never reach the caller: reads fall through to compute and
// failed writes are logged and dropped.
type Cache struct {
	store      kv.Store
	stats      *Stats
	logger     *slog.Logger
	defaultTTL time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStats shares an existing counter set, e.g. with an Invalidator.
func WithStats(stats *Stats) Option {
	return func(c *Cache) {
		if stats != nil {
			c.stats = stats
		}
	}
}

// WithDefaultTTL sets the TTL used when an Entry leaves it zero.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

func New(store kv.Store, opts ...Option) *Cache {
	c := &Cache{
		store:      store,
		stats:      NewStats(),
		logger:     slog.Default(),
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Stats() *Stats { return c.stats }

func (c *Cache) Store() kv.Store { return c.store }

func (c *Cache) Logger() *slog.Logger { return c.logger }

// Entry describes where a computed value is stored.
type Entry struct {
	// Key is the full cache key, usually Key.String().
	Key string
	// TTL defaults to the cache's default TTL when zero.
	TTL time.Duration
	// Tags the key is registered under for group invalidation.
	Tags []string
}

// Compute produces the value on a miss, typically by querying the database.
type Compute[T any] func(ctx context.Context) (T, error)

// GetOrCompute returns the cached value for entry.Key, or calls compute,
// stores its result under entry.Key with every tag in entry.Tags, and
// returns it. compute errors are returned and nothing is cached.
func GetOrCompute[T any](ctx context.Context, c *Cache, entry Entry, compute Compute[T]) (T, error) {
	if val, ok := lookup[T](ctx, c, entry.Key); ok {
		return val, nil
	}
	return Refresh(ctx, c, entry, compute)
}

// Refresh always calls compute and overwrites the stored value. Warm passes
// use it so an entry is renewed even while it is still live.
func Refresh[T any](ctx context.Context, c *Cache, entry Entry, compute Compute[T]) (T, error) {
	val, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.put(ctx, entry, val)
	return val, nil
}

// Lookup returns the cached value without computing on a miss.
func Lookup[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	return lookup[T](ctx, c, key)
}

func lookup[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.stats.RecordError()
		c.stats.RecordMiss()
		c.logger.Warn("cache unavailable, reading through", "key", key, "error", err)
		return zero, false
	}
	if !found {
		c.stats.RecordMiss()
		c.logger.Debug("cache miss", "key", key)
		return zero, false
	}

	var val T
	if err := decodeValue(data, &val); err != nil {
		c.stats.RecordError()
		c.stats.RecordMiss()
		c.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		if _, err := c.store.Del(ctx, key); err != nil {
			c.logger.Warn("failed to delete undecodable cache entry", "key", key, "error", err)
		}
		return zero, false
	}
	c.stats.RecordHit()
	c.logger.Debug("cache hit", "key", key)
	return val, true
}

func (c *Cache) put(ctx context.Context, entry Entry, val any) {
	data, err := encodeValue(val)
	if err != nil {
		c.stats.RecordWriteError()
		c.logger.Error("failed to encode cache value", "key", entry.Key, "error", err)
		return
	}

	ttl := entry.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if len(entry.Tags) == 0 {
		err = c.store.Set(ctx, entry.Key, data, ttl)
	} else {
		sets := make([]string, len(entry.Tags))
		for i, tag := range entry.Tags {
			sets[i] = TagKey(tag)
		}
		err = c.store.SetWithTags(ctx, entry.Key, data, ttl, sets)
	}
	if err != nil {
		c.stats.RecordWriteError()
		c.logger.Warn("failed to store cache entry", "key", entry.Key, "error", err)
		return
	}
	c.stats.RecordSet()
	c.logger.Debug("cache entry stored",
		"key", entry.Key,
		"ttl", ttl.String(),
		"tags", entry.Tags,
		"size", len(data),
	)
}
