package cache

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/muandane/special-stack/storefront/internal/kv"
)

// Invalidator deletes cache entries after a write. Every operation is
// idempotent: unknown keys and empty tags delete nothing and return 0.
type Invalidator struct {
	store  kv.Store
	stats  *Stats
	logger *slog.Logger
}

func NewInvalidator(store kv.Store, stats *Stats, logger *slog.Logger) *Invalidator {
	if stats == nil {
		stats = NewStats()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{store: store, stats: stats, logger: logger}
}

// NewInvalidatorFor builds an Invalidator sharing c's store, stats and logger.
func NewInvalidatorFor(c *Cache) *Invalidator {
	return NewInvalidator(c.store, c.stats, c.logger)
}

// InvalidateByTag deletes every member of the tag and then the tag set.
// It returns the number of entries deleted.
func (inv *Invalidator) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	tagKey := TagKey(tag)
	members, err := inv.store.SMembers(ctx, tagKey)
	if err != nil {
		return 0, errors.Wrapf(err, "read tag %s", tag)
	}

	var deleted int64
	if len(members) > 0 {
		if deleted, err = inv.store.Del(ctx, members...); err != nil {
			return 0, errors.Wrapf(err, "delete members of tag %s", tag)
		}
	}
	if _, err := inv.store.Del(ctx, tagKey); err != nil {
		return int(deleted), errors.Wrapf(err, "delete tag %s", tag)
	}

	inv.stats.RecordInvalidation(uint64(deleted))
	inv.logger.Info("cache tag invalidated",
		"tag", tag,
		"members", len(members),
		"deleted", deleted,
	)
	return int(deleted), nil
}

// InvalidateByTags invalidates each tag in turn. It keeps going after a
// failure and returns the combined error.
func (inv *Invalidator) InvalidateByTags(ctx context.Context, tags ...string) (int, error) {
	var (
		total int
		errs  error
	)
	for _, tag := range tags {
		n, err := inv.InvalidateByTag(ctx, tag)
		total += n
		if err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return total, errs
}

// InvalidateByKey deletes a single entry. Tag sets still naming the key are
// pruned by the maintenance orphan sweep.
func (inv *Invalidator) InvalidateByKey(ctx context.Context, key string) (int, error) {
	return inv.InvalidateByKeys(ctx, key)
}

func (inv *Invalidator) InvalidateByKeys(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	deleted, err := inv.store.Del(ctx, keys...)
	if err != nil {
		return 0, errors.Wrap(err, "delete cache keys")
	}
	inv.stats.RecordInvalidation(uint64(deleted))
	inv.logger.Info("cache keys invalidated", "keys", len(keys), "deleted", deleted)
	return int(deleted), nil
}

// InvalidatePattern deletes every key matching a glob pattern.
func (inv *Invalidator) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := inv.store.Keys(ctx, pattern)
	if err != nil {
		return 0, errors.Wrapf(err, "scan %s", pattern)
	}
	return inv.InvalidateByKeys(ctx, keys...)
}

// InvalidateProduct drops everything derived from a product write, including
// the listings of its category when categoryID is known.
func (inv *Invalidator) InvalidateProduct(ctx context.Context, productID, categoryID string) (int, error) {
	tags := []string{TagProducts, ProductTag(productID), TagHomepage}
	if categoryID != "" {
		tags = append(tags, CategoryTag(categoryID))
	}
	total, err := inv.InvalidateByTags(ctx, tags...)
	n, perr := inv.InvalidatePattern(ctx, Pattern(KindSearch))
	return total + n, errors.CombineErrors(err, perr)
}

func (inv *Invalidator) InvalidateCategory(ctx context.Context, categoryID string) (int, error) {
	return inv.InvalidateByTags(ctx, TagCategories, CategoryTag(categoryID), TagHomepage)
}

func (inv *Invalidator) InvalidateBanners(ctx context.Context) (int, error) {
	return inv.InvalidateByTags(ctx, TagBanners, TagHomepage)
}
