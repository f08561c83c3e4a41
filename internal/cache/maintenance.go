package cache

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/muandane/special-stack/storefront/internal/kv"
)

// Maintenance defaults.
const (
	DefaultStaleThreshold = 60 * time.Second
	DefaultStatsRetention = 24
)

// MaintenanceReport collects the outcome of every sub-task. A failed step
// adds to Errors and the remaining steps still run.
type MaintenanceReport struct {
	SearchKeysDeleted int           `json:"search_keys_deleted"`
	StatsKeysDeleted  int           `json:"stats_keys_deleted"`
	OrphanTagsDeleted int           `json:"orphan_tags_deleted"`
	MembersPruned     int           `json:"members_pruned"`
	Errors            []string      `json:"errors"`
	Duration          time.Duration `json:"duration"`
}

// KeysDeleted is the total number of keys removed.
func (r MaintenanceReport) KeysDeleted() int {
	return r.SearchKeysDeleted + r.StatsKeysDeleted + r.OrphanTagsDeleted
}

type Maintenance struct {
	store          kv.Store
	logger         *slog.Logger
	staleThreshold time.Duration
	statsRetention int
}

type MaintenanceOption func(*Maintenance)

// WithStaleThreshold sets the remaining-TTL cutoff for search entries.
func WithStaleThreshold(d time.Duration) MaintenanceOption {
	return func(m *Maintenance) {
		if d > 0 {
			m.staleThreshold = d
		}
	}
}

// WithStatsRetention sets how many stats snapshots are kept.
func WithStatsRetention(n int) MaintenanceOption {
	return func(m *Maintenance) {
		if n >= 0 {
			m.statsRetention = n
		}
	}
}

func WithMaintenanceLogger(logger *slog.Logger) MaintenanceOption {
	return func(m *Maintenance) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewMaintenance(store kv.Store, opts ...MaintenanceOption) *Maintenance {
	m := &Maintenance{
		store:          store,
		logger:         slog.Default(),
		staleThreshold: DefaultStaleThreshold,
		statsRetention: DefaultStatsRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes every sub-task in isolation.
func (m *Maintenance) Run(ctx context.Context) MaintenanceReport {
	start := time.Now()
	report := MaintenanceReport{Errors: []string{}}

	n, err := m.CleanupSearchCache(ctx)
	report.SearchKeysDeleted = n
	if err != nil {
		report.Errors = append(report.Errors, "search cache cleanup: "+err.Error())
	}

	n, err = m.CleanupStats(ctx)
	report.StatsKeysDeleted = n
	if err != nil {
		report.Errors = append(report.Errors, "stats cleanup: "+err.Error())
	}

	orphans, pruned, err := m.CleanupOrphanedTags(ctx)
	report.OrphanTagsDeleted = orphans
	report.MembersPruned = pruned
	if err != nil {
		report.Errors = append(report.Errors, "orphan tag cleanup: "+err.Error())
	}

	report.Duration = time.Since(start)
	logArgs := []any{
		"search_keys_deleted", report.SearchKeysDeleted,
		"stats_keys_deleted", report.StatsKeysDeleted,
		"orphan_tags_deleted", report.OrphanTagsDeleted,
		"members_pruned", report.MembersPruned,
		"duration", report.Duration.String(),
	}
	if len(report.Errors) > 0 {
		m.logger.Error("cache maintenance finished with errors", append(logArgs, "errors", report.Errors)...)
	} else {
		m.logger.Info("cache maintenance finished", logArgs...)
	}
	return report
}

// CleanupSearchCache deletes search entries whose remaining TTL is below the
// stale threshold. Entries without expiry are left alone.
func (m *Maintenance) CleanupSearchCache(ctx context.Context) (int, error) {
	keys, err := m.store.Keys(ctx, Pattern(KindSearch))
	if err != nil {
		return 0, errors.Wrap(err, "scan search keys")
	}

	var (
		stale []string
		errs  error
	)
	for _, key := range keys {
		ttl, err := m.store.TTL(ctx, key)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		if ttl >= 0 && ttl < m.staleThreshold {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0, errs
	}
	deleted, err := m.store.Del(ctx, stale...)
	if err != nil {
		return 0, errors.CombineErrors(errs, errors.Wrap(err, "delete stale search keys"))
	}
	return int(deleted), errs
}

// CleanupStats keeps the newest statsRetention snapshots and deletes the rest.
func (m *Maintenance) CleanupStats(ctx context.Context) (int, error) {
	keys, err := m.store.Keys(ctx, Pattern(KindStats))
	if err != nil {
		return 0, errors.Wrap(err, "scan stats keys")
	}
	if len(keys) <= m.statsRetention {
		return 0, nil
	}
	// Snapshot keys end in a fixed-width unix-nano timestamp, so lexical
	// order is chronological.
	sort.Strings(keys)
	old := keys[:len(keys)-m.statsRetention]
	deleted, err := m.store.Del(ctx, old...)
	if err != nil {
		return 0, errors.Wrap(err, "delete old stats snapshots")
	}
	return int(deleted), nil
}

// CleanupOrphanedTags deletes tag sets none of whose members still exist and
// prunes dead members from the rest. A second run right after the first
// finds nothing to do.
func (m *Maintenance) CleanupOrphanedTags(ctx context.Context) (orphans, pruned int, err error) {
	tagKeys, err := m.store.Keys(ctx, TagRoot+":*")
	if err != nil {
		return 0, 0, errors.Wrap(err, "scan tag sets")
	}

	var errs error
	var orphaned []string
	for _, tagKey := range tagKeys {
		members, err := m.store.SMembers(ctx, tagKey)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		var dead []string
		for _, member := range members {
			n, err := m.store.Exists(ctx, member)
			if err != nil {
				errs = errors.CombineErrors(errs, err)
				dead = nil
				break
			}
			if n == 0 {
				dead = append(dead, member)
			}
		}
		switch {
		case len(dead) == len(members):
			orphaned = append(orphaned, tagKey)
		case len(dead) > 0:
			n, err := m.store.SRem(ctx, tagKey, dead...)
			if err != nil {
				errs = errors.CombineErrors(errs, err)
				continue
			}
			pruned += int(n)
		}
	}

	if len(orphaned) > 0 {
		deleted, err := m.store.Del(ctx, orphaned...)
		if err != nil {
			return 0, pruned, errors.CombineErrors(errs, errors.Wrap(err, "delete orphaned tags"))
		}
		orphans = int(deleted)
		m.logger.Info("orphaned cache tags deleted", "count", orphans)
	}
	return orphans, pruned, errs
}
