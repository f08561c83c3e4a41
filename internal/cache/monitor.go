package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"

	"github.com/muandane/special-stack/storefront/internal/kv"
)

type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// Health thresholds.
const (
	HealthyHitRate   = 0.70
	CriticalHitRate  = 0.50
	HealthyErrorRate = 0.05
	CriticalErrRate  = 0.10

	statsSnapshotTTL = 24 * time.Hour
)

type HealthReport struct {
	Status          Health        `json:"status"`
	HitRate         float64       `json:"hit_rate"`
	ErrorRate       float64       `json:"error_rate"`
	Stats           StatsSnapshot `json:"stats"`
	Recommendations []string      `json:"recommendations"`
}

// Monitor classifies cache health from the shared Stats counters.
type Monitor struct {
	stats  *Stats
	store  kv.Store
	logger *slog.Logger
}

func NewMonitor(stats *Stats, store kv.Store, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{stats: stats, store: store, logger: logger}
}

// Check evaluates the current counters.
func (m *Monitor) Check() HealthReport {
	return Evaluate(m.stats.Snapshot())
}

// Evaluate classifies a snapshot: healthy needs hit rate >= 70% and error
// rate <= 5%; critical is hit rate < 50% or error rate > 10%.
func Evaluate(snap StatsSnapshot) HealthReport {
	report := HealthReport{
		Status:          HealthHealthy,
		HitRate:         snap.HitRate(),
		ErrorRate:       snap.ErrorRate(),
		Stats:           snap,
		Recommendations: []string{},
	}
	if snap.Requests() == 0 {
		report.Recommendations = append(report.Recommendations,
			"no cache lookups recorded yet; health cannot be assessed")
		return report
	}

	pct := func(f float64) string { return strconv.FormatFloat(f*100, 'f', 1, 64) + "%" }

	switch {
	case report.HitRate < CriticalHitRate:
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("hit rate %s is below 50%%: verify keys are deterministic and TTLs are not too short", pct(report.HitRate)))
	case report.HitRate < HealthyHitRate:
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("hit rate %s is below 70%%: consider longer TTLs or warming popular entries", pct(report.HitRate)))
	}
	switch {
	case report.ErrorRate > CriticalErrRate:
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("error rate %s is above 10%%: the key/value store may be unreachable", pct(report.ErrorRate)))
	case report.ErrorRate > HealthyErrorRate:
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("error rate %s is above 5%%: check key/value store latency and timeouts", pct(report.ErrorRate)))
	}

	switch {
	case report.HitRate < CriticalHitRate || report.ErrorRate > CriticalErrRate:
		report.Status = HealthCritical
	case report.HitRate < HealthyHitRate || report.ErrorRate > HealthyErrorRate:
		report.Status = HealthWarning
	}
	return report
}

// Persist writes the current snapshot under cache:stats:<unixnano> so
// history survives restarts. Maintenance trims old snapshots.
func (m *Monitor) Persist(ctx context.Context) (string, error) {
	snap := m.stats.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return "", errors.Wrap(err, "marshal stats snapshot")
	}
	key := NewKey(KindStats, strconv.FormatInt(snap.Timestamp.UnixNano(), 10)).String()
	if err := m.store.Set(ctx, key, data, statsSnapshotTTL); err != nil {
		return "", errors.Wrap(err, "persist stats snapshot")
	}
	m.logger.Debug("cache stats snapshot persisted", "key", key)
	return key, nil
}
