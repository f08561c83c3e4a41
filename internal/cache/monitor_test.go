package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		snap   StatsSnapshot
		status Health
		recs   int
	}{
		{"no traffic", StatsSnapshot{}, HealthHealthy, 1},
		{"healthy", StatsSnapshot{Hits: 80, Misses: 20, Errors: 2}, HealthHealthy, 0},
		{"healthy at thresholds", StatsSnapshot{Hits: 70, Misses: 30, Errors: 5}, HealthHealthy, 0},
		{"low hit rate", StatsSnapshot{Hits: 60, Misses: 40}, HealthWarning, 1},
		{"elevated errors", StatsSnapshot{Hits: 90, Misses: 10, Errors: 8}, HealthWarning, 1},
		{"critical hit rate", StatsSnapshot{Hits: 40, Misses: 60}, HealthCritical, 1},
		{"critical errors", StatsSnapshot{Hits: 90, Misses: 10, Errors: 11}, HealthCritical, 1},
		{"everything wrong", StatsSnapshot{Hits: 10, Misses: 90, Errors: 50}, HealthCritical, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Evaluate(tt.snap)
			assert.Equal(t, tt.status, report.Status)
			assert.Len(t, report.Recommendations, tt.recs)
		})
	}
}

func TestMonitorCheckUsesSharedStats(t *testing.T) {
	stats := NewStats()
	m := NewMonitor(stats, nil, nil)
	for i := 0; i < 9; i++ {
		stats.RecordHit()
	}
	stats.RecordMiss()

	report := m.Check()
	assert.Equal(t, HealthHealthy, report.Status)
	assert.InDelta(t, 0.9, report.HitRate, 1e-9)

	stats.Reset()
	assert.Zero(t, m.Check().Stats.Requests())
}

func TestMonitorPersist(t *testing.T) {
	mr, store := newTestStore(t)
	stats := NewStats()
	stats.RecordHit()
	m := NewMonitor(stats, store, nil)

	key, err := m.Persist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindStats, KindOf(key))
	assert.True(t, mr.Exists(key))
	assert.Equal(t, statsSnapshotTTL, mr.TTL(key))
}
