package cache

import (
	"sync/atomic"
	"time"
)

// Stats holds the running counters the Monitor reads. It is shared by
// reference between the Cache, the Invalidator and the metrics exporter.
type Stats struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	errors        atomic.Uint64
	writeErrors   atomic.Uint64
	sets          atomic.Uint64
	invalidations atomic.Uint64
	since         atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats. Errors counts failed
// lookups only; failed stores are WriteErrors.
type StatsSnapshot struct {
	Hits          uint64    `json:"hits"`
	Misses        uint64    `json:"misses"`
	Errors        uint64    `json:"errors"`
	WriteErrors   uint64    `json:"write_errors"`
	Sets          uint64    `json:"sets"`
	Invalidations uint64    `json:"invalidations"`
	Since         time.Time `json:"since"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewStats() *Stats {
	s := &Stats{}
	s.since.Store(time.Now().UnixNano())
	return s
}

func (s *Stats) RecordHit() { s.hits.Add(1) }
func (s *Stats) RecordMiss() { s.misses.Add(1) }
func (s *Stats) RecordError() { s.errors.Add(1) }
func (s *Stats) RecordWriteError() { s.writeErrors.Add(1) }
func (s *Stats) RecordSet() { s.sets.Add(1) }
func (s *Stats) RecordInvalidation(n uint64) { s.invalidations.Add(n) }

func (s *Stats) Hits() uint64 { return s.hits.Load() }
func (s *Stats) Misses() uint64 { return s.misses.Load() }
func (s *Stats) Errors() uint64 { return s.errors.Load() }
func (s *Stats) WriteErrors() uint64 { return s.writeErrors.Load() }
func (s *Stats) Sets() uint64 { return s.sets.Load() }
func (s *Stats) Invalidations() uint64 { return s.invalidations.Load() }

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Errors:        s.errors.Load(),
		WriteErrors:   s.writeErrors.Load(),
		Sets:          s.sets.Load(),
		Invalidations: s.invalidations.Load(),
		Since:         time.Unix(0, s.since.Load()),
		Timestamp:     time.Now(),
	}
}

// Reset zeroes every counter and restarts the observation window.
func (s *Stats) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.errors.Store(0)
	s.writeErrors.Store(0)
	s.sets.Store(0)
	s.invalidations.Store(0)
	s.since.Store(time.Now().UnixNano())
}

// HitRate is hits/(hits+misses), or 0 without traffic.
func (s StatsSnapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ErrorRate is failed lookups over total lookups, or 0 without traffic. A
// failed lookup also counts as a miss, so the rate never exceeds 1.
func (s StatsSnapshot) ErrorRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Errors) / float64(total)
}

// Requests is the number of lookups observed.
func (s StatsSnapshot) Requests() uint64 {
	return s.Hits + s.Misses
}
