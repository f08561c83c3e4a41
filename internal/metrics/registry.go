// Package metrics exposes service counters in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/muandane/special-stack/storefront/internal/cache"
	"github.com/muandane/special-stack/storefront/internal/imaging"
	"github.com/muandane/special-stack/storefront/internal/kv"
)

// Registry owns one metrics set so tests and multiple servers don't share
// global state.
type Registry struct {
	set *metrics.Set

	requestCounter   *metrics.Counter
	responseTimeHist *metrics.Histogram
	requestSizeHist  *metrics.Histogram
	responseSizeHist *metrics.Histogram

	imageDurationHist *metrics.Histogram
	imageBytesHist    *metrics.Histogram
	imageVariants     *metrics.Counter
	imageSkipped      *metrics.Counter
	imageRejected     *metrics.Counter
	imageFailed       *metrics.Counter

	maintenanceRuns    *metrics.Counter
	maintenanceDeleted *metrics.Counter
	maintenanceErrors  *metrics.Counter
}

func NewRegistry() *Registry {
	s := metrics.NewSet()
	return &Registry{
		set:                s,
		requestCounter:     s.NewCounter("http_requests_total"),
		responseTimeHist:   s.NewHistogram("http_response_time_seconds"),
		requestSizeHist:    s.NewHistogram("http_request_size_bytes"),
		responseSizeHist:   s.NewHistogram("http_response_size_bytes"),
		imageDurationHist:  s.NewHistogram("image_processing_seconds"),
		imageBytesHist:     s.NewHistogram("image_output_bytes"),
		imageVariants:      s.NewCounter("image_variants_total"),
		imageSkipped:       s.NewCounter("image_variants_skipped_total"),
		imageRejected:      s.NewCounter("image_uploads_rejected_total"),
		imageFailed:        s.NewCounter("image_uploads_failed_total"),
		maintenanceRuns:    s.NewCounter("cache_maintenance_runs_total"),
		maintenanceDeleted: s.NewCounter("cache_maintenance_keys_deleted_total"),
		maintenanceErrors:  s.NewCounter("cache_maintenance_errors_total"),
	}
}

// ObserveRequest records one served HTTP request. route is the matched
// pattern, never the raw path, to keep label cardinality bounded.
func (r *Registry) ObserveRequest(method, route string, status int, d time.Duration, reqSize, respSize int64) {
	r.requestCounter.Inc()
	r.responseTimeHist.Update(d.Seconds())
	if reqSize > 0 {
		r.requestSizeHist.Update(float64(reqSize))
	}
	if respSize >= 0 {
		r.responseSizeHist.Update(float64(respSize))
	}
	if route == "" {
		route = "unmatched"
	}
	r.set.GetOrCreateCounter(fmt.Sprintf(
		`http_response_status_total{method=%q,route=%q,code="%s"}`,
		method, route, strconv.Itoa(status),
	)).Inc()
}

// RegisterCacheStats exports the shared cache counters as gauges read at
// scrape time.
func (r *Registry) RegisterCacheStats(stats *cache.Stats) {
	r.set.NewGauge("cache_hits", func() float64 { return float64(stats.Hits()) })
	r.set.NewGauge("cache_misses", func() float64 { return float64(stats.Misses()) })
	r.set.NewGauge("cache_errors", func() float64 { return float64(stats.Errors()) })
	r.set.NewGauge("cache_write_errors", func() float64 { return float64(stats.WriteErrors()) })
	r.set.NewGauge("cache_sets", func() float64 { return float64(stats.Sets()) })
	r.set.NewGauge("cache_invalidations", func() float64 { return float64(stats.Invalidations()) })
	r.set.NewGauge("cache_hit_rate", func() float64 { return stats.Snapshot().HitRate() })
	r.set.NewGauge("cache_error_rate", func() float64 { return stats.Snapshot().ErrorRate() })
}

// RegisterMemoryStore exports the in-process store's size.
func (r *Registry) RegisterMemoryStore(m *kv.Memory) {
	r.set.NewGauge("kv_memory_bytes", func() float64 { return float64(m.Size()) })
}

// ObserveImage records a pipeline outcome.
func (r *Registry) ObserveImage(result *imaging.Result, err error) {
	switch {
	case imaging.IsValidation(err):
		r.imageRejected.Inc()
	case err != nil:
		r.imageFailed.Inc()
	case result != nil:
		r.imageDurationHist.Update(result.ProcessingTime.Seconds())
		r.imageBytesHist.Update(float64(result.TotalSize))
		r.imageVariants.Add(len(result.Variants))
		r.imageSkipped.Add(len(result.Skipped))
	}
}

// ObserveMaintenance records a maintenance run.
func (r *Registry) ObserveMaintenance(report cache.MaintenanceReport) {
	r.maintenanceRuns.Inc()
	r.maintenanceDeleted.Add(report.KeysDeleted())
	r.maintenanceErrors.Add(len(report.Errors))
}

// WritePrometheus writes the registry plus process metrics.
func (r *Registry) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}
