package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultWarmBatchSize bounds how many warm jobs hit the database at once.
const DefaultWarmBatchSize = 3

// Job recomputes one cache entry, normally through Refresh.
type Job func(ctx context.Context) error

// Target is a named group of warm jobs run on a fixed interval. Jobs is
// called once per pass so a target can rotate through a larger set.
type Target struct {
	Name     string
	Interval time.Duration
	Jobs     func() []Job
}

// StaticTarget runs the same jobs on every pass.
func StaticTarget(name string, interval time.Duration, jobs ...Job) Target {
	return Target{
		Name:     name,
		Interval: interval,
		Jobs:     func() []Job { return jobs },
	}
}

// RotatingTarget warms perPass ids per pass, walking ids round-robin.
func RotatingTarget(name string, interval time.Duration, ids []string, perPass int, warm func(ctx context.Context, id string) error) Target {
	var offset atomic.Uint64
	if perPass <= 0 || perPass > len(ids) {
		perPass = len(ids)
	}
	return Target{
		Name:     name,
		Interval: interval,
		Jobs: func() []Job {
			if len(ids) == 0 {
				return nil
			}
			start := int(offset.Add(uint64(perPass))-uint64(perPass)) % len(ids)
			jobs := make([]Job, 0, perPass)
			for i := 0; i < perPass; i++ {
				id := ids[(start+i)%len(ids)]
				jobs = append(jobs, func(ctx context.Context) error { return warm(ctx, id) })
			}
			return jobs
		},
	}
}

// WarmResult summarises one pass over a target.
type WarmResult struct {
	Target   string        `json:"target"`
	Jobs     int           `json:"jobs"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Warmer repopulates hot entries on a schedule. Passes on the same target
// may overlap; each job is an idempotent recomputation so no locking is done.
type Warmer struct {
	targets   []Target
	batchSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
	wg        sync.WaitGroup
	passes    atomic.Uint64
}

type WarmerOption func(*Warmer)

func WithBatchSize(n int) WarmerOption {
	return func(w *Warmer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithWarmRate caps warm jobs per second across all targets.
func WithWarmRate(perSecond float64) WarmerOption {
	return func(w *Warmer) {
		if perSecond > 0 {
			w.limiter = rate.NewLimiter(rate.Limit(perSecond), w.batchSize)
		}
	}
}

func WithWarmerLogger(logger *slog.Logger) WarmerOption {
	return func(w *Warmer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewWarmer(targets []Target, opts ...WarmerOption) *Warmer {
	w := &Warmer{
		targets:   targets,
		batchSize: DefaultWarmBatchSize,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs one pass per target immediately and then one per interval
// until ctx is cancelled. It does not block.
func (w *Warmer) Start(ctx context.Context) {
	for _, t := range w.targets {
		if t.Interval <= 0 {
			w.logger.Warn("warm target has no interval, skipping schedule", "target", t.Name)
			continue
		}
		w.wg.Add(1)
		go w.loop(ctx, t)
	}
}

// Wait blocks until every scheduled loop and in-flight pass has returned.
func (w *Warmer) Wait() {
	w.wg.Wait()
}

func (w *Warmer) loop(ctx context.Context, t Target) {
	defer w.wg.Done()
	w.spawn(ctx, t)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.spawn(ctx, t)
		}
	}
}

func (w *Warmer) spawn(ctx context.Context, t Target) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.RunTarget(ctx, t)
	}()
}

// RunTarget runs a single pass over t with at most batchSize jobs in flight.
// A failing job is logged and counted; it never stops its siblings.
func (w *Warmer) RunTarget(ctx context.Context, t Target) WarmResult {
	start := time.Now()
	jobs := t.Jobs()
	var failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(w.batchSize)
	for _, job := range jobs {
		g.Go(func() error {
			if err := w.limiter.Wait(ctx); err != nil {
				failed.Add(1)
				return nil
			}
			if err := job(ctx); err != nil {
				failed.Add(1)
				w.logger.Warn("warm job failed", "target", t.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	w.passes.Add(1)

	result := WarmResult{
		Target:   t.Name,
		Jobs:     len(jobs),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
	}
	w.logger.Info("cache warm pass completed",
		"target", result.Target,
		"jobs", result.Jobs,
		"failed", result.Failed,
		"duration", result.Duration.String(),
	)
	return result
}

// RunAll runs one pass over every target, in order.
func (w *Warmer) RunAll(ctx context.Context) []WarmResult {
	results := make([]WarmResult, 0, len(w.targets))
	for _, t := range w.targets {
		results = append(results, w.RunTarget(ctx, t))
	}
	return results
}

// Passes reports how many target passes have completed.
func (w *Warmer) Passes() uint64 {
	return w.passes.Load()
}
