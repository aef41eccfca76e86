// Package metrics records durable processing counters, mirrors them to
// Prometheus and hosts the truncation safety gate.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder increments the durable store and the matching Prometheus
// counters. Store failures are logged, never returned, so bookkeeping
// cannot fail an item.
type Recorder struct {
	store    Store
	logger   *slog.Logger
	reg      prometheus.Registerer
	counters map[string]prometheus.Counter
	lastRun  prometheus.Gauge
}

// NewRecorder registers its collectors with reg. A nil reg skips Prometheus.
func NewRecorder(store Store, logger *slog.Logger, reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		store:    store,
		logger:   logger,
		counters: make(map[string]prometheus.Counter),
	}
	if reg == nil {
		return r
	}
	r.reg = reg

	factory := promauto.With(reg)
	help := map[string]string{
		ItemsProcessed:     "Threads archived and replaced by a digest",
		ItemsSkipped:       "Threads without archivable attachments",
		ItemsErrored:       "Threads that failed permanently",
		FilesUploaded:      "Attachments uploaded to storage",
		BytesUploaded:      "Attachment bytes uploaded to storage",
		DuplicatesSkipped:  "Attachments served from the dedup index",
		BatchesRun:         "Batch invocations",
		TruncationWarnings: "Threads above the truncation warning ratio",
	}
	for name, h := range help {
		r.counters[name] = factory.NewCounter(prometheus.CounterOpts{
			Namespace: "archiver",
			Name:      name + "_total",
			Help:      h,
		})
	}
	r.lastRun = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "archiver",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last completed batch",
	})
	return r
}

// Unregister removes the Prometheus collectors so a rebuilt recorder can
// register under the same names.
func (r *Recorder) Unregister() {
	if r.reg == nil {
		return
	}
	for _, c := range r.counters {
		r.reg.Unregister(c)
	}
	r.reg.Unregister(r.lastRun)
}

func (r *Recorder) add(ctx context.Context, name string, delta int64) {
	if c, ok := r.counters[name]; ok {
		c.Add(float64(delta))
	}
	if err := r.store.Add(ctx, name, delta); err != nil {
		r.logger.Error("failed to persist counter", "counter", name, "error", err)
	}
}

func (r *Recorder) IncProcessed(ctx context.Context)         { r.add(ctx, ItemsProcessed, 1) }
func (r *Recorder) IncSkipped(ctx context.Context)           { r.add(ctx, ItemsSkipped, 1) }
func (r *Recorder) IncErrored(ctx context.Context)           { r.add(ctx, ItemsErrored, 1) }
func (r *Recorder) IncDuplicate(ctx context.Context)         { r.add(ctx, DuplicatesSkipped, 1) }
func (r *Recorder) IncBatch(ctx context.Context)             { r.add(ctx, BatchesRun, 1) }
func (r *Recorder) IncTruncationWarning(ctx context.Context) { r.add(ctx, TruncationWarnings, 1) }

// AddUpload counts one uploaded file of n bytes.
func (r *Recorder) AddUpload(ctx context.Context, n int64) {
	r.add(ctx, FilesUploaded, 1)
	r.add(ctx, BytesUploaded, n)
}

// MarkRun records the completion time of a batch.
func (r *Recorder) MarkRun(ctx context.Context, t time.Time) {
	if r.lastRun != nil {
		r.lastRun.Set(float64(t.Unix()))
	}
	if err := r.store.SetLastRun(ctx, t); err != nil {
		r.logger.Error("failed to persist last run", "error", err)
	}
}

func (r *Recorder) Snapshot(ctx context.Context) (Snapshot, error) {
	return r.store.Snapshot(ctx)
}

// Reset clears the durable counters. Prometheus counters stay monotonic.
func (r *Recorder) Reset(ctx context.Context) error {
	return r.store.Reset(ctx)
}
