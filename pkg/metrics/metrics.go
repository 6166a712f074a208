// Package metrics defines the Prometheus collectors exposed on the Gin
// /metrics route: per-provider in-flight call gauges, per-queue depth
// gauges, and rate-limiter wait-time histograms.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/evalforge/evalcore/pkg/queue"
)

var (
	// Inflight tracks calls currently holding a rate limiter's concurrency
	// slot, labeled by provider.
	Inflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evalcore_inflight",
		Help: "Current number of in-flight provider calls",
	}, []string{"provider"})

	// QueueDepth tracks pending+active job counts per named queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evalcore_queue_depth",
		Help: "Current number of pending and active jobs per queue",
	}, []string{"queue", "status"})

	// RateLimitWaitSeconds tracks how long Schedule blocked waiting for the
	// per-minute reservoir or minimum inter-start spacing before admitting
	// a call, labeled by provider.
	RateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evalcore_rate_limit_wait_seconds",
		Help:    "Time a provider call spent waiting for rate limiter admission",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)

// QueueDepthReporter polls a fixed set of named queues on an interval and
// publishes their pending/active counts as QueueDepth gauges. It is
// best-effort: a failed poll is skipped rather than surfaced, since the
// reporter only feeds dashboards, never a correctness path.
type QueueDepthReporter struct {
	store      *queue.Store
	queueNames []string
	interval   time.Duration
}

// NewQueueDepthReporter constructs a reporter for the given queue names.
func NewQueueDepthReporter(store *queue.Store, queueNames []string, interval time.Duration) *QueueDepthReporter {
	return &QueueDepthReporter{store: store, queueNames: queueNames, interval: interval}
}

// Run polls until ctx is cancelled.
func (r *QueueDepthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *QueueDepthReporter) pollOnce(ctx context.Context) {
	for _, name := range r.queueNames {
		counts, err := r.store.CountByStatus(ctx, name)
		if err != nil {
			continue
		}
		QueueDepth.WithLabelValues(name, "pending").Set(float64(counts.Pending))
		QueueDepth.WithLabelValues(name, "active").Set(float64(counts.Active))
	}
}
