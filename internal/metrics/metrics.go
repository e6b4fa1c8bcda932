// Package metrics records changefeed activity.
//
// Components depend on the Recorder interface and default to Nop. The
// Prometheus implementation registers its collectors on a caller-supplied
// Registerer so tests can use an isolated registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives changefeed events.
type Recorder interface {
	// Promoted records one promotion batch. skipped counts outbox rows whose key
	// was already in the feed.
	Promoted(shard, promoted, skipped int, elapsed time.Duration)
	// PromotionFailed records a promotion batch that returned an error.
	PromotionFailed(shard int)
	// Backfilled records one backfill call.
	Backfilled(shard, inserted, skipped int)
	// Read records a served page.
	Read(shard, feedRows, provisionalRows int)
}

type nop struct{}

func (nop) Promoted(int, int, int, time.Duration) {}
func (nop) PromotionFailed(int)                   {}
func (nop) Backfilled(int, int, int)              {}
func (nop) Read(int, int, int)                    {}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nop{} }

// Default histogram buckets for batch latency (in seconds).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5,
}

// promRecorder implements Recorder using Prometheus.
type promRecorder struct {
	promotedEntries  *prometheus.CounterVec
	skippedEntries   *prometheus.CounterVec
	promotionBatches *prometheus.CounterVec
	promotionErrors  *prometheus.CounterVec
	promotionLatency *prometheus.HistogramVec
	backfilled       *prometheus.CounterVec
	readRows         *prometheus.CounterVec
}

// NewPrometheus creates a Prometheus Recorder and registers its collectors on reg.
// Panics if the collectors are already registered on reg.
func NewPrometheus(reg prometheus.Registerer) Recorder {
	m := &promRecorder{
		promotedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changefeed_promoted_entries_total",
			Help: "Total number of outbox entries promoted into the feed",
		}, []string{"shard"}),

		skippedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changefeed_duplicate_entries_total",
			Help: "Total number of entries skipped because their key was already in the feed",
		}, []string{"shard", "path"}),

		promotionBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changefeed_promotion_batches_total",
			Help: "Total number of promotion batches committed",
		}, []string{"shard"}),

		promotionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changefeed_promotion_errors_total",
			Help: "Total number of promotion batches that failed",
		}, []string{"shard"}),

		promotionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "changefeed_promotion_duration_seconds",
			Help:    "Promotion batch latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"shard"}),

		backfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changefeed_backfilled_entries_total",
			Help: "Total number of historical entries inserted into the feed",
		}, []string{"shard"}),

		readRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changefeed_read_rows_total",
			Help: "Total number of rows served to readers",
		}, []string{"shard", "source"}),
	}

	reg.MustRegister(
		m.promotedEntries,
		m.skippedEntries,
		m.promotionBatches,
		m.promotionErrors,
		m.promotionLatency,
		m.backfilled,
		m.readRows,
	)

	return m
}

func label(shard int) string { return strconv.Itoa(shard) }

func (m *promRecorder) Promoted(shard, promoted, skipped int, elapsed time.Duration) {
	s := label(shard)
	m.promotionBatches.WithLabelValues(s).Inc()
	m.promotedEntries.WithLabelValues(s).Add(float64(promoted))
	m.skippedEntries.WithLabelValues(s, "promotion").Add(float64(skipped))
	m.promotionLatency.WithLabelValues(s).Observe(elapsed.Seconds())
}

func (m *promRecorder) PromotionFailed(shard int) {
	m.promotionErrors.WithLabelValues(label(shard)).Inc()
}

func (m *promRecorder) Backfilled(shard, inserted, skipped int) {
	s := label(shard)
	m.backfilled.WithLabelValues(s).Add(float64(inserted))
	m.skippedEntries.WithLabelValues(s, "backfill").Add(float64(skipped))
}

func (m *promRecorder) Read(shard, feedRows, provisionalRows int) {
	s := label(shard)
	m.readRows.WithLabelValues(s, "feed").Add(float64(feedRows))
	m.readRows.WithLabelValues(s, "outbox").Add(float64(provisionalRows))
}
