package engine

import (
	"log/slog"

	"github.com/roach88/changefeed/internal/metrics"
	"github.com/roach88/changefeed/internal/notify"
	"github.com/roach88/changefeed/internal/position"
)

// Option configures a Promoter or Backfiller.
type Option func(*deps)

type deps struct {
	gen     *position.Generator
	hub     *notify.Hub
	metrics metrics.Recorder
	logger  *slog.Logger
}

func newDeps(opts []Option) deps {
	d := deps{
		metrics: metrics.Nop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	if d.gen == nil {
		d.gen = position.NewGenerator()
	}
	return d
}

// WithGenerator sets the position generator. Share one generator between the
// promoter and backfiller of a process.
func WithGenerator(g *position.Generator) Option {
	return func(d *deps) { d.gen = g }
}

// WithHub sets the hub notified after a batch inserts into a shard.
func WithHub(h *notify.Hub) Option {
	return func(d *deps) { d.hub = h }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(d *deps) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *deps) {
		if l != nil {
			d.logger = l
		}
	}
}
