package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Runner promotes staged entries on every shard at a fixed interval.
type Runner struct {
	promoter  *Promoter
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewRunner creates a Runner. Non-positive values fall back to a one second
// interval and batches of 100.
func NewRunner(p *Promoter, interval time.Duration, batchSize int) *Runner {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Runner{
		promoter:  p,
		interval:  interval,
		batchSize: batchSize,
		logger:    p.logger,
	}
}

// Run promotes until ctx is cancelled, then returns ctx.Err(). Batch errors
// are logged and the loop continues with the next tick.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("promotion runner starting",
		"interval", r.interval,
		"batch_size", r.batchSize,
	)

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("promotion pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("promotion runner stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce drains the outbox of every shard that has staged entries and
// returns the number of entries promoted. A failing shard does not stop the
// others; their errors are joined.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	shards, err := r.promoter.store.ShardsWithPending(ctx)
	if err != nil {
		return 0, err
	}

	var total int
	var errs []error
	for _, shard := range shards {
		n, err := r.drain(ctx, shard)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if total > 0 {
		r.logger.Info("promotion pass complete", "shards", len(shards), "promoted", total)
	}
	return total, errors.Join(errs...)
}

// drain promotes full batches of a shard until a short batch signals the
// outbox is empty.
func (r *Runner) drain(ctx context.Context, shard int) (int, error) {
	var total int
	for {
		res, err := r.promoter.Promote(ctx, shard, r.batchSize)
		if err != nil {
			return total, err
		}
		total += res.Promoted
		if res.Processed() < r.batchSize {
			return total, nil
		}
	}
}
