package engine

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/changefeed/internal/store"
)

// HistoricalEvent identifies an event that predates the changefeed.
type HistoricalEvent struct {
	AggregateID uuid.UUID
	Sequence    int64
	// Instant is when the event originally happened. Its position is minted
	// from this instant, not from the time of import.
	Instant time.Time
}

// Backfiller inserts historical events directly into the feed.
//
// Backfill may run in many small calls over a long period while live traffic
// is staged and promoted on the same shard. An event whose live counterpart
// already reached the feed is skipped, and a later promotion of an event that
// was backfilled is skipped in turn.
//
// Thread-safety: Backfiller is safe for concurrent use.
type Backfiller struct {
	store *store.Store
	deps
}

// NewBackfiller creates a Backfiller over st.
func NewBackfiller(st *store.Store, opts ...Option) *Backfiller {
	return &Backfiller{store: st, deps: newDeps(opts)}
}

// Backfill inserts one historical event and reports whether it was inserted.
// An event already present in the feed returns false and no error.
func (b *Backfiller) Backfill(ctx context.Context, shard int, aggregateID uuid.UUID, sequence int64, instant time.Time) (bool, error) {
	n, err := b.BackfillBatch(ctx, shard, []HistoricalEvent{{
		AggregateID: aggregateID,
		Sequence:    sequence,
		Instant:     instant,
	}})
	return n == 1, err
}

// BackfillBatch inserts events in one transaction and returns how many were
// newly inserted. Events are minted in instant order; events sharing an instant
// keep their input order.
func (b *Backfiller) BackfillBatch(ctx context.Context, shard int, events []HistoricalEvent) (int, error) {
	for i, e := range events {
		switch {
		case e.AggregateID == uuid.Nil:
			return 0, invalidArgument("backfill", shard, "event %d: missing aggregate id", i)
		case e.Sequence < 0:
			return 0, invalidArgument("backfill", shard, "event %d: negative sequence %d", i, e.Sequence)
		case e.Instant.IsZero():
			return 0, invalidArgument("backfill", shard, "event %d: missing original instant", i)
		}
	}
	if len(events) == 0 {
		return 0, nil
	}

	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b HistoricalEvent) int {
		return a.Instant.Compare(b.Instant)
	})

	var inserted int
	err := b.store.WithTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		q := store.New(tx)

		for _, e := range sorted {
			ok, err := q.InsertFeedEntry(ctx, store.FeedEntry{
				ShardID:     shard,
				Position:    b.gen.Mint(e.Instant),
				AggregateID: e.AggregateID,
				Sequence:    e.Sequence,
				Source:      store.SourceBackfill,
			})
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}

		if inserted > 0 {
			return q.BumpShard(ctx, shard)
		}
		return nil
	})
	if err != nil {
		return 0, storeFailure("backfill", shard, err)
	}

	skipped := len(sorted) - inserted
	b.metrics.Backfilled(shard, inserted, skipped)
	b.logger.Debug("backfilled batch",
		"shard", shard,
		"inserted", inserted,
		"skipped", skipped,
	)
	if inserted > 0 {
		b.hub.Notify(shard)
	}

	return inserted, nil
}
