package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/changefeed/internal/position"
	"github.com/roach88/changefeed/internal/store"
)

// Promoter moves staged outbox entries into the feed.
//
// Thread-safety: Promoter is safe for concurrent use, including several
// promoters (in one or many processes) working the same shard. Overlapping
// batches serialize on the store's write lock and the feed guard turns any
// repeated key into a skip.
type Promoter struct {
	store *store.Store
	deps
}

// BatchResult reports what a promotion batch did.
type BatchResult struct {
	// Promoted counts entries newly appended to the feed.
	Promoted int
	// Skipped counts outbox entries whose key was already in the feed.
	Skipped int
}

// Processed is the number of outbox rows the batch consumed.
func (r BatchResult) Processed() int {
	return r.Promoted + r.Skipped
}

// NewPromoter creates a Promoter over st.
func NewPromoter(st *store.Store, opts ...Option) *Promoter {
	return &Promoter{store: st, deps: newDeps(opts)}
}

// PromoteBatch promotes up to limit staged entries of a shard and returns how
// many were newly appended to the feed.
func (p *Promoter) PromoteBatch(ctx context.Context, shard, limit int) (int, error) {
	res, err := p.Promote(ctx, shard, limit)
	return res.Promoted, err
}

// Promote promotes up to limit staged entries of a shard in one transaction.
//
// Entries are consumed in staging order. Each gets a position minted from the
// generator's clock; if that position does not sort after the shard's head
// (clock skew, or a burst within one millisecond on another process) the head
// plus one is used instead. Every consumed outbox row is deleted, whether its
// key was inserted or already present.
//
// On error nothing is committed and the same batch can be retried.
func (p *Promoter) Promote(ctx context.Context, shard, limit int) (BatchResult, error) {
	if limit <= 0 {
		return BatchResult{}, invalidArgument("promote", shard, "limit must be positive, got %d", limit)
	}

	start := time.Now()
	var res BatchResult

	err := p.store.WithTx(ctx, func(tx *sql.Tx) error {
		res = BatchResult{}
		q := store.New(tx)

		entries, err := q.ListOutbox(ctx, shard, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		head, err := q.FeedHead(ctx, shard)
		if err != nil {
			return err
		}

		for _, e := range entries {
			pos, err := p.nextPosition(head)
			if err != nil {
				return err
			}

			inserted, err := q.InsertFeedEntry(ctx, store.FeedEntry{
				ShardID:     shard,
				Position:    pos,
				AggregateID: e.AggregateID,
				Sequence:    e.Sequence,
				Source:      store.SourcePromotion,
			})
			if err != nil {
				return err
			}
			if inserted {
				res.Promoted++
				head = pos
			} else {
				res.Skipped++
			}

			if err := q.DeleteOutbox(ctx, e.ID); err != nil {
				return err
			}
		}

		if res.Promoted > 0 {
			return q.BumpShard(ctx, shard)
		}
		return nil
	})
	if err != nil {
		p.metrics.PromotionFailed(shard)
		return BatchResult{}, storeFailure("promote", shard, err)
	}

	elapsed := time.Since(start)
	if res.Processed() > 0 {
		p.metrics.Promoted(shard, res.Promoted, res.Skipped, elapsed)
		p.logger.Debug("promoted batch",
			"shard", shard,
			"promoted", res.Promoted,
			"skipped", res.Skipped,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	if res.Promoted > 0 {
		p.hub.Notify(shard)
	}

	return res, nil
}

// nextPosition mints a live position strictly after head.
func (p *Promoter) nextPosition(head position.Token) (position.Token, error) {
	pos := p.gen.Now()
	if head.Less(pos) {
		return pos, nil
	}
	next, ok := head.Next()
	if !ok {
		return position.Zero, fmt.Errorf("position space exhausted after %s", head)
	}
	return next, nil
}
