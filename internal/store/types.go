package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/roach88/changefeed/internal/position"
)

// Source records which write path produced a feed entry.
type Source string

const (
	SourcePromotion Source = "promotion"
	SourceBackfill  Source = "backfill"
)

// OutboxEntry is a staged write awaiting promotion.
// ID is assigned by the store and reflects staging order.
type OutboxEntry struct {
	ID          int64
	ShardID     int
	AggregateID uuid.UUID
	Sequence    int64
	TimeHint    time.Time
}

// FeedEntry is a promoted or backfilled entry in a shard's ordered log.
type FeedEntry struct {
	ShardID     int
	Position    position.Token
	AggregateID uuid.UUID
	Sequence    int64
	Source      Source
}

// ShardInfo summarizes a shard's state.
type ShardInfo struct {
	ShardID     int
	ChangeSeq   int64
	FeedCount   int64
	OutboxCount int64
	Head        position.Token
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
