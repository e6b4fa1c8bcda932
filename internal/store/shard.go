package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/changefeed/internal/position"
)

// BumpShard increments a shard's change counter, registering the shard on
// first use. Long pollers compare the counter to detect changes.
func (q *Queries) BumpShard(ctx context.Context, shardID int) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO shards (shard_id, change_seq) VALUES (?, 1)
		ON CONFLICT(shard_id) DO UPDATE SET change_seq = change_seq + 1
	`, shardID)
	if err != nil {
		return fmt.Errorf("bump shard %d: %w", shardID, err)
	}
	return nil
}

// ChangeSeq returns a shard's change counter, or 0 for an unknown shard.
func (q *Queries) ChangeSeq(ctx context.Context, shardID int) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, `SELECT change_seq FROM shards WHERE shard_id = ?`, shardID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("change seq: %w", err)
	}
	return seq, nil
}

// ChangeSeq reads a shard's change counter from the read pool.
func (s *Store) ChangeSeq(ctx context.Context, shardID int) (int64, error) {
	return New(s.rdb).ChangeSeq(ctx, shardID)
}

// ShardsWithPending returns the ids of shards that have staged entries,
// in ascending order.
func (s *Store) ShardsWithPending(ctx context.Context) ([]int, error) {
	rows, err := s.rdb.QueryContext(ctx, `SELECT DISTINCT shard_id FROM outbox ORDER BY shard_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending shards: %w", err)
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending shard: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending shards: %w", err)
	}
	return ids, nil
}

// Shards returns a summary of every known shard ordered by id.
func (s *Store) Shards(ctx context.Context) ([]ShardInfo, error) {
	rows, err := s.rdb.QueryContext(ctx, `
		SELECT s.shard_id, s.change_seq,
			(SELECT COUNT(*) FROM feed f WHERE f.shard_id = s.shard_id),
			(SELECT COUNT(*) FROM outbox o WHERE o.shard_id = s.shard_id),
			(SELECT MAX(f.position) FROM feed f WHERE f.shard_id = s.shard_id)
		FROM shards s
		ORDER BY s.shard_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query shards: %w", err)
	}
	defer rows.Close()

	infos := []ShardInfo{}
	for rows.Next() {
		var info ShardInfo
		var head []byte
		if err := rows.Scan(&info.ShardID, &info.ChangeSeq, &info.FeedCount, &info.OutboxCount, &head); err != nil {
			return nil, fmt.Errorf("scan shard: %w", err)
		}
		info.Head, err = position.FromBytes(head)
		if err != nil {
			return nil, fmt.Errorf("scan shard: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shards: %w", err)
	}
	return infos, nil
}
