package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/changefeed/internal/position"
)

// InsertFeedEntry appends e to its shard's feed unless the (shard, aggregate,
// sequence) key is already present. This is the single dedup guard shared by
// promotion and backfill.
//
// Reports whether a row was inserted. A duplicate key is not an error; a
// position collision with a different key is.
func (q *Queries) InsertFeedEntry(ctx context.Context, e FeedEntry) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO feed (shard_id, position, aggregate_id, sequence, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(shard_id, aggregate_id, sequence) DO NOTHING
	`, e.ShardID, e.Position.Bytes(), e.AggregateID, e.Sequence, string(e.Source))
	if err != nil {
		return false, fmt.Errorf("insert feed entry: %w", err)
	}

	inserted, err := wasInserted(res)
	if err != nil {
		return false, fmt.Errorf("insert feed entry: %w", err)
	}
	return inserted, nil
}

// FeedHead returns the largest position in a shard's feed, or position.Zero
// if the feed is empty.
func (q *Queries) FeedHead(ctx context.Context, shardID int) (position.Token, error) {
	var raw []byte
	err := q.db.QueryRowContext(ctx, `
		SELECT position FROM feed
		WHERE shard_id = ?
		ORDER BY position DESC
		LIMIT 1
	`, shardID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return position.Zero, nil
	}
	if err != nil {
		return position.Zero, fmt.Errorf("feed head: %w", err)
	}
	return position.FromBytes(raw)
}

// ListFeedAfter returns up to limit feed entries with position > after in
// ascending position order.
//
// Returns empty slice (not nil) if there are none.
func (q *Queries) ListFeedAfter(ctx context.Context, shardID int, after position.Token, limit int) ([]FeedEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT shard_id, position, aggregate_id, sequence, source
		FROM feed
		WHERE shard_id = ? AND position > ?
		ORDER BY position ASC
		LIMIT ?
	`, shardID, after.Bytes(), limit)
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	entries := []FeedEntry{}
	for rows.Next() {
		e, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed: %w", err)
	}
	return entries, nil
}

// CountFeed returns the number of feed entries for a shard.
func (q *Queries) CountFeed(ctx context.Context, shardID int) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feed WHERE shard_id = ?`, shardID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count feed: %w", err)
	}
	return n, nil
}

func scanFeed(row rowScanner) (FeedEntry, error) {
	var e FeedEntry
	var raw []byte
	var source string
	if err := row.Scan(&e.ShardID, &raw, &e.AggregateID, &e.Sequence, &source); err != nil {
		return FeedEntry{}, fmt.Errorf("scan feed: %w", err)
	}
	pos, err := position.FromBytes(raw)
	if err != nil {
		return FeedEntry{}, fmt.Errorf("scan feed: %w", err)
	}
	e.Position = pos
	e.Source = Source(source)
	return e, nil
}

func wasInserted(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
