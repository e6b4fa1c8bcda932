package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StageOutbox inserts e unless its key is already staged or already in the feed.
// Reports whether a row was inserted; duplicates are not errors.
func (q *Queries) StageOutbox(ctx context.Context, e OutboxEntry) (bool, error) {
	hint := e.TimeHint
	if hint.IsZero() {
		hint = time.Now()
	}

	// The statement has a WHERE clause, so ON CONFLICT is parsed as an upsert
	// and not as a join constraint.
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO outbox (shard_id, aggregate_id, sequence, time_hint)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM feed
			WHERE shard_id = ? AND aggregate_id = ? AND sequence = ?
		)
		ON CONFLICT(shard_id, aggregate_id, sequence) DO NOTHING
	`,
		e.ShardID, e.AggregateID, e.Sequence, toMillis(hint),
		e.ShardID, e.AggregateID, e.Sequence,
	)
	if err != nil {
		return false, fmt.Errorf("stage outbox: %w", err)
	}

	inserted, err := wasInserted(res)
	if err != nil {
		return false, fmt.Errorf("stage outbox: %w", err)
	}
	if inserted {
		if err := q.BumpShard(ctx, e.ShardID); err != nil {
			return false, fmt.Errorf("stage outbox: %w", err)
		}
	}
	return inserted, nil
}

// ListOutbox returns up to limit staged entries for a shard in staging order.
// This is the order promotion consumes them in.
//
// Returns empty slice (not nil) if nothing is staged.
func (q *Queries) ListOutbox(ctx context.Context, shardID, limit int) ([]OutboxEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, shard_id, aggregate_id, sequence, time_hint
		FROM outbox
		WHERE shard_id = ?
		ORDER BY id ASC
		LIMIT ?
	`, shardID, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	return scanOutboxRows(rows)
}

// ListPendingOutbox returns up to limit staged entries whose key is not yet in
// the feed, ordered by time hint then staging order. Used by the read fallback.
//
// Returns empty slice (not nil) if nothing is pending.
func (q *Queries) ListPendingOutbox(ctx context.Context, shardID, limit int) ([]OutboxEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT o.id, o.shard_id, o.aggregate_id, o.sequence, o.time_hint
		FROM outbox o
		WHERE o.shard_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM feed f
			WHERE f.shard_id = o.shard_id
			  AND f.aggregate_id = o.aggregate_id
			  AND f.sequence = o.sequence
		  )
		ORDER BY o.time_hint ASC, o.id ASC
		LIMIT ?
	`, shardID, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	return scanOutboxRows(rows)
}

// DeleteOutbox removes a staged entry by id. Deleting a missing id is a no-op.
func (q *Queries) DeleteOutbox(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete outbox %d: %w", id, err)
	}
	return nil
}

// CountOutbox returns the number of staged entries for a shard.
func (q *Queries) CountOutbox(ctx context.Context, shardID int) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE shard_id = ?`, shardID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutbox(row rowScanner) (OutboxEntry, error) {
	var e OutboxEntry
	var hint int64
	if err := row.Scan(&e.ID, &e.ShardID, &e.AggregateID, &e.Sequence, &hint); err != nil {
		return OutboxEntry{}, fmt.Errorf("scan outbox: %w", err)
	}
	e.TimeHint = fromMillis(hint)
	return e, nil
}

func scanOutboxRows(rows *sql.Rows) ([]OutboxEntry, error) {
	defer rows.Close()

	entries := []OutboxEntry{}
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}
