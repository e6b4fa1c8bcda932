package store

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs outbox and feed statements against a connection or transaction.
// Callers that need atomicity across several statements pass a *sql.Tx.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Stage records an outbox entry on the caller's connection or transaction, so
// that it commits or rolls back together with the caller's domain write.
//
// Staging is idempotent: a second attempt for the same (shard, aggregate,
// sequence) returns inserted=false and no error, as does staging a key that has
// already been promoted or backfilled into the feed. A zero TimeHint is
// replaced with the current time.
func Stage(ctx context.Context, db DBTX, e OutboxEntry) (inserted bool, err error) {
	return New(db).StageOutbox(ctx, e)
}
