// Package store provides SQLite-backed durable storage for the changefeed.
//
// Three tables live in the database:
//   - outbox: staged writes awaiting promotion, unique per (shard, aggregate, sequence)
//   - feed: the ordered log consumers read, keyed by (shard, position) and
//     unique per (shard, aggregate, sequence)
//   - shards: per-shard change counter used by long polling
//
// # Idempotency
//
// Both write paths rely on INSERT ... ON CONFLICT DO NOTHING against the
// (shard_id, aggregate_id, sequence) unique constraints. A duplicate insert is
// reported through the inserted flag, never as an error. No other locking is
// used.
//
// # Connections
//
// SQLite permits one writer at a time, so writes go through a single
// connection. Reads use a separate query-only pool and see a consistent WAL
// snapshot per transaction, so readers never block writers.
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
