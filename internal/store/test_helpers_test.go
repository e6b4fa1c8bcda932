package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/changefeed/internal/position"
	"github.com/roach88/changefeed/internal/testutil"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry creates an outbox entry for test aggregate n.
func createTestEntry(shard int, n uint64, seq int64) OutboxEntry {
	return OutboxEntry{
		ShardID:     shard,
		AggregateID: testutil.AggregateID(n),
		Sequence:    seq,
		TimeHint:    testutil.Epoch.Add(time.Duration(seq) * time.Second),
	}
}

// insertFeed writes a feed entry directly and fails the test on error.
func insertFeed(t *testing.T, s *Store, shard int, pos position.Token, agg uuid.UUID, seq int64) bool {
	t.Helper()
	inserted, err := New(s.DB()).InsertFeedEntry(context.Background(), FeedEntry{
		ShardID:     shard,
		Position:    pos,
		AggregateID: agg,
		Sequence:    seq,
		Source:      SourceBackfill,
	})
	if err != nil {
		t.Fatalf("InsertFeedEntry() failed: %v", err)
	}
	return inserted
}
