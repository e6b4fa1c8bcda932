package engine

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/changefeed/internal/position"
	"github.com/roach88/changefeed/internal/store"
	"github.com/roach88/changefeed/internal/testutil"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func stage(t *testing.T, st *store.Store, shard int, n uint64, seq int64, hint time.Time) {
	t.Helper()
	_, err := st.Stage(context.Background(), store.OutboxEntry{
		ShardID:     shard,
		AggregateID: testutil.AggregateID(n),
		Sequence:    seq,
		TimeHint:    hint,
	})
	require.NoError(t, err)
}

func readAll(t *testing.T, st *store.Store, shard int) []store.FeedEntry {
	t.Helper()
	var entries []store.FeedEntry
	err := st.WithReadTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		entries, err = store.New(tx).ListFeedAfter(context.Background(), shard, position.Zero, 100000)
		return err
	})
	require.NoError(t, err)
	return entries
}

func outboxCount(t *testing.T, st *store.Store, shard int) int64 {
	t.Helper()
	n, err := store.New(st.DB()).CountOutbox(context.Background(), shard)
	require.NoError(t, err)
	return n
}

// aggregates returns the test aggregate numbers of entries in feed order.
func aggregates(entries []store.FeedEntry) []uint64 {
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		var n uint64
		for _, b := range e.AggregateID[9:] {
			n = n<<8 | uint64(b)
		}
		out = append(out, n)
	}
	return out
}

func requireStrictlyIncreasing(t *testing.T, entries []store.FeedEntry) {
	t.Helper()
	for i := 1; i < len(entries); i++ {
		require.True(t, entries[i-1].Position.Less(entries[i].Position),
			"position %d (%s) not after position %d (%s)", i, entries[i].Position, i-1, entries[i-1].Position)
	}
}

// recordingMetrics captures metric calls for assertions.
type recordingMetrics struct {
	mu         sync.Mutex
	promoted   int
	skipped    int
	failures   int
	backfilled int
	bfSkipped  int
}

func (m *recordingMetrics) Promoted(_, promoted, skipped int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promoted += promoted
	m.skipped += skipped
}

func (m *recordingMetrics) PromotionFailed(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *recordingMetrics) Backfilled(_, inserted, skipped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backfilled += inserted
	m.bfSkipped += skipped
}

func (m *recordingMetrics) Read(int, int, int) {}
