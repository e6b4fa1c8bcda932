package reader

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/changefeed/internal/engine"
	"github.com/roach88/changefeed/internal/metrics"
	"github.com/roach88/changefeed/internal/position"
	"github.com/roach88/changefeed/internal/store"
	"github.com/roach88/changefeed/internal/testutil"
)

type fixture struct {
	st       *store.Store
	promoter *engine.Promoter
	reader   *Reader
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "reader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &fixture{
		st:       st,
		promoter: engine.NewPromoter(st),
		reader:   New(st, opts...),
	}
}

func (f *fixture) stage(t *testing.T, n uint64, hint time.Time) {
	t.Helper()
	_, err := f.st.Stage(context.Background(), store.OutboxEntry{
		ShardID:     0,
		AggregateID: testutil.AggregateID(n),
		Sequence:    1,
		TimeHint:    hint,
	})
	require.NoError(t, err)
}

func (f *fixture) promote(t *testing.T) {
	t.Helper()
	_, err := f.promoter.PromoteBatch(context.Background(), 0, 1000)
	require.NoError(t, err)
}

// ids returns test aggregate numbers and provisional flags of a page.
func ids(p Page) (nums []uint64, provisional []bool) {
	for _, e := range p.Entries {
		var n uint64
		for _, b := range e.AggregateID[9:] {
			n = n<<8 | uint64(b)
		}
		nums = append(nums, n)
		provisional = append(provisional, e.Provisional)
	}
	return nums, provisional
}

func TestRead_InvalidCursor(t *testing.T) {
	f := newFixture(t)

	for _, n := range []int{1, 8, 15, 17} {
		_, err := f.reader.Read(context.Background(), 0, make([]byte, n), 10)
		require.Error(t, err)
		assert.True(t, errors.Is(err, position.ErrInvalidCursor), "length %d", n)
	}
}

func TestRead_InvalidPageSize(t *testing.T) {
	f := newFixture(t)

	for _, size := range []int{0, -1} {
		_, err := f.reader.Read(context.Background(), 0, nil, size)
		assert.ErrorIs(t, err, ErrInvalidPageSize)
	}
}

func TestRead_EmptyShard(t *testing.T) {
	f := newFixture(t)

	page, err := f.reader.Read(context.Background(), 0, nil, 10)
	require.NoError(t, err)
	assert.NotNil(t, page.Entries)
	assert.Empty(t, page.Entries)
	assert.True(t, page.Cursor.IsZero())
}

func TestRead_Paginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for n := uint64(1); n <= 5; n++ {
		f.stage(t, n, time.Time{})
	}
	f.promote(t)

	var got []uint64
	cursor := position.Zero
	pages := 0
	for {
		page, err := f.reader.Read(ctx, 0, cursor.Bytes(), 2)
		require.NoError(t, err)
		if len(page.Entries) == 0 {
			assert.Equal(t, cursor, page.Cursor, "empty page keeps the cursor")
			break
		}
		nums, _ := ids(page)
		got = append(got, nums...)
		require.True(t, cursor.Less(page.Cursor))
		cursor = page.Cursor
		pages++
	}

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, got)
	assert.Equal(t, 3, pages)
}

func TestRead_SameCursorIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for n := uint64(1); n <= 3; n++ {
		f.stage(t, n, time.Time{})
	}
	f.promote(t)

	first, err := f.reader.Read(ctx, 0, nil, 2)
	require.NoError(t, err)
	again, err := f.reader.Read(ctx, 0, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestRead_FallsBackToOutboxWhenCaughtUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stage(t, 1, time.Time{})
	f.stage(t, 2, time.Time{})
	f.promote(t)

	// Staged in order 3, 4 but with 4's time hint earlier.
	f.stage(t, 3, testutil.Epoch.Add(time.Minute))
	f.stage(t, 4, testutil.Epoch)

	page, err := f.reader.Read(ctx, 0, nil, 10)
	require.NoError(t, err)

	nums, provisional := ids(page)
	assert.Equal(t, []uint64{1, 2, 4, 3}, nums)
	assert.Equal(t, []bool{false, false, true, true}, provisional)
	assert.Equal(t, 2, page.ProvisionalCount())

	// The cursor stops at the last feed row.
	assert.Equal(t, page.Entries[1].Position, page.Cursor)
}

func TestRead_NoFallbackOnFullPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stage(t, 1, time.Time{})
	f.stage(t, 2, time.Time{})
	f.promote(t)
	f.stage(t, 3, time.Time{})

	page, err := f.reader.Read(ctx, 0, nil, 2)
	require.NoError(t, err)
	nums, _ := ids(page)
	assert.Equal(t, []uint64{1, 2}, nums)
	assert.Zero(t, page.ProvisionalCount())

	next, err := f.reader.Read(ctx, 0, page.Cursor.Bytes(), 2)
	require.NoError(t, err)
	nums, provisional := ids(next)
	assert.Equal(t, []uint64{3}, nums)
	assert.Equal(t, []bool{true}, provisional)
	assert.Equal(t, page.Cursor, next.Cursor)
}

func TestRead_ProvisionalRowsReappearAfterPromotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stage(t, 1, time.Time{})
	f.promote(t)
	f.stage(t, 2, time.Time{})

	page, err := f.reader.Read(ctx, 0, nil, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.ProvisionalCount())

	f.promote(t)

	next, err := f.reader.Read(ctx, 0, page.Cursor.Bytes(), 10)
	require.NoError(t, err)
	nums, provisional := ids(next)
	assert.Equal(t, []uint64{2}, nums)
	assert.Equal(t, []bool{false}, provisional)
	assert.True(t, page.Cursor.Less(next.Cursor))
}

func TestRead_PromoteOnRead(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "reader.db"))
	require.NoError(t, err)
	defer st.Close()
	r := New(st, WithPromoteOnRead(engine.NewPromoter(st)))
	ctx := context.Background()

	for n := uint64(1); n <= 3; n++ {
		_, err := st.Stage(ctx, store.OutboxEntry{ShardID: 0, AggregateID: testutil.AggregateID(n), Sequence: 1})
		require.NoError(t, err)
	}

	page, err := r.Read(ctx, 0, nil, 10)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
	assert.Zero(t, page.ProvisionalCount())
	assert.Equal(t, page.Entries[2].Position, page.Cursor)

	n, err := store.New(st.DB()).CountOutbox(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRead_BackfillBeforeCursorIsNotReplayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stage(t, 1, time.Time{})
	f.promote(t)
	page, err := f.reader.Read(ctx, 0, nil, 10)
	require.NoError(t, err)

	_, err = engine.NewBackfiller(f.st).Backfill(ctx, 0, testutil.AggregateID(9), 1, testutil.Epoch)
	require.NoError(t, err)

	next, err := f.reader.Read(ctx, 0, page.Cursor.Bytes(), 10)
	require.NoError(t, err)
	assert.Empty(t, next.Entries)

	all, err := f.reader.Read(ctx, 0, nil, 10)
	require.NoError(t, err)
	nums, _ := ids(all)
	assert.Equal(t, []uint64{9, 1}, nums)
}

func TestRead_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, WithMetrics(metrics.NewPrometheus(reg)))

	f.stage(t, 1, time.Time{})
	f.promote(t)
	f.stage(t, 2, time.Time{})

	_, err := f.reader.Read(context.Background(), 0, nil, 10)
	require.NoError(t, err)

	n, err := promtest.GatherAndCount(reg, "changefeed_read_rows_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per source")
}
