package harness

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/changefeed/internal/position"
	"github.com/roach88/changefeed/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Shard    int
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s (shard=%d)\n", e.Type, e.Shard)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against the final store state
// and returns the failure messages.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertFeedOrder:
			err = h.assertFeedOrder(ctx, a)
		case AssertFeedCount:
			err = h.assertCount(ctx, a, func(q *store.Queries) (int64, error) {
				return q.CountFeed(ctx, a.Shard)
			})
		case AssertOutboxCount:
			err = h.assertCount(ctx, a, func(q *store.Queries) (int64, error) {
				return q.CountOutbox(ctx, a.Shard)
			})
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertFeedOrder checks that the whole feed of a shard, in position order,
// is exactly the listed events.
func (h *Harness) assertFeedOrder(ctx context.Context, a Assertion) error {
	var got []string
	err := h.store.WithReadTx(ctx, func(tx *sql.Tx) error {
		q := store.New(tx)
		n, err := q.CountFeed(ctx, a.Shard)
		if err != nil || n == 0 {
			return err
		}
		entries, err := q.ListFeedAfter(ctx, a.Shard, position.Zero, int(n))
		if err != nil {
			return err
		}
		for _, e := range entries {
			got = append(got, h.label(e.AggregateID, e.Sequence))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("feed_order: %w", err)
	}

	if !slices.Equal(got, a.Events) {
		return &AssertionError{
			Type:     AssertFeedOrder,
			Shard:    a.Shard,
			Expected: fmt.Sprintf("%v", a.Events),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func (h *Harness) assertCount(ctx context.Context, a Assertion, count func(*store.Queries) (int64, error)) error {
	var n int64
	err := h.store.WithReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = count(store.New(tx))
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", a.Type, err)
	}

	if n != int64(a.Count) {
		return &AssertionError{
			Type:     a.Type,
			Shard:    a.Shard,
			Expected: fmt.Sprintf("%d entries", a.Count),
			Actual:   fmt.Sprintf("%d entries", n),
		}
	}
	return nil
}
