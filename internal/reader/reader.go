// Package reader serves cursor-paginated reads of a shard's feed.
//
// A page draws from the feed first. Only when a read reaches the feed head
// does it fall through to entries still waiting in the outbox, so events are
// not withheld while they wait for promotion. Those outbox rows are marked
// Provisional: they carry a presentation token that is never persisted, and
// they will be observed again, possibly in a different relative order, once
// promoted. Consumers deduplicate on (aggregate id, sequence).
//
// The cursor returned with a page only ever advances over feed rows, so a
// consumer that persists it cannot skip an entry that is promoted later.
package reader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/changefeed/internal/engine"
	"github.com/roach88/changefeed/internal/metrics"
	"github.com/roach88/changefeed/internal/notify"
	"github.com/roach88/changefeed/internal/position"
	"github.com/roach88/changefeed/internal/store"
)

// ErrInvalidPageSize is returned for a non-positive page size.
var ErrInvalidPageSize = errors.New("invalid page size")

// DefaultPollInterval is how often Longpoll re-checks a shard when no
// in-process notification arrives.
const DefaultPollInterval = 250 * time.Millisecond

// Entry is one row of a page.
type Entry struct {
	Position    position.Token
	AggregateID uuid.UUID
	Sequence    int64
	// Provisional marks a row served from the outbox. Its Position is derived
	// for presentation and is not a valid cursor.
	Provisional bool
}

// Page is the result of a read.
type Page struct {
	// Entries holds feed rows in position order followed by provisional rows
	// in time hint order.
	Entries []Entry
	// Cursor is the position of the last feed row in Entries, or the request
	// cursor if the page holds no feed rows. Pass it to the next read.
	Cursor position.Token
}

// ProvisionalCount returns the number of outbox-sourced rows in the page.
func (p Page) ProvisionalCount() int {
	n := 0
	for _, e := range p.Entries {
		if e.Provisional {
			n++
		}
	}
	return n
}

// Reader serves pages. It is safe for concurrent use.
type Reader struct {
	store        *store.Store
	promoter     *engine.Promoter
	hub          *notify.Hub
	metrics      metrics.Recorder
	logger       *slog.Logger
	pollInterval time.Duration
}

// Option configures a Reader.
type Option func(*Reader)

// WithPromoteOnRead makes a read that would serve provisional rows promote a
// batch first and re-read, so caught-up consumers see final positions.
func WithPromoteOnRead(p *engine.Promoter) Option {
	return func(r *Reader) { r.promoter = p }
}

// WithHub lets Longpoll wake on in-process notifications.
func WithHub(h *notify.Hub) Option {
	return func(r *Reader) { r.hub = h }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *Reader) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPollInterval sets the Longpoll fallback polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// New creates a Reader over st.
func New(st *store.Store, opts ...Option) *Reader {
	r := &Reader{
		store:        st,
		metrics:      metrics.Nop(),
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read returns up to pageSize entries of a shard after cursor. An empty cursor
// reads from the beginning; any other length than 16 bytes returns an error
// wrapping position.ErrInvalidCursor.
func (r *Reader) Read(ctx context.Context, shard int, cursor []byte, pageSize int) (Page, error) {
	after, err := position.FromBytes(cursor)
	if err != nil {
		return Page{}, fmt.Errorf("read shard %d: %w", shard, err)
	}
	return r.ReadFrom(ctx, shard, after, pageSize)
}

// ReadFrom is Read with a decoded cursor.
func (r *Reader) ReadFrom(ctx context.Context, shard int, after position.Token, pageSize int) (Page, error) {
	if pageSize <= 0 {
		return Page{}, fmt.Errorf("read shard %d: %w: %d", shard, ErrInvalidPageSize, pageSize)
	}

	page, err := r.snapshot(ctx, shard, after, pageSize)
	if err != nil {
		return Page{}, err
	}

	if r.promoter != nil && page.ProvisionalCount() > 0 {
		if _, err := r.promoter.PromoteBatch(ctx, shard, pageSize); err != nil {
			// The provisional page is still a valid answer.
			r.logger.Warn("promote on read failed", "shard", shard, "error", err)
		} else if page, err = r.snapshot(ctx, shard, after, pageSize); err != nil {
			return Page{}, err
		}
	}

	provisional := page.ProvisionalCount()
	r.metrics.Read(shard, len(page.Entries)-provisional, provisional)
	return page, nil
}

// snapshot builds a page from one consistent read transaction.
func (r *Reader) snapshot(ctx context.Context, shard int, after position.Token, pageSize int) (Page, error) {
	page := Page{Entries: []Entry{}, Cursor: after}

	err := r.store.WithReadTx(ctx, func(tx *sql.Tx) error {
		q := store.New(tx)

		feed, err := q.ListFeedAfter(ctx, shard, after, pageSize)
		if err != nil {
			return err
		}
		for _, e := range feed {
			page.Entries = append(page.Entries, Entry{
				Position:    e.Position,
				AggregateID: e.AggregateID,
				Sequence:    e.Sequence,
			})
			page.Cursor = e.Position
		}
		if len(feed) == pageSize {
			return nil
		}

		head, err := q.FeedHead(ctx, shard)
		if err != nil {
			return err
		}
		if page.Cursor.Less(head) {
			return nil
		}

		pending, err := q.ListPendingOutbox(ctx, shard, pageSize-len(feed))
		if err != nil {
			return err
		}
		for _, o := range pending {
			page.Entries = append(page.Entries, Entry{
				Position:    position.Derive(o.TimeHint, uint64(o.ID)),
				AggregateID: o.AggregateID,
				Sequence:    o.Sequence,
				Provisional: true,
			})
		}
		return nil
	})
	if err != nil {
		return Page{}, fmt.Errorf("read shard %d: %w", shard, err)
	}
	return page, nil
}
