package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/changefeed/internal/engine"
	"github.com/roach88/changefeed/internal/position"
	"github.com/roach88/changefeed/internal/reader"
	"github.com/roach88/changefeed/internal/store"
	"github.com/roach88/changefeed/internal/testutil"
)

// ClockStep is how far the scenario clock advances per reading.
const ClockStep = time.Millisecond

// Harness is the test execution engine.
// It runs scenario steps through the real store, engine and reader with a
// stepping clock, so the order of every minted position is reproducible.
type Harness struct {
	scenario   *Scenario
	store      *store.Store
	clock      *testutil.StepClock
	promoter   *engine.Promoter
	backfiller *engine.Backfiller
	reader     *reader.Reader
	promoting  *reader.Reader
	logger     *slog.Logger

	ids     map[string]uuid.UUID
	labels  map[eventKey]string
	cursors map[int]position.Token
}

type eventKey struct {
	aggregate uuid.UUID
	sequence  int64
}

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger routes engine and reader logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh database in a temporary directory. Step
// outcomes that differ from their expect clause, and failed assertions, are
// reported in Result.Errors; the returned error is reserved for failures of
// the harness itself.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir, err := os.MkdirTemp("", "changefeed-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewStepClock(testutil.Epoch, ClockStep)
	gen := position.NewGenerator(position.WithClock(clock))
	promoter := engine.NewPromoter(st, engine.WithGenerator(gen), engine.WithLogger(cfg.logger))

	h := &Harness{
		scenario:   scenario,
		store:      st,
		clock:      clock,
		promoter:   promoter,
		backfiller: engine.NewBackfiller(st, engine.WithGenerator(gen), engine.WithLogger(cfg.logger)),
		reader:     reader.New(st, reader.WithLogger(cfg.logger)),
		promoting:  reader.New(st, reader.WithLogger(cfg.logger), reader.WithPromoteOnRead(promoter)),
		logger:     cfg.logger,
		ids:        make(map[string]uuid.UUID, len(scenario.Events)),
		labels:     make(map[eventKey]string, len(scenario.Events)),
		cursors:    make(map[int]position.Token),
	}
	for label, ref := range scenario.Events {
		id := testutil.AggregateID(ref.Aggregate)
		h.ids[label] = id
		h.labels[eventKey{id, ref.Sequence}] = label
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

// executeStep runs one step, records its trace event and checks its expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) {
	ev := TraceEvent{Step: i, Op: step.Kind(), Shard: step.Shard()}

	var err error
	switch {
	case step.Stage != nil:
		err = h.stage(ctx, step.Stage, &ev)
	case step.Promote != nil:
		err = h.promote(ctx, step.Promote, &ev)
	case step.Backfill != nil:
		err = h.backfill(ctx, step.Backfill, &ev)
	case step.Read != nil:
		err = h.read(ctx, step.Read, &ev)
	}
	if err != nil {
		ev.Error = err.Error()
	}
	result.AddTrace(ev)

	h.logger.Info("scenario step completed",
		"step", i,
		"op", ev.Op,
		"shard", ev.Shard,
		"error", ev.Error,
	)

	for _, msg := range checkExpect(step.Expect, ev, err) {
		result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, ev.Op, msg))
	}
}

func (h *Harness) stage(ctx context.Context, s *StageStep, ev *TraceEvent) error {
	ev.Event = s.Event

	var hint time.Time
	if s.TimeHint == "" {
		hint = h.clock.Now()
	} else {
		var err error
		if hint, err = parseInstant(s.TimeHint); err != nil {
			return err
		}
	}

	inserted, err := h.store.Stage(ctx, store.OutboxEntry{
		ShardID:     s.Shard,
		AggregateID: h.ids[s.Event],
		Sequence:    h.scenario.Events[s.Event].Sequence,
		TimeHint:    hint,
	})
	if err != nil {
		return err
	}
	ev.Inserted = &inserted
	return nil
}

func (h *Harness) promote(ctx context.Context, s *PromoteStep, ev *TraceEvent) error {
	res, err := h.promoter.Promote(ctx, s.Shard, s.Limit)
	if err != nil {
		return err
	}
	ev.Promoted = &res.Promoted
	ev.Skipped = &res.Skipped
	return nil
}

func (h *Harness) backfill(ctx context.Context, s *BackfillStep, ev *TraceEvent) error {
	events := make([]engine.HistoricalEvent, 0, len(s.Events))
	for _, e := range s.Events {
		instant, err := parseInstant(e.Instant)
		if err != nil {
			return err
		}
		events = append(events, engine.HistoricalEvent{
			AggregateID: h.ids[e.Event],
			Sequence:    h.scenario.Events[e.Event].Sequence,
			Instant:     instant,
		})
	}

	n, err := h.backfiller.BackfillBatch(ctx, s.Shard, events)
	if err != nil {
		return err
	}
	ev.Backfilled = &n
	return nil
}

func (h *Harness) read(ctx context.Context, s *ReadStep, ev *TraceEvent) error {
	var after position.Token
	switch s.Cursor {
	case CursorStart:
		after = position.Zero
	case "", CursorContinue:
		after = h.cursors[s.Shard]
	default:
		var err error
		if after, err = position.Parse(s.Cursor); err != nil {
			return err
		}
	}

	r := h.reader
	if s.Promote {
		r = h.promoting
	}
	page, err := r.ReadFrom(ctx, s.Shard, after, s.PageSize)
	if err != nil {
		return err
	}
	h.cursors[s.Shard] = page.Cursor

	ev.Entries = make([]TraceEntry, 0, len(page.Entries))
	for _, e := range page.Entries {
		ev.Entries = append(ev.Entries, TraceEntry{
			Event:       h.label(e.AggregateID, e.Sequence),
			Provisional: e.Provisional,
		})
	}
	return nil
}

// label returns the scenario label for an identity, or aggregate/sequence
// for events the scenario never named.
func (h *Harness) label(id uuid.UUID, seq int64) string {
	if l, ok := h.labels[eventKey{id, seq}]; ok {
		return l
	}
	return fmt.Sprintf("%s/%d", id, seq)
}

// checkExpect compares a step outcome to its expect clause.
func checkExpect(exp *Expect, ev TraceEvent, err error) []string {
	if exp == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	if exp.Error != "" {
		switch {
		case err == nil:
			return []string{fmt.Sprintf("expected error containing %q, got success", exp.Error)}
		case !strings.Contains(err.Error(), exp.Error):
			return []string{fmt.Sprintf("expected error containing %q, got %q", exp.Error, err.Error())}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	var errs []string
	if exp.Inserted != nil && (ev.Inserted == nil || *ev.Inserted != *exp.Inserted) {
		errs = append(errs, fmt.Sprintf("inserted: expected %v, got %s", *exp.Inserted, formatBool(ev.Inserted)))
	}
	if exp.Promoted != nil && (ev.Promoted == nil || *ev.Promoted != *exp.Promoted) {
		errs = append(errs, fmt.Sprintf("promoted: expected %d, got %s", *exp.Promoted, formatInt(ev.Promoted)))
	}
	if exp.Skipped != nil && (ev.Skipped == nil || *ev.Skipped != *exp.Skipped) {
		errs = append(errs, fmt.Sprintf("skipped: expected %d, got %s", *exp.Skipped, formatInt(ev.Skipped)))
	}
	if exp.Backfilled != nil && (ev.Backfilled == nil || *ev.Backfilled != *exp.Backfilled) {
		errs = append(errs, fmt.Sprintf("backfilled: expected %d, got %s", *exp.Backfilled, formatInt(ev.Backfilled)))
	}

	if exp.Events != nil || exp.Provisional != nil {
		var got, gotProvisional []string
		for _, e := range ev.Entries {
			got = append(got, e.Event)
			if e.Provisional {
				gotProvisional = append(gotProvisional, e.Event)
			}
		}
		if exp.Events != nil && !slices.Equal(got, exp.Events) {
			errs = append(errs, fmt.Sprintf("events: expected %v, got %v", exp.Events, got))
		}
		if !slices.Equal(gotProvisional, exp.Provisional) {
			errs = append(errs, fmt.Sprintf("provisional: expected %v, got %v", exp.Provisional, gotProvisional))
		}
	}
	return errs
}

func formatBool(v *bool) string {
	if v == nil {
		return "nothing"
	}
	return fmt.Sprint(*v)
}

func formatInt(v *int) string {
	if v == nil {
		return "nothing"
	}
	return fmt.Sprint(*v)
}
