package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/changefeed/internal/engine"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	File      string
	BatchSize int
}

// BackfillFile is the YAML document accepted by --file.
type BackfillFile struct {
	Events []BackfillFileEvent `yaml:"events"`
}

// BackfillFileEvent is one historical event in a backfill file.
type BackfillFileEvent struct {
	AggregateID string `yaml:"aggregate_id"`
	Sequence    int64  `yaml:"sequence"`
	Instant     string `yaml:"instant"`
}

// BackfillResult is the outcome of a backfill command.
type BackfillResult struct {
	Shard    int `json:"shard"`
	Events   int `json:"events"`
	Inserted int `json:"inserted"`
	Batches  int `json:"batches"`
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill <shard> [<aggregate-id> <sequence> <instant>]",
		Short: "Insert historical events into the feed",
		Long: `Insert events that happened before the changefeed existed.

Each event is positioned by the instant it originally happened, so history
sorts before live traffic that was promoted earlier. Events already in the
feed are skipped.

Pass a single event as arguments, or a YAML file of events with --file:

  events:
    - aggregate_id: 6f1c2d9e-8a47-4b7e-9f0a-2c3d4e5f6a7b
      sequence: 0
      instant: 2021-03-04T05:06:07Z

Example:
  changefeed backfill 0 6f1c2d9e-8a47-4b7e-9f0a-2c3d4e5f6a7b 0 2021-03-04T05:06:07Z
  changefeed backfill 0 --file history.yaml --batch-size 1000`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.File != "" {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(4)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return backfill(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "YAML file of historical events")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "events per transaction (defaults to promotion.batch_size)")

	return cmd
}

func backfill(opts *BackfillOptions, args []string, cmd *cobra.Command) error {
	shard, err := parseShard(args[0])
	if err != nil {
		return err
	}

	var events []engine.HistoricalEvent
	if opts.File != "" {
		events, err = loadBackfillFile(opts.File)
	} else {
		events, err = parseBackfillArgs(args[1:])
	}
	if err != nil {
		return err
	}
	if opts.BatchSize < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --batch-size %d: must be positive", opts.BatchSize))
	}

	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = s.cfg.Promotion.BatchSize
	}
	b := engine.NewBackfiller(s.store, engine.WithLogger(s.logger))

	res := BackfillResult{Shard: shard, Events: len(events)}
	for start := 0; start < len(events); start += batchSize {
		end := min(start+batchSize, len(events))
		n, err := b.BackfillBatch(cmd.Context(), shard, events[start:end])
		if err != nil {
			return WrapExitError(ExitFailure,
				fmt.Sprintf("backfill failed after %d of %d events", start, len(events)), err)
		}
		res.Inserted += n
		res.Batches++
		s.out.VerboseLog("batch %d: inserted %d of %d", res.Batches, n, end-start)
	}

	return s.out.Emit(res, func(w io.Writer) {
		fmt.Fprintf(w, "backfilled %d of %d events on shard %d (%d already in feed)\n",
			res.Inserted, res.Events, shard, res.Events-res.Inserted)
	})
}

func parseBackfillArgs(args []string) ([]engine.HistoricalEvent, error) {
	id, err := parseAggregateID(args[0])
	if err != nil {
		return nil, err
	}
	seq, err := parseSequence(args[1])
	if err != nil {
		return nil, err
	}
	instant, err := parseInstant(args[2])
	if err != nil {
		return nil, err
	}
	return []engine.HistoricalEvent{{AggregateID: id, Sequence: seq, Instant: instant}}, nil
}

// loadBackfillFile reads and validates a backfill file.
func loadBackfillFile(path string) ([]engine.HistoricalEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read backfill file", err)
	}

	var file BackfillFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to parse backfill file", err)
	}
	if len(file.Events) == 0 {
		return nil, NewExitError(ExitCommandError, "backfill file has no events")
	}

	events := make([]engine.HistoricalEvent, 0, len(file.Events))
	for i, e := range file.Events {
		id, err := parseAggregateID(e.AggregateID)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		if e.Sequence < 0 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("events[%d]: sequence must be non-negative", i))
		}
		instant, err := parseInstant(e.Instant)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		events = append(events, engine.HistoricalEvent{AggregateID: id, Sequence: e.Sequence, Instant: instant})
	}
	return events, nil
}
