package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/changefeed/internal/engine"
	"github.com/roach88/changefeed/internal/position"
	"github.com/roach88/changefeed/internal/reader"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	Cursor   string
	PageSize int
	Wait     time.Duration
	Promote  bool
}

// ReadEntry is one row of a page as printed by the read command.
type ReadEntry struct {
	Position    position.Token `json:"position"`
	AggregateID uuid.UUID      `json:"aggregate_id"`
	Sequence    int64          `json:"sequence"`
	Provisional bool           `json:"provisional,omitempty"`
}

// ReadResult is one page as printed by the read command.
type ReadResult struct {
	Shard   int            `json:"shard"`
	Entries []ReadEntry    `json:"entries"`
	Cursor  position.Token `json:"cursor"`
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read <shard>",
		Short: "Read a page of a shard's feed",
		Long: `Read one page of a shard's feed after a cursor.

Omit --cursor to read from the beginning. Pass the printed cursor to the next
read to continue. Entries marked provisional are still waiting in the outbox;
they may be delivered again once promoted.

With --wait, an empty page blocks until the shard changes or the wait expires.

Example:
  changefeed read 0 --page-size 50
  changefeed read 0 --cursor 01HZX3J4Q8M1V7T4K9W2B6N5C0 --wait 30s`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return readPage(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "position to read after (empty reads from the start)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "maximum entries (defaults to read.page_size)")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "longpoll for up to this long when the page is empty")
	cmd.Flags().BoolVar(&opts.Promote, "promote", false, "promote pending entries before answering")

	return cmd
}

func readPage(opts *ReadOptions, shardArg string, cmd *cobra.Command) error {
	shard, err := parseShard(shardArg)
	if err != nil {
		return err
	}
	after, err := position.Parse(opts.Cursor)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --cursor", err)
	}
	if opts.PageSize < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --page-size %d: must be positive", opts.PageSize))
	}

	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = s.cfg.Read.PageSize
	}

	ropts := []reader.Option{
		reader.WithLogger(s.logger),
		reader.WithPollInterval(s.cfg.Read.PollInterval),
	}
	if opts.Promote || s.cfg.Read.PromoteOnRead {
		ropts = append(ropts, reader.WithPromoteOnRead(engine.NewPromoter(s.store, engine.WithLogger(s.logger))))
	}
	r := reader.New(s.store, ropts...)

	ctx := cmd.Context()
	seen, err := r.ChangeSeq(ctx, shard)
	if err != nil {
		return WrapExitError(ExitFailure, "read failed", err)
	}
	page, err := r.ReadFrom(ctx, shard, after, pageSize)
	if err != nil {
		return WrapExitError(ExitFailure, "read failed", err)
	}

	if len(page.Entries) == 0 && opts.Wait > 0 {
		s.out.VerboseLog("waiting up to %s for shard %d", opts.Wait, shard)
		if _, err := r.Longpoll(ctx, shard, seen, opts.Wait); err != nil {
			if errors.Is(err, ctx.Err()) {
				return WrapExitError(ExitFailure, "read cancelled", err)
			}
			return WrapExitError(ExitFailure, "longpoll failed", err)
		}
		if page, err = r.ReadFrom(ctx, shard, after, pageSize); err != nil {
			return WrapExitError(ExitFailure, "read failed", err)
		}
	}

	res := ReadResult{Shard: shard, Entries: make([]ReadEntry, 0, len(page.Entries)), Cursor: page.Cursor}
	for _, e := range page.Entries {
		res.Entries = append(res.Entries, ReadEntry{
			Position:    e.Position,
			AggregateID: e.AggregateID,
			Sequence:    e.Sequence,
			Provisional: e.Provisional,
		})
	}

	return s.out.Emit(res, func(w io.Writer) {
		for _, e := range res.Entries {
			line := fmt.Sprintf("%s  %s  %d", e.Position, e.AggregateID, e.Sequence)
			if e.Provisional {
				line += "  (provisional)"
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "cursor: %s\n", res.Cursor)
	})
}
