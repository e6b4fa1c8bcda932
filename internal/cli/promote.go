package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/changefeed/internal/engine"
)

// PromoteOptions holds flags for the promote command.
type PromoteOptions struct {
	*RootOptions
	Shard int
	All   bool
	Limit int
}

// PromoteResult is the outcome of a promote command.
type PromoteResult struct {
	Shard    *int `json:"shard,omitempty"`
	Promoted int  `json:"promoted"`
	Skipped  int  `json:"skipped"`
}

// NewPromoteCommand creates the promote command.
func NewPromoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PromoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Move staged events into the feed",
		Long: `Promote staged events into the feed.

With --shard, one batch of up to --limit entries is promoted on that shard.
With --all, every shard with staged entries is drained.

Example:
  changefeed promote --shard 0 --limit 500
  changefeed promote --all`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return promote(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Shard, "shard", 0, "shard to promote")
	cmd.Flags().BoolVar(&opts.All, "all", false, "drain every shard with staged entries")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "batch size (defaults to promotion.batch_size)")
	cmd.MarkFlagsMutuallyExclusive("shard", "all")
	cmd.MarkFlagsOneRequired("shard", "all")

	return cmd
}

func promote(opts *PromoteOptions, cmd *cobra.Command) error {
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --limit %d: must be positive", opts.Limit))
	}

	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	limit := opts.Limit
	if limit == 0 {
		limit = s.cfg.Promotion.BatchSize
	}
	promoter := engine.NewPromoter(s.store, engine.WithLogger(s.logger))

	if opts.All {
		n, err := engine.NewRunner(promoter, s.cfg.Promotion.Interval, limit).RunOnce(cmd.Context())
		if err != nil {
			return WrapExitError(ExitFailure, "promotion failed", err)
		}
		return s.out.Emit(PromoteResult{Promoted: n}, func(w io.Writer) {
			fmt.Fprintf(w, "promoted %d entries\n", n)
		})
	}

	shard := opts.Shard
	res, err := promoter.Promote(cmd.Context(), shard, limit)
	if err != nil {
		return WrapExitError(ExitFailure, "promotion failed", err)
	}
	return s.out.Emit(PromoteResult{Shard: &shard, Promoted: res.Promoted, Skipped: res.Skipped}, func(w io.Writer) {
		fmt.Fprintf(w, "promoted %d entries on shard %d (%d already in feed)\n", res.Promoted, shard, res.Skipped)
	})
}
