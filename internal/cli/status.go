package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/changefeed/internal/position"
)

// ShardStatus summarizes one shard.
type ShardStatus struct {
	Shard     int             `json:"shard"`
	ChangeSeq int64           `json:"change_seq"`
	Feed      int64           `json:"feed"`
	Pending   int64           `json:"pending"`
	Head      *position.Token `json:"head,omitempty"`
}

// StatusResult lists every known shard.
type StatusResult struct {
	Database string        `json:"database"`
	Shards   []ShardStatus `json:"shards"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize feed and outbox per shard",
		Long: `Print feed size, pending outbox entries and head position for every
shard that has ever been written.

Example:
  changefeed status --db ./changefeed.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return status(rootOpts, cmd)
		},
	}
	return cmd
}

func status(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	infos, err := s.store.Shards(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list shards", err)
	}

	res := StatusResult{Database: s.cfg.Database, Shards: make([]ShardStatus, 0, len(infos))}
	for _, info := range infos {
		st := ShardStatus{
			Shard:     info.ShardID,
			ChangeSeq: info.ChangeSeq,
			Feed:      info.FeedCount,
			Pending:   info.OutboxCount,
		}
		if !info.Head.IsZero() {
			head := info.Head
			st.Head = &head
		}
		res.Shards = append(res.Shards, st)
	}

	return s.out.Emit(res, func(w io.Writer) {
		if len(res.Shards) == 0 {
			fmt.Fprintln(w, "No shards.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SHARD\tFEED\tPENDING\tCHANGES\tHEAD")
		for _, sh := range res.Shards {
			head := "-"
			if sh.Head != nil {
				head = sh.Head.String()
			}
			fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", sh.Shard, sh.Feed, sh.Pending, sh.ChangeSeq, head)
		}
		tw.Flush()
	})
}
