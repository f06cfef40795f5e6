package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/journal"
)

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent commit attempts",
		Long: `List recent commit attempts from the SQLite commit journal, newest first.

The journal is diagnostic. The checkpoint and the committed files remain the
source of truth.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(rootOpts, limit, cmd)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	return cmd
}

func runJournal(opts *RootOptions, limit int, cmd *cobra.Command) error {
	f := opts.formatter(cmd, "journal")
	if limit < 1 {
		return f.Error(errs.Validation("invalid --limit %d: must be >= 1", limit))
	}
	s, err := opts.open()
	if err != nil {
		return f.Error(err)
	}
	if !s.cfg.Journal.Enabled {
		return f.Error(errs.Precondition("commit journal is disabled (journal.enabled=false)"))
	}
	j, err := journal.Open(s.proj.Abs(s.cfg.Journal.Path))
	if err != nil {
		return f.Error(err)
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), limit)
	if err != nil {
		return f.Error(err)
	}
	return f.Success(entries, nil, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "no commits recorded")
			return
		}
		for _, e := range entries {
			fmt.Fprintf(w, "%-12s chapter %03d  %-36s  %s\n",
				e.Outcome, e.Chapter, e.TxID, humanize.RelTime(e.FinishedAt, opts.now(), "ago", "from now"))
			if e.Error != "" {
				fmt.Fprintf(w, "             %s\n", e.Error)
			}
		}
	})
}
