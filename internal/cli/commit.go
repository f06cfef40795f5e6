package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/novel/internal/audit"
	"github.com/roach88/novel/internal/commit"
	"github.com/roach88/novel/internal/journal"
)

// CommitOptions holds flags for the commit command.
type CommitOptions struct {
	*RootOptions
	Chapter int
	DryRun  bool
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commit --chapter N [--dry-run]",
		Short: "Commit a staged chapter",
		Long: `Move a staged chapter into the committed tree as one unit.

The commit merges the chapter's state delta, appends it to the changelog,
updates the foreshadowing registry, writes the chapter reports and advances
the checkpoint. Any failure rolls every change back. Continuity and
foreshadowing audits run afterwards and can only add warnings.

Example:
  novel commit --chapter 12 --dry-run
  novel commit --chapter 12 --json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommit(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Chapter, "chapter", 0, "chapter number to commit (required)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the plan without changing anything")
	_ = cmd.MarkFlagRequired("chapter")

	return cmd
}

func runCommit(opts *CommitOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd, "commit")
	s, err := opts.open()
	if err != nil {
		return f.Error(err)
	}

	engineOpts := commit.Options{
		Cadence: audit.Cadence{
			PeriodicEvery:    s.cfg.Commit.PeriodicAuditEvery,
			ForeshadowWindow: s.cfg.Commit.ForeshadowWindow,
		},
		PrecomputeWorkers: s.cfg.Commit.PrecomputeWorkers,
		IDs:               opts.IDs,
		Now:               opts.Now,
	}
	var journalWarning string
	if s.cfg.Journal.Enabled {
		j, err := journal.Open(s.proj.Abs(s.cfg.Journal.Path))
		if err != nil {
			slog.Warn("commit journal unavailable", "error", err)
			journalWarning = "Commit journal unavailable: " + err.Error()
		} else {
			defer j.Close()
			engineOpts.Recorder = j
		}
	}

	res, err := commit.New(s.proj, s.locker, s.store, engineOpts).Commit(cmd.Context(), opts.Chapter, opts.DryRun)
	if journalWarning != "" {
		res.Warnings = append(res.Warnings, journalWarning)
	}
	if err != nil {
		return f.ErrorWithWarnings(err, res.Warnings)
	}
	return f.Success(res, res.Warnings, func(w io.Writer) {
		if res.DryRun {
			fmt.Fprintf(w, "Dry run: commit chapter %d\n", res.Chapter)
			for _, line := range res.Plan {
				fmt.Fprintf(w, "  %s\n", line)
			}
			return
		}
		f.Done("committed chapter %d (tx %s)", res.Chapter, res.TxID)
		for _, rel := range res.AuditWritten {
			f.VerboseLog("audit wrote %s", rel)
		}
	})
}
