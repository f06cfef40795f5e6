package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/novel/internal/pipeline"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/step"
	"github.com/roach88/novel/internal/validate"
)

// NewPrepareCommand creates the prepare command.
func NewPrepareCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare <step>",
		Short: "Ready a step before it runs",
		Long: `Print the artifacts a step is expected to produce.

For title-fix this also takes the write-once snapshot of the staged draft
that validation later compares against. An existing snapshot is kept.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrepare(rootOpts, args[0], cmd)
		},
	}
}

func runPrepare(opts *RootOptions, id string, cmd *cobra.Command) error {
	f := opts.formatter(cmd, "prepare")
	st, err := step.Parse(id)
	if err != nil {
		return f.Error(err)
	}
	s, err := opts.open()
	if err != nil {
		return f.Error(err)
	}
	res, err := pipeline.Prepare(s.proj, st)
	if err != nil {
		return f.Error(err)
	}
	return f.Success(res, nil, func(w io.Writer) {
		fmt.Fprintf(w, "step:     %s\n", st)
		fmt.Fprintf(w, "chapter:  %s\n", res.Artifacts.Chapter)
		fmt.Fprintf(w, "summary:  %s\n", res.Artifacts.Summary)
		fmt.Fprintf(w, "delta:    %s\n", res.Artifacts.Delta)
		fmt.Fprintf(w, "crossref: %s\n", res.Artifacts.Crossref)
		fmt.Fprintf(w, "eval:     %s\n", res.Artifacts.Eval)
		if res.Snapshot != "" {
			state := "kept"
			if res.Created {
				state = "created"
			}
			fmt.Fprintf(w, "snapshot: %s (%s)\n", res.Snapshot, state)
		}
	})
}

// NewAdvanceCommand creates the advance command.
func NewAdvanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <step>",
		Short: "Validate a step and record it in the checkpoint",
		Long: `Validate a finished step and move the checkpoint to the stage it implies.

Runs under the project lock and re-reads the checkpoint inside it. Title-fix
and hook-fix may each run once per chapter; a second attempt is refused so
the chapter goes to manual review. Use commit for the commit step.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdvance(rootOpts, args[0], cmd)
		},
	}
}

func runAdvance(opts *RootOptions, id string, cmd *cobra.Command) error {
	f := opts.formatter(cmd, "advance")
	st, err := step.Parse(id)
	if err != nil {
		return f.Error(err)
	}
	s, err := opts.open()
	if err != nil {
		return f.Error(err)
	}
	profile, err := policy.LoadProfile(s.proj)
	if err != nil {
		return f.Error(err)
	}
	adv := pipeline.NewAdvancer(s.proj, s.locker, s.store, validate.New(s.proj, profile), opts.Now)
	res, err := adv.Advance(st)
	if err != nil {
		return f.Error(err)
	}
	return f.Success(res, res.Warnings, func(w io.Writer) {
		f.Done("%s recorded; stage is now %s", st, res.Checkpoint.PipelineStage)
	})
}
