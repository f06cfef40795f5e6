package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/step"
	"github.com/roach88/novel/internal/validate"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <step>",
		Short: "Check a step's outputs without advancing",
		Long: `Check that the artifacts a step must produce exist and are well formed.

The step id has the form chapter:NNN:<stage>, for example chapter:012:judge.
Validation is read-only; use advance to record the step in the checkpoint.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, id string, cmd *cobra.Command) error {
	f := opts.formatter(cmd, "validate")
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
	report, err := validate.New(s.proj, profile).Validate(st)
	if err != nil {
		return f.Error(err)
	}
	return f.Success(report, report.Warnings, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s is valid\n", okLabel("OK"), st)
	})
}
