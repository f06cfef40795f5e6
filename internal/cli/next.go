package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/novel/internal/pipeline"
	"github.com/roach88/novel/internal/policy"
)

// NewNextCommand creates the next command.
func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Print the next pipeline step",
		Long: `Resolve the next step from the checkpoint, the staged artifacts and the
title and hook policy gates.

The answer only depends on what is on disk, so running next twice without
changing anything prints the same step. It never writes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNext(rootOpts, cmd)
		},
	}
}

func runNext(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd, "next")
	s, err := opts.open()
	if err != nil {
		return f.Error(err)
	}
	cp, err := s.store.Read()
	if err != nil {
		return f.Error(err)
	}
	profile, err := policy.LoadProfile(s.proj)
	if err != nil {
		return f.Error(err)
	}
	ns, err := pipeline.NewResolver(s.proj, pipeline.DefaultGates(s.proj, profile)...).Next(cp)
	if err != nil {
		return f.Error(err)
	}
	return f.Success(ns, nil, func(w io.Writer) {
		fmt.Fprintln(w, ns.Step.String())
		f.VerboseLog("reason: %s", ns.Reason)
		for _, g := range ns.Gates {
			f.VerboseLog("gate %s: status=%s blocking=%t auto_fix=%t", g.Gate, g.Status, g.Blocking, g.AutoFix)
		}
	})
}
