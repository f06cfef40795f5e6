package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewLockCommand creates the lock command group.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clear the project lock",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "status",
		Short:         "Show who holds the project lock",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockStatus(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove a stale project lock",
		Long: `Remove the project lock if it is older than lock.stale_after.

An active lock is never cleared; wait for the holder or let it go stale.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockClear(rootOpts, cmd)
		},
	})
	return cmd
}

func runLockStatus(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd, "lock status")
	s, err := opts.open()
	if err != nil {
		return f.Error(err)
	}
	ls, err := s.locker.Status()
	if err != nil {
		return f.Error(err)
	}
	return f.Success(ls, nil, func(w io.Writer) {
		fmt.Fprintf(w, "lock: %s\n", lockText(ls, opts.now()))
	})
}

func runLockClear(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd, "lock clear")
	s, err := opts.open()
	if err != nil {
		return f.Error(err)
	}
	ls, err := s.locker.ClearStale()
	if err != nil {
		return f.Error(err)
	}
	return f.Success(ls, nil, func(w io.Writer) {
		if !ls.Locked {
			fmt.Fprintln(w, "lock: free (nothing to clear)")
			return
		}
		f.Done("cleared stale lock (%s)", lockText(ls, opts.now()))
	})
}
