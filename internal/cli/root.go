package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/novel/internal/checkpoint"
	"github.com/roach88/novel/internal/config"
	"github.com/roach88/novel/internal/lock"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/txn"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	JSON    bool   // alias for --format json
	Project string

	// Now overrides the wall clock (for testing).
	Now func() time.Time
	// IDs overrides the transaction id generator (for testing).
	IDs txn.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the novel CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "novel",
		Short: "novel - chapter pipeline orchestrator",
		Long: `Drive a novel project's chapter pipeline from the files on disk.

Each chapter moves through draft, summarize, refine and judge, with bounded
title and hook fixes, then is committed as one rollback-protected unit.
The checkpoint file records where the pipeline stands; every mutation runs
under the project lock.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.JSON {
				opts.Format = "json"
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			logLevel := slog.LevelInfo
			if opts.Verbose {
				logLevel = slog.LevelDebug
			}
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel})
			slog.SetDefault(slog.New(handler))
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "shorthand for --format json")
	cmd.PersistentFlags().StringVar(&opts.Project, "project", "", "project root (default: search upward for "+project.CheckpointFile+")")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewNextCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewPrepareCommand(opts))
	cmd.AddCommand(NewAdvanceCommand(opts))
	cmd.AddCommand(NewCommitCommand(opts))
	cmd.AddCommand(NewLockCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command, command string) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Command:   command,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// session is the resolved project plus everything commands share.
type session struct {
	proj   project.Project
	cfg    *config.Config
	locker *lock.Locker
	store  *checkpoint.Store
}

func (o *RootOptions) open() (*session, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	proj, err := project.Resolve(o.Project, wd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(proj)
	if err != nil {
		return nil, err
	}
	locker := lock.New(proj, lock.Options{
		StaleAfter:  cfg.Lock.StaleAfter,
		MaxAttempts: cfg.Lock.MaxAttempts,
		Now:         o.now,
	})
	return &session{proj: proj, cfg: cfg, locker: locker, store: checkpoint.NewStore(proj)}, nil
}
