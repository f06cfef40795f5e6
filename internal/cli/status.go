package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/novel/internal/checkpoint"
	"github.com/roach88/novel/internal/lock"
	"github.com/roach88/novel/internal/pipeline"
)

// StatusResult is the output of `novel status`.
type StatusResult struct {
	Root       string                 `json:"root"`
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint"`
	Lock       lock.Status            `json:"lock"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoint and lock state",
		Long: `Show where the pipeline stands: the last committed chapter, the inflight
chapter and its stage, the fix counters, and whether the project lock is held.

Read-only; never takes the lock.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd, "status")
	s, err := opts.open()
	if err != nil {
		return f.Error(err)
	}
	cp, err := s.store.Read()
	if err != nil {
		return f.Error(err)
	}
	ls, err := s.locker.Status()
	if err != nil {
		return f.Error(err)
	}
	res := StatusResult{Root: s.proj.Root, Checkpoint: cp, Lock: ls}
	return f.Success(res, nil, func(w io.Writer) {
		fmt.Fprintf(w, "project:        %s\n", s.proj.Root)
		fmt.Fprintf(w, "committed:      chapter %d (volume %d)\n", cp.LastCompletedChapter, cp.CurrentVolume)
		if ch, ok := cp.Inflight(); ok {
			fmt.Fprintf(w, "inflight:       chapter %d, stage %s\n", ch, stageText(cp.PipelineStage))
		} else {
			fmt.Fprintf(w, "inflight:       none (stage %s)\n", stageText(cp.PipelineStage))
		}
		fmt.Fprintf(w, "fix attempts:   revision=%d title=%d hook=%d\n", cp.RevisionCount, cp.TitleFixCount, cp.HookFixCount)
		if t, err := time.Parse(pipeline.TimeLayout, cp.LastCheckpointTime); err == nil {
			fmt.Fprintf(w, "last update:    %s\n", humanize.RelTime(t, opts.now(), "ago", "from now"))
		}
		fmt.Fprintf(w, "lock:           %s\n", lockText(ls, opts.now()))
	})
}

func stageText(s checkpoint.Stage) string {
	if s == "" {
		return "-"
	}
	return string(s)
}

func lockText(ls lock.Status, now time.Time) string {
	if !ls.Locked {
		return "free"
	}
	text := "held since " + humanize.RelTime(ls.Started, now, "ago", "from now")
	if ls.Info != nil {
		text += fmt.Sprintf(" by pid %d", ls.Info.PID)
	}
	if ls.Stale {
		text += " (stale)"
	}
	return text
}
