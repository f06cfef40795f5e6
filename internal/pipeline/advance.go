package pipeline

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/roach88/novel/internal/checkpoint"
	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/lock"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/step"
	"github.com/roach88/novel/internal/validate"
)

// TimeLayout is the checkpoint timestamp format (UTC, millisecond precision).
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// StepValidator checks a step's outputs before the checkpoint may advance.
type StepValidator interface {
	Validate(s step.Step) (validate.Report, error)
}

// Advancer persists checkpoint transitions.
type Advancer struct {
	proj      project.Project
	locker    *lock.Locker
	store     *checkpoint.Store
	validator StepValidator
	now       func() time.Time
}

// NewAdvancer wires an Advancer. now defaults to time.Now.
func NewAdvancer(proj project.Project, locker *lock.Locker, store *checkpoint.Store, v StepValidator, now func() time.Time) *Advancer {
	if now == nil {
		now = time.Now
	}
	return &Advancer{proj: proj, locker: locker, store: store, validator: v, now: now}
}

// AdvanceResult is the checkpoint after a transition.
type AdvanceResult struct {
	Step       step.Step              `json:"step"`
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint"`
	Warnings   []string               `json:"warnings"`
}

// StageFor returns the checkpoint stage a completed step implies.
func StageFor(s step.Stage) (checkpoint.Stage, error) {
	switch s {
	case step.Draft:
		return checkpoint.StageDrafting, nil
	case step.Summarize:
		return checkpoint.StageDrafted, nil
	case step.Refine, step.TitleFix, step.HookFix:
		return checkpoint.StageRefined, nil
	case step.Judge:
		return checkpoint.StageJudged, nil
	case step.Commit:
		return "", errs.Precondition("use 'novel commit' for commit")
	case step.Review:
		return "", errs.Precondition("review is a manual step; do not advance it")
	}
	return "", errs.Validation("unsupported stage %q", string(s))
}

// Advance validates s and records it in the checkpoint, under the lock.
func (a *Advancer) Advance(s step.Step) (AdvanceResult, error) {
	next, err := StageFor(s.Stage)
	if err != nil {
		return AdvanceResult{}, err
	}

	var result AdvanceResult
	chapter := s.Chapter
	err = a.locker.WithLock(lock.Meta{Chapter: &chapter}, func(h *lock.Held) error {
		cp, err := a.store.Read()
		if err != nil {
			return err
		}
		if s.Chapter <= cp.LastCompletedChapter {
			return errs.Precondition("chapter %d is already committed", s.Chapter).
				With("last_completed_chapter", strconv.Itoa(cp.LastCompletedChapter))
		}
		if s.Stage == step.TitleFix || s.Stage == step.HookFix {
			if n := fixCount(cp, s.Stage); n >= 1 {
				return errs.Precondition("%s already attempted for chapter %d; manual review required", s.Stage, s.Chapter).
					With("attempts", strconv.Itoa(n))
			}
		}

		report, err := a.validator.Validate(s)
		if err != nil {
			return err
		}

		updated := cp.Clone()
		updated.PipelineStage = next
		updated.SetInflight(s.Chapter, true)
		switch s.Stage {
		case step.Draft:
			updated.RevisionCount = 0
			updated.HookFixCount = 0
			updated.TitleFixCount = 0
			a.remove(project.TitleFixSnapshot(s.Chapter), &report.Warnings)
		case step.TitleFix:
			updated.TitleFixCount++
			a.remove(project.Staging(s.Chapter).Eval, &report.Warnings)
		case step.HookFix:
			updated.HookFixCount++
			a.remove(project.Staging(s.Chapter).Eval, &report.Warnings)
		}
		updated.LastCheckpointTime = a.now().UTC().Format(TimeLayout)

		if err := a.store.Write(h, updated); err != nil {
			return err
		}
		result = AdvanceResult{Step: s, Checkpoint: updated, Warnings: report.Warnings}
		return nil
	})
	return result, err
}

func (a *Advancer) remove(rel string, warnings *[]string) {
	if err := project.RemoveIfExists(a.proj.Abs(rel)); err != nil {
		slog.Warn("failed to remove stale artifact", "path", rel, "error", err)
		*warnings = append(*warnings, "failed to remove "+rel+": "+err.Error())
	}
}

// PrepareResult describes the artifacts a step is expected to produce.
type PrepareResult struct {
	Step      step.Step           `json:"step"`
	Artifacts project.ArtifactSet `json:"artifacts"`
	Snapshot  string              `json:"snapshot,omitempty"`
	Created   bool                `json:"created"`
}

// Prepare readies a step before an agent runs it. For title-fix it takes the
// write-once snapshot of the draft that validation later diffs against;
// an existing snapshot is never overwritten.
func Prepare(proj project.Project, s step.Step) (PrepareResult, error) {
	res := PrepareResult{Step: s, Artifacts: project.Staging(s.Chapter)}
	if s.Stage != step.TitleFix {
		return res, nil
	}

	res.Snapshot = project.TitleFixSnapshot(s.Chapter)
	draft, err := os.ReadFile(proj.Abs(res.Artifacts.Chapter))
	if err != nil {
		if os.IsNotExist(err) {
			return res, errs.Precondition("missing required file").With("path", res.Artifacts.Chapter)
		}
		return res, err
	}
	abs := proj.Abs(res.Snapshot)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return res, err
	}
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if _, err := f.Write(draft); err != nil {
		f.Close()
		return res, err
	}
	if err := f.Close(); err != nil {
		return res, err
	}
	res.Created = true
	return res, nil
}
