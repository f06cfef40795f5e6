package harness

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/roach88/novel/internal/audit"
	"github.com/roach88/novel/internal/checkpoint"
	"github.com/roach88/novel/internal/commit"
	"github.com/roach88/novel/internal/config"
	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/journal"
	"github.com/roach88/novel/internal/lock"
	"github.com/roach88/novel/internal/pipeline"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/step"
	"github.com/roach88/novel/internal/testutil"
	"github.com/roach88/novel/internal/validate"
)

// Harness executes one scenario against a fresh project.
type Harness struct {
	project *testutil.Project
	cfg     *config.Config
	locker  *lock.Locker
	store   *checkpoint.Store
	clock   *testutil.FixedClock
	ids     *testutil.SequenceIDs
	journal *journal.Journal
}

// Run executes a scenario in a temporary project and returns the result.
//
// Execution flow:
// 1. Create the project and seed the checkpoint and files
// 2. Load novel.yaml and open an in-memory commit journal
// 3. Execute flow steps, checking each expect clause
// 4. Evaluate assertions against the trace and the project
func Run(t testing.TB, scenario *Scenario) (*Result, error) {
	t.Helper()

	p := testutil.NewProject(t)
	if scenario.Checkpoint != "" {
		p.Checkpoint(scenario.Checkpoint)
	}
	paths := make([]string, 0, len(scenario.Files))
	for rel := range scenario.Files {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	for _, rel := range paths {
		p.Write(rel, scenario.Files[rel])
	}

	cfg, err := config.Load(p.Proj)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory journal: %w", err)
	}
	defer j.Close()

	clock := testutil.NewFixedClock(testutil.Epoch)
	h := &Harness{
		project: p,
		cfg:     cfg,
		locker: lock.New(p.Proj, lock.Options{
			StaleAfter:  cfg.Lock.StaleAfter,
			MaxAttempts: cfg.Lock.MaxAttempts,
			Now:         clock.Now,
		}),
		store:   checkpoint.NewStore(p.Proj),
		clock:   clock,
		ids:     testutil.NewSequenceIDs("tx"),
		journal: j,
	}

	ctx := context.Background()
	result := NewResult()
	for i, fs := range scenario.Flow {
		ev := h.execute(ctx, fs, result)
		checkExpect(i, fs, ev, result)
	}
	if err := h.evaluateAssertions(ctx, scenario.Assertions, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, fs FlowStep, result *Result) TraceEvent {
	target, detail, err := h.dispatch(ctx, fs)
	if err != nil {
		return result.addEvent(fs.Do, target, outcomeOf(err), err.Error())
	}
	return result.addEvent(fs.Do, target, OutcomeOK, detail)
}

// dispatch runs one flow step and returns its trace target and detail.
func (h *Harness) dispatch(ctx context.Context, fs FlowStep) (string, string, error) {
	proj := h.project.Proj
	switch fs.Do {
	case ActionWrite:
		h.project.Write(fs.Path, fs.Content)
		return fs.Path, "", nil

	case ActionRemove:
		h.project.Remove(fs.Path)
		return fs.Path, "", nil

	case ActionStage:
		h.project.StageChapter(fs.Chapter, testutil.StageOptions{
			Storyline:   fs.Storyline,
			BaseVersion: fs.BaseVersion,
			Ops:         fs.Ops,
			Eval:        fs.Eval,
		})
		return chapterTarget(fs.Chapter), "", nil

	case ActionNext:
		cp, err := h.store.Read()
		if err != nil {
			return "", "", err
		}
		profile, err := policy.LoadProfile(proj)
		if err != nil {
			return "", "", err
		}
		ns, err := pipeline.NewResolver(proj, pipeline.DefaultGates(proj, profile)...).Next(cp)
		if err != nil {
			return "", "", err
		}
		return "", ns.Step.String(), nil

	case ActionValidate, ActionPrepare, ActionAdvance:
		st, err := step.Parse(fs.Step)
		if err != nil {
			return fs.Step, "", err
		}
		detail, err := h.runStep(fs.Do, st)
		return fs.Step, detail, err

	case ActionCommit:
		engine := commit.New(proj, h.locker, h.store, commit.Options{
			Cadence: audit.Cadence{
				PeriodicEvery:    h.cfg.Commit.PeriodicAuditEvery,
				ForeshadowWindow: h.cfg.Commit.ForeshadowWindow,
			},
			PrecomputeWorkers: h.cfg.Commit.PrecomputeWorkers,
			IDs:               h.ids,
			Now:               h.clock.Now,
			Recorder:          h.journal,
		})
		res, err := engine.Commit(ctx, fs.Chapter, fs.DryRun)
		if err != nil {
			return chapterTarget(fs.Chapter), "", err
		}
		if res.DryRun {
			return chapterTarget(fs.Chapter), "dry-run", nil
		}
		return chapterTarget(fs.Chapter), res.TxID, nil

	case ActionLockClear:
		ls, err := h.locker.ClearStale()
		if err != nil {
			return "", "", err
		}
		if ls.Locked {
			return "", "cleared", nil
		}
		return "", "free", nil
	}
	return "", "", fmt.Errorf("unknown action %q", fs.Do)
}

func (h *Harness) runStep(action string, st step.Step) (string, error) {
	proj := h.project.Proj
	if action == ActionPrepare {
		res, err := pipeline.Prepare(proj, st)
		return res.Snapshot, err
	}

	profile, err := policy.LoadProfile(proj)
	if err != nil {
		return "", err
	}
	v := validate.New(proj, profile)
	if action == ActionValidate {
		_, err := v.Validate(st)
		return "", err
	}
	res, err := pipeline.NewAdvancer(proj, h.locker, h.store, v, h.clock.Now).Advance(st)
	if err != nil {
		return "", err
	}
	return string(res.Checkpoint.PipelineStage), nil
}

func checkExpect(index int, fs FlowStep, ev TraceEvent, result *Result) {
	want := OutcomeOK
	if fs.Expect != nil && fs.Expect.Error != "" {
		want = fs.Expect.Error
	}
	if ev.Outcome != want {
		result.AddError(fmt.Sprintf("flow[%d] %s: outcome = %q, want %q (%s)", index, fs.Do, ev.Outcome, want, ev.Detail))
		return
	}
	if fs.Expect != nil && fs.Expect.Detail != "" && ev.Detail != fs.Expect.Detail {
		result.AddError(fmt.Sprintf("flow[%d] %s: detail = %q, want %q", index, fs.Do, ev.Detail, fs.Expect.Detail))
	}
}

func outcomeOf(err error) string {
	if de, ok := errs.As(err); ok {
		return string(de.Kind)
	}
	return "internal"
}

func chapterTarget(chapter int) string {
	return "chapter:" + project.Pad3(chapter)
}
