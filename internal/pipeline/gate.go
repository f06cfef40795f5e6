package pipeline

import (
	"errors"
	"io/fs"
	"os"

	"github.com/roach88/novel/internal/checkpoint"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/step"
)

// GateResult is a policy gate's verdict on the staged chapter.
type GateResult struct {
	Enabled bool
	AutoFix bool
	Verdict policy.Verdict
}

// Gate is a policy check that can route the resolver to a fix stage or to
// manual review. Evaluate must not modify anything on disk.
type Gate interface {
	Name() string
	FixStage() step.Stage
	Evaluate(chapter int) (GateResult, error)
}

// fixCount returns the attempts already spent on a fix stage.
func fixCount(cp *checkpoint.Checkpoint, stage step.Stage) int {
	switch stage {
	case step.TitleFix:
		return cp.TitleFixCount
	case step.HookFix:
		return cp.HookFixCount
	}
	return 0
}

// TitleGate checks the H1 title of the staged draft.
type TitleGate struct {
	Proj    project.Project
	Profile *policy.Profile
}

func (g TitleGate) Name() string         { return "title" }
func (g TitleGate) FixStage() step.Stage { return step.TitleFix }

func (g TitleGate) Evaluate(chapter int) (GateResult, error) {
	tp := g.Profile.TitlePolicy()
	if tp == nil || !tp.Enabled {
		return GateResult{Verdict: policy.Skipped()}, nil
	}
	res := GateResult{Enabled: true, AutoFix: tp.AutoFix, Verdict: policy.Skipped()}
	data, err := os.ReadFile(g.Proj.Abs(project.Staging(chapter).Chapter))
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.Verdict = policy.CheckTitle(g.Profile, string(data)).Verdict
	return res, nil
}

// HookGate checks the chapter-end hook recorded in the staged evaluation.
type HookGate struct {
	Proj    project.Project
	Profile *policy.Profile
}

func (g HookGate) Name() string         { return "hook" }
func (g HookGate) FixStage() step.Stage { return step.HookFix }

func (g HookGate) Evaluate(chapter int) (GateResult, error) {
	hp := g.Profile.Hook()
	if hp == nil || !hp.Required {
		return GateResult{Verdict: policy.Skipped()}, nil
	}
	res := GateResult{Enabled: true, AutoFix: hp.FixStrategy == string(step.HookFix), Verdict: policy.Skipped()}
	var eval any
	err := project.ReadJSON(g.Proj.Abs(project.Staging(chapter).Eval), &eval)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		// Unparseable eval: judge validation reports it.
		return res, nil
	}
	res.Verdict = policy.CheckHook(hp, eval).Verdict()
	return res, nil
}

// DefaultGates returns the gates in routing order: title before hook.
func DefaultGates(proj project.Project, profile *policy.Profile) []Gate {
	return []Gate{
		TitleGate{Proj: proj, Profile: profile},
		HookGate{Proj: proj, Profile: profile},
	}
}
