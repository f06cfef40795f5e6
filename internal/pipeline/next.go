package pipeline

import (
	"github.com/roach88/novel/internal/checkpoint"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/step"
)

// Evidence records which staged artifacts exist for the inflight chapter.
type Evidence struct {
	HasChapter  bool `json:"hasChapter"`
	HasSummary  bool `json:"hasSummary"`
	HasDelta    bool `json:"hasDelta"`
	HasCrossref bool `json:"hasCrossref"`
	HasEval     bool `json:"hasEval"`
}

// Inflight echoes the checkpoint position the decision was made from.
type Inflight struct {
	Chapter       *int    `json:"chapter"`
	PipelineStage *string `json:"pipeline_stage"`
}

// GateOutcome is one gate's contribution to the decision.
type GateOutcome struct {
	Gate     string        `json:"gate"`
	Enabled  bool          `json:"enabled"`
	AutoFix  bool          `json:"auto_fix"`
	Status   policy.Status `json:"status"`
	Blocking bool          `json:"has_blocking_issues"`
}

// NextStep is the resolver's decision.
type NextStep struct {
	Step     step.Step     `json:"step"`
	Reason   string        `json:"reason"`
	Inflight Inflight      `json:"inflight"`
	Evidence *Evidence     `json:"evidence,omitempty"`
	Gates    []GateOutcome `json:"gates,omitempty"`
}

// Resolver names the next step from the checkpoint, the staged artifacts on
// disk and the policy gates. It never writes.
type Resolver struct {
	proj  project.Project
	gates []Gate
}

// NewResolver creates a Resolver consulting gates in the given order.
func NewResolver(proj project.Project, gates ...Gate) *Resolver {
	return &Resolver{proj: proj, gates: gates}
}

func (r *Resolver) evidence(chapter int) *Evidence {
	s := project.Staging(chapter)
	has := func(rel string) bool { return project.IsFile(r.proj.Abs(rel)) }
	return &Evidence{
		HasChapter:  has(s.Chapter),
		HasSummary:  has(s.Summary),
		HasDelta:    has(s.Delta),
		HasCrossref: has(s.Crossref),
		HasEval:     has(s.Eval),
	}
}

// Next computes the next step for cp.
func (r *Resolver) Next(cp *checkpoint.Checkpoint) (NextStep, error) {
	stage := cp.PipelineStage
	inflight, ok := cp.Inflight()

	var stagePtr *string
	if stage != checkpoint.StageNone {
		s := string(stage)
		stagePtr = &s
	}

	if !ok || stage == checkpoint.StageNone || stage == checkpoint.StageCommitted {
		return NextStep{
			Step:     step.Step{Chapter: cp.LastCompletedChapter + 1, Stage: step.Draft},
			Reason:   "fresh",
			Inflight: Inflight{PipelineStage: stagePtr},
		}, nil
	}

	out := NextStep{
		Inflight: Inflight{Chapter: &inflight, PipelineStage: stagePtr},
		Evidence: r.evidence(inflight),
	}
	ev := out.Evidence
	route := func(st step.Stage, why string) (NextStep, error) {
		out.Step = step.Step{Chapter: inflight, Stage: st}
		out.Reason = string(stage) + ":" + why
		return out, nil
	}

	switch stage {
	case checkpoint.StageRevising:
		return route(step.Draft, "restart")

	case checkpoint.StageDrafting, checkpoint.StageDrafted:
		if !ev.HasChapter {
			return route(step.Draft, "missing_chapter")
		}
		if !ev.HasSummary || !ev.HasDelta || !ev.HasCrossref {
			return route(step.Summarize, "missing_summary")
		}
		return route(step.Refine, "ready_refine")

	case checkpoint.StageRefined, checkpoint.StageJudged:
		if stage == checkpoint.StageJudged && !ev.HasEval {
			return route(step.Judge, "missing_eval")
		}
		for _, g := range r.gates {
			res, err := g.Evaluate(inflight)
			if err != nil {
				return NextStep{}, err
			}
			out.Gates = append(out.Gates, GateOutcome{
				Gate:     g.Name(),
				Enabled:  res.Enabled,
				AutoFix:  res.AutoFix,
				Status:   res.Verdict.Status,
				Blocking: res.Verdict.HasBlockingIssues,
			})
			if st, why, routed := gateRoute(g, res, fixCount(cp, g.FixStage())); routed {
				return route(st, why)
			}
		}
		if !ev.HasEval {
			return route(step.Judge, "missing_eval")
		}
		return route(step.Commit, "ready_commit")
	}

	// Unreachable for a validated checkpoint; restart is the safe fallback.
	return route(step.Draft, "unknown_stage")
}

// gateRoute applies the bounded auto-fix rule: one automated fix per policy,
// then manual review. Without auto-fix only blocking issues reroute.
func gateRoute(g Gate, res GateResult, attempts int) (step.Stage, string, bool) {
	if !res.Enabled {
		return "", "", false
	}
	switch res.Verdict.Status {
	case policy.StatusPass, policy.StatusSkipped:
		return "", "", false
	}
	if res.AutoFix {
		if attempts == 0 {
			return g.FixStage(), g.Name() + "_autofix", true
		}
		return step.Review, g.Name() + "_fix_exhausted", true
	}
	if res.Verdict.HasBlockingIssues {
		return step.Review, g.Name() + "_blocking", true
	}
	return "", "", false
}
