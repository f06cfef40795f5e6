package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/novel/internal/checkpoint"
	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/lock"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/step"
	"github.com/roach88/novel/internal/testutil"
	"github.com/roach88/novel/internal/validate"
)

func profileJSON(titleAutoFix bool, hookRequired bool) string {
	return fmt.Sprintf(`{
  "schema_version": 1,
  "platform": "tomato",
  "created_at": "2026-01-01T00:00:00Z",
  "word_count": {"target_min": 10, "target_max": 5000, "hard_min": 1, "hard_max": 10000},
  "info_load": {"max_new_entities_per_chapter": 5, "max_unknown_entities_per_chapter": 3, "max_new_terms_per_1k_words": 2},
  "compliance": {"banned_words": ["taboo"], "duplicate_name_policy": "warn"},
  "hook_policy": {"required": %t, "min_strength": 3, "allowed_types": ["cliffhanger"], "fix_strategy": "hook-fix"},
  "retention": {"title_policy": {"enabled": true, "min_chars": 2, "max_chars": 12, "forbidden_patterns": [], "auto_fix": %t}}
}`, hookRequired, titleAutoFix)
}

func mustProfile(t *testing.T, raw string) *policy.Profile {
	t.Helper()
	p, err := policy.ParseProfile([]byte(raw))
	require.NoError(t, err)
	return p
}

func mustCheckpoint(t *testing.T, raw string) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := checkpoint.Parse([]byte(raw))
	require.NoError(t, err)
	return cp
}

func next(t *testing.T, p *testutil.Project, profile *policy.Profile, cp string) NextStep {
	t.Helper()
	r := NewResolver(p.Proj, DefaultGates(p.Proj, profile)...)
	ns, err := r.Next(mustCheckpoint(t, cp))
	require.NoError(t, err)
	return ns
}

func TestNextFresh(t *testing.T) {
	p := testutil.NewProject(t)

	ns := next(t, p, nil, `{"last_completed_chapter":4,"current_volume":1}`)
	assert.Equal(t, "chapter:005:draft", ns.Step.String())
	assert.Equal(t, "fresh", ns.Reason)
	assert.Nil(t, ns.Evidence)

	ns = next(t, p, nil, `{"last_completed_chapter":5,"current_volume":1,"pipeline_stage":"committed","inflight_chapter":null}`)
	assert.Equal(t, "chapter:006:draft", ns.Step.String())
	require.NotNil(t, ns.Inflight.PipelineStage)
	assert.Equal(t, "committed", *ns.Inflight.PipelineStage)
}

func TestNextDraftingAndDrafted(t *testing.T) {
	p := testutil.NewProject(t)
	s := project.Staging(1)

	for _, stage := range []string{"drafting", "drafted"} {
		cp := fmt.Sprintf(`{"last_completed_chapter":0,"current_volume":1,"pipeline_stage":%q,"inflight_chapter":1}`, stage)

		p.Remove("staging")
		assert.Equal(t, "chapter:001:draft", next(t, p, nil, cp).Step.String())

		p.Write(s.Chapter, "# T\nbody")
		ns := next(t, p, nil, cp)
		assert.Equal(t, "chapter:001:summarize", ns.Step.String())
		assert.Equal(t, stage+":missing_summary", ns.Reason)

		p.StageChapter(1, testutil.StageOptions{SkipEval: true})
		assert.Equal(t, "chapter:001:refine", next(t, p, nil, cp).Step.String())
	}
}

func TestNextRevisingAlwaysRestartsDraft(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{})

	ns := next(t, p, nil, `{"last_completed_chapter":0,"current_volume":1,"pipeline_stage":"revising","inflight_chapter":1}`)
	assert.Equal(t, "chapter:001:draft", ns.Step.String())
	assert.Equal(t, "revising:restart", ns.Reason)
}

func TestNextRefinedAndJudgedWithoutPolicies(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{SkipEval: true})

	refined := `{"last_completed_chapter":0,"current_volume":1,"pipeline_stage":"refined","inflight_chapter":1}`
	judged := `{"last_completed_chapter":0,"current_volume":1,"pipeline_stage":"judged","inflight_chapter":1}`

	assert.Equal(t, "refined:missing_eval", next(t, p, nil, refined).Reason)
	assert.Equal(t, "judged:missing_eval", next(t, p, nil, judged).Reason)

	p.StageChapter(1, testutil.StageOptions{})
	assert.Equal(t, "chapter:001:commit", next(t, p, nil, refined).Step.String())
	assert.Equal(t, "judged:ready_commit", next(t, p, nil, judged).Reason)
}

func TestNextTitleGateBoundedAutoFix(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{Title: "A title well beyond the limit"})
	profile := mustProfile(t, profileJSON(true, false))

	ns := next(t, p, profile, `{"last_completed_chapter":0,"current_volume":1,"inflight_chapter":1,"pipeline_stage":"refined","title_fix_count":0}`)
	assert.Equal(t, "chapter:001:title-fix", ns.Step.String())
	assert.Equal(t, "refined:title_autofix", ns.Reason)

	ns = next(t, p, profile, `{"last_completed_chapter":0,"current_volume":1,"inflight_chapter":1,"pipeline_stage":"refined","title_fix_count":1}`)
	assert.Equal(t, "chapter:001:review", ns.Step.String())
	assert.Equal(t, "refined:title_fix_exhausted", ns.Reason)
}

func TestNextTitleGateWithoutAutoFix(t *testing.T) {
	p := testutil.NewProject(t)
	profile := mustProfile(t, profileJSON(false, false))
	cp := `{"last_completed_chapter":0,"current_volume":1,"inflight_chapter":1,"pipeline_stage":"refined"}`

	// Warn-only issues never change routing.
	p.StageChapter(1, testutil.StageOptions{Title: "A title well beyond the limit", SkipEval: true})
	assert.Equal(t, "chapter:001:judge", next(t, p, profile, cp).Step.String())

	// A hard issue goes straight to review.
	p.Write(project.Staging(1).Chapter, "No heading here\n")
	ns := next(t, p, profile, cp)
	assert.Equal(t, "chapter:001:review", ns.Step.String())
	assert.Equal(t, "refined:title_blocking", ns.Reason)
}

func TestNextJudgedTitleBeforeHook(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{
		Title: "A title well beyond the limit",
		Eval: map[string]any{
			"chapter": 1, "overall": 3, "recommendation": "revise",
			"hook_strength": 1,
			"hook":          map[string]any{"present": true, "type": "cliffhanger", "evidence": "x"},
		},
	})
	profile := mustProfile(t, profileJSON(true, true))

	ns := next(t, p, profile, `{"last_completed_chapter":0,"current_volume":1,"inflight_chapter":1,"pipeline_stage":"judged"}`)
	assert.Equal(t, "chapter:001:title-fix", ns.Step.String())
	require.Len(t, ns.Gates, 1, "hook gate is not consulted once title routes")

	// Title fixed: the hook gate now routes.
	p.Write(project.Staging(1).Chapter, "# Ch 1 Dawn\n\nbody\n")
	ns = next(t, p, profile, `{"last_completed_chapter":0,"current_volume":1,"inflight_chapter":1,"pipeline_stage":"judged","title_fix_count":1}`)
	assert.Equal(t, "chapter:001:hook-fix", ns.Step.String())
	assert.Equal(t, "judged:hook_autofix", ns.Reason)

	ns = next(t, p, profile, `{"last_completed_chapter":0,"current_volume":1,"inflight_chapter":1,"pipeline_stage":"judged","title_fix_count":1,"hook_fix_count":1}`)
	assert.Equal(t, "chapter:001:review", ns.Step.String())
	assert.Equal(t, "judged:hook_fix_exhausted", ns.Reason)
}

func TestNextIsIdempotent(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{Title: "A title well beyond the limit"})
	profile := mustProfile(t, profileJSON(true, false))
	cp := `{"last_completed_chapter":0,"current_volume":1,"inflight_chapter":1,"pipeline_stage":"refined"}`

	before := p.Snapshot()
	first := next(t, p, profile, cp)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, next(t, p, profile, cp))
	}
	assert.Equal(t, before, p.Snapshot())
}

func newAdvancer(p *testutil.Project, clock *testutil.FixedClock) *Advancer {
	return NewAdvancer(p.Proj,
		lock.New(p.Proj, lock.Options{Now: clock.Now}),
		checkpoint.NewStore(p.Proj),
		validate.New(p.Proj, nil),
		clock.Now)
}

func TestAdvanceDraftResetsCounters(t *testing.T) {
	p := testutil.NewProject(t)
	clock := testutil.NewFixedClock(time.Time{})
	p.Checkpoint(`{"last_completed_chapter":0,"current_volume":1,"inflight_chapter":1,"pipeline_stage":"revising","revision_count":2,"hook_fix_count":1,"title_fix_count":1,"custom":"kept"}`)
	p.StageChapter(1, testutil.StageOptions{})
	p.Write(project.TitleFixSnapshot(1), "old")

	res, err := newAdvancer(p, clock).Advance(step.Step{Chapter: 1, Stage: step.Draft})
	require.NoError(t, err)

	cp := res.Checkpoint
	assert.Equal(t, checkpoint.StageDrafting, cp.PipelineStage)
	assert.Zero(t, cp.RevisionCount)
	assert.Zero(t, cp.HookFixCount)
	assert.Zero(t, cp.TitleFixCount)
	assert.Equal(t, "2026-01-02T03:04:05.000Z", cp.LastCheckpointTime)
	assert.False(t, p.Exists(project.TitleFixSnapshot(1)))

	onDisk := p.ReadJSON(project.CheckpointFile)
	assert.Equal(t, "kept", onDisk["custom"])
	assert.Equal(t, "drafting", onDisk["pipeline_stage"])
	assert.NoDirExists(t, p.Proj.Abs(project.LockDir))
}

func TestAdvanceStageMapping(t *testing.T) {
	tests := []struct {
		stage step.Stage
		want  checkpoint.Stage
	}{
		{step.Draft, checkpoint.StageDrafting},
		{step.Summarize, checkpoint.StageDrafted},
		{step.Refine, checkpoint.StageRefined},
		{step.Judge, checkpoint.StageJudged},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			p := testutil.NewProject(t)
			p.StageChapter(1, testutil.StageOptions{})
			res, err := newAdvancer(p, testutil.NewFixedClock(time.Time{})).Advance(step.Step{Chapter: 1, Stage: tt.stage})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Checkpoint.PipelineStage)
			ch, ok := res.Checkpoint.Inflight()
			require.True(t, ok)
			assert.Equal(t, 1, ch)
		})
	}
}

func TestAdvanceHookFixCountsAndDropsEval(t *testing.T) {
	p := testutil.NewProject(t)
	p.Checkpoint(`{"last_completed_chapter":0,"current_volume":1,"inflight_chapter":1,"pipeline_stage":"judged"}`)
	p.StageChapter(1, testutil.StageOptions{})
	a := newAdvancer(p, testutil.NewFixedClock(time.Time{}))

	res, err := a.Advance(step.Step{Chapter: 1, Stage: step.HookFix})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checkpoint.HookFixCount)
	assert.Equal(t, checkpoint.StageRefined, res.Checkpoint.PipelineStage)
	assert.False(t, p.Exists(project.Staging(1).Eval))

	_, err = a.Advance(step.Step{Chapter: 1, Stage: step.HookFix})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindPrecondition))
	assert.Equal(t, float64(1), p.ReadJSON(project.CheckpointFile)["hook_fix_count"])
}

func TestAdvanceTitleFixBudget(t *testing.T) {
	p := testutil.NewProject(t)
	p.Checkpoint(`{"last_completed_chapter":0,"current_volume":1,"inflight_chapter":1,"pipeline_stage":"refined","title_fix_count":1}`)
	p.StageChapter(1, testutil.StageOptions{})

	before := p.Snapshot()
	_, err := newAdvancer(p, testutil.NewFixedClock(time.Time{})).Advance(step.Step{Chapter: 1, Stage: step.TitleFix})
	assert.True(t, errs.Is(err, errs.KindPrecondition))
	assert.Equal(t, before, p.Snapshot())
}

func TestAdvanceRejections(t *testing.T) {
	p := testutil.NewProject(t)
	a := newAdvancer(p, testutil.NewFixedClock(time.Time{}))

	_, err := a.Advance(step.Step{Chapter: 1, Stage: step.Commit})
	assert.True(t, errs.Is(err, errs.KindPrecondition))
	_, err = a.Advance(step.Step{Chapter: 1, Stage: step.Review})
	assert.True(t, errs.Is(err, errs.KindPrecondition))

	// Validation failure leaves the checkpoint untouched.
	before := p.Read(project.CheckpointFile)
	_, err = a.Advance(step.Step{Chapter: 1, Stage: step.Draft})
	assert.True(t, errs.Is(err, errs.KindPrecondition))
	assert.Equal(t, before, p.Read(project.CheckpointFile))

	p.Checkpoint(`{"last_completed_chapter":3,"current_volume":1}`)
	p.StageChapter(2, testutil.StageOptions{})
	_, err = a.Advance(step.Step{Chapter: 2, Stage: step.Draft})
	assert.True(t, errs.Is(err, errs.KindPrecondition))
}

func TestAdvanceFailsWhileLocked(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{})
	clock := testutil.NewFixedClock(time.Time{})
	locker := lock.New(p.Proj, lock.Options{Now: clock.Now})

	err := locker.WithLock(lock.Meta{}, func(*lock.Held) error {
		_, err := newAdvancer(p, clock).Advance(step.Step{Chapter: 1, Stage: step.Draft})
		return err
	})
	assert.True(t, errs.Is(err, errs.KindConcurrency))
}

func TestPrepareTitleFixSnapshotIsWriteOnce(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{})
	s := step.Step{Chapter: 1, Stage: step.TitleFix}

	res, err := Prepare(p.Proj, s)
	require.NoError(t, err)
	assert.True(t, res.Created)
	original := p.Read(project.Staging(1).Chapter)
	assert.Equal(t, original, p.Read(project.TitleFixSnapshot(1)))

	p.Write(project.Staging(1).Chapter, "# Changed\n")
	res, err = Prepare(p.Proj, s)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, original, p.Read(project.TitleFixSnapshot(1)))

	other, err := Prepare(p.Proj, step.Step{Chapter: 1, Stage: step.Judge})
	require.NoError(t, err)
	assert.Empty(t, other.Snapshot)
	assert.Equal(t, project.Staging(1).Eval, other.Artifacts.Eval)
}
