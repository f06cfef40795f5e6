package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/step"
	"github.com/roach88/novel/internal/testutil"
)

func mustStep(t *testing.T, id string) step.Step {
	t.Helper()
	s, err := step.Parse(id)
	require.NoError(t, err)
	return s
}

func TestValidateDraft(t *testing.T) {
	p := testutil.NewProject(t)
	v := New(p.Proj, nil)

	_, err := v.Validate(mustStep(t, "chapter:001:draft"))
	assert.True(t, errs.Is(err, errs.KindPrecondition))

	p.Write(project.Staging(1).Chapter, "   \n")
	_, err = v.Validate(mustStep(t, "chapter:001:draft"))
	assert.True(t, errs.Is(err, errs.KindPrecondition))

	p.Write(project.Staging(1).Chapter, "# Title\nText\n")
	r, err := v.Validate(mustStep(t, "chapter:001:draft"))
	require.NoError(t, err)
	assert.Empty(t, r.Warnings)
}

func TestValidateSummarize(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{})
	v := New(p.Proj, nil)

	_, err := v.Validate(mustStep(t, "chapter:001:summarize"))
	require.NoError(t, err)

	p.Remove(project.StagingMemory("main"))
	_, err = v.Validate(mustStep(t, "chapter:001:summarize"))
	assert.True(t, errs.Is(err, errs.KindPrecondition))
}

func TestValidateSummarizeRejectsTraversal(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{Storyline: "../escape"})

	_, err := New(p.Proj, nil).Validate(mustStep(t, "chapter:001:summarize"))
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestValidateSummarizeWarnsOnChapterMismatch(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{})
	p.WriteJSON(project.Staging(1).Delta, map[string]any{"chapter": 9, "storyline_id": "main"})

	r, err := New(p.Proj, nil).Validate(mustStep(t, "chapter:001:summarize"))
	require.NoError(t, err)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "expected 1")
}

func TestValidateRefineWarnsOnMissingChangeLog(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{})

	r, err := New(p.Proj, nil).Validate(mustStep(t, "chapter:001:refine"))
	require.NoError(t, err)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "style-refiner-chapter-001-changes.json")
}

func TestValidateJudge(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{})

	_, err := New(p.Proj, nil).Validate(mustStep(t, "chapter:001:judge"))
	require.NoError(t, err)

	p.WriteJSON(project.Staging(1).Eval, map[string]any{"chapter": 1, "overall": 4})
	_, err = New(p.Proj, nil).Validate(mustStep(t, "chapter:001:judge"))
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestValidateJudgeWithHookPolicy(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(1, testutil.StageOptions{})
	profile := &policy.Profile{HookPolicy: &policy.HookPolicy{
		Required: true, MinStrength: 3, AllowedTypes: []string{"cliffhanger"}, FixStrategy: "hook-fix",
	}}
	v := New(p.Proj, profile)

	_, err := v.Validate(mustStep(t, "chapter:001:judge"))
	assert.True(t, errs.Is(err, errs.KindValidation), "missing hook fields must be rejected")

	p.WriteJSON(project.Staging(1).Eval, map[string]any{
		"chapter": 1, "overall": 3, "recommendation": "revise",
		"hook_strength": 2,
		"hook":          map[string]any{"present": true, "type": "cliffhanger", "evidence": "a knock"},
	})
	r, err := v.Validate(mustStep(t, "chapter:001:judge"))
	require.NoError(t, err)
	require.Len(t, r.Warnings, 1)
	assert.True(t, strings.HasPrefix(r.Warnings[0], "Hook policy failing"))
}

func TestValidateTitleFix(t *testing.T) {
	p := testutil.NewProject(t)
	rel := project.Staging(1).Chapter
	p.Write(rel, "# A title that is far too long\n\nBody.\n")
	v := New(p.Proj, nil)

	_, err := v.Validate(mustStep(t, "chapter:001:title-fix"))
	assert.True(t, errs.Is(err, errs.KindPrecondition), "snapshot is required")

	p.Write(project.TitleFixSnapshot(1), p.Read(rel))
	p.Write(rel, "# Short\n\nBody.\n")
	_, err = v.Validate(mustStep(t, "chapter:001:title-fix"))
	require.NoError(t, err)

	p.Write(rel, "# Short\n\nBody rewritten.\n")
	_, err = v.Validate(mustStep(t, "chapter:001:title-fix"))
	assert.True(t, errs.Is(err, errs.KindValidation))

	p.Write(rel, "#\n\nBody.\n")
	_, err = v.Validate(mustStep(t, "chapter:001:title-fix"))
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestValidateReviewAndCommit(t *testing.T) {
	p := testutil.NewProject(t)
	v := New(p.Proj, nil)

	r, err := v.Validate(mustStep(t, "chapter:001:review"))
	require.NoError(t, err)
	assert.Len(t, r.Warnings, 1)

	_, err = v.Validate(mustStep(t, "chapter:001:commit"))
	assert.True(t, errs.Is(err, errs.KindPrecondition))
}
