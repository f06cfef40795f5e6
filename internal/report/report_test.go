package report

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/lock"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/state"
	"github.com/roach88/novel/internal/testutil"
	"github.com/roach88/novel/internal/txn"
)

const profileJSON = `{
  "schema_version": 1,
  "platform": "qidian",
  "created_at": "2026-01-01T00:00:00Z",
  "word_count": {"target_min": 20, "target_max": 60, "hard_min": 10, "hard_max": 200},
  "info_load": {"max_new_entities_per_chapter": 5, "max_unknown_entities_per_chapter": 5, "max_new_terms_per_1k_words": 3},
  "compliance": {"banned_words": ["forbidden"], "duplicate_name_policy": "warn"},
  "readability": {"mobile": {"enabled": true, "max_paragraph_chars": 30, "max_consecutive_exposition_paragraphs": 2, "blocking_severity": "hard_only"}},
  "naming": {"enabled": true, "blocking_conflict_types": ["duplicate"]}
}`

func mustProfile(t *testing.T) *policy.Profile {
	t.Helper()
	p, err := policy.ParseProfile([]byte(profileJSON))
	require.NoError(t, err)
	return p
}

func input(t *testing.T, text string) Input {
	return Input{Chapter: 7, Text: text, Profile: mustProfile(t), Now: testutil.Epoch}
}

func TestCountChars(t *testing.T) {
	assert.Equal(t, 5, CountChars(" a b\n\tc 天地 "))
}

func TestFindPhrase(t *testing.T) {
	hit := FindPhrase("one two\nthree two two\nfour", "two")
	assert.Equal(t, 3, hit.Count)
	assert.Equal(t, []int{1, 2}, hit.Lines)
	assert.Equal(t, []string{"one two", "three two two"}, hit.Snippets)
}

func TestPlatformConstraints(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		status policy.Status
		ids    []string
	}{
		{"pass", "# T\n\n" + strings.Repeat("abcde ", 6), policy.StatusPass, nil},
		{"target deviation", "# T\n\n" + strings.Repeat("abcde", 14), policy.StatusWarn, []string{"word_count.target_deviation"}},
		{"hard length", "# T\n\nshort", policy.StatusViolation, []string{"word_count.hard_violation"}},
		{"banned", "# T\n\n" + strings.Repeat("abc ", 6) + "forbidden", policy.StatusViolation, []string{"compliance.banned_words"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := PlatformConstraints{}.Produce(input(t, tt.text))
			require.NoError(t, err)
			assert.Equal(t, tt.status, r.Status)
			var ids []string
			for _, is := range r.Issues {
				ids = append(ids, is.ID)
			}
			assert.Equal(t, tt.ids, ids)
			assert.Equal(t, tt.status == policy.StatusViolation, r.HasHardViolations)
		})
	}
}

func TestPlatformConstraintsDuplicateNames(t *testing.T) {
	st := state.Init()
	st.Doc["characters"] = map[string]any{
		"lin":  map[string]any{"display_name": "Lin"},
		"lin2": map[string]any{"display_name": " Lin "},
	}
	st.Doc["items"] = map[string]any{"lamp": map[string]any{"display_name": "Lamp"}}

	in := input(t, "# T\n\n"+strings.Repeat("abcde ", 6))
	in.State = st
	r, err := PlatformConstraints{}.Produce(in)
	require.NoError(t, err)

	require.Len(t, r.Issues, 1)
	assert.Equal(t, policy.SeverityWarn, r.Issues[0].Severity)
	assert.Equal(t, "Lin: characters.lin, characters.lin2", r.Issues[0].Evidence)
	assert.False(t, r.HasBlockingIssues)
}

func TestReadability(t *testing.T) {
	long := strings.Repeat("x", 40)
	huge := strings.Repeat("y", 70)
	text := "# Title\n\n" + long + "\n\nplain one\n\nplain two\n\nplain three\n\n\"Hi,\" she said.\n\n" + huge + "\n"

	r, err := Readability{}.Produce(input(t, text))
	require.NoError(t, err)

	var ids []string
	for _, is := range r.Issues {
		ids = append(ids, string(is.Severity)+":"+is.ID)
	}
	assert.Equal(t, []string{
		"soft:readability.mobile.overlong_paragraph",
		"hard:readability.mobile.overlong_paragraph",
		"warn:readability.mobile.exposition_run_too_long",
	}, ids)
	assert.True(t, r.HasBlockingIssues)
	assert.Equal(t, policy.StatusViolation, r.Status)
}

func TestReadabilitySoftOnlyDoesNotBlockHardOnly(t *testing.T) {
	r, err := Readability{}.Produce(input(t, "# T\n\n"+strings.Repeat("x", 40)+"\n"))
	require.NoError(t, err)
	assert.False(t, r.HasBlockingIssues)
	assert.Equal(t, policy.StatusWarn, r.Status)
}

func TestReadabilityDisabled(t *testing.T) {
	in := input(t, "text")
	in.Profile.Readability = nil
	r, err := Readability{}.Produce(in)
	require.NoError(t, err)
	assert.Equal(t, policy.StatusSkipped, r.Status)
}

func TestNaming(t *testing.T) {
	st := state.Init()
	st.Doc["characters"] = map[string]any{
		"a": map[string]any{"display_name": "Zhang Wei"},
		"b": map[string]any{"display_name": "zhangwei"},
		"c": map[string]any{"display_name": "Li Na", "aliases": []any{"Boss"}},
		"d": map[string]any{"display_name": "Boss"},
		"e": map[string]any{"display_name": "Alexandra"},
		"f": map[string]any{"display_name": "Alexandro"},
	}
	in := input(t, "")
	in.State = st

	r, err := Naming{}.Produce(in)
	require.NoError(t, err)

	bySev := map[string]policy.Severity{}
	for _, is := range r.Issues {
		bySev[is.ID] = is.Severity
	}
	assert.Equal(t, policy.SeverityHard, bySev["naming.duplicate_display_name"])
	assert.Equal(t, policy.SeveritySoft, bySev["naming.alias_collision"])
	assert.Equal(t, policy.SeveritySoft, bySev["naming.near_duplicate"])
	assert.True(t, r.HasBlockingIssues)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Lin", "lin"))
	assert.Equal(t, 0.889, Similarity("Alexandra", "Alexandro"))
	assert.Less(t, Similarity("林", "木"), 0.1)
}

func TestCliche(t *testing.T) {
	cfg, err := ParseCliche([]byte(`{
		"schema_version": 1,
		"words": ["cold smile"],
		"categories": {"face": ["smile", "cold smile"]},
		"severity": {"default": "warn", "per_category": {"face": "soft"}, "per_word": {"cold smile": "hard"}},
		"whitelist": {"words": ["sigh"]},
		"exemptions": {"exact": ["smile emoji"], "regex": ["^>.*$"]}
	}`))
	require.NoError(t, err)

	text := "A cold smile. A smile. A smile emoji. A sigh.\n"
	r, err := Cliche{Config: cfg}.Produce(input(t, text))
	require.NoError(t, err)

	require.Len(t, r.Issues, 2)
	assert.Equal(t, "cold smile x1", r.Issues[0].Summary)
	assert.Equal(t, policy.SeverityHard, r.Issues[0].Severity)
	assert.Equal(t, "smile x1", r.Issues[1].Summary)
	assert.Equal(t, policy.SeveritySoft, r.Issues[1].Severity)
	assert.True(t, r.HasBlockingIssues)
	assert.Equal(t, 2, r.Details["total_hits"])
}

func TestParseClicheRejectsBadSeverity(t *testing.T) {
	_, err := ParseCliche([]byte(`{"severity": {"default": "fatal"}}`))
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestLoadClicheMissing(t *testing.T) {
	p := testutil.NewProject(t)
	cfg, err := LoadCliche(p.Proj)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestBlockingError(t *testing.T) {
	r := newReport("readability", Input{Chapter: 3}, []policy.Issue{
		{ID: "a", Severity: policy.SeverityHard, Summary: "one"},
		{ID: "b", Severity: policy.SeveritySoft, Summary: "two"},
		{ID: "c", Severity: policy.SeverityHard, Summary: "three"},
	})
	err := BlockingError(r)
	assert.True(t, errs.Is(err, errs.KindPolicy))
	assert.Contains(t, err.Error(), "readability blocking issue: one | three")
}

func TestWriteAndRollback(t *testing.T) {
	p := testutil.NewProject(t)
	evalRel := project.Final(7).Eval
	p.WriteJSON(evalRel, map[string]any{"chapter": 7})
	p.Write("logs/readability/latest.json", "{\"old\":true}\n")
	before := p.Snapshot()

	r, err := Readability{}.Produce(input(t, "# T\n\nfine\n"))
	require.NoError(t, err)

	locker := lock.New(p.Proj, lock.Options{})
	require.NoError(t, locker.WithLock(lock.Meta{}, func(h *lock.Held) error {
		tx := txn.Begin(h, testutil.NewSequenceIDs("tx"))
		require.NoError(t, Write(tx, Readability{}.Spec(), r, evalRel))

		eval := p.ReadJSON(evalRel)
		summary := eval["readability_lint"].(map[string]any)
		assert.Equal(t, "logs/readability/readability-chapter-007.json", summary["report_path"])
		assert.Equal(t, "pass", summary["status"])
		assert.True(t, p.Exists("logs/readability/readability-chapter-007.json"))

		assert.Empty(t, tx.Rollback())
		return nil
	}))
	assert.Equal(t, before, p.Snapshot())
}

func TestPlanLines(t *testing.T) {
	assert.Equal(t, []string{
		"WRITE logs/naming/naming-chapter-002.json (+ latest.json)",
		"PATCH evaluations/chapter-002-eval.json (attach naming_lint metadata)",
	}, PlanLines(Naming{}.Spec(), 2, "evaluations/chapter-002-eval.json"))
	assert.Len(t, PlanLines(TitlePolicy{}.Spec(), 2, "x"), 1)
}

func TestPrecomputeReusesAndRecomputes(t *testing.T) {
	p := testutil.NewProject(t)
	p.StageChapter(7, testutil.StageOptions{Body: strings.Repeat("x", 40)})
	path := p.Proj.Abs(project.Staging(7).Chapter)

	producers := Producers(mustProfile(t), nil)
	require.Len(t, producers, 4)
	in := input(t, "")
	in.Proj = p.Proj

	pc, warnings := Precompute(context.Background(), path, producers, in, 2)
	assert.Empty(t, warnings)

	in.Text = p.Read(project.Staging(7).Chapter)
	r, err := pc.Resolve(Readability{}, in)
	require.NoError(t, err)
	assert.Equal(t, policy.StatusWarn, r.Status)

	// Shorten the paragraph; the precomputed warning must not survive.
	require.NoError(t, os.WriteFile(path, []byte("# T\n\nshort\n"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Second)))
	r, err = pc.Resolve(Readability{}, in)
	require.NoError(t, err)
	assert.Equal(t, policy.StatusPass, r.Status)
}
