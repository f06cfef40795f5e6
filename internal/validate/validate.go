// Package validate checks that the artifacts a step is expected to produce
// are present and well formed before the checkpoint may advance past it.
package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/step"
)

// Report is the result of a successful validation.
type Report struct {
	Step     step.Step `json:"step"`
	Warnings []string  `json:"warnings"`
}

// Validator validates steps of one project.
type Validator struct {
	proj    project.Project
	profile *policy.Profile
}

// New creates a Validator. profile may be nil.
func New(proj project.Project, profile *policy.Profile) *Validator {
	return &Validator{proj: proj, profile: profile}
}

// Validate checks the outputs of s. Missing or malformed artifacts are
// precondition or validation errors; soft problems become warnings.
func (v *Validator) Validate(s step.Step) (Report, error) {
	r := Report{Step: s, Warnings: []string{}}
	staging := project.Staging(s.Chapter)

	var err error
	switch s.Stage {
	case step.Draft, step.HookFix:
		_, err = v.nonEmptyText(staging.Chapter)
	case step.Summarize:
		err = v.summarize(s, staging, &r)
	case step.Refine:
		if err = v.requireFile(staging.Chapter); err == nil && !project.IsFile(v.proj.Abs(project.StyleChangesLog(s.Chapter))) {
			r.Warnings = append(r.Warnings, "Missing optional changes log: "+project.StyleChangesLog(s.Chapter))
		}
	case step.Judge:
		err = v.judge(s, staging, &r)
	case step.TitleFix:
		err = v.titleFix(s, staging)
	case step.Review:
		r.Warnings = append(r.Warnings, "Review step has no machine-validated outputs; resolve issues manually and re-run judge.")
	case step.Commit:
		err = errs.Precondition("use 'novel commit --chapter %d' for commit", s.Chapter)
	default:
		err = errs.Validation("unsupported step %s", s)
	}
	if err != nil {
		return Report{}, err
	}
	return r, nil
}

func (v *Validator) summarize(s step.Step, staging project.ArtifactSet, r *Report) error {
	for _, rel := range []string{staging.Chapter, staging.Summary, staging.Delta, staging.Crossref} {
		if err := v.requireFile(rel); err != nil {
			return err
		}
	}

	delta, err := v.readObject(staging.Delta)
	if err != nil {
		return err
	}
	chapter, err := numberField(delta, "chapter", staging.Delta)
	if err != nil {
		return err
	}
	if chapter != float64(s.Chapter) {
		r.Warnings = append(r.Warnings, fmt.Sprintf("Delta.chapter is %g, expected %d.", chapter, s.Chapter))
	}
	storyline, err := stringField(delta, "storyline_id", staging.Delta)
	if err != nil {
		return err
	}
	if err := project.SafeRel(storyline); err != nil {
		return err
	}
	if err := v.requireFile(project.StagingMemory(storyline)); err != nil {
		return err
	}

	_, err = v.readObject(staging.Crossref)
	return err
}

func (v *Validator) judge(s step.Step, staging project.ArtifactSet, r *Report) error {
	if err := v.requireFile(staging.Chapter); err != nil {
		return err
	}
	if err := v.requireFile(staging.Eval); err != nil {
		return err
	}
	eval, err := v.readObject(staging.Eval)
	if err != nil {
		return err
	}
	chapter, err := numberField(eval, "chapter", staging.Eval)
	if err != nil {
		return err
	}
	if chapter != float64(s.Chapter) {
		r.Warnings = append(r.Warnings, fmt.Sprintf("Eval.chapter is %g, expected %d.", chapter, s.Chapter))
	}
	if _, err := numberField(eval, "overall", staging.Eval); err != nil {
		return err
	}
	if _, err := stringField(eval, "recommendation", staging.Eval); err != nil {
		return err
	}

	if hp := v.profile.Hook(); hp != nil && hp.Required {
		res := policy.CheckHook(hp, map[string]any(eval))
		switch res.Status {
		case policy.HookInvalidEval:
			return errs.Validation("hook policy enabled but %s is missing required hook fields: %s", staging.Eval, res.Reason)
		case policy.HookFail:
			r.Warnings = append(r.Warnings, "Hook policy failing: "+res.Reason)
		}
	}
	return nil
}

func (v *Validator) titleFix(s step.Step, staging project.ArtifactSet) error {
	after, err := v.nonEmptyText(staging.Chapter)
	if err != nil {
		return err
	}
	snapshot := project.TitleFixSnapshot(s.Chapter)
	if err := v.requireFile(snapshot); err != nil {
		return err
	}
	before, err := os.ReadFile(v.proj.Abs(snapshot))
	if err != nil {
		return err
	}
	if err := policy.AssertOnlyTitleChanged(string(before), after, staging.Chapter); err != nil {
		return err
	}
	if title := policy.ExtractTitle(after); !title.HasH1 || title.Text == nil {
		return errs.Validation("invalid %s: title-fix must produce a non-empty Markdown H1 title line", staging.Chapter)
	}
	return nil
}

func (v *Validator) requireFile(rel string) error {
	if !project.IsFile(v.proj.Abs(rel)) {
		return errs.Precondition("missing required file").With("path", rel)
	}
	return nil
}

func (v *Validator) nonEmptyText(rel string) (string, error) {
	if err := v.requireFile(rel); err != nil {
		return "", err
	}
	data, err := os.ReadFile(v.proj.Abs(rel))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errs.Precondition("empty draft file").With("path", rel)
	}
	return string(data), nil
}

func (v *Validator) readObject(rel string) (map[string]any, error) {
	var obj map[string]any
	if err := project.ReadJSON(v.proj.Abs(rel), &obj); err != nil || obj == nil {
		return nil, errs.Validation("invalid JSON: %s must be an object", rel)
	}
	return obj, nil
}

func numberField(obj map[string]any, field, file string) (float64, error) {
	if n, ok := obj[field].(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f, nil
		}
	}
	return 0, errs.Validation("invalid %s: missing number field '%s'", file, field)
}

func stringField(obj map[string]any, field, file string) (string, error) {
	if s, ok := obj[field].(string); ok && s != "" {
		return s, nil
	}
	return "", errs.Validation("invalid %s: missing string field '%s'", file, field)
}
