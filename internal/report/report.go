// Package report runs the per-chapter report producers at commit time and
// writes their artifacts through the commit transaction.
//
// Each producer declares where its artifacts live and which eval key it
// patches; Write is the one path that persists them, so every producer gets
// rollback from the transaction log without bookkeeping of its own.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/state"
	"github.com/roach88/novel/internal/txn"
)

// Spec describes a producer's artifacts and how the commit treats its result.
type Spec struct {
	// Kind names the report, e.g. "readability".
	Kind string
	// Dir holds latest.json and the per-chapter history files.
	Dir string
	// EvalKey is the key patched into the final eval. Empty means no patch.
	EvalKey string
	// Enforced producers abort the commit on blocking issues.
	Enforced bool
	// UsesState producers read the merged state and cannot be precomputed.
	UsesState bool
}

// HistoryPath is the per-chapter artifact.
func (s Spec) HistoryPath(chapter int) string {
	return s.Dir + "/" + s.Kind + "-chapter-" + project.Pad3(chapter) + ".json"
}

// LatestPath is overwritten on every commit.
func (s Spec) LatestPath() string {
	return s.Dir + "/latest.json"
}

// Input is what a producer may look at.
type Input struct {
	Proj    project.Project
	Chapter int
	Text    string
	Profile *policy.Profile
	// State is the state document after the chapter's delta was applied.
	// It is nil during precompute.
	State *state.State
	Now   time.Time
}

// Producer computes one kind of report.
type Producer interface {
	Spec() Spec
	Produce(in Input) (*Report, error)
}

// Scope identifies what a report covers.
type Scope struct {
	Chapter int `json:"chapter"`
}

// Report is the common envelope every producer returns. Details carries the
// producer-specific body.
type Report struct {
	SchemaVersion     int            `json:"schema_version"`
	Kind              string         `json:"kind"`
	GeneratedAt       string         `json:"generated_at"`
	Scope             Scope          `json:"scope"`
	Status            policy.Status  `json:"status"`
	HasHardViolations bool           `json:"has_hard_violations"`
	HasBlockingIssues bool           `json:"has_blocking_issues"`
	Issues            []policy.Issue `json:"issues"`
	Details           map[string]any `json:"details,omitempty"`
}

func newReport(kind string, in Input, issues []policy.Issue) *Report {
	v := policy.VerdictOf(issues)
	return &Report{
		SchemaVersion:     1,
		Kind:              kind,
		GeneratedAt:       in.Now.UTC().Format(time.RFC3339Nano),
		Scope:             Scope{Chapter: in.Chapter},
		Status:            v.Status,
		HasHardViolations: v.HasBlockingIssues,
		HasBlockingIssues: v.HasBlockingIssues,
		Issues:            v.Issues,
	}
}

func skippedReport(kind string, in Input) *Report {
	r := newReport(kind, in, nil)
	r.Status = policy.StatusSkipped
	return r
}

// BlockingError describes a report's blocking issues, at most three of them.
func BlockingError(r *Report) error {
	var summaries []string
	for _, is := range r.Issues {
		if is.Severity == policy.SeverityWarn {
			continue
		}
		if !r.HasHardViolations || is.Severity == policy.SeverityHard {
			summaries = append(summaries, is.Summary)
		}
	}
	details := "(details in " + r.Kind + " report)"
	if len(summaries) > 0 {
		n := min(3, len(summaries))
		details = strings.Join(summaries[:n], " | ")
		if len(summaries) > n {
			details += " …"
		}
	}
	return errs.Policy("%s blocking issue: %s", r.Kind, details).
		With("kind", r.Kind).
		With("chapter", project.Pad3(r.Scope.Chapter))
}

// EvalSummary is the compact form of a report patched into the final eval.
type EvalSummary struct {
	ReportPath        string                  `json:"report_path"`
	Status            policy.Status           `json:"status"`
	IssuesTotal       int                     `json:"issues_total"`
	IssuesBySeverity  map[policy.Severity]int `json:"issues_by_severity"`
	HasHardViolations bool                    `json:"has_hard_violations"`
	HasBlockingIssues bool                    `json:"has_blocking_issues"`
}

// Summarize builds the eval patch for r.
func Summarize(spec Spec, r *Report) EvalSummary {
	return EvalSummary{
		ReportPath:        spec.HistoryPath(r.Scope.Chapter),
		Status:            r.Status,
		IssuesTotal:       len(r.Issues),
		IssuesBySeverity:  policy.CountBySeverity(r.Issues),
		HasHardViolations: r.HasHardViolations,
		HasBlockingIssues: r.HasBlockingIssues,
	}
}

// PlanLines describes what Write will do for spec, for dry-run output.
func PlanLines(spec Spec, chapter int, evalRel string) []string {
	lines := []string{fmt.Sprintf("WRITE %s (+ latest.json)", spec.HistoryPath(chapter))}
	if spec.EvalKey != "" {
		lines = append(lines, fmt.Sprintf("PATCH %s (attach %s metadata)", evalRel, spec.EvalKey))
	}
	return lines
}

// Write persists r as history and latest, then patches the eval at evalRel.
// All writes go through tx.
func Write(tx *txn.Tx, spec Spec, r *Report, evalRel string) error {
	if err := tx.WriteJSON(spec.HistoryPath(r.Scope.Chapter), r); err != nil {
		return fmt.Errorf("write %s report: %w", spec.Kind, err)
	}
	if err := tx.WriteJSON(spec.LatestPath(), r); err != nil {
		return fmt.Errorf("write %s report: %w", spec.Kind, err)
	}
	if spec.EvalKey == "" || evalRel == "" {
		return nil
	}
	return PatchEval(tx, evalRel, map[string]any{spec.EvalKey: Summarize(spec, r)})
}

// PatchEval merges fields into the eval JSON object at evalRel.
func PatchEval(tx *txn.Tx, evalRel string, fields map[string]any) error {
	proj := tx.Project()
	var obj map[string]any
	if err := project.ReadJSON(proj.Abs(evalRel), &obj); err != nil || obj == nil {
		return errs.Validation("invalid %s: eval JSON must be an object", evalRel).With("path", evalRel)
	}
	for k, v := range fields {
		obj[k] = v
	}
	return tx.WriteJSON(evalRel, obj)
}
