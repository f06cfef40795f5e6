package policy

// Severity classifies an issue: hard blocks, soft blocks depending on policy,
// warn never blocks.
type Severity string

const (
	SeverityWarn Severity = "warn"
	SeveritySoft Severity = "soft"
	SeverityHard Severity = "hard"
)

// Status is the outcome of a policy check.
type Status string

const (
	StatusPass      Status = "pass"
	StatusWarn      Status = "warn"
	StatusViolation Status = "violation"
	StatusSkipped   Status = "skipped"
)

// Issue is a single finding.
type Issue struct {
	ID         string   `json:"id"`
	Severity   Severity `json:"severity"`
	Summary    string   `json:"summary"`
	Evidence   string   `json:"evidence,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Verdict is what gates and report producers hand back to the pipeline.
// Routing only looks at Status and HasBlockingIssues.
type Verdict struct {
	Status            Status  `json:"status"`
	HasBlockingIssues bool    `json:"has_blocking_issues"`
	Issues            []Issue `json:"issues"`
}

// Skipped returns a verdict for a disabled or inapplicable policy.
func Skipped() Verdict {
	return Verdict{Status: StatusSkipped, Issues: []Issue{}}
}

// VerdictOf derives status from issues: any hard issue is a violation,
// any other issue a warning.
func VerdictOf(issues []Issue) Verdict {
	if issues == nil {
		issues = []Issue{}
	}
	hard := false
	for _, is := range issues {
		if is.Severity == SeverityHard {
			hard = true
			break
		}
	}
	v := Verdict{Status: StatusPass, HasBlockingIssues: hard, Issues: issues}
	switch {
	case hard:
		v.Status = StatusViolation
	case len(issues) > 0:
		v.Status = StatusWarn
	}
	return v
}

// CountBySeverity tallies issues per severity.
func CountBySeverity(issues []Issue) map[Severity]int {
	out := map[Severity]int{SeverityWarn: 0, SeveritySoft: 0, SeverityHard: 0}
	for _, is := range issues {
		out[is.Severity]++
	}
	return out
}
