package report

import "github.com/roach88/novel/internal/policy"

// TitlePolicy records the title check for the committed chapter. Title
// problems are routed by the resolver before commit, so the report is
// informational here.
type TitlePolicy struct{}

func (TitlePolicy) Spec() Spec {
	return Spec{Kind: "title-policy", Dir: "logs/retention/title-policy"}
}

func (tp TitlePolicy) Produce(in Input) (*Report, error) {
	res := policy.CheckTitle(in.Profile, in.Text)
	r := newReport(tp.Spec().Kind, in, res.Issues)
	r.Status = res.Status
	r.HasBlockingIssues = res.HasBlockingIssues
	r.Details = map[string]any{"title": res.Title, "policy": res.Policy}
	return r, nil
}
