package report

import (
	"fmt"
	"strings"

	"github.com/roach88/novel/internal/policy"
)

// Readability lints a chapter for reading on a phone screen: paragraph
// length, dialogue density, long exposition runs and mixed punctuation.
type Readability struct{}

func (Readability) Spec() Spec {
	return Spec{Kind: "readability", Dir: "logs/readability", EvalKey: "readability_lint", Enforced: true}
}

var punctuationPairs = []struct {
	ascii, full, id, summary string
}{
	{",", "，", "readability.mobile.mixed_comma_styles", "Mixed comma styles detected (',' and '，')."},
	{".", "。", "readability.mobile.mixed_period_styles", "Mixed period styles detected ('.' and '。')."},
	{"?", "？", "readability.mobile.mixed_question_mark_styles", "Mixed question mark styles detected ('?' and '？')."},
	{"!", "！", "readability.mobile.mixed_exclamation_styles", "Mixed exclamation mark styles detected ('!' and '！')."},
}

// isBlocking applies the profile's blocking_severity. Warnings never block.
func isBlocking(blocking string, sev policy.Severity) bool {
	switch sev {
	case policy.SeverityHard:
		return true
	case policy.SeveritySoft:
		return blocking == "soft_and_hard"
	}
	return false
}

func (rd Readability) Produce(in Input) (*Report, error) {
	kind := rd.Spec().Kind
	var mobile *policy.MobileReadability
	if in.Profile != nil && in.Profile.Readability != nil {
		mobile = in.Profile.Readability.Mobile
	}
	if mobile == nil || !mobile.Enabled {
		return skippedReport(kind, in), nil
	}

	var issues []policy.Issue
	text := in.Text

	if strings.Contains(text, "\"") && strings.ContainsAny(text, "“”") {
		issues = append(issues, policy.Issue{
			ID:         "readability.mobile.mixed_quote_styles",
			Severity:   policy.SeverityWarn,
			Summary:    "Mixed quote styles detected (ASCII '\"' and curly quotes “”).",
			Suggestion: "Use a single quote style consistently to improve mobile readability.",
		})
	}
	if strings.Contains(text, "...") && strings.Contains(text, "……") {
		issues = append(issues, policy.Issue{
			ID:         "readability.mobile.mixed_ellipsis_styles",
			Severity:   policy.SeverityWarn,
			Summary:    "Mixed ellipsis styles detected ('...' and '……').",
			Suggestion: "Use a single ellipsis style consistently.",
		})
	}
	for _, p := range punctuationPairs {
		if strings.Contains(text, p.ascii) && strings.Contains(text, p.full) {
			issues = append(issues, policy.Issue{
				ID:         p.id,
				Severity:   policy.SeverityWarn,
				Summary:    p.summary,
				Suggestion: "Use a single punctuation width style consistently (prefer fullwidth for Chinese prose).",
			})
		}
	}

	paras := paragraphs(text)
	for _, p := range paras {
		if p.heading {
			continue
		}
		if p.chars > mobile.MaxParagraphChars {
			sev := policy.SeveritySoft
			if p.chars > 2*mobile.MaxParagraphChars {
				sev = policy.SeverityHard
			}
			issues = append(issues, policy.Issue{
				ID:         "readability.mobile.overlong_paragraph",
				Severity:   sev,
				Summary:    fmt.Sprintf("Overlong paragraph %d (%d chars > max %d).", p.index, p.chars, mobile.MaxParagraphChars),
				Evidence:   snippet(p.raw, 140),
				Suggestion: "Split the paragraph into 2-3 shorter paragraphs around actions or dialogue beats.",
			})
		}
		if p.dialogue && !p.multiline && strings.Count(p.raw, "\"")+strings.Count(p.raw, "“")+strings.Count(p.raw, "”") >= 6 {
			issues = append(issues, policy.Issue{
				ID:         "readability.mobile.dialogue_dense_paragraph",
				Severity:   policy.SeverityWarn,
				Summary:    "Dialogue-heavy paragraph may hurt mobile readability (many quotes in one paragraph).",
				Evidence:   snippet(p.raw, 140),
				Suggestion: "Split dialogue into separate paragraphs per speaker.",
			})
		}
	}

	if limit := mobile.MaxConsecutiveExpositionParagraphs; limit > 0 {
		start, n := 0, 0
		flush := func() {
			if n > limit {
				issues = append(issues, policy.Issue{
					ID:         "readability.mobile.exposition_run_too_long",
					Severity:   policy.SeverityWarn,
					Summary:    fmt.Sprintf("Too many consecutive exposition paragraphs (%d > max %d).", n, limit),
					Evidence:   fmt.Sprintf("paragraphs %d-%d", start, start+n-1),
					Suggestion: "Break up exposition with dialogue or action beats.",
				})
			}
			start, n = 0, 0
		}
		for _, p := range paras {
			if p.heading || p.dialogue {
				flush()
				continue
			}
			if n == 0 {
				start = p.index
			}
			n++
		}
		flush()
	}

	r := newReport(kind, in, issues)
	r.HasBlockingIssues = false
	for _, is := range r.Issues {
		if isBlocking(mobile.BlockingSeverity, is.Severity) {
			r.HasBlockingIssues = true
			break
		}
	}
	switch {
	case len(r.Issues) == 0:
		r.Status = policy.StatusPass
	case r.HasBlockingIssues:
		r.Status = policy.StatusViolation
	default:
		r.Status = policy.StatusWarn
	}
	r.Details = map[string]any{
		"policy":     mobile,
		"paragraphs": len(paras),
	}
	return r, nil
}
