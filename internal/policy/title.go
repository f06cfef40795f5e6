package policy

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/novel/internal/errs"
)

// Title describes the chapter title found in a markdown draft.
type Title struct {
	HasH1   bool    `json:"has_h1"`
	LineNo  *int    `json:"line_no"`
	RawLine *string `json:"raw_line"`
	Text    *string `json:"text"`
	Chars   *int    `json:"chars"`
}

// TitleResult is the outcome of CheckTitle.
type TitleResult struct {
	Title  Title        `json:"title"`
	Policy *TitlePolicy `json:"policy"`
	Verdict
}

// isH1 reports whether line is a level-one markdown heading ("#" not followed by "#").
func isH1(line string) bool {
	return strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "##")
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// ExtractTitle finds the first non-empty line and reads it as an H1 title.
// Title text is NFC-normalized and counted in runes.
func ExtractTitle(text string) Title {
	for i, line := range splitLines(text) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lineNo := i + 1
		raw := line
		t := Title{LineNo: &lineNo, RawLine: &raw}
		if !isH1(line) {
			return t
		}
		t.HasH1 = true
		body := norm.NFC.String(strings.TrimSpace(line[1:]))
		if body != "" {
			chars := utf8.RuneCountInString(body)
			t.Text = &body
			t.Chars = &chars
		}
		return t
	}
	return Title{}
}

// CheckTitle evaluates the title policy of p against a chapter draft.
func CheckTitle(p *Profile, text string) TitleResult {
	title := ExtractTitle(text)
	tp := p.TitlePolicy()
	res := TitleResult{Title: title, Policy: tp}
	if tp == nil || !tp.Enabled {
		res.Verdict = Skipped()
		return res
	}

	var issues []Issue
	switch {
	case !title.HasH1:
		issues = append(issues, Issue{
			ID:         "retention.title_policy.missing_h1",
			Severity:   SeverityHard,
			Summary:    "Missing chapter title: expected the first non-empty line to be a Markdown H1 ('# ...').",
			Evidence:   deref(title.RawLine),
			Suggestion: "Add an H1 title as the first non-empty line.",
		})
	case title.Text == nil:
		issues = append(issues, Issue{
			ID:         "retention.title_policy.empty_title",
			Severity:   SeverityHard,
			Summary:    "Empty chapter title: H1 line exists but title text is missing.",
			Evidence:   deref(title.RawLine),
			Suggestion: "Fill in a meaningful title without spoilers.",
		})
	}

	if title.Text != nil {
		issues = append(issues, titleTextIssues(p, tp, *title.Text, *title.Chars)...)
	}

	res.Verdict = VerdictOf(issues)
	return res
}

func titleTextIssues(p *Profile, tp *TitlePolicy, text string, chars int) []Issue {
	var issues []Issue
	if chars < tp.MinChars {
		issues = append(issues, Issue{
			ID:       "retention.title_policy.too_short",
			Severity: SeveritySoft,
			Summary:  fmt.Sprintf("Title is too short (%d chars < min %d).", chars, tp.MinChars),
			Evidence: text,
		})
	}
	if chars > tp.MaxChars {
		issues = append(issues, Issue{
			ID:       "retention.title_policy.too_long",
			Severity: SeveritySoft,
			Summary:  fmt.Sprintf("Title is too long (%d chars > max %d).", chars, tp.MaxChars),
			Evidence: text,
		})
	}

	if hits := countHits(text, p.Compliance.BannedWords); len(hits) > 0 {
		issues = append(issues, Issue{
			ID:       "retention.title_policy.banned_words",
			Severity: SeverityHard,
			Summary:  fmt.Sprintf("Title contains banned words (%d distinct).", len(hits)),
			Evidence: fmt.Sprintf("%s x%d", hits[0].Word, hits[0].Count),
		})
	}

	for i, re := range p.titleForbidden {
		m := re.FindString(text)
		if m == "" && !re.MatchString(text) {
			continue
		}
		evidence := strings.TrimSpace(m)
		if evidence == "" {
			evidence = text
		}
		issues = append(issues, Issue{
			ID:       fmt.Sprintf("retention.title_policy.forbidden_pattern.%d", i),
			Severity: SeveritySoft,
			Summary:  fmt.Sprintf("Title matches forbidden pattern /%s/.", re.String()),
			Evidence: evidence,
		})
	}

	if len(p.titleRequired) > 0 {
		matched := false
		for _, re := range p.titleRequired {
			if re.MatchString(text) {
				matched = true
				break
			}
		}
		if !matched {
			issues = append(issues, Issue{
				ID:       "retention.title_policy.required_pattern_missing",
				Severity: SeveritySoft,
				Summary:  "Title does not match any required pattern.",
				Evidence: text,
			})
		}
	}
	return issues
}

// WordHit is a banned word and its occurrence count.
type WordHit struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// countHits counts non-overlapping occurrences of each word, most frequent first.
func countHits(text string, words []string) []WordHit {
	var hits []WordHit
	for _, w := range words {
		if n := strings.Count(text, w); n > 0 {
			hits = append(hits, WordHit{Word: w, Count: n})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Count != hits[j].Count {
			return hits[i].Count > hits[j].Count
		}
		return hits[i].Word < hits[j].Word
	})
	return hits
}

// CountBannedWords exposes the banned word tally for report producers.
func CountBannedWords(text string, words []string) []WordHit {
	return countHits(text, words)
}

// StripFirstH1 removes the first non-empty line if it is an H1 and returns the
// remaining text and the removed line. Text without a leading H1 is returned as is.
func StripFirstH1(text string) (string, string, bool) {
	start := 0
	for start <= len(text) {
		end := strings.IndexByte(text[start:], '\n')
		next := len(text)
		line := text[start:]
		if end >= 0 {
			next = start + end + 1
			line = text[start : start+end]
		}
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) != "" {
			if !isH1(line) {
				return text, "", false
			}
			return text[:start] + text[next:], line, true
		}
		if end < 0 {
			break
		}
		start = next
	}
	return text, "", false
}

// AssertOnlyTitleChanged fails unless before and after differ only in the
// first H1 line.
func AssertOnlyTitleChanged(before, after, file string) error {
	b, _, _ := StripFirstH1(before)
	a, _, _ := StripFirstH1(after)
	if a != b {
		return errs.Validation("invalid %s: title-fix must only change the first H1 title line; chapter body changed", file)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
