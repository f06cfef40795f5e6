package report

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CountChars counts non-whitespace runes, the platforms' notion of length.
func CountChars(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// PhraseHit is where a literal phrase occurs in a text.
type PhraseHit struct {
	Word     string   `json:"word"`
	Count    int      `json:"count"`
	Lines    []int    `json:"lines"`
	Snippets []string `json:"snippets"`
}

// FindPhrase counts non-overlapping occurrences of phrase and collects up to
// 20 line numbers and 5 snippets.
func FindPhrase(text, phrase string) PhraseHit {
	hit := PhraseHit{Word: phrase, Lines: []int{}, Snippets: []string{}}
	if phrase == "" {
		return hit
	}
	hit.Count = strings.Count(text, phrase)
	if hit.Count == 0 {
		return hit
	}
	for i, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, phrase) {
			continue
		}
		if len(hit.Lines) < 20 {
			hit.Lines = append(hit.Lines, i+1)
		}
		if len(hit.Snippets) < 5 {
			hit.Snippets = append(hit.Snippets, snippet(line, 160))
		}
	}
	return hit
}

// snippet collapses whitespace and truncates to max runes.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}

// paragraph is a blank-line separated block of a markdown chapter.
type paragraph struct {
	index     int
	raw       string
	chars     int
	heading   bool
	dialogue  bool
	multiline bool
}

func isHeading(line string) bool {
	line = strings.TrimPrefix(line, "\uFEFF")
	t := strings.TrimLeft(line, " ")
	if len(line)-len(t) > 3 {
		return false
	}
	n := 0
	for n < len(t) && t[n] == '#' {
		n++
	}
	return n >= 1 && n <= 6 && n < len(t) && (t[n] == ' ' || t[n] == '\t')
}

// paragraphs splits text into paragraphs, dropping fenced code blocks.
func paragraphs(text string) []paragraph {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []paragraph
	var buf []string
	flush := func() {
		if len(buf) == 0 {
			return
		}
		raw := strings.TrimRight(strings.Join(buf, "\n"), " \t\n")
		buf = nil
		if strings.TrimSpace(raw) == "" {
			return
		}
		first := raw
		if i := strings.IndexByte(raw, '\n'); i >= 0 {
			first = raw[:i]
		}
		out = append(out, paragraph{
			index:     len(out) + 1,
			raw:       raw,
			chars:     CountChars(raw),
			heading:   isHeading(first),
			dialogue:  strings.ContainsAny(raw, "\"“”"),
			multiline: strings.Contains(raw, "\n"),
		})
	}

	inFence := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			flush()
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return out
}
