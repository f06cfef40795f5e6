package audit

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/roach88/novel/internal/state"
)

// Confidence grades how firmly a time marker anchors a chapter.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

func (c Confidence) rank() int {
	if c == ConfidenceHigh {
		return 0
	}
	return 1
}

// Mention is one line of a chapter that names an entity.
type Mention struct {
	Line    int
	Snippet string
}

// TimeMarker is a phrase that places a chapter in story time.
type TimeMarker struct {
	Text       string
	Confidence Confidence
	Mention    Mention
}

var timeMarkers = []struct {
	re   *regexp.Regexp
	conf Confidence
}{
	{regexp.MustCompile(`第[0-9一二三四五六七八九十百千两]+年(?:[春夏秋冬][初末]?)?`), ConfidenceHigh},
	{regexp.MustCompile(`(?:初|暮|深|晚|仲)[春夏秋冬]|[春夏秋冬](?:初|末|日|夜|季)`), ConfidenceHigh},
	{regexp.MustCompile(`(?i)\b(?:early|late|mid)?\s*(?:spring|summer|autumn|winter)\b`), ConfidenceHigh},
	{regexp.MustCompile(`翌日|次日|当晚|当夜|清晨|黎明|黄昏|傍晚|深夜|午后|正午|[数三两]日后`), ConfidenceMedium},
	{regexp.MustCompile(`(?i)\b(?:next morning|that night|at dawn|at dusk|midnight|the next day)\b`), ConfidenceMedium},
}

// Season returns the season a marker names, or "".
func Season(marker string) string {
	lower := strings.ToLower(marker)
	switch {
	case strings.Contains(marker, "春") || strings.Contains(lower, "spring"):
		return "spring"
	case strings.Contains(marker, "夏") || strings.Contains(lower, "summer"):
		return "summer"
	case strings.Contains(marker, "秋") || strings.Contains(lower, "autumn") || strings.Contains(lower, "fall"):
		return "autumn"
	case strings.Contains(marker, "冬") || strings.Contains(lower, "winter"):
		return "winter"
	}
	return ""
}

// Lexicon is the set of names the scanner looks for, taken from the state
// document. Each alias maps to its canonical display name.
type Lexicon struct {
	characters map[string]string
	locations  []string
}

// LexiconFrom collects character names and aliases and location names.
func LexiconFrom(st *state.State) Lexicon {
	lx := Lexicon{characters: map[string]string{}}
	if st == nil {
		return lx
	}
	chars, _ := st.Doc["characters"].(map[string]any)
	for id, raw := range chars {
		obj, _ := raw.(map[string]any)
		name, _ := obj["display_name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			name = strings.TrimSpace(id)
		}
		if name == "" {
			continue
		}
		lx.characters[name] = name
		aliases, _ := obj["aliases"].([]any)
		for _, a := range aliases {
			if s, ok := a.(string); ok && strings.TrimSpace(s) != "" {
				lx.characters[strings.TrimSpace(s)] = name
			}
		}
	}
	seen := map[string]bool{}
	locs, _ := st.Doc["locations"].(map[string]any)
	for id, raw := range locs {
		name := strings.TrimSpace(id)
		if obj, ok := raw.(map[string]any); ok {
			if s, ok := obj["display_name"].(string); ok && strings.TrimSpace(s) != "" {
				name = strings.TrimSpace(s)
			}
		}
		if name != "" && !seen[name] {
			seen[name] = true
			lx.locations = append(lx.locations, name)
		}
	}
	// Longest first so "北城门" wins over "北城".
	sort.Slice(lx.locations, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(lx.locations[i]), utf8.RuneCountInString(lx.locations[j])
		if li != lj {
			return li > lj
		}
		return lx.locations[i] < lx.locations[j]
	})
	return lx
}

// Facts are the entities found in one chapter.
type Facts struct {
	Chapter    int
	Primary    *TimeMarker
	Characters map[string][]Mention
}

// Scan extracts facts from chapter text.
func (lx Lexicon) Scan(chapter int, text string) Facts {
	f := Facts{Chapter: chapter, Characters: map[string][]Mention{}}
	names := make([]string, 0, len(lx.characters))
	for n := range lx.characters {
		names = append(names, n)
	}
	sort.Strings(names)

	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := Mention{Line: i + 1, Snippet: truncate(line, 160)}
		for _, tm := range timeMarkers {
			hit := strings.TrimSpace(tm.re.FindString(line))
			if hit == "" {
				continue
			}
			cand := &TimeMarker{Text: hit, Confidence: tm.conf, Mention: m}
			if better(cand, f.Primary) {
				f.Primary = cand
			}
		}
		for _, n := range names {
			if !strings.Contains(line, n) {
				continue
			}
			canon := lx.characters[n]
			ms := f.Characters[canon]
			if len(ms) == 0 || ms[len(ms)-1].Line != m.Line {
				f.Characters[canon] = append(ms, m)
			}
		}
	}
	return f
}

// better orders markers by confidence, then earliest line, then the longer
// phrase, then text.
func better(a, b *TimeMarker) bool {
	if b == nil {
		return true
	}
	if a.Confidence.rank() != b.Confidence.rank() {
		return a.Confidence.rank() < b.Confidence.rank()
	}
	if a.Mention.Line != b.Mention.Line {
		return a.Mention.Line < b.Mention.Line
	}
	if la, lb := utf8.RuneCountInString(a.Text), utf8.RuneCountInString(b.Text); la != lb {
		return la > lb
	}
	return a.Text < b.Text
}

// LocationIn returns the longest known location named in snippet.
func (lx Lexicon) LocationIn(snippet string) string {
	for _, loc := range lx.locations {
		if strings.Contains(snippet, loc) {
			return loc
		}
	}
	return ""
}

func truncate(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxRunes-1]) + "…"
}

var idReplacer = strings.NewReplacer("|", "／", ":", "：", "=", "＝")

// idSafe makes s usable inside a "key=value:key=value" issue id.
func idSafe(s string) string {
	return idReplacer.Replace(strings.Join(strings.Fields(s), "_"))
}
