package report

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/policy"
	"github.com/roach88/novel/internal/project"
)

//go:embed cliche.cue
var clicheSchema string

// ClicheConfig is a validated web-novel-cliche-lint.json.
type ClicheConfig struct {
	SchemaVersion int
	LastUpdated   string
	Words         []string
	Categories    map[string][]string
	Default       policy.Severity
	PerCategory   map[string]policy.Severity
	PerWord       map[string]policy.Severity
	Whitelist     []string
	ExemptExact   []string
	ExemptRegex   []*regexp.Regexp
}

type rawClicheConfig struct {
	SchemaVersion int                 `json:"schema_version"`
	LastUpdated   *string             `json:"last_updated"`
	Words         []string            `json:"words"`
	Categories    map[string][]string `json:"categories"`
	Severity      struct {
		Default     policy.Severity            `json:"default"`
		PerCategory map[string]policy.Severity `json:"per_category"`
		PerWord     map[string]policy.Severity `json:"per_word"`
	} `json:"severity"`
	Whitelist  any `json:"whitelist"`
	Exemptions struct {
		Exact []string `json:"exact"`
		Regex []string `json:"regex"`
	} `json:"exemptions"`
}

// ParseCliche validates raw against the cliché config schema.
func ParseCliche(raw []byte) (*ClicheConfig, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(clicheSchema, cue.Filename("cliche.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile cliche schema: %w", err)
	}
	v := schema.Unify(ctx.CompileBytes(raw, cue.Filename(project.ClicheFile)))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid %s", project.ClicheFile)
	}
	var rc rawClicheConfig
	if err := v.Decode(&rc); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid %s", project.ClicheFile)
	}

	cfg := &ClicheConfig{
		SchemaVersion: rc.SchemaVersion,
		Words:         uniqueTrimmed(rc.Words),
		Categories:    map[string][]string{},
		Default:       rc.Severity.Default,
		PerCategory:   rc.Severity.PerCategory,
		PerWord:       rc.Severity.PerWord,
		ExemptExact:   uniqueTrimmed(rc.Exemptions.Exact),
	}
	if rc.LastUpdated != nil {
		cfg.LastUpdated = strings.TrimSpace(*rc.LastUpdated)
	}
	if cfg.Default == "" {
		cfg.Default = policy.SeverityWarn
	}
	for cat, words := range rc.Categories {
		cfg.Categories[cat] = uniqueTrimmed(words)
	}
	switch wl := rc.Whitelist.(type) {
	case []any:
		cfg.Whitelist = uniqueTrimmed(toStrings(wl))
	case map[string]any:
		list, _ := wl["words"].([]any)
		cfg.Whitelist = uniqueTrimmed(toStrings(list))
	}
	for i, pat := range uniqueTrimmed(rc.Exemptions.Regex) {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "invalid %s: exemptions.regex[%d]", project.ClicheFile, i)
		}
		cfg.ExemptRegex = append(cfg.ExemptRegex, re)
	}
	return cfg, nil
}

// LoadCliche reads the cliché config. A missing file returns nil, nil.
func LoadCliche(proj project.Project) (*ClicheConfig, error) {
	raw, err := os.ReadFile(proj.Abs(project.ClicheFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseCliche(raw)
}

func toStrings(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func uniqueTrimmed(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func sevRank(s policy.Severity) int {
	switch s {
	case policy.SeverityWarn:
		return 1
	case policy.SeveritySoft:
		return 2
	case policy.SeverityHard:
		return 3
	}
	return 0
}

type clicheWord struct {
	severity   policy.Severity
	categories []string
}

// index resolves every linted word to its categories and severity. A
// per-word severity wins; otherwise the strictest category severity applies.
func (c *ClicheConfig) index() map[string]clicheWord {
	skip := map[string]bool{}
	for _, w := range c.Whitelist {
		skip[w] = true
	}
	for _, w := range c.ExemptExact {
		skip[w] = true
	}
	cats := map[string]map[string]bool{}
	add := func(w, cat string) {
		if skip[w] {
			return
		}
		if cats[w] == nil {
			cats[w] = map[string]bool{}
		}
		if cat != "" {
			cats[w][cat] = true
		}
	}
	for _, w := range c.Words {
		add(w, "")
	}
	for cat, words := range c.Categories {
		for _, w := range words {
			add(w, cat)
		}
	}

	out := make(map[string]clicheWord, len(cats))
	for w, set := range cats {
		cw := clicheWord{severity: c.Default, categories: sortedKeys(set)}
		if s, ok := c.PerWord[w]; ok {
			cw.severity = s
		} else {
			for _, cat := range cw.categories {
				if s, ok := c.PerCategory[cat]; ok && sevRank(s) > sevRank(cw.severity) {
					cw.severity = s
				}
			}
		}
		out[w] = cw
	}
	return out
}

// Cliche counts configured stock phrases. Longer phrases are matched first
// and masked so a shorter phrase inside them is not counted twice.
type Cliche struct {
	Config *ClicheConfig
}

func (Cliche) Spec() Spec {
	return Spec{Kind: "cliche-lint", Dir: "logs/cliche-lint", EvalKey: "cliche_lint", Enforced: true}
}

// ClicheHit is one matched phrase.
type ClicheHit struct {
	PhraseHit
	Severity   policy.Severity `json:"severity"`
	Category   string          `json:"category,omitempty"`
	Categories []string        `json:"categories"`
}

func mask(text, phrase string) string {
	return strings.ReplaceAll(text, phrase, strings.Repeat("\x00", len(phrase)))
}

func perK(n, chars int) float64 {
	if chars == 0 {
		return 0
	}
	return math.Round(float64(n)/(float64(chars)/1000)*1000) / 1000
}

func (c Cliche) Produce(in Input) (*Report, error) {
	kind := c.Spec().Kind
	if c.Config == nil {
		return skippedReport(kind, in), nil
	}
	idx := c.Config.index()
	words := sortedKeys(idx)
	sort.SliceStable(words, func(i, j int) bool {
		return utf8.RuneCountInString(words[i]) > utf8.RuneCountInString(words[j])
	})

	masked := in.Text
	for _, w := range c.Config.ExemptExact {
		masked = mask(masked, w)
	}
	for _, re := range c.Config.ExemptRegex {
		masked = re.ReplaceAllStringFunc(masked, func(m string) string {
			return strings.Repeat("\x00", len(m))
		})
	}

	var hits []ClicheHit
	bySeverity := map[policy.Severity]int{policy.SeverityWarn: 0, policy.SeveritySoft: 0, policy.SeverityHard: 0}
	byCategory := map[string]int{}
	total := 0
	for _, w := range words {
		n := strings.Count(masked, w)
		if n == 0 {
			continue
		}
		masked = mask(masked, w)
		meta := idx[w]
		hit := ClicheHit{PhraseHit: FindPhrase(in.Text, w), Severity: meta.severity, Categories: meta.categories}
		hit.Count = n
		if len(meta.categories) > 0 {
			hit.Category = meta.categories[0]
			byCategory[hit.Category] += n
		}
		total += n
		bySeverity[meta.severity] += n
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Count != hits[j].Count {
			return hits[i].Count > hits[j].Count
		}
		if sevRank(hits[i].Severity) != sevRank(hits[j].Severity) {
			return sevRank(hits[i].Severity) > sevRank(hits[j].Severity)
		}
		return hits[i].Word < hits[j].Word
	})

	var issues []policy.Issue
	for _, h := range hits {
		ev := ""
		if len(h.Snippets) > 0 {
			ev = h.Snippets[0]
		}
		issues = append(issues, policy.Issue{
			ID:       "cliche_lint.hit",
			Severity: h.Severity,
			Summary:  fmt.Sprintf("%s x%d", h.Word, h.Count),
			Evidence: ev,
		})
	}

	chars := CountChars(in.Text)
	r := newReport(kind, in, issues)
	if hits == nil {
		hits = []ClicheHit{}
	}
	sevOut := map[policy.Severity]map[string]any{}
	for s, n := range bySeverity {
		sevOut[s] = map[string]any{"hits": n, "hits_per_kchars": perK(n, chars)}
	}
	catOut := map[string]map[string]any{}
	for cat, n := range byCategory {
		catOut[cat] = map[string]any{"hits": n, "hits_per_kchars": perK(n, chars)}
	}
	r.Details = map[string]any{
		"config":          map[string]any{"schema_version": c.Config.SchemaVersion, "last_updated": c.Config.LastUpdated},
		"chars":           chars,
		"total_hits":      total,
		"hits_per_kchars": perK(total, chars),
		"by_severity":     sevOut,
		"by_category":     catOut,
		"hits":            hits,
	}
	return r, nil
}
