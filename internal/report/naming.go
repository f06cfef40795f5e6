package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/roach88/novel/internal/policy"
)

// DefaultNearDuplicateThreshold applies when the profile sets none.
const DefaultNearDuplicateThreshold = 0.88

// Naming lints character names in the merged state for duplicates, alias
// collisions and near-duplicates.
type Naming struct{}

func (Naming) Spec() Spec {
	return Spec{Kind: "naming", Dir: "logs/naming", EvalKey: "naming_lint", Enforced: true, UsesState: true}
}

type nameEntry struct {
	id      string
	display string
	aliases []string
}

// nameKey folds case and drops whitespace.
func nameKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "||" + b
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Similarity scores two names in [0,1]. Short names are scored with a
// steeper curve so one differing character in a two-character name does not
// count as near-identical.
func Similarity(a, b string) float64 {
	ra, rb := []rune(nameKey(a)), []rune(nameKey(b))
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	maxLen := max(len(ra), len(rb))
	ratio := float64(levenshtein(ra, rb)) / float64(maxLen)
	sim := 1 - ratio
	if maxLen <= 4 {
		sim = 1 - math.Pow(ratio, 4)
	}
	return math.Round(math.Max(0, math.Min(1, sim))*1000) / 1000
}

func characterEntries(doc map[string]any) []nameEntry {
	chars, _ := doc["characters"].(map[string]any)
	var out []nameEntry
	for id, raw := range chars {
		obj, _ := raw.(map[string]any)
		display, _ := obj["display_name"].(string)
		display = strings.TrimSpace(display)
		if display == "" {
			continue
		}
		e := nameEntry{id: id, display: display}
		seen := map[string]bool{nameKey(display): true}
		list, _ := obj["aliases"].([]any)
		for _, a := range list {
			s, _ := a.(string)
			s = strings.TrimSpace(s)
			if s == "" || seen[nameKey(s)] {
				continue
			}
			seen[nameKey(s)] = true
			e.aliases = append(e.aliases, s)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (nm Naming) Produce(in Input) (*Report, error) {
	kind := nm.Spec().Kind
	var cfg *policy.Naming
	if in.Profile != nil {
		cfg = in.Profile.Naming
	}
	if cfg == nil || !cfg.Enabled || in.State == nil {
		return skippedReport(kind, in), nil
	}

	threshold := cfg.NearDuplicateThreshold
	if threshold == 0 {
		threshold = DefaultNearDuplicateThreshold
	}
	blocking := map[string]bool{}
	for _, t := range cfg.BlockingConflictTypes {
		blocking[t] = true
	}
	severity := func(conflict string) policy.Severity {
		if blocking[conflict] {
			return policy.SeverityHard
		}
		return policy.SeveritySoft
	}
	ignored := map[string]bool{}
	allowed := map[string]bool{}
	if cfg.Exemptions != nil {
		for _, n := range cfg.Exemptions.IgnoreNames {
			ignored[nameKey(n)] = true
		}
		for _, p := range cfg.Exemptions.AllowPairs {
			allowed[pairKey(nameKey(p[0]), nameKey(p[1]))] = true
		}
	}

	entries := characterEntries(in.State.Doc)
	var issues []policy.Issue

	byDisplay := map[string][]nameEntry{}
	type occurrence struct {
		id, kind, value string
	}
	byName := map[string][]occurrence{}
	for _, e := range entries {
		k := nameKey(e.display)
		if ignored[k] {
			continue
		}
		byDisplay[k] = append(byDisplay[k], e)
		byName[k] = append(byName[k], occurrence{e.id, "canonical", e.display})
		for _, a := range e.aliases {
			if ak := nameKey(a); !ignored[ak] {
				byName[ak] = append(byName[ak], occurrence{e.id, "alias", a})
			}
		}
	}

	for _, k := range sortedKeys(byDisplay) {
		bucket := byDisplay[k]
		if len(bucket) < 2 {
			continue
		}
		ids := make([]string, len(bucket))
		for i, e := range bucket {
			ids[i] = "characters." + e.id
		}
		issues = append(issues, policy.Issue{
			ID:         "naming.duplicate_display_name",
			Severity:   severity("duplicate"),
			Summary:    fmt.Sprintf("Duplicate character name detected: '%s' appears in %d entries.", bucket[0].display, len(bucket)),
			Evidence:   strings.Join(ids, " | "),
			Suggestion: "Rename one character or add an exemption if the overlap is intentional.",
		})
	}

	for _, k := range sortedKeys(byName) {
		bucket := byName[k]
		ids := map[string]bool{}
		alias := false
		var ev []string
		for _, o := range bucket {
			ids[o.id] = true
			alias = alias || o.kind == "alias"
			ev = append(ev, o.id+":"+o.kind)
		}
		if len(ids) < 2 || !alias {
			continue
		}
		issues = append(issues, policy.Issue{
			ID:         "naming.alias_collision",
			Severity:   severity("alias_collision"),
			Summary:    fmt.Sprintf("Alias collision detected: '%s' is associated with multiple characters.", bucket[0].value),
			Evidence:   strings.Join(ev, " | "),
			Suggestion: "Rename the alias or disambiguate it in the text.",
		})
	}

	var canon []nameEntry
	for _, e := range entries {
		if !ignored[nameKey(e.display)] {
			canon = append(canon, e)
		}
	}
	sort.Slice(canon, func(i, j int) bool {
		if canon[i].display != canon[j].display {
			return canon[i].display < canon[j].display
		}
		return canon[i].id < canon[j].id
	})
	near := 0
	for i := 0; i < len(canon) && near < 50; i++ {
		for j := i + 1; j < len(canon) && near < 50; j++ {
			a, b := canon[i], canon[j]
			ka, kb := nameKey(a.display), nameKey(b.display)
			if ka == kb || allowed[pairKey(ka, kb)] {
				continue
			}
			score := Similarity(a.display, b.display)
			if score < threshold {
				continue
			}
			near++
			issues = append(issues, policy.Issue{
				ID:         "naming.near_duplicate",
				Severity:   severity("near_duplicate"),
				Summary:    fmt.Sprintf("Near-duplicate names detected: '%s' vs '%s' (similarity=%g >= %g).", a.display, b.display, score, threshold),
				Evidence:   a.id + " | " + b.id,
				Suggestion: "Consider renaming, or disambiguate clearly when both names must coexist.",
			})
		}
	}

	r := newReport(kind, in, issues)
	total := 0
	for _, e := range entries {
		total += 1 + len(e.aliases)
	}
	r.Details = map[string]any{
		"near_duplicate_threshold": threshold,
		"blocking_conflict_types":  cfg.BlockingConflictTypes,
		"registry": map[string]int{
			"total_characters": len(entries),
			"total_names":      total,
		},
	}
	return r, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
