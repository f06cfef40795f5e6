package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/novel/internal/policy"
)

// PlatformConstraints checks chapter length, banned words, duplicate entity
// display names and mixed simplified/traditional script against the profile.
type PlatformConstraints struct{}

func (PlatformConstraints) Spec() Spec {
	return Spec{
		Kind:      "platform-constraints",
		Dir:       "logs/platform-constraints",
		EvalKey:   "platform_constraints",
		Enforced:  true,
		UsesState: true,
	}
}

// DuplicateName is one display name shared by several entities.
type DuplicateName struct {
	DisplayName string   `json:"display_name"`
	EntityPaths []string `json:"entity_paths"`
}

var nameCategories = []string{"characters", "items", "locations", "factions"}

// DuplicateDisplayNames finds display names used by more than one entity
// across the named state categories.
func DuplicateDisplayNames(doc map[string]any) []DuplicateName {
	index := map[string][]string{}
	for _, cat := range nameCategories {
		entries, _ := doc[cat].(map[string]any)
		for id, raw := range entries {
			entry, _ := raw.(map[string]any)
			name, _ := entry["display_name"].(string)
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			index[name] = append(index[name], cat+"."+id)
		}
	}
	var out []DuplicateName
	for name, paths := range index {
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)
		out = append(out, DuplicateName{DisplayName: name, EntityPaths: paths})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

// scriptPairs are characters whose simplified and traditional forms differ.
var scriptPairs = [][2]string{
	{"后", "後"}, {"发", "發"}, {"说", "說"}, {"这", "這"}, {"们", "們"},
	{"来", "來"}, {"时", "時"}, {"个", "個"}, {"国", "國"}, {"会", "會"},
	{"对", "對"}, {"没", "沒"}, {"为", "為"}, {"还", "還"}, {"过", "過"},
}

type scriptSignal struct {
	Simplified  []string `json:"simplified"`
	Traditional []string `json:"traditional"`
}

func detectScript(text string) scriptSignal {
	sig := scriptSignal{Simplified: []string{}, Traditional: []string{}}
	for _, p := range scriptPairs {
		if strings.Contains(text, p[0]) && len(sig.Simplified) < 5 {
			sig.Simplified = append(sig.Simplified, p[0])
		}
		if strings.Contains(text, p[1]) && len(sig.Traditional) < 5 {
			sig.Traditional = append(sig.Traditional, p[1])
		}
	}
	return sig
}

func (pc PlatformConstraints) Produce(in Input) (*Report, error) {
	if in.Profile == nil {
		return skippedReport(pc.Spec().Kind, in), nil
	}
	var issues []policy.Issue

	chars := CountChars(in.Text)
	wc := in.Profile.WordCount
	wcStatus := policy.StatusPass
	switch {
	case chars < wc.HardMin || chars > wc.HardMax:
		wcStatus = policy.StatusViolation
		issues = append(issues, policy.Issue{
			ID:         "word_count.hard_violation",
			Severity:   policy.SeverityHard,
			Summary:    fmt.Sprintf("Word count %d is outside hard range %d-%d.", chars, wc.HardMin, wc.HardMax),
			Suggestion: "Revise the chapter length to fit platform hard bounds.",
		})
	case chars < wc.TargetMin || chars > wc.TargetMax:
		wcStatus = policy.StatusWarn
		issues = append(issues, policy.Issue{
			ID:         "word_count.target_deviation",
			Severity:   policy.SeveritySoft,
			Summary:    fmt.Sprintf("Word count %d is outside target range %d-%d (within hard bounds).", chars, wc.TargetMin, wc.TargetMax),
			Suggestion: "Consider adjusting chapter length to better match platform target range.",
		})
	}

	var banned []PhraseHit
	total := 0
	for _, w := range in.Profile.Compliance.BannedWords {
		if hit := FindPhrase(in.Text, w); hit.Count > 0 {
			banned = append(banned, hit)
			total += hit.Count
		}
	}
	sort.SliceStable(banned, func(i, j int) bool {
		if banned[i].Count != banned[j].Count {
			return banned[i].Count > banned[j].Count
		}
		return banned[i].Word < banned[j].Word
	})
	if total > 0 {
		top := banned[0]
		ev := top.Word + fmt.Sprintf(" x%d", top.Count)
		if len(top.Snippets) > 0 {
			ev += " (" + top.Snippets[0] + ")"
		}
		issues = append(issues, policy.Issue{
			ID:         "compliance.banned_words",
			Severity:   policy.SeverityHard,
			Summary:    fmt.Sprintf("Detected banned words (%d hits).", total),
			Evidence:   ev,
			Suggestion: "Remove or replace banned words.",
		})
	}

	var dups []DuplicateName
	if in.State != nil {
		dups = DuplicateDisplayNames(in.State.Doc)
	}
	if len(dups) > 0 {
		issues = append(issues, policy.Issue{
			ID:         "compliance.duplicate_names",
			Severity:   in.Profile.Compliance.DuplicateNamePolicy,
			Summary:    fmt.Sprintf("Duplicate display_name detected (%d).", len(dups)),
			Evidence:   dups[0].DisplayName + ": " + strings.Join(dups[0].EntityPaths, ", "),
			Suggestion: "Rename or consolidate duplicate entities to keep display names unique.",
		})
	}

	script := detectScript(in.Text)
	if len(script.Simplified) > 0 && len(script.Traditional) > 0 {
		issues = append(issues, policy.Issue{
			ID:         "compliance.script_inconsistency",
			Severity:   policy.SeverityWarn,
			Summary:    "Mixed simplified/traditional Chinese signals detected in chapter text.",
			Evidence:   "simplified_samples=" + strings.Join(script.Simplified, "") + " traditional_samples=" + strings.Join(script.Traditional, ""),
			Suggestion: "Normalize text to a single writing system (simplified or traditional).",
		})
	}

	r := newReport(pc.Spec().Kind, in, issues)
	if banned == nil {
		banned = []PhraseHit{}
	}
	if dups == nil {
		dups = []DuplicateName{}
	}
	r.Details = map[string]any{
		"platform": in.Profile.Platform,
		"word_count": map[string]any{
			"chars":      chars,
			"target_min": wc.TargetMin,
			"target_max": wc.TargetMax,
			"hard_min":   wc.HardMin,
			"hard_max":   wc.HardMax,
			"status":     wcStatus,
		},
		"banned_words":       map[string]any{"total_hits": total, "hits": banned},
		"duplicate_names":    map[string]any{"policy": in.Profile.Compliance.DuplicateNamePolicy, "duplicates": dups},
		"script_consistency": script,
	}
	return r, nil
}
