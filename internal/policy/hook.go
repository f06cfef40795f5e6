package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// HookStatus is the outcome of CheckHook.
type HookStatus string

const (
	HookSkipped     HookStatus = "skipped"
	HookInvalidEval HookStatus = "invalid_eval"
	HookFail        HookStatus = "fail"
	HookPass        HookStatus = "pass"
)

// HookExtract is what CheckHook read from the evaluation record.
type HookExtract struct {
	Present  *bool    `json:"present"`
	Type     *string  `json:"type"`
	Evidence *string  `json:"evidence"`
	Strength *float64 `json:"strength"`
}

// HookResult is the outcome of CheckHook.
type HookResult struct {
	Status    HookStatus  `json:"status"`
	Reason    string      `json:"reason"`
	Extracted HookExtract `json:"extracted"`
}

// Verdict maps the hook result onto the common gate verdict. An invalid
// evaluation is reported as skipped here; commit and judge validation
// reject it separately.
func (r HookResult) Verdict() Verdict {
	switch r.Status {
	case HookPass:
		return VerdictOf(nil)
	case HookFail:
		return VerdictOf([]Issue{{
			ID:       "hook_policy.fail",
			Severity: SeverityHard,
			Summary:  r.Reason,
			Evidence: deref(r.Extracted.Evidence),
		}})
	default:
		return Skipped()
	}
}

// CheckHook evaluates the chapter-end hook recorded in an evaluation document.
// evalRaw is the decoded JSON of the eval file.
func CheckHook(hp *HookPolicy, evalRaw any) HookResult {
	if hp == nil || !hp.Required {
		return HookResult{Status: HookSkipped, Reason: "hook_policy.required=false"}
	}
	obj, ok := evalRaw.(map[string]any)
	if !ok {
		return HookResult{Status: HookInvalidEval, Reason: "eval is not a JSON object"}
	}

	var ex HookExtract
	var strengthEvidence *string
	ex.Strength, strengthEvidence = extractStrength(obj)
	if hook, ok := obj["hook"].(map[string]any); ok {
		if b, ok := hook["present"].(bool); ok {
			ex.Present = &b
		}
		ex.Type = nonEmpty(hook["type"])
		ex.Evidence = nonEmpty(hook["evidence"])
	}

	invalid := func(reason string) HookResult {
		return HookResult{Status: HookInvalidEval, Reason: reason, Extracted: ex}
	}
	if ex.Strength == nil || *ex.Strength < 1 || *ex.Strength > 5 {
		return invalid("missing or invalid scores.hook_strength.score (expected 1-5)")
	}
	if ex.Present == nil {
		return invalid("missing hook.present (expected boolean)")
	}
	if ex.Type == nil {
		return invalid("missing hook.type (expected non-empty string or 'none')")
	}
	if ex.Evidence == nil {
		ex.Evidence = strengthEvidence
	}
	if ex.Evidence == nil {
		return invalid("missing hook evidence snippet (expected hook.evidence or scores.hook_strength.evidence)")
	}

	fail := func(reason string) HookResult {
		return HookResult{Status: HookFail, Reason: reason, Extracted: ex}
	}
	if !*ex.Present || *ex.Type == "none" {
		return fail("missing chapter-end hook")
	}
	if len(hp.AllowedTypes) > 0 && !contains(hp.AllowedTypes, *ex.Type) {
		return fail("hook.type not allowed: " + *ex.Type)
	}
	minStrength := float64(hp.MinStrength)
	if minStrength == 0 {
		minStrength = 1
	}
	if *ex.Strength < minStrength {
		return fail(fmt.Sprintf("hook_strength %g < min_strength %g", *ex.Strength, minStrength))
	}
	return HookResult{Status: HookPass, Reason: "hook policy satisfied", Extracted: ex}
}

// extractStrength reads scores.hook_strength.score, then the legacy top-level
// hook_strength, then hook.strength.
func extractStrength(obj map[string]any) (*float64, *string) {
	if scores, ok := obj["scores"].(map[string]any); ok {
		if hs, ok := scores["hook_strength"].(map[string]any); ok {
			return number(hs["score"]), nonEmpty(hs["evidence"])
		}
	}
	if n := number(obj["hook_strength"]); n != nil {
		return n, nil
	}
	if hook, ok := obj["hook"].(map[string]any); ok {
		return number(hook["strength"]), nonEmpty(hook["evidence"])
	}
	return nil, nil
}

func number(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func nonEmpty(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
