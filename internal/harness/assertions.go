package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/novel/internal/project"
)

// evaluateAssertions checks every assertion and records failures on result.
// An error is returned only when the project cannot be inspected at all.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) error {
	for i, a := range assertions {
		msg, err := h.evaluate(ctx, a, result.Trace)
		if err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
		if msg != "" {
			result.AddError(fmt.Sprintf("assertions[%d] %s: %s", i, a.Type, msg))
		}
	}
	return nil
}

// evaluate returns a failure message, or "" when the assertion holds.
func (h *Harness) evaluate(ctx context.Context, a Assertion, trace []TraceEvent) (string, error) {
	switch a.Type {
	case AssertTraceContains:
		if len(matching(trace, a)) == 0 {
			return fmt.Sprintf("no %s event matching outcome=%q target=%q", a.Action, a.Outcome, a.Target), nil
		}
	case AssertTraceOrder:
		return assertOrder(trace, a.Actions), nil
	case AssertTraceCount:
		if n := len(matching(trace, a)); n != a.Count {
			return fmt.Sprintf("%s occurs %d times, want %d", a.Action, n, a.Count), nil
		}
	case AssertCheckpoint:
		return h.assertCheckpoint(a.Expect)
	case AssertFileExists:
		if !h.project.Exists(a.Path) {
			return a.Path + " does not exist", nil
		}
	case AssertFileAbsent:
		if h.project.Exists(a.Path) {
			return a.Path + " exists", nil
		}
	case AssertJournalCount:
		entries, err := h.journal.Recent(ctx, 1000)
		if err != nil {
			return "", err
		}
		n := 0
		for _, e := range entries {
			if string(e.Outcome) == a.Outcome {
				n++
			}
		}
		if n != a.Count {
			return fmt.Sprintf("%d %s entries, want %d", n, a.Outcome, a.Count), nil
		}
	default:
		return "", fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return "", nil
}

// matching returns the trace events for a.Action, filtered by a.Outcome and
// a.Target when they are set.
func matching(trace []TraceEvent, a Assertion) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Action != a.Action {
			continue
		}
		if a.Outcome != "" && ev.Outcome != a.Outcome {
			continue
		}
		if a.Target != "" && ev.Target != a.Target {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// assertOrder checks that actions appear as a subsequence of the trace.
func assertOrder(trace []TraceEvent, actions []string) string {
	next := 0
	for _, ev := range trace {
		if next < len(actions) && ev.Action == actions[next] {
			next++
		}
	}
	if next < len(actions) {
		return fmt.Sprintf("expected %s after [%s]", actions[next], strings.Join(actions[:next], ", "))
	}
	return ""
}

func (h *Harness) assertCheckpoint(expect map[string]any) (string, error) {
	var actual map[string]any
	if err := project.ReadJSON(h.project.Proj.Abs(project.CheckpointFile), &actual); err != nil {
		return "", err
	}
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var diffs []string
	for _, k := range keys {
		want, got := scalar(expect[k]), scalar(actual[k])
		if want != got {
			diffs = append(diffs, fmt.Sprintf("%s = %s, want %s", k, got, want))
		}
	}
	return strings.Join(diffs, "; "), nil
}

// scalar renders YAML and JSON values comparably: numbers by their decimal
// text, null and absent as "null".
func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case json.Number:
		return x.String()
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

