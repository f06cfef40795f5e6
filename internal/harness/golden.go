package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden form of a scenario run.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEvent `json:"trace"`
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t, scenario)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(TraceSnapshot{Scenario: scenario.Name, Trace: result.Trace}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trace snapshot: %w", err)
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, scenario.Name, append(data, '\n'))
	return result, nil
}
