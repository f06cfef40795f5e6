package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a pipeline scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Checkpoint replaces the initial checkpoint. Empty means nothing
	// committed in volume 1.
	Checkpoint string `yaml:"checkpoint,omitempty"`

	// Files are written into the project before the flow runs, keyed by
	// project-relative path.
	Files map[string]string `yaml:"files,omitempty"`

	// Flow is executed in order. A step whose expectation fails is
	// recorded and the flow continues.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and project state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one action in the flow. Which fields apply depends on Do.
type FlowStep struct {
	Do string `yaml:"do"`

	// Step is the step id for validate, prepare and advance.
	Step string `yaml:"step,omitempty"`

	// Chapter is the chapter for stage and commit.
	Chapter int  `yaml:"chapter,omitempty"`
	DryRun  bool `yaml:"dry_run,omitempty"`

	// Storyline, Ops and Eval shape the artifacts written by stage.
	Storyline   string           `yaml:"storyline,omitempty"`
	BaseVersion int              `yaml:"base_version,omitempty"`
	Ops         []map[string]any `yaml:"ops,omitempty"`
	Eval        map[string]any   `yaml:"eval,omitempty"`

	// Path and Content are used by write and remove.
	Path    string `yaml:"path,omitempty"`
	Content string `yaml:"content,omitempty"`

	// Expect checks the step's trace event. Without it the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a flow step.
type ExpectClause struct {
	// Error is the expected error kind. Empty means success.
	Error string `yaml:"error,omitempty"`

	// Detail, when set, must equal the event detail: the resolved step for
	// next, the new stage for advance, the transaction id for commit.
	Detail string `yaml:"detail,omitempty"`
}

// Assertion validates the trace or the project after the flow.
type Assertion struct {
	Type string `yaml:"type"`

	// Action, Outcome and Target are used by trace_contains and trace_count.
	Action  string `yaml:"action,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Target  string `yaml:"target,omitempty"`

	// Count is used by trace_count and journal_count.
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (used by trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Expect holds checkpoint fields; a null value expects null or absent.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Path is used by file_exists and file_absent.
	Path string `yaml:"path,omitempty"`
}

// Flow actions.
const (
	ActionWrite     = "write"
	ActionRemove    = "remove"
	ActionStage     = "stage"
	ActionNext      = "next"
	ActionValidate  = "validate"
	ActionPrepare   = "prepare"
	ActionAdvance   = "advance"
	ActionCommit    = "commit"
	ActionLockClear = "lock_clear"
)

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertCheckpoint    = "checkpoint"
	AssertFileExists    = "file_exists"
	AssertFileAbsent    = "file_absent"
	AssertJournalCount  = "journal_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *FlowStep) error {
	switch s.Do {
	case "":
		return fmt.Errorf("flow[%d]: do is required", index)
	case ActionWrite, ActionRemove:
		if s.Path == "" {
			return fmt.Errorf("flow[%d]: path is required for %s", index, s.Do)
		}
	case ActionStage:
		if s.Chapter < 1 {
			return fmt.Errorf("flow[%d]: chapter is required for stage", index)
		}
	case ActionValidate, ActionPrepare, ActionAdvance:
		if s.Step == "" {
			return fmt.Errorf("flow[%d]: step is required for %s", index, s.Do)
		}
	case ActionNext, ActionCommit, ActionLockClear:
		// commit passes chapter through so invalid chapters can be exercised
	default:
		return fmt.Errorf("flow[%d]: unknown action %q", index, s.Do)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertCheckpoint:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for checkpoint", index)
		}
	case AssertFileExists, AssertFileAbsent:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
	case AssertJournalCount:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for journal_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
