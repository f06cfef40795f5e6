package harness

// TraceEvent is one executed flow step.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Action  string `json:"action"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"` // "ok" or the error kind
	Detail  string `json:"detail,omitempty"`
}

// OutcomeOK marks a step that returned no error.
const OutcomeOK = "ok"

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors lists every failed expectation; empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(action, target, outcome, detail string) TraceEvent {
	ev := TraceEvent{
		Seq:     len(r.Trace) + 1,
		Action:  action,
		Target:  target,
		Outcome: outcome,
		Detail:  detail,
	}
	r.Trace = append(r.Trace, ev)
	return ev
}
