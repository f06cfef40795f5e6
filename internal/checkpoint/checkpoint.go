// Package checkpoint reads, validates and writes the persisted pipeline
// position record (.checkpoint.json).
//
// Decoding is strict: non-integers, negative counters and unknown stage names
// are rejected rather than coerced. Fields this package does not know about
// are preserved verbatim on write.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"os"
	"strconv"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/lock"
	"github.com/roach88/novel/internal/project"
)

// Stage is the persisted pipeline stage. The zero value means no stage
// (fresh start) and is written as null.
type Stage string

const (
	StageNone      Stage = ""
	StageDrafting  Stage = "drafting"
	StageDrafted   Stage = "drafted"
	StageRefined   Stage = "refined"
	StageJudged    Stage = "judged"
	StageRevising  Stage = "revising"
	StageCommitted Stage = "committed"
)

// Stages lists every non-empty pipeline stage.
var Stages = []Stage{StageDrafting, StageDrafted, StageRefined, StageJudged, StageRevising, StageCommitted}

func (s Stage) valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// Checkpoint is the single durable record of pipeline position.
type Checkpoint struct {
	LastCompletedChapter int
	CurrentVolume        int
	PipelineStage        Stage
	InflightChapter      *int
	RevisionCount        int
	HookFixCount         int
	TitleFixCount        int
	LastCheckpointTime   string

	// Extra holds every field not listed above, byte for byte.
	Extra map[string]json.RawMessage
}

const (
	keyLastCompleted = "last_completed_chapter"
	keyVolume        = "current_volume"
	keyStage         = "pipeline_stage"
	keyInflight      = "inflight_chapter"
	keyRevision      = "revision_count"
	keyHookFix       = "hook_fix_count"
	keyTitleFix      = "title_fix_count"
	keyTime          = "last_checkpoint_time"
	keyOrchestrator  = "orchestrator_state"
	keyPending       = "pending_actions"
)

// Inflight returns the inflight chapter and whether one is set.
func (c *Checkpoint) Inflight() (int, bool) {
	if c.InflightChapter == nil {
		return 0, false
	}
	return *c.InflightChapter, true
}

// SetInflight sets or clears the inflight chapter.
func (c *Checkpoint) SetInflight(chapter int, ok bool) {
	if !ok {
		c.InflightChapter = nil
		return
	}
	c.InflightChapter = &chapter
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	out := *c
	if c.InflightChapter != nil {
		v := *c.InflightChapter
		out.InflightChapter = &v
	}
	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

// Parse decodes and validates checkpoint bytes.
func Parse(data []byte) (*Checkpoint, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return nil, errs.Validation("%s must be a JSON object", project.CheckpointFile)
	}

	cp := &Checkpoint{Extra: map[string]json.RawMessage{}}
	var err error

	if cp.LastCompletedChapter, err = requiredCount(fields, keyLastCompleted); err != nil {
		return nil, err
	}
	if cp.CurrentVolume, err = requiredCount(fields, keyVolume); err != nil {
		return nil, err
	}
	if cp.RevisionCount, err = optionalCount(fields, keyRevision); err != nil {
		return nil, err
	}
	if cp.HookFixCount, err = optionalCount(fields, keyHookFix); err != nil {
		return nil, err
	}
	if cp.TitleFixCount, err = optionalCount(fields, keyTitleFix); err != nil {
		return nil, err
	}

	if raw, ok := fields[keyStage]; ok && !isNull(raw) {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil, fieldError(keyStage, "must be a string or null")
		}
		if !Stage(s).valid() {
			return nil, fieldError(keyStage, "must be one of drafting, drafted, refined, judged, revising, committed (or null)").
				With("value", s)
		}
		cp.PipelineStage = Stage(s)
	}

	if raw, ok := fields[keyInflight]; ok && !isNull(raw) {
		n, err := parseCount(raw)
		if err != nil {
			return nil, fieldError(keyInflight, "must be an int >= 0 or null")
		}
		cp.InflightChapter = &n
	}

	if raw, ok := fields[keyTime]; ok {
		if json.Unmarshal(raw, &cp.LastCheckpointTime) != nil {
			return nil, fieldError(keyTime, "must be a string")
		}
	}

	if raw, ok := fields[keyOrchestrator]; ok {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil, fieldError(keyOrchestrator, "must be a string")
		}
	}
	if raw, ok := fields[keyPending]; ok {
		var arr []json.RawMessage
		if json.Unmarshal(raw, &arr) != nil || arr == nil {
			return nil, fieldError(keyPending, "must be an array")
		}
	}

	for k, v := range fields {
		switch k {
		case keyLastCompleted, keyVolume, keyStage, keyInflight, keyRevision, keyHookFix, keyTitleFix, keyTime:
		default:
			cp.Extra[k] = v
		}
	}
	return cp, nil
}

// MarshalJSON renders the checkpoint with stable key order. Stage and
// inflight chapter are always present, as null when unset.
func (c *Checkpoint) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+8)
	for k, v := range c.Extra {
		out[k] = v
	}
	out[keyLastCompleted] = c.LastCompletedChapter
	out[keyVolume] = c.CurrentVolume
	if c.PipelineStage == StageNone {
		out[keyStage] = nil
	} else {
		out[keyStage] = string(c.PipelineStage)
	}
	out[keyInflight] = c.InflightChapter
	out[keyRevision] = c.RevisionCount
	out[keyHookFix] = c.HookFixCount
	out[keyTitleFix] = c.TitleFixCount
	if c.LastCheckpointTime != "" {
		out[keyTime] = c.LastCheckpointTime
	}
	return json.Marshal(out)
}

func fieldError(key, msg string) *errs.Error {
	return errs.Validation("%s.%s %s", project.CheckpointFile, key, msg)
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func requiredCount(fields map[string]json.RawMessage, key string) (int, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, fieldError(key, "is required")
	}
	n, err := parseCount(raw)
	if err != nil {
		return 0, fieldError(key, "must be an int >= 0").With("value", string(raw))
	}
	return n, nil
}

func optionalCount(fields map[string]json.RawMessage, key string) (int, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, nil
	}
	n, err := parseCount(raw)
	if err != nil {
		return 0, fieldError(key, "must be an int >= 0").With("value", string(raw))
	}
	return n, nil
}

var errNotCount = errors.New("not a non-negative integer")

// parseCount accepts a bare JSON number with an integral value >= 0.
// Strings, fractions and negatives are rejected.
func parseCount(raw json.RawMessage) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, errNotCount
	}
	if i, err := strconv.ParseInt(num.String(), 10, 64); err == nil {
		if i < 0 || i > math.MaxInt32 {
			return 0, errNotCount
		}
		return int(i), nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, errNotCount
	}
	return int(f), nil
}

// Store reads and writes the checkpoint of one project.
type Store struct {
	proj project.Project
}

// NewStore creates a Store for proj.
func NewStore(proj project.Project) *Store {
	return &Store{proj: proj}
}

// Path returns the absolute checkpoint path.
func (s *Store) Path() string {
	return s.proj.Abs(project.CheckpointFile)
}

// Read loads and validates the checkpoint. Callers that mutate must read
// inside the lock rather than reuse an earlier copy.
func (s *Store) Read() (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.Precondition("missing %s", project.CheckpointFile)
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Write persists cp atomically. Holding the project lock is required.
func (s *Store) Write(h *lock.Held, cp *Checkpoint) error {
	if h == nil {
		return errors.New("checkpoint write outside the project lock")
	}
	data, err := project.MarshalJSON(cp)
	if err != nil {
		return err
	}
	return project.WriteFileAtomic(s.Path(), data)
}

// Encode renders cp exactly as Write would store it.
func Encode(cp *Checkpoint) ([]byte, error) {
	return project.MarshalJSON(cp)
}
