// Package state holds the authoritative world state file, the per-chapter
// delta records merged into it, and the foreshadowing registry.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/project"
)

// State is state/current-state.json. Doc carries every field, including the
// category maps; the three version fields are mirrored into Doc on Encode.
type State struct {
	SchemaVersion      int
	StateVersion       int
	LastUpdatedChapter int
	Doc                map[string]any
}

// Init returns the state used when no state file exists yet.
func Init() *State {
	return &State{
		SchemaVersion: 1,
		Doc: map[string]any{
			"characters":           map[string]any{},
			"world_state":          map[string]any{},
			"active_foreshadowing": []any{},
		},
	}
}

// Parse decodes and validates a state file.
func Parse(data []byte) (*State, error) {
	var doc map[string]any
	if err := project.DecodeJSON(data, &doc); err != nil || doc == nil {
		return nil, errs.Validation("invalid state file: %s must be an object", project.StateFile)
	}
	s := &State{Doc: doc}
	var err error
	if s.SchemaVersion, err = intField(doc, "schema_version", project.StateFile); err != nil {
		return nil, err
	}
	if s.StateVersion, err = intField(doc, "state_version", project.StateFile); err != nil {
		return nil, err
	}
	if s.LastUpdatedChapter, err = intField(doc, "last_updated_chapter", project.StateFile); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the state file at path, or returns Init when it does not exist.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Init(), nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Encode renders the state file.
func (s *State) Encode() ([]byte, error) {
	s.Doc["schema_version"] = s.SchemaVersion
	s.Doc["state_version"] = s.StateVersion
	s.Doc["last_updated_chapter"] = s.LastUpdatedChapter
	return project.MarshalJSON(s.Doc)
}

// Delta is staging/state/chapter-NNN-delta.json.
type Delta struct {
	Chapter          int
	BaseStateVersion int
	StorylineID      string
	Ops              []any

	// Line is the compact single-line form appended to the changelog.
	Line []byte
}

// ParseDelta decodes and structurally validates a delta. file names the
// source in error messages.
func ParseDelta(data []byte, file string) (*Delta, error) {
	var doc map[string]any
	if err := project.DecodeJSON(data, &doc); err != nil || doc == nil {
		return nil, errs.Validation("invalid delta file: %s must be an object", file)
	}
	d := &Delta{}
	var err error
	if d.Chapter, err = intField(doc, "chapter", file); err != nil {
		return nil, err
	}
	if d.BaseStateVersion, err = intField(doc, "base_state_version", file); err != nil {
		return nil, err
	}
	sid, ok := doc["storyline_id"].(string)
	if !ok || sid == "" {
		return nil, errs.Validation("invalid %s: 'storyline_id' must be a non-empty string", file)
	}
	if err := project.SafeRel(sid); err != nil {
		return nil, err
	}
	d.StorylineID = sid
	ops, ok := doc["ops"].([]any)
	if !ok {
		return nil, errs.Validation("invalid %s: 'ops' must be an array", file)
	}
	d.Ops = ops

	var line bytes.Buffer
	if err := json.Compact(&line, data); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid %s", file)
	}
	line.WriteByte('\n')
	d.Line = line.Bytes()
	return d, nil
}

func intField(doc map[string]any, field, file string) (int, error) {
	n, ok := toInt(doc[field])
	if !ok {
		return 0, errs.Validation("invalid %s: '%s' must be an int", file, field)
	}
	return n, nil
}

// toInt accepts json.Number or Go ints holding an integral value.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return int(i), true
		}
		f, err := n.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, false
		}
		return int(f), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
