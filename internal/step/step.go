// Package step defines the immutable Step value and its canonical string id
// "chapter:<NNN>:<stage>".
package step

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/novel/internal/errs"
)

// Stage is one phase of a chapter's production lifecycle.
type Stage string

const (
	Draft     Stage = "draft"
	Summarize Stage = "summarize"
	Refine    Stage = "refine"
	Judge     Stage = "judge"
	TitleFix  Stage = "title-fix"
	HookFix   Stage = "hook-fix"
	Review    Stage = "review"
	Commit    Stage = "commit"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{Draft, Summarize, Refine, Judge, TitleFix, HookFix, Review, Commit}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// Step names a stage of one chapter. The only kind is "chapter".
type Step struct {
	Chapter int
	Stage   Stage
}

// New builds a step, validating the chapter and stage.
func New(chapter int, stage Stage) (Step, error) {
	if chapter < 1 {
		return Step{}, errs.Validation("chapter must be >= 1").With("chapter", strconv.Itoa(chapter))
	}
	if !stage.Valid() {
		return Step{}, errs.Validation("unknown stage %q", string(stage))
	}
	return Step{Chapter: chapter, Stage: stage}, nil
}

// Parse reads a canonical step id such as "chapter:001:draft". The chapter
// part must be all digits; padding is accepted but not required.
func Parse(id string) (Step, error) {
	parts := strings.Split(strings.TrimSpace(id), ":")
	if len(parts) != 3 {
		return Step{}, errs.Validation("invalid step id %q, expected chapter:NNN:stage", id)
	}
	if parts[0] != "chapter" {
		return Step{}, errs.Validation("unsupported step kind %q", parts[0])
	}
	if parts[1] == "" || strings.TrimLeft(parts[1], "0123456789") != "" {
		return Step{}, errs.Validation("invalid chapter in step id %q", id)
	}
	chapter, err := strconv.Atoi(parts[1])
	if err != nil {
		return Step{}, errs.Wrap(errs.KindValidation, err, "invalid chapter in step id %q", id)
	}
	return New(chapter, Stage(parts[2]))
}

// String returns the canonical id with a three-digit chapter.
func (s Step) String() string {
	return fmt.Sprintf("chapter:%03d:%s", s.Chapter, s.Stage)
}

// MarshalText implements encoding.TextMarshaler so steps render as ids in JSON.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Step) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
