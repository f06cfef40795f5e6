// Package policy loads the platform profile and implements the title and
// hook policy checks consumed by the resolver and the commit engine.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/project"
)

//go:embed profile.cue
var profileSchema string

// Profile is a validated platform-profile.json.
type Profile struct {
	SchemaVersion int          `json:"schema_version"`
	Platform      string       `json:"platform"`
	CreatedAt     string       `json:"created_at"`
	WordCount     WordCount    `json:"word_count"`
	InfoLoad      InfoLoad     `json:"info_load"`
	Compliance    Compliance   `json:"compliance"`
	HookPolicy    *HookPolicy  `json:"hook_policy,omitempty"`
	Retention     *Retention   `json:"retention,omitempty"`
	Readability   *Readability `json:"readability,omitempty"`
	Naming        *Naming      `json:"naming,omitempty"`

	titleForbidden []*regexp.Regexp
	titleRequired  []*regexp.Regexp
}

type WordCount struct {
	TargetMin int `json:"target_min"`
	TargetMax int `json:"target_max"`
	HardMin   int `json:"hard_min"`
	HardMax   int `json:"hard_max"`
}

type InfoLoad struct {
	MaxNewEntitiesPerChapter     int     `json:"max_new_entities_per_chapter"`
	MaxUnknownEntitiesPerChapter int     `json:"max_unknown_entities_per_chapter"`
	MaxNewTermsPer1kWords        float64 `json:"max_new_terms_per_1k_words"`
}

type Compliance struct {
	BannedWords         []string          `json:"banned_words"`
	DuplicateNamePolicy Severity          `json:"duplicate_name_policy"`
	ScriptPaths         map[string]string `json:"script_paths,omitempty"`
}

type HookPolicy struct {
	Required     bool     `json:"required"`
	MinStrength  int      `json:"min_strength"`
	AllowedTypes []string `json:"allowed_types"`
	FixStrategy  string   `json:"fix_strategy"`
}

type Retention struct {
	TitlePolicy *TitlePolicy `json:"title_policy,omitempty"`
}

type TitlePolicy struct {
	Enabled           bool     `json:"enabled"`
	MinChars          int      `json:"min_chars"`
	MaxChars          int      `json:"max_chars"`
	ForbiddenPatterns []string `json:"forbidden_patterns"`
	RequiredPatterns  []string `json:"required_patterns,omitempty"`
	AutoFix           bool     `json:"auto_fix"`
}

type Readability struct {
	Mobile *MobileReadability `json:"mobile,omitempty"`
}

type MobileReadability struct {
	Enabled                            bool   `json:"enabled"`
	MaxParagraphChars                  int    `json:"max_paragraph_chars"`
	MaxConsecutiveExpositionParagraphs int    `json:"max_consecutive_exposition_paragraphs,omitempty"`
	BlockingSeverity                   string `json:"blocking_severity"`
}

type Naming struct {
	Enabled                bool             `json:"enabled"`
	NearDuplicateThreshold float64          `json:"near_duplicate_threshold,omitempty"`
	BlockingConflictTypes  []string         `json:"blocking_conflict_types,omitempty"`
	Exemptions             *NamingExemption `json:"exemptions,omitempty"`
}

// NamingExemption lists names and name pairs the naming lint ignores.
type NamingExemption struct {
	IgnoreNames []string    `json:"ignore_names,omitempty"`
	AllowPairs  [][2]string `json:"allow_pairs,omitempty"`
}

// TitlePolicy returns the title policy, or nil when none is configured.
func (p *Profile) TitlePolicy() *TitlePolicy {
	if p == nil || p.Retention == nil {
		return nil
	}
	return p.Retention.TitlePolicy
}

// Hook returns the hook policy, or nil when none is configured.
func (p *Profile) Hook() *HookPolicy {
	if p == nil {
		return nil
	}
	return p.HookPolicy
}

// ParseProfile validates raw JSON against the profile schema and decodes it.
func ParseProfile(raw []byte) (*Profile, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(profileSchema, cue.Filename("profile.cue")).LookupPath(cue.ParsePath("#Profile"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile profile schema: %w", err)
	}

	data := ctx.CompileBytes(raw, cue.Filename(project.ProfileFile))
	if err := data.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var p Profile
	if err := v.Decode(&p); err != nil {
		return nil, formatCUEError(err)
	}

	p.Compliance.BannedWords = dedupeTrimmed(p.Compliance.BannedWords)
	if p.HookPolicy != nil {
		p.HookPolicy.AllowedTypes = dedupeTrimmed(p.HookPolicy.AllowedTypes)
	}
	if tp := p.TitlePolicy(); tp != nil {
		var err error
		if p.titleForbidden, err = compilePatterns(tp.ForbiddenPatterns, "retention.title_policy.forbidden_patterns"); err != nil {
			return nil, err
		}
		if p.titleRequired, err = compilePatterns(tp.RequiredPatterns, "retention.title_policy.required_patterns"); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// LoadProfile reads platform-profile.json. A missing file returns nil, nil.
func LoadProfile(proj project.Project) (*Profile, error) {
	raw, err := os.ReadFile(proj.Abs(project.ProfileFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseProfile(raw)
}

func compilePatterns(patterns []string, field string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "invalid %s: %s[%d]", project.ProfileFile, field, i)
		}
		out = append(out, re)
	}
	return out, nil
}

func dedupeTrimmed(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// formatCUEError reduces a CUE error list to one validation error carrying
// the first problem and its source position.
func formatCUEError(err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return errs.Wrap(errs.KindValidation, err, "invalid %s", project.ProfileFile)
	}
	first := list[0]
	e := errs.Validation("invalid %s: %s", project.ProfileFile, first.Error())
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e = e.With("pos", positions[0].String())
	}
	return e
}
