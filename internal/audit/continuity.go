package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/state"
)

// Scope says why a continuity audit ran.
type Scope string

const (
	ScopePeriodic  Scope = "periodic"
	ScopeVolumeEnd Scope = "volume_end"
)

func (s Scope) rank() int {
	if s == ScopeVolumeEnd {
		return 1
	}
	return 0
}

// Continuity issue types.
const (
	IssueLocation = "location_contradiction"
	IssueTimeline = "timeline_contradiction"
)

// Evidence points at a line of a committed chapter.
type Evidence struct {
	Chapter int    `json:"chapter"`
	Source  string `json:"source"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

// Entities lists what an issue is about.
type Entities struct {
	Characters  []string `json:"characters"`
	Locations   []string `json:"locations"`
	TimeMarkers []string `json:"time_markers"`
	Storylines  []string `json:"storylines"`
}

// ContinuityIssue is one suspected contradiction.
type ContinuityIssue struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Severity    string     `json:"severity"`
	Confidence  Confidence `json:"confidence"`
	Entities    Entities   `json:"entities"`
	Description string     `json:"description"`
	Evidence    []Evidence `json:"evidence"`
	Suggestions []string   `json:"suggestions"`
}

// ContinuityStats summarises an audit run.
type ContinuityStats struct {
	ChaptersChecked  int            `json:"chapters_checked"`
	ChaptersMissing  int            `json:"chapters_missing"`
	ReadFailed       int            `json:"read_failed"`
	IssuesTotal      int            `json:"issues_total"`
	IssuesBySeverity map[string]int `json:"issues_by_severity"`
}

// ContinuityReport is written to logs/continuity.
type ContinuityReport struct {
	SchemaVersion int               `json:"schema_version"`
	GeneratedAt   string            `json:"generated_at"`
	Scope         Scope             `json:"scope"`
	Volume        int               `json:"volume"`
	ChapterRange  [2]int            `json:"chapter_range"`
	Issues        []ContinuityIssue `json:"issues"`
	Stats         ContinuityStats   `json:"stats"`
}

// Range returns the report's chapter range.
func (r *ContinuityReport) Range() Range {
	return Range{Start: r.ChapterRange[0], End: r.ChapterRange[1]}
}

const (
	ContinuityDir        = "logs/continuity"
	ContinuityLatestPath = ContinuityDir + "/latest.json"
)

// ContinuityHistoryPath is the per-range report file.
func ContinuityHistoryPath(volume int, r Range) string {
	return ContinuityDir + "/continuity-report-" + rangeSuffix(volume, r)
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	}
	return 9
}

type chapterScan struct {
	facts Facts
	ok    bool
}

type continuityRun struct {
	proj  project.Project
	lx    Lexicon
	cache map[int]chapterScan
	stats ContinuityStats
}

func (cr *continuityRun) scan(chapter int) (Facts, bool, error) {
	if c, ok := cr.cache[chapter]; ok {
		return c.facts, c.ok, nil
	}
	data, err := os.ReadFile(cr.proj.Abs(project.Final(chapter).Chapter))
	if errors.Is(err, fs.ErrNotExist) {
		cr.cache[chapter] = chapterScan{}
		return Facts{}, false, nil
	}
	if err != nil {
		cr.cache[chapter] = chapterScan{}
		return Facts{}, false, err
	}
	f := cr.lx.Scan(chapter, string(data))
	cr.cache[chapter] = chapterScan{facts: f, ok: true}
	return f, true, nil
}

// Continuity audits the committed chapters in r. Entity names come from the
// current state document; a missing state yields an empty lexicon and only
// the timeline check can fire.
func Continuity(proj project.Project, volume int, scope Scope, r Range, now time.Time) (*ContinuityReport, error) {
	if !r.Valid() {
		return nil, errs.Validation("invalid chapter range: [%d, %d]", r.Start, r.End)
	}
	if volume < 0 {
		return nil, errs.Validation("invalid volume: %d", volume)
	}
	st, err := state.Load(proj.Abs(project.StateFile))
	if err != nil {
		return nil, err
	}

	cr := &continuityRun{proj: proj, lx: LexiconFrom(st), cache: map[int]chapterScan{}}
	var facts []Facts
	for c := r.Start; c <= r.End; c++ {
		f, ok, err := cr.scan(c)
		switch {
		case err != nil:
			cr.stats.ChaptersChecked++
			cr.stats.ReadFailed++
		case !ok:
			cr.stats.ChaptersMissing++
		default:
			cr.stats.ChaptersChecked++
			facts = append(facts, f)
		}
	}

	issues := cr.locationIssues(facts)
	issues = append(issues, cr.timelineIssues(r)...)
	sort.Slice(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if severityRank(a.Severity) != severityRank(b.Severity) {
			return severityRank(a.Severity) < severityRank(b.Severity)
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})

	cr.stats.IssuesTotal = len(issues)
	cr.stats.IssuesBySeverity = map[string]int{"high": 0, "medium": 0, "low": 0}
	for _, is := range issues {
		cr.stats.IssuesBySeverity[is.Severity]++
	}
	if issues == nil {
		issues = []ContinuityIssue{}
	}
	return &ContinuityReport{
		SchemaVersion: 1,
		GeneratedAt:   now.UTC().Format(timeLayout),
		Scope:         scope,
		Volume:        volume,
		ChapterRange:  [2]int{r.Start, r.End},
		Issues:        issues,
		Stats:         cr.stats,
	}, nil
}

type sighting struct {
	chapter    int
	mention    Mention
	confidence Confidence
}

// locationIssues flags a character seen in two places under the same
// primary time marker.
func (cr *continuityRun) locationIssues(facts []Facts) []ContinuityIssue {
	type groupKey struct{ character, marker string }
	groups := map[groupKey]map[string]sighting{}

	for _, f := range facts {
		if f.Primary == nil {
			continue
		}
		for character, mentions := range f.Characters {
			for _, m := range mentions {
				loc := cr.lx.LocationIn(m.Snippet)
				if loc == "" {
					continue
				}
				k := groupKey{character, f.Primary.Text}
				if groups[k] == nil {
					groups[k] = map[string]sighting{}
				}
				if _, seen := groups[k][loc]; !seen {
					groups[k][loc] = sighting{chapter: f.Chapter, mention: m, confidence: f.Primary.Confidence}
				}
			}
		}
	}

	var out []ContinuityIssue
	for k, locs := range groups {
		if len(locs) < 2 {
			continue
		}
		names := make([]string, 0, len(locs))
		for l := range locs {
			names = append(names, l)
		}
		sort.Strings(names)

		var evidence []Evidence
		high := 0
		for i, l := range names {
			if i == 5 {
				break
			}
			s := locs[l]
			if s.confidence == ConfidenceHigh {
				high++
			}
			evidence = append(evidence, Evidence{Chapter: s.chapter, Source: "chapter", Line: s.mention.Line, Snippet: s.mention.Snippet})
		}
		severity, conf := "medium", ConfidenceMedium
		if high >= 2 {
			severity, conf = "high", ConfidenceHigh
		}

		ids := make([]string, len(names))
		for i, n := range names {
			ids[i] = idSafe(n)
		}
		out = append(out, ContinuityIssue{
			ID:         fmt.Sprintf("location_contradiction:char=%s:time=%s:loc=%s", idSafe(k.character), idSafe(k.marker), strings.Join(ids, "|")),
			Type:       IssueLocation,
			Severity:   severity,
			Confidence: conf,
			Entities: Entities{
				Characters:  []string{k.character},
				Locations:   names,
				TimeMarkers: []string{k.marker},
				Storylines:  []string{},
			},
			Description: "Character appears in different locations under the same time marker.",
			Evidence:    evidence,
			Suggestions: []string{
				"Check whether the time marker should have advanced between these scenes.",
				"If the character did travel, add the journey or its cause.",
			},
		})
	}
	return out
}

var chapterRef = regexp.MustCompile(`(?i)[（(]\s*ch\s*(\d+)\s*[）)]`)

type contract struct {
	StorylineID string `json:"storyline_id"`
	Context     struct {
		ConcurrentState map[string]any `json:"concurrent_state"`
	} `json:"storyline_context"`
}

// findContract looks for a chapter contract in any volume directory.
func (cr *continuityRun) findContract(chapter int) *contract {
	entries, err := os.ReadDir(cr.proj.Abs("volumes"))
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() || !volDir.MatchString(e.Name()) {
			continue
		}
		rel := "volumes/" + e.Name() + "/chapter-contracts/chapter-" + project.Pad3(chapter) + ".json"
		data, err := os.ReadFile(cr.proj.Abs(rel))
		if err != nil {
			continue
		}
		var c contract
		if json.Unmarshal(data, &c) != nil {
			return nil
		}
		return &c
	}
	return nil
}

var volDir = regexp.MustCompile(`^vol-\d{2}$`)

// timelineIssues compares the season of a chapter with the season of the
// chapters its contract names as running concurrently on other storylines.
func (cr *continuityRun) timelineIssues(r Range) []ContinuityIssue {
	seen := map[string]bool{}
	var out []ContinuityIssue
	for c := r.Start; c <= r.End; c++ {
		ct := cr.findContract(c)
		if ct == nil || len(ct.Context.ConcurrentState) == 0 {
			continue
		}
		fa, ok, _ := cr.scan(c)
		if !ok || fa.Primary == nil || fa.Primary.Confidence != ConfidenceHigh {
			continue
		}
		seasonA := Season(fa.Primary.Text)
		if seasonA == "" {
			continue
		}

		others := make([]string, 0, len(ct.Context.ConcurrentState))
		for k := range ct.Context.ConcurrentState {
			others = append(others, k)
		}
		sort.Strings(others)
		for _, other := range others {
			summary, _ := ct.Context.ConcurrentState[other].(string)
			for _, ref := range chapterRefs(summary) {
				fb, ok, _ := cr.scan(ref)
				if !ok || fb.Primary == nil || fb.Primary.Confidence != ConfidenceHigh {
					continue
				}
				seasonB := Season(fb.Primary.Text)
				if seasonB == "" || seasonB == seasonA {
					continue
				}
				var storylines []string
				for _, s := range []string{strings.TrimSpace(ct.StorylineID), strings.TrimSpace(other)} {
					if s != "" {
						storylines = append(storylines, s)
					}
				}
				sort.Strings(storylines)
				safe := make([]string, len(storylines))
				for i, s := range storylines {
					safe[i] = idSafe(s)
				}
				id := fmt.Sprintf("timeline_contradiction:storylines=%s:time=%s|%s",
					strings.Join(safe, "|"), idSafe(fa.Primary.Text), idSafe(fb.Primary.Text))
				if seen[id] {
					continue
				}
				seen[id] = true
				out = append(out, ContinuityIssue{
					ID:         id,
					Type:       IssueTimeline,
					Severity:   "high",
					Confidence: ConfidenceHigh,
					Entities: Entities{
						Characters:  []string{},
						Locations:   []string{},
						TimeMarkers: []string{fa.Primary.Text, fb.Primary.Text},
						Storylines:  storylines,
					},
					Description: "Concurrent storylines are anchored in different seasons.",
					Evidence: []Evidence{
						{Chapter: c, Source: "chapter", Line: fa.Primary.Mention.Line, Snippet: fa.Primary.Mention.Snippet},
						{Chapter: ref, Source: "chapter", Line: fb.Primary.Mention.Line, Snippet: fb.Primary.Mention.Snippet},
					},
					Suggestions: []string{"Align the time anchors of the concurrent storylines or reorder the events."},
				})
			}
		}
	}
	return out
}

func chapterRefs(summary string) []int {
	var refs []int
	for _, m := range chapterRef.FindAllStringSubmatch(summary, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			refs = append(refs, n)
		}
	}
	sort.Ints(refs)
	return refs
}

// latestHeader is the part of a latest.json needed to order reports.
type latestHeader struct {
	SchemaVersion int    `json:"schema_version"`
	GeneratedAt   string `json:"generated_at"`
	Scope         Scope  `json:"scope"`
	ChapterRange  []int  `json:"chapter_range"`
	AsOf          *AsOf  `json:"as_of"`
}

func readLatest(path string) (*latestHeader, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var h latestHeader
	if json.Unmarshal(data, &h) != nil || h.SchemaVersion != 1 {
		return nil, false
	}
	return &h, true
}

// continuityLatestWins reports whether next should replace the existing
// latest report: a later end chapter wins, then volume_end over periodic,
// then the newer timestamp.
func continuityLatestWins(existing *latestHeader, next *ContinuityReport) bool {
	if len(existing.ChapterRange) != 2 || existing.ChapterRange[0] < 1 || existing.ChapterRange[1] < existing.ChapterRange[0] {
		return true
	}
	end := existing.ChapterRange[1]
	switch {
	case end > next.ChapterRange[1]:
		return false
	case end < next.ChapterRange[1]:
		return true
	case existing.Scope.rank() != next.Scope.rank():
		return next.Scope.rank() > existing.Scope.rank()
	}
	return existing.GeneratedAt == "" || existing.GeneratedAt < next.GeneratedAt
}

// WriteContinuity writes the history file, replaces latest.json when the
// report is at least as recent, and at volume end also writes the volume's
// report. It returns the project-relative paths written.
func WriteContinuity(proj project.Project, r *ContinuityReport) ([]string, error) {
	history := ContinuityHistoryPath(r.Volume, r.Range())
	if err := project.WriteJSONAtomic(proj.Abs(history), r); err != nil {
		return nil, fmt.Errorf("write continuity report: %w", err)
	}
	written := []string{history}

	if existing, ok := readLatest(proj.Abs(ContinuityLatestPath)); !ok || continuityLatestWins(existing, r) {
		if err := project.WriteJSONAtomic(proj.Abs(ContinuityLatestPath), r); err != nil {
			return written, fmt.Errorf("write continuity latest: %w", err)
		}
		written = append(written, ContinuityLatestPath)
	}

	if r.Scope == ScopeVolumeEnd {
		rel := project.VolumeContinuityReport(r.Volume)
		if err := project.WriteJSONAtomic(proj.Abs(rel), r); err != nil {
			return written, fmt.Errorf("write volume continuity report: %w", err)
		}
		written = append(written, rel)
	}
	return written, nil
}
