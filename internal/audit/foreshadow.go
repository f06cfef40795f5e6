package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/state"
)

const (
	ForeshadowDir        = "logs/foreshadowing"
	ForeshadowLatestPath = ForeshadowDir + "/latest.json"
)

// ForeshadowHistoryPath is the dormancy snapshot for a range.
func ForeshadowHistoryPath(volume int, r Range) string {
	return ForeshadowDir + "/foreshadow-visibility-" + rangeSuffix(volume, r)
}

// Thresholds is the number of silent chapters after which an open
// foreshadowing item counts as dormant, per scope.
type Thresholds struct {
	Short  int `json:"short"`
	Medium int `json:"medium"`
	Long   int `json:"long"`
}

func (t Thresholds) of(scope string) int {
	switch scope {
	case "short":
		return t.Short
	case "long":
		return t.Long
	}
	return t.Medium
}

// DefaultThresholds applies when the project names no genre drive.
var DefaultThresholds = Thresholds{Short: 6, Medium: 12, Long: 24}

// ThresholdsFor shifts the defaults for a genre drive type. Fast-moving
// genres tolerate shorter silences. Every threshold stays at least 1.
func ThresholdsFor(driveType string) Thresholds {
	adjust := 0
	switch driveType {
	case "suspense":
		adjust = -3
	case "plot":
		adjust = -2
	case "character":
		adjust = -1
	case "slice_of_life":
		adjust = 2
	}
	t := DefaultThresholds
	return Thresholds{
		Short:  max(1, t.Short+adjust),
		Medium: max(1, t.Medium+adjust),
		Long:   max(1, t.Long+adjust),
	}
}

// AsOf is the position a dormancy view was computed at.
type AsOf struct {
	Chapter *int `json:"chapter"`
	Volume  int  `json:"volume"`
}

// DormantItem is an open foreshadowing thread that has been silent too long.
type DormantItem struct {
	ID                      string  `json:"id"`
	Description             *string `json:"description"`
	Scope                   string  `json:"scope"`
	Status                  string  `json:"status"`
	LastUpdatedChapter      int     `json:"last_updated_chapter"`
	ChaptersSinceLastUpdate int     `json:"chapters_since_last_update"`
	DormancyThreshold       int     `json:"dormancy_threshold"`
	PlanningTask            string  `json:"planning_task"`
	WritingTask             string  `json:"writing_task"`
}

// DormancyCounts tallies dormant items.
type DormancyCounts struct {
	DormantTotal   int            `json:"dormant_total"`
	DormantByScope map[string]int `json:"dormant_by_scope"`
}

// DormancyReport is the foreshadow visibility view.
type DormancyReport struct {
	SchemaVersion int            `json:"schema_version"`
	GeneratedAt   string         `json:"generated_at"`
	AsOf          AsOf           `json:"as_of"`
	Platform      *string        `json:"platform"`
	Thresholds    Thresholds     `json:"thresholds"`
	DormantItems  []DormantItem  `json:"dormant_items"`
	Counts        DormancyCounts `json:"counts"`
}

func normScope(v any) string {
	s, _ := v.(string)
	switch s {
	case "short", "medium", "long":
		return s
	}
	return "medium"
}

func normStatus(v any) string {
	s, _ := v.(string)
	switch state.ForeshadowStatus(s) {
	case state.Planted, state.Advanced, state.Resolved:
		return s
	}
	return string(state.Planted)
}

func chapterOf(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, false
		}
		return int(i), true
	case int:
		return n, n >= 0
	}
	return 0, false
}

// Dormancy lists the unresolved items in reg that have gone at least their
// scope's threshold without an update, most neglected first.
func Dormancy(reg *state.Registry, chapter, volume int, platform string, t Thresholds, now time.Time) (*DormancyReport, error) {
	if chapter < 0 {
		return nil, errs.Validation("invalid chapter: %d", chapter)
	}
	if volume < 0 {
		return nil, errs.Validation("invalid volume: %d", volume)
	}

	dormant := []DormantItem{}
	for _, it := range reg.Items {
		status := normStatus(it["status"])
		if status == string(state.Resolved) {
			continue
		}
		scope := normScope(it["scope"])
		last, ok := chapterOf(it["last_updated_chapter"])
		if !ok {
			last, _ = chapterOf(it["planted_chapter"])
		}
		since := max(0, chapter-last)
		threshold := t.of(scope)
		if since < threshold {
			continue
		}

		id, _ := it["id"].(string)
		var desc *string
		label := id
		if s, ok := it["description"].(string); ok && strings.TrimSpace(s) != "" {
			s = strings.TrimSpace(s)
			desc, label = &s, s
		}
		note := fmt.Sprintf("Foreshadowing %q has been silent for %d chapters (%s, %s)", label, since, scope, status)
		dormant = append(dormant, DormantItem{
			ID:                      id,
			Description:             desc,
			Scope:                   scope,
			Status:                  status,
			LastUpdatedChapter:      last,
			ChaptersSinceLastUpdate: since,
			DormancyThreshold:       threshold,
			PlanningTask:            note + ". Schedule a light-touch echo in the next few chapters without paying it off early.",
			WritingTask:             note + ". Echo it once in this chapter with a line, an image or a small gesture; do not explain or resolve it.",
		})
	}
	sort.Slice(dormant, func(i, j int) bool {
		a, b := dormant[i], dormant[j]
		if a.ChaptersSinceLastUpdate != b.ChaptersSinceLastUpdate {
			return a.ChaptersSinceLastUpdate > b.ChaptersSinceLastUpdate
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		return a.ID < b.ID
	})

	byScope := map[string]int{"short": 0, "medium": 0, "long": 0}
	for _, d := range dormant {
		byScope[d.Scope]++
	}
	var pf *string
	if platform != "" {
		pf = &platform
	}
	ch := chapter
	return &DormancyReport{
		SchemaVersion: 1,
		GeneratedAt:   now.UTC().Format(timeLayout),
		AsOf:          AsOf{Chapter: &ch, Volume: volume},
		Platform:      pf,
		Thresholds:    t,
		DormantItems:  dormant,
		Counts:        DormancyCounts{DormantTotal: len(dormant), DormantByScope: byScope},
	}, nil
}

// LoadRegistry reads foreshadowing/global.json; a missing file is empty.
func LoadRegistry(proj project.Project) (*state.Registry, error) {
	data, err := os.ReadFile(proj.Abs(project.ForeshadowFile))
	if errors.Is(err, fs.ErrNotExist) {
		return state.NewRegistry(), nil
	}
	if err != nil {
		return nil, err
	}
	return state.ParseRegistry(data, project.ForeshadowFile)
}

// dormancyLatestWins keeps latest.json monotonic in as_of.chapter.
func dormancyLatestWins(existing *latestHeader, next *DormancyReport) bool {
	if existing.AsOf == nil || existing.AsOf.Chapter == nil || *existing.AsOf.Chapter < 0 {
		return true
	}
	cur, nxt := *existing.AsOf.Chapter, *next.AsOf.Chapter
	switch {
	case cur > nxt:
		return false
	case cur < nxt:
		return true
	}
	return existing.GeneratedAt == "" || existing.GeneratedAt < next.GeneratedAt
}

// WriteDormancy writes the history snapshot when history is set, and replaces
// latest.json unless it already describes a later chapter.
func WriteDormancy(proj project.Project, r *DormancyReport, history *Range) ([]string, error) {
	var written []string
	if history != nil {
		rel := ForeshadowHistoryPath(r.AsOf.Volume, *history)
		if err := project.WriteJSONAtomic(proj.Abs(rel), r); err != nil {
			return nil, fmt.Errorf("write foreshadow history: %w", err)
		}
		written = append(written, rel)
	}
	if existing, ok := readLatest(proj.Abs(ForeshadowLatestPath)); ok && !dormancyLatestWins(existing, r) {
		return written, nil
	}
	if err := project.WriteJSONAtomic(proj.Abs(ForeshadowLatestPath), r); err != nil {
		return written, fmt.Errorf("write foreshadow latest: %w", err)
	}
	return append(written, ForeshadowLatestPath), nil
}
