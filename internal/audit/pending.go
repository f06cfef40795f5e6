package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/roach88/novel/internal/project"
)

// timeLayout matches the checkpoint timestamps so latest.json ordering by
// generated_at is a plain string comparison.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Marker records a volume-end audit that was started but has not finished.
// It is written before the audit runs and removed after its reports are on
// disk, so a crash in between leaves the audit queued for the next commit.
type Marker struct {
	SchemaVersion int    `json:"schema_version"`
	CreatedAt     string `json:"created_at"`
	Volume        int    `json:"volume"`
	ChapterRange  [2]int `json:"chapter_range"`
}

// Range returns the marker's chapter range.
func (m Marker) Range() Range {
	return Range{Start: m.ChapterRange[0], End: m.ChapterRange[1]}
}

// PendingMarker pairs a marker with its project-relative path.
type PendingMarker struct {
	Rel    string
	Marker Marker
}

var markerName = regexp.MustCompile(`^pending-volume-end-vol-(\d{2})\.json$`)

// ParseMarker decodes and validates a marker.
func ParseMarker(data []byte) (Marker, bool) {
	var raw struct {
		SchemaVersion *int    `json:"schema_version"`
		CreatedAt     *string `json:"created_at"`
		Volume        *int    `json:"volume"`
		ChapterRange  []int   `json:"chapter_range"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Marker{}, false
	}
	if raw.SchemaVersion == nil || *raw.SchemaVersion != 1 {
		return Marker{}, false
	}
	if raw.CreatedAt == nil || *raw.CreatedAt == "" || raw.Volume == nil || *raw.Volume < 0 {
		return Marker{}, false
	}
	if len(raw.ChapterRange) != 2 {
		return Marker{}, false
	}
	m := Marker{
		SchemaVersion: 1,
		CreatedAt:     *raw.CreatedAt,
		Volume:        *raw.Volume,
		ChapterRange:  [2]int{raw.ChapterRange[0], raw.ChapterRange[1]},
	}
	if !m.Range().Valid() {
		return Marker{}, false
	}
	return m, true
}

// ListPending returns the valid markers ordered by volume then range start.
// Unreadable or invalid markers are skipped with a warning.
func ListPending(proj project.Project) ([]PendingMarker, []string, error) {
	entries, err := os.ReadDir(proj.Abs(project.PendingAuditDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var out []PendingMarker
	var warnings []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !markerName.MatchString(e.Name()) {
			continue
		}
		rel := project.PendingAuditDir + "/" + e.Name()
		data, err := os.ReadFile(proj.Abs(rel))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to read pending volume-end audit marker: %s. %v", rel, err))
			continue
		}
		m, ok := ParseMarker(data)
		if !ok {
			warnings = append(warnings, "Ignoring invalid pending volume-end audit marker: "+rel)
			continue
		}
		out = append(out, PendingMarker{Rel: rel, Marker: m})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Marker, out[j].Marker
		if a.Volume != b.Volume {
			return a.Volume < b.Volume
		}
		return a.ChapterRange[0] < b.ChapterRange[0]
	})
	return out, warnings, nil
}

// WriteMarker creates the marker for volume unless one already exists.
func WriteMarker(proj project.Project, volume int, r Range, now time.Time) error {
	rel := project.PendingAuditMarker(volume)
	if ok, err := project.Exists(proj.Abs(rel)); err != nil || ok {
		return err
	}
	return project.WriteJSONAtomic(proj.Abs(rel), Marker{
		SchemaVersion: 1,
		CreatedAt:     now.UTC().Format(timeLayout),
		Volume:        volume,
		ChapterRange:  [2]int{r.Start, r.End},
	})
}

// ClearMarker removes the marker for volume.
func ClearMarker(proj project.Project, volume int) error {
	return project.RemoveIfExists(proj.Abs(project.PendingAuditMarker(volume)))
}
