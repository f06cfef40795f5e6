// Package audit runs the non-blocking checks that follow a successful commit:
// the continuity audit (periodic and volume-end), crash recovery for
// interrupted volume-end audits, and the foreshadow dormancy view.
//
// Nothing in this package can fail a commit. Every failure is reported as a
// warning string and logged at Warn.
package audit

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"

	"github.com/roach88/novel/internal/project"
)

// Range is an inclusive chapter range. Start is at least 1.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether r is a usable range.
func (r Range) Valid() bool {
	return r.Start >= 1 && r.End >= r.Start
}

var (
	outlineHeading = regexp.MustCompile(`^###\s*(?:第\s*(\d+)\s*章|[Cc]hapter\s+(\d+)\b)`)
	contractFile   = regexp.MustCompile(`^chapter-(\d{3})\.json$`)
)

// VolumeRange resolves the planned chapter range of a volume from its outline
// headings, falling back to the chapter contract files. ok is false when
// neither source names a chapter.
func VolumeRange(proj project.Project, volume int) (Range, bool, error) {
	r, ok, err := outlineRange(proj, volume)
	if err != nil || ok {
		return r, ok, err
	}
	return contractRange(proj, volume)
}

func outlineRange(proj project.Project, volume int) (Range, bool, error) {
	f, err := os.Open(proj.Abs(project.VolumeOutline(volume)))
	if errors.Is(err, fs.ErrNotExist) {
		return Range{}, false, nil
	}
	if err != nil {
		return Range{}, false, err
	}
	defer f.Close()

	var nums []int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := outlineHeading.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		if n, err := strconv.Atoi(digits); err == nil && n > 0 {
			nums = append(nums, n)
		}
	}
	if err := sc.Err(); err != nil {
		return Range{}, false, err
	}
	return spanOf(nums)
}

func contractRange(proj project.Project, volume int) (Range, bool, error) {
	entries, err := os.ReadDir(proj.Abs(project.VolumeContracts(volume)))
	if errors.Is(err, fs.ErrNotExist) {
		return Range{}, false, nil
	}
	if err != nil {
		return Range{}, false, err
	}
	var nums []int
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := contractFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			nums = append(nums, n)
		}
	}
	return spanOf(nums)
}

func spanOf(nums []int) (Range, bool, error) {
	if len(nums) == 0 {
		return Range{}, false, nil
	}
	sort.Ints(nums)
	return Range{Start: nums[0], End: nums[len(nums)-1]}, true, nil
}

// Schedule decides which audits a commit of chapter triggers.
type Schedule struct {
	Volume      int
	VolumeRange *Range
	// VolumeEnd is set when the chapter closes its volume's planned range.
	VolumeEnd bool
	// Periodic is the sliding-window continuity range, when one is due.
	Periodic *Range
	// ForeshadowHistory is the range of the dormancy history file, when one is due.
	ForeshadowHistory *Range
}

// Cadence controls how often the periodic audits run.
type Cadence struct {
	PeriodicEvery    int
	ForeshadowWindow int
}

// window is the size of the sliding range ending at chapter.
const window = 10

func windowEndingAt(chapter int) *Range {
	return &Range{Start: max(1, chapter-window+1), End: chapter}
}

// Plan computes the schedule for committing chapter in volume. A volume
// range that cannot be resolved simply disables the volume-end audit.
func Plan(proj project.Project, volume, chapter int, c Cadence) Schedule {
	s := Schedule{Volume: volume}
	if r, ok, err := VolumeRange(proj, volume); err == nil && ok {
		s.VolumeRange = &r
		s.VolumeEnd = chapter == r.End
	}
	if c.PeriodicEvery > 0 && chapter%c.PeriodicEvery == 0 && !s.VolumeEnd {
		s.Periodic = windowEndingAt(chapter)
	}
	switch {
	case s.VolumeEnd:
		r := *s.VolumeRange
		s.ForeshadowHistory = &r
	case c.ForeshadowWindow > 0 && chapter%c.ForeshadowWindow == 0:
		s.ForeshadowHistory = &Range{Start: max(1, chapter-c.ForeshadowWindow+1), End: chapter}
	}
	return s
}

// PlanLines describes the audit writes for a dry run.
func (s Schedule) PlanLines() []string {
	var lines []string
	if s.Periodic != nil {
		lines = append(lines, "WRITE "+ContinuityHistoryPath(s.Volume, *s.Periodic)+" (+ latest.json)")
	}
	if s.VolumeEnd && s.VolumeRange != nil {
		lines = append(lines,
			"WRITE "+project.VolumeContinuityReport(s.Volume),
			"WRITE "+ContinuityHistoryPath(s.Volume, *s.VolumeRange)+" (+ latest.json)",
		)
	}
	lines = append(lines, "WRITE "+ForeshadowLatestPath+" (monotonic)")
	if s.ForeshadowHistory != nil {
		lines = append(lines, "WRITE "+ForeshadowHistoryPath(s.Volume, *s.ForeshadowHistory))
	}
	return lines
}

func rangeSuffix(volume int, r Range) string {
	return "vol-" + project.Pad2(volume) + "-ch" + project.Pad3(r.Start) + "-ch" + project.Pad3(r.End) + ".json"
}
