package audit

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/novel/internal/project"
)

// Options configures a post-commit run.
type Options struct {
	Chapter  int
	Schedule Schedule
	// Platform is copied into the dormancy view.
	Platform   string
	Thresholds Thresholds
	Now        func() time.Time
}

// Result lists what a run wrote and what went wrong.
type Result struct {
	Written  []string `json:"written"`
	Warnings []string `json:"warnings"`
}

func (r *Result) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Warn(msg)
	r.Warnings = append(r.Warnings, msg)
}

// Run executes the audits a commit scheduled. It never fails: each audit
// that cannot complete adds a warning and the others still run.
//
// Volume-end audits left pending by an earlier crash run first, ordered by
// volume. A pending marker whose volume report already exists is stale and
// is only cleared.
func Run(proj project.Project, opts Options) Result {
	var res Result
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := opts.Schedule

	tasks := map[int]Range{}
	pending, warnings, err := ListPending(proj)
	res.Warnings = append(res.Warnings, warnings...)
	if err != nil {
		res.warn("Failed to list pending volume-end audit markers: %v", err)
	}
	for _, pm := range pending {
		done, err := project.Exists(proj.Abs(project.VolumeContinuityReport(pm.Marker.Volume)))
		if err == nil && done {
			if err := project.RemoveIfExists(proj.Abs(pm.Rel)); err != nil {
				res.warn("Failed to clear stale pending audit marker %s: %v", pm.Rel, err)
			}
			continue
		}
		tasks[pm.Marker.Volume] = pm.Marker.Range()
	}
	if s.VolumeEnd && s.VolumeRange != nil {
		tasks[s.Volume] = *s.VolumeRange
	}

	volumes := make([]int, 0, len(tasks))
	for v := range tasks {
		volumes = append(volumes, v)
	}
	sort.Ints(volumes)
	for _, v := range volumes {
		r := tasks[v]
		if err := WriteMarker(proj, v, r, now()); err != nil {
			res.warn("Failed to write pending volume-end audit marker: %s. %v", project.PendingAuditMarker(v), err)
		}
		if err := res.continuity(proj, v, ScopeVolumeEnd, r, now()); err != nil {
			res.warn("Continuity audit skipped (volume_end): %v", err)
			continue
		}
		if err := ClearMarker(proj, v); err != nil {
			res.warn("Failed to clear pending volume-end audit marker: %v", err)
		}
	}

	if s.Periodic != nil {
		if err := res.continuity(proj, s.Volume, ScopePeriodic, *s.Periodic, now()); err != nil {
			res.warn("Continuity audit skipped (periodic): %v", err)
		}
	}

	if err := res.dormancy(proj, opts, now()); err != nil {
		res.warn("Foreshadow visibility maintenance skipped: %v", err)
	}
	return res
}

func (res *Result) continuity(proj project.Project, volume int, scope Scope, r Range, now time.Time) error {
	report, err := Continuity(proj, volume, scope, r, now)
	if err != nil {
		return err
	}
	written, err := WriteContinuity(proj, report)
	res.Written = append(res.Written, written...)
	if err != nil {
		return err
	}
	if report.Stats.ChaptersChecked > 0 && report.Stats.ReadFailed == report.Stats.ChaptersChecked {
		res.warn("Continuity audit degraded (%s): %d chapters could not be read; report may be empty.", scope, report.Stats.ReadFailed)
	}
	return nil
}

func (res *Result) dormancy(proj project.Project, opts Options, now time.Time) error {
	reg, err := LoadRegistry(proj)
	if err != nil {
		return err
	}
	t := opts.Thresholds
	if t == (Thresholds{}) {
		t = DefaultThresholds
	}
	report, err := Dormancy(reg, opts.Chapter, opts.Schedule.Volume, opts.Platform, t, now)
	if err != nil {
		return err
	}
	written, err := WriteDormancy(proj, report, opts.Schedule.ForeshadowHistory)
	res.Written = append(res.Written, written...)
	return err
}
