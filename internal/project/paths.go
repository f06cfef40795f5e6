package project

import (
	"fmt"
	"path"
)

// Control files at the project root. All paths in this package are
// project-relative and slash-separated; use Project.Abs to resolve them.
const (
	CheckpointFile = ".checkpoint.json"
	LockDir        = ".novel.lock"
	LockInfoFile   = ".novel.lock/info.json"
	StateFile      = "state/current-state.json"
	ChangelogFile  = "state/changelog.jsonl"
	ForeshadowFile = "foreshadowing/global.json"
	ProfileFile    = "platform-profile.json"
	ClicheFile     = "web-novel-cliche-lint.json"
	ConfigFile     = "novel.yaml"
)

// Pad3 formats a chapter number as three digits.
func Pad3(n int) string {
	return fmt.Sprintf("%03d", n)
}

// Pad2 formats a volume number as two digits.
func Pad2(n int) string {
	return fmt.Sprintf("%02d", n)
}

// Staging returns the staged artifact paths for a chapter.
func Staging(chapter int) ArtifactSet {
	c := Pad3(chapter)
	return ArtifactSet{
		Chapter:  "staging/chapters/chapter-" + c + ".md",
		Summary:  "staging/summaries/chapter-" + c + "-summary.md",
		Delta:    "staging/state/chapter-" + c + "-delta.json",
		Crossref: "staging/state/chapter-" + c + "-crossref.json",
		Eval:     "staging/evaluations/chapter-" + c + "-eval.json",
	}
}

// Final returns the committed artifact paths for a chapter. Final has no delta:
// the delta is merged into the state file and then deleted.
func Final(chapter int) ArtifactSet {
	c := Pad3(chapter)
	return ArtifactSet{
		Chapter:  "chapters/chapter-" + c + ".md",
		Summary:  "summaries/chapter-" + c + "-summary.md",
		Crossref: "state/chapter-" + c + "-crossref.json",
		Eval:     "evaluations/chapter-" + c + "-eval.json",
	}
}

// ArtifactSet names the per-chapter files a stage produces.
type ArtifactSet struct {
	Chapter  string `json:"chapter"`
	Summary  string `json:"summary"`
	Delta    string `json:"delta,omitempty"`
	Crossref string `json:"crossref"`
	Eval     string `json:"eval"`
}

// StagingMemory is the staged storyline memory note.
func StagingMemory(storylineID string) string {
	return path.Join("staging/storylines", storylineID, "memory.md")
}

// FinalMemory is the committed storyline memory note.
func FinalMemory(storylineID string) string {
	return path.Join("storylines", storylineID, "memory.md")
}

// TitleFixSnapshot is the write-once copy of the draft taken before a title fix.
func TitleFixSnapshot(chapter int) string {
	return "staging/logs/title-fix-chapter-" + Pad3(chapter) + "-before.md"
}

// StyleChangesLog is the optional change log written by the refine stage.
func StyleChangesLog(chapter int) string {
	return "staging/logs/style-refiner-chapter-" + Pad3(chapter) + "-changes.json"
}

// VolumeDir is the planning directory for a volume.
func VolumeDir(volume int) string {
	return "volumes/vol-" + Pad2(volume)
}

// VolumeOutline is the outline whose chapter headings define a volume range.
func VolumeOutline(volume int) string {
	return VolumeDir(volume) + "/outline.md"
}

// VolumeContracts holds per-chapter contract files, the fallback range source.
func VolumeContracts(volume int) string {
	return VolumeDir(volume) + "/chapter-contracts"
}

// VolumeForeshadowSeed is the planned foreshadowing list for a volume.
func VolumeForeshadowSeed(volume int) string {
	return VolumeDir(volume) + "/foreshadowing.json"
}

// VolumeContinuityReport is written by the volume-end continuity audit.
func VolumeContinuityReport(volume int) string {
	return VolumeDir(volume) + "/continuity-report.json"
}

// PendingAuditMarker is the crash-recovery breadcrumb for a volume-end audit.
func PendingAuditMarker(volume int) string {
	return "logs/continuity/pending-volume-end-vol-" + Pad2(volume) + ".json"
}

// PendingAuditDir holds pending audit markers.
const PendingAuditDir = "logs/continuity"
