package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/novel/internal/project"
)

// Project is a throwaway project directory for tests.
type Project struct {
	t    testing.TB
	Proj project.Project
}

// NewProject creates a project in t.TempDir() with a fresh checkpoint
// (nothing committed, volume 1).
func NewProject(t testing.TB) *Project {
	t.Helper()
	p := &Project{t: t, Proj: project.Project{Root: t.TempDir()}}
	p.Write(project.CheckpointFile, `{"last_completed_chapter":0,"current_volume":1}`)
	return p
}

// Root returns the project root.
func (p *Project) Root() string {
	return p.Proj.Root
}

// Write creates rel with content, creating parent directories.
func (p *Project) Write(rel, content string) {
	p.t.Helper()
	abs := p.Proj.Abs(rel)
	require.NoError(p.t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(p.t, os.WriteFile(abs, []byte(content), 0o644))
}

// WriteJSON marshals v into rel.
func (p *Project) WriteJSON(rel string, v any) {
	p.t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(p.t, err)
	p.Write(rel, string(data)+"\n")
}

// Read returns the content of rel.
func (p *Project) Read(rel string) string {
	p.t.Helper()
	data, err := os.ReadFile(p.Proj.Abs(rel))
	require.NoError(p.t, err)
	return string(data)
}

// ReadJSON decodes rel into a generic map.
func (p *Project) ReadJSON(rel string) map[string]any {
	p.t.Helper()
	var v map[string]any
	require.NoError(p.t, json.Unmarshal([]byte(p.Read(rel)), &v))
	return v
}

// Exists reports whether rel exists.
func (p *Project) Exists(rel string) bool {
	_, err := os.Stat(p.Proj.Abs(rel))
	return err == nil
}

// Remove deletes rel.
func (p *Project) Remove(rel string) {
	p.t.Helper()
	require.NoError(p.t, os.RemoveAll(p.Proj.Abs(rel)))
}

// Checkpoint replaces the checkpoint file.
func (p *Project) Checkpoint(content string) {
	p.t.Helper()
	p.Write(project.CheckpointFile, content)
}

// Snapshot reads every regular file under the project (except the lock
// directory) keyed by slash path.
func (p *Project) Snapshot() map[string]string {
	p.t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(p.Root(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == project.LockDir {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[p.Proj.Rel(path)] = string(data)
		return nil
	})
	require.NoError(p.t, err)
	return out
}

// StageOptions customizes StageChapter.
type StageOptions struct {
	Title       string
	Body        string
	Storyline   string
	BaseVersion int
	Ops         []map[string]any
	Eval        map[string]any
	SkipEval    bool
}

// StageChapter writes a complete set of staging artifacts for chapter.
func (p *Project) StageChapter(chapter int, opts StageOptions) {
	p.t.Helper()
	if opts.Title == "" {
		opts.Title = fmt.Sprintf("Chapter %d Dawn", chapter)
	}
	if opts.Body == "" {
		opts.Body = "The caravan reached the river at dusk.\n\nNobody spoke of the lantern."
	}
	if opts.Storyline == "" {
		opts.Storyline = "main"
	}
	if opts.Ops == nil {
		opts.Ops = []map[string]any{}
	}

	s := project.Staging(chapter)
	p.Write(s.Chapter, "# "+opts.Title+"\n\n"+opts.Body+"\n")
	p.Write(s.Summary, fmt.Sprintf("Summary of chapter %d.\n", chapter))
	p.WriteJSON(s.Delta, map[string]any{
		"chapter":            chapter,
		"base_state_version": opts.BaseVersion,
		"storyline_id":       opts.Storyline,
		"ops":                opts.Ops,
	})
	p.WriteJSON(s.Crossref, map[string]any{"chapter": chapter, "refs": []any{}})
	p.Write(project.StagingMemory(opts.Storyline), "Memory note.\n")
	if opts.SkipEval {
		return
	}
	eval := opts.Eval
	if eval == nil {
		eval = map[string]any{
			"chapter":        chapter,
			"overall":        4.2,
			"recommendation": "pass",
		}
	}
	p.WriteJSON(s.Eval, eval)
}
