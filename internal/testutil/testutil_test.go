package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/novel/internal/project"
)

func TestFixedClock(t *testing.T) {
	c := NewFixedClock(time.Time{})
	assert.Equal(t, Epoch, c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, Epoch.Add(time.Minute), c.Now())

	c.Set(Epoch)
	assert.Equal(t, Epoch, c.Now())
}

func TestSequenceIDs(t *testing.T) {
	g := NewSequenceIDs("")
	assert.Equal(t, "tx-0001", g.Generate())
	assert.Equal(t, "tx-0002", g.Generate())
}

func TestStageChapterWritesAllArtifacts(t *testing.T) {
	p := NewProject(t)
	p.StageChapter(2, StageOptions{})

	s := project.Staging(2)
	for _, rel := range []string{s.Chapter, s.Summary, s.Delta, s.Crossref, s.Eval, project.StagingMemory("main")} {
		assert.True(t, p.Exists(rel), rel)
	}
	assert.Contains(t, p.Read(s.Chapter), "# Chapter 2 Dawn")
	assert.Contains(t, p.Snapshot(), project.CheckpointFile)
}
