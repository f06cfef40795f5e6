package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/project"
	"github.com/roach88/novel/internal/testutil"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	p := testutil.NewProject(t)

	cfg, err := Load(p.Proj)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	p := testutil.NewProject(t)
	p.Write(project.ConfigFile, `lock:
  stale_after: 45m
commit:
  periodic_audit_every: 3
journal:
  enabled: false
`)

	cfg, err := Load(p.Proj)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.Lock.StaleAfter)
	assert.Equal(t, DefaultMaxAttempts, cfg.Lock.MaxAttempts)
	assert.Equal(t, 3, cfg.Commit.PeriodicAuditEvery)
	assert.Equal(t, DefaultForeshadowWindow, cfg.Commit.ForeshadowWindow)
	assert.False(t, cfg.Journal.Enabled)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	p := testutil.NewProject(t)
	p.Write(project.ConfigFile, "lock:\n  stale_after: 45m\n")
	t.Setenv("NOVEL_LOCK_STALE_AFTER", "10m")
	t.Setenv("NOVEL_COMMIT_PRECOMPUTE_WORKERS", "8")

	cfg, err := Load(p.Proj)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Lock.StaleAfter)
	assert.Equal(t, 8, cfg.Commit.PrecomputeWorkers)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero attempts", "lock:\n  max_attempts: 0\n"},
		{"negative window", "commit:\n  foreshadow_window: -1\n"},
		{"negative stale", "lock:\n  stale_after: -5m\n"},
		{"escaping journal", "journal:\n  path: ../journal.db\n"},
		{"malformed yaml", "lock: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewProject(t)
			p.Write(project.ConfigFile, tt.yaml)

			_, err := Load(p.Proj)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindValidation), err.Error())
		})
	}
}

func TestDisabledJournalSkipsPathCheck(t *testing.T) {
	cfg := Default()
	cfg.Journal.Enabled = false
	cfg.Journal.Path = ""
	assert.NoError(t, cfg.Validate())
}
