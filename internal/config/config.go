// Package config loads the optional novel.yaml project config.
//
// Values come from, in increasing priority: built-in defaults, novel.yaml at
// the project root, and NOVEL_* environment variables (NOVEL_LOCK_STALE_AFTER
// overrides lock.stale_after). A missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/project"
)

// envPrefix is the environment variable prefix for novel settings.
const envPrefix = "NOVEL"

// Defaults.
const (
	DefaultStaleAfter        = 30 * time.Minute
	DefaultMaxAttempts       = 3
	DefaultPeriodicEvery     = 5
	DefaultForeshadowWindow  = 10
	DefaultPrecomputeWorkers = 4
	DefaultJournalEnabled    = true
	DefaultJournalPath       = ".novel/journal.db"
)

// Config is the resolved project configuration.
type Config struct {
	Lock    LockConfig    `mapstructure:"lock"`
	Commit  CommitConfig  `mapstructure:"commit"`
	Journal JournalConfig `mapstructure:"journal"`
}

// LockConfig tunes the advisory lock.
type LockConfig struct {
	StaleAfter  time.Duration `mapstructure:"stale_after"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// CommitConfig tunes the commit engine and its post-commit audits.
type CommitConfig struct {
	PeriodicAuditEvery int `mapstructure:"periodic_audit_every"`
	ForeshadowWindow   int `mapstructure:"foreshadow_window"`
	PrecomputeWorkers  int `mapstructure:"precompute_workers"`
}

// JournalConfig controls the SQLite commit journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Lock:   LockConfig{StaleAfter: DefaultStaleAfter, MaxAttempts: DefaultMaxAttempts},
		Commit: CommitConfig{PeriodicAuditEvery: DefaultPeriodicEvery, ForeshadowWindow: DefaultForeshadowWindow, PrecomputeWorkers: DefaultPrecomputeWorkers},
		Journal: JournalConfig{
			Enabled: DefaultJournalEnabled,
			Path:    DefaultJournalPath,
		},
	}
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("lock.stale_after", DefaultStaleAfter)
	v.SetDefault("lock.max_attempts", DefaultMaxAttempts)

	v.SetDefault("commit.periodic_audit_every", DefaultPeriodicEvery)
	v.SetDefault("commit.foreshadow_window", DefaultForeshadowWindow)
	v.SetDefault("commit.precompute_workers", DefaultPrecomputeWorkers)

	v.SetDefault("journal.enabled", DefaultJournalEnabled)
	v.SetDefault("journal.path", DefaultJournalPath)
}

// Load reads the config for proj.
func Load(proj project.Project) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(proj.Abs(project.ConfigFile))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Wrap(errs.KindValidation, err, "invalid %s", project.ConfigFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid %s", project.ConfigFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects non-positive durations and counts and a journal path that
// escapes the project.
func (c *Config) Validate() error {
	positive := []struct {
		key string
		n   int64
	}{
		{"lock.stale_after", int64(c.Lock.StaleAfter)},
		{"lock.max_attempts", int64(c.Lock.MaxAttempts)},
		{"commit.periodic_audit_every", int64(c.Commit.PeriodicAuditEvery)},
		{"commit.foreshadow_window", int64(c.Commit.ForeshadowWindow)},
		{"commit.precompute_workers", int64(c.Commit.PrecomputeWorkers)},
	}
	for _, p := range positive {
		if p.n <= 0 {
			return errs.Validation("invalid %s: %s must be positive", project.ConfigFile, p.key).With("key", p.key)
		}
	}
	if c.Journal.Enabled {
		if c.Journal.Path == "" {
			return errs.Validation("invalid %s: journal.path must not be empty", project.ConfigFile)
		}
		if err := project.SafeRel(filepath.ToSlash(c.Journal.Path)); err != nil {
			return fmt.Errorf("journal.path: %w", err)
		}
	}
	return nil
}
