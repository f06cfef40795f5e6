// Package project resolves the project root and maps chapter numbers to the
// deterministic staging and final artifact paths.
package project

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/novel/internal/errs"
)

// Project is a resolved project root directory.
type Project struct {
	Root string
}

// Abs resolves a project-relative slash path against the root.
func (p Project) Abs(rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

// Rel converts an absolute path under the root back to a slash path.
func (p Project) Rel(abs string) string {
	rel, err := filepath.Rel(p.Root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// SafeRel validates a project-relative path supplied by data files
// (storyline ids, script paths). Absolute paths and ".." segments are rejected.
func SafeRel(rel string) error {
	if rel == "" {
		return errs.Validation("empty project-relative path")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return errs.Validation("absolute path not allowed").With("path", rel)
	}
	for _, seg := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return errs.Validation("path traversal not allowed").With("path", rel)
		}
	}
	return nil
}

// Resolve finds the project root. An explicit directory must contain a
// checkpoint file; otherwise the search walks up from start.
func Resolve(explicit, start string) (Project, error) {
	if explicit != "" {
		for _, seg := range strings.Split(filepath.ToSlash(explicit), "/") {
			if seg == ".." {
				return Project{}, errs.Validation("project path must not contain '..'").With("project", explicit)
			}
		}
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return Project{}, err
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return Project{}, errs.Precondition("project directory not found").With("project", abs)
		}
		if !IsFile(filepath.Join(abs, CheckpointFile)) {
			return Project{}, errs.Precondition("no %s in project directory", CheckpointFile).With("project", abs)
		}
		return Project{Root: abs}, nil
	}

	dir, err := filepath.Abs(start)
	if err != nil {
		return Project{}, err
	}
	for {
		if IsFile(filepath.Join(dir, CheckpointFile)) {
			return Project{Root: dir}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Project{}, errs.Precondition("no %s found in %s or any parent; pass --project", CheckpointFile, start)
		}
		dir = parent
	}
}
