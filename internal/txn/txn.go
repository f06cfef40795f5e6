// Package txn applies a sequence of file mutations under the project lock and
// undoes them in reverse order when a later step fails.
//
// Every mutation registers its inverse before it touches the disk:
//
//	Protect  snapshot the bytes (or the absence) of a file
//	Write    Protect, then write atomically
//	Append   remember the size, then append; undo truncates
//	Move     refuse to overwrite, then rename; undo renames back
//	Remove   Protect, then delete
//
// Rollback is best-effort: every undo runs even if an earlier one failed, and
// the failures are returned for reporting.
package txn

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/lock"
	"github.com/roach88/novel/internal/project"
)

// IDGenerator produces transaction ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7 generates time-ordered UUIDv7 ids.
type UUIDv7 struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

type undo struct {
	label string
	fn    func() error
}

// Tx is an in-progress transaction. It is not safe for concurrent use; the
// lock it was opened under already serializes writers.
type Tx struct {
	id        string
	proj      project.Project
	undos     []undo
	protected map[string]bool
	steps     []string
	done      bool
}

// Begin opens a transaction. Holding the lock is the only way to get one.
func Begin(h *lock.Held, ids IDGenerator) *Tx {
	if ids == nil {
		ids = UUIDv7{}
	}
	return &Tx{
		id:        ids.Generate(),
		proj:      h.Project(),
		protected: map[string]bool{},
	}
}

// ID returns the transaction id.
func (t *Tx) ID() string { return t.id }

// Project returns the project the transaction writes to.
func (t *Tx) Project() project.Project { return t.proj }

// Steps lists the mutations applied so far, in order.
func (t *Tx) Steps() []string { return append([]string(nil), t.steps...) }

func (t *Tx) push(label string, fn func() error) {
	t.undos = append(t.undos, undo{label: label, fn: fn})
}

// Protect snapshots rel so Rollback restores it exactly, including deleting
// it again if it did not exist. Protecting the same path twice keeps the
// first snapshot.
func (t *Tx) Protect(rel string) error {
	if t.protected[rel] {
		return nil
	}
	abs := t.proj.Abs(rel)
	data, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		t.push("restore-absent "+rel, func() error {
			return project.RemoveIfExists(abs)
		})
	case err != nil:
		return fmt.Errorf("snapshot %s: %w", rel, err)
	default:
		t.push("restore "+rel, func() error {
			return project.WriteFileAtomic(abs, data)
		})
	}
	t.protected[rel] = true
	return nil
}

// WriteFile replaces rel with data.
func (t *Tx) WriteFile(rel string, data []byte) error {
	if err := t.Protect(rel); err != nil {
		return err
	}
	if err := project.WriteFileAtomic(t.proj.Abs(rel), data); err != nil {
		return err
	}
	t.steps = append(t.steps, "write "+rel)
	return nil
}

// WriteJSON marshals v and writes it to rel.
func (t *Tx) WriteJSON(rel string, v any) error {
	data, err := project.MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}
	return t.WriteFile(rel, data)
}

// Append adds data to the end of rel, creating it if needed. Undo truncates
// back to the original size, or removes a file that did not exist.
func (t *Tx) Append(rel string, data []byte) error {
	abs := t.proj.Abs(rel)
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		t.push("remove "+rel, func() error {
			return project.RemoveIfExists(abs)
		})
	case err != nil:
		return fmt.Errorf("stat %s: %w", rel, err)
	default:
		size := info.Size()
		t.push("truncate "+rel, func() error {
			return os.Truncate(abs, size)
		})
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", rel, err)
	}
	f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rel, err)
	}
	t.steps = append(t.steps, "append "+rel)
	return nil
}

// Move renames from to to. An existing destination is never overwritten.
func (t *Tx) Move(from, to string) error {
	fromAbs, toAbs := t.proj.Abs(from), t.proj.Abs(to)
	exists, err := project.Exists(toAbs)
	if err != nil {
		return fmt.Errorf("stat %s: %w", to, err)
	}
	if exists {
		return errs.Precondition("refusing to overwrite existing destination: %s", to).With("path", to)
	}
	if err := os.MkdirAll(filepath.Dir(toAbs), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", to, err)
	}
	if err := os.Rename(fromAbs, toAbs); err != nil {
		return errs.Wrap(errs.KindPrecondition, err, "failed to move %s to %s", from, to)
	}
	t.push("unmove "+to, func() error {
		if err := os.MkdirAll(filepath.Dir(fromAbs), 0o755); err != nil {
			return err
		}
		return os.Rename(toAbs, fromAbs)
	})
	t.steps = append(t.steps, "move "+from+" -> "+to)
	return nil
}

// Remove deletes rel after snapshotting it. Removing a missing file is a no-op.
func (t *Tx) Remove(rel string) error {
	if err := t.Protect(rel); err != nil {
		return err
	}
	if err := project.RemoveIfExists(t.proj.Abs(rel)); err != nil {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	t.steps = append(t.steps, "remove "+rel)
	return nil
}

// Commit ends the transaction; later Rollback calls do nothing.
func (t *Tx) Commit() {
	t.done = true
	t.undos = nil
}

// Rollback undoes every registered mutation in reverse order. It keeps going
// past failures and returns them.
func (t *Tx) Rollback() []error {
	if t.done {
		return nil
	}
	t.done = true
	var failed []error
	for i := len(t.undos) - 1; i >= 0; i-- {
		u := t.undos[i]
		if err := u.fn(); err != nil {
			slog.Warn("rollback step failed", "tx", t.id, "step", u.label, "error", err)
			failed = append(failed, fmt.Errorf("%s: %w", u.label, err))
		}
	}
	t.undos = nil
	return failed
}
