// Package lock implements the advisory project lock.
//
// The lock is a directory created with an atomic mkdir at the project root.
// Its existence is the lock; an info.json file inside records the holder for
// diagnostics. Staleness is derived from elapsed time since the lock was
// taken, never from process liveness.
//
// Mutating code receives a *Held, which can only be obtained inside
// Locker.WithLock. Stores that write control files require it as a parameter.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/project"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultStaleAfter  = 30 * time.Minute
	DefaultMaxAttempts = 3
)

// Info is the metadata record stored in the lock directory.
type Info struct {
	PID     int    `json:"pid"`
	Started string `json:"started"`
	Chapter *int   `json:"chapter,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Meta describes the operation taking the lock.
type Meta struct {
	Chapter *int
}

// Options tunes staleness and retry behavior.
type Options struct {
	StaleAfter  time.Duration
	MaxAttempts int
	Now         func() time.Time
}

// Locker acquires and inspects the lock of one project.
type Locker struct {
	proj project.Project
	opts Options
}

// Held proves the caller is inside WithLock. It carries no exported state.
type Held struct {
	proj  project.Project
	token string
}

// Project returns the project the lock covers.
func (h *Held) Project() project.Project {
	return h.proj
}

// Token returns the owner token written to the lock metadata.
func (h *Held) Token() string {
	return h.token
}

// New creates a Locker for proj.
func New(proj project.Project, opts Options) *Locker {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Locker{proj: proj, opts: opts}
}

func (l *Locker) dir() string {
	return l.proj.Abs(project.LockDir)
}

// WithLock runs fn while holding the project lock. The lock directory is
// removed when fn returns, including on error or panic.
func (l *Locker) WithLock(meta Meta, fn func(*Held) error) error {
	held, err := l.acquire(meta)
	if err != nil {
		return err
	}
	defer l.release(held)
	return fn(held)
}

func (l *Locker) acquire(meta Meta) (*Held, error) {
	dir := l.dir()
	for attempt := 1; attempt <= l.opts.MaxAttempts; attempt++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			held := &Held{proj: l.proj, token: uuid.Must(uuid.NewV7()).String()}
			l.writeInfo(held, meta)
			return held, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}

		st, err := l.inspect()
		if err != nil {
			return nil, err
		}
		if !st.Locked {
			// Released between our mkdir and inspect.
			continue
		}
		if !st.Stale {
			e := errs.Concurrency("another session holds the project lock").
				With("lock", project.LockDir).
				With("started", st.Started.UTC().Format(time.RFC3339))
			if st.Info != nil {
				e = e.With("pid", strconv.Itoa(st.Info.PID))
			}
			return nil, e
		}

		slog.Warn("removing stale project lock",
			"age", st.Age.Round(time.Second).String(),
			"attempt", attempt)
		if err := l.removeStale(st); err != nil {
			return nil, err
		}
	}
	return nil, errs.Concurrency("could not acquire project lock after %d attempts; retry later", l.opts.MaxAttempts)
}

// removeStale renames the lock aside before deleting it, so a concurrent
// acquirer never observes a half-deleted directory. The renamed directory
// must be the stale lock observed earlier; a lock taken in between by another
// session is put back untouched.
func (l *Locker) removeStale(observed Status) error {
	dir := l.dir()
	tomb := dir + ".stale-" + uuid.Must(uuid.NewV7()).String()
	if err := os.Rename(dir, tomb); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove stale lock: %w", err)
	}

	got, err := inspectDir(tomb, l.opts)
	if err != nil {
		return fmt.Errorf("inspect stale lock: %w", err)
	}
	if !sameHolder(observed, got) {
		slog.Warn("lock changed hands before stale removal; restoring it")
		if _, err := os.Lstat(dir); err == nil {
			return errs.Concurrency("project lock was replaced while clearing a stale lock").
				With("lock", project.LockDir).
				With("displaced", filepath.Base(tomb))
		}
		if err := os.Rename(tomb, dir); err != nil {
			return errs.Wrap(errs.KindConcurrency, err, "could not restore project lock after a concurrent takeover").
				With("lock", project.LockDir).
				With("displaced", filepath.Base(tomb))
		}
		return nil
	}

	if err := os.RemoveAll(tomb); err != nil {
		slog.Warn("failed to delete stale lock tombstone", "path", tomb, "error", err)
	}
	return nil
}

// sameHolder reports whether two observations describe the same lock
// acquisition: by owner token when there is one, else by start time.
func sameHolder(a, b Status) bool {
	if a.Info != nil && b.Info != nil && a.Info.Token != "" {
		return a.Info.Token == b.Info.Token
	}
	if (a.Info == nil) != (b.Info == nil) || a.Source != b.Source {
		return false
	}
	return a.Started.Equal(b.Started)
}

// writeInfo is best-effort: the lock is already held once mkdir succeeded.
func (l *Locker) writeInfo(h *Held, meta Meta) {
	info := Info{
		PID:     os.Getpid(),
		Started: l.opts.Now().UTC().Format(time.RFC3339Nano),
		Chapter: meta.Chapter,
		Token:   h.token,
	}
	if err := project.WriteJSONAtomic(l.proj.Abs(project.LockInfoFile), info); err != nil {
		slog.Warn("failed to write lock metadata", "error", err)
	}
}

func (l *Locker) release(h *Held) {
	var info Info
	if err := project.ReadJSON(l.proj.Abs(project.LockInfoFile), &info); err == nil {
		if info.Token != "" && info.Token != h.token {
			slog.Warn("lock was taken over by another session; leaving it in place", "holder_pid", info.PID)
			return
		}
	}
	if err := os.RemoveAll(l.dir()); err != nil {
		slog.Warn("failed to release project lock", "error", err)
	}
}

// Status describes the current lock state.
type Status struct {
	Locked bool `json:"locked"`
	Info   *Info `json:"info,omitempty"`
	// Started is when the lock was taken: from metadata, or the directory's
	// modification time when metadata is missing or unreadable.
	Started time.Time     `json:"started,omitempty"`
	Source  string        `json:"started_source,omitempty"`
	Age     time.Duration `json:"age_ns,omitempty"`
	Stale   bool          `json:"stale"`
}

// Status inspects the lock without modifying it.
func (l *Locker) Status() (Status, error) {
	return l.inspect()
}

func (l *Locker) inspect() (Status, error) {
	return inspectDir(l.dir(), l.opts)
}

func inspectDir(dir string, opts Options) (Status, error) {
	dirInfo, err := os.Lstat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("stat lock dir: %w", err)
	}
	if !dirInfo.IsDir() {
		return Status{}, errs.Precondition("lock path exists but is not a directory; remove it manually").
			With("path", project.LockDir)
	}

	st := Status{Locked: true, Started: dirInfo.ModTime(), Source: "dir_mtime"}
	var info Info
	data, err := os.ReadFile(filepath.Join(dir, "info.json"))
	if err == nil && json.Unmarshal(data, &info) == nil {
		st.Info = &info
		if started, perr := time.Parse(time.RFC3339Nano, info.Started); perr == nil {
			st.Started = started
			st.Source = "metadata"
		}
	}
	st.Age = opts.Now().Sub(st.Started)
	st.Stale = st.Age > opts.StaleAfter
	return st, nil
}

// ClearStale removes the lock if it is stale. An active lock is never cleared.
// It reports the status observed before clearing.
func (l *Locker) ClearStale() (Status, error) {
	st, err := l.inspect()
	if err != nil || !st.Locked {
		return st, err
	}
	if !st.Stale {
		return st, errs.Precondition("lock is active; refusing to clear").
			With("started", st.Started.UTC().Format(time.RFC3339))
	}
	return st, l.removeStale(st)
}
