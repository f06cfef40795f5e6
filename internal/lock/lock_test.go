package lock

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/project"
)

func newTestLocker(t *testing.T, now time.Time) (*Locker, project.Project) {
	t.Helper()
	proj := project.Project{Root: t.TempDir()}
	return New(proj, Options{Now: func() time.Time { return now }}), proj
}

func TestWithLockReleasesOnSuccessAndError(t *testing.T) {
	l, proj := newTestLocker(t, time.Now())

	chapter := 3
	err := l.WithLock(Meta{Chapter: &chapter}, func(h *Held) error {
		var info Info
		require.NoError(t, project.ReadJSON(proj.Abs(project.LockInfoFile), &info))
		assert.Equal(t, os.Getpid(), info.PID)
		assert.Equal(t, h.Token(), info.Token)
		require.NotNil(t, info.Chapter)
		assert.Equal(t, 3, *info.Chapter)
		return nil
	})
	require.NoError(t, err)
	assert.NoDirExists(t, proj.Abs(project.LockDir))

	boom := errors.New("boom")
	err = l.WithLock(Meta{}, func(*Held) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoDirExists(t, proj.Abs(project.LockDir))
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	l, proj := newTestLocker(t, time.Now())

	assert.Panics(t, func() {
		_ = l.WithLock(Meta{}, func(*Held) error { panic("explode") })
	})
	assert.NoDirExists(t, proj.Abs(project.LockDir))
}

func TestActiveLockFailsFastWithHolderDetails(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l, proj := newTestLocker(t, now)

	require.NoError(t, os.Mkdir(proj.Abs(project.LockDir), 0o755))
	require.NoError(t, project.WriteJSONAtomic(proj.Abs(project.LockInfoFile), Info{
		PID:     4242,
		Started: now.Add(-5 * time.Minute).Format(time.RFC3339Nano),
	}))

	called := false
	err := l.WithLock(Meta{}, func(*Held) error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)

	de, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindConcurrency, de.Kind)
	assert.Equal(t, "4242", de.Details["pid"])
	assert.Equal(t, "2026-01-01T11:55:00Z", de.Details["started"])
	assert.DirExists(t, proj.Abs(project.LockDir))
}

func TestStaleLockIsRecovered(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l, proj := newTestLocker(t, now)

	require.NoError(t, os.Mkdir(proj.Abs(project.LockDir), 0o755))
	require.NoError(t, project.WriteJSONAtomic(proj.Abs(project.LockInfoFile), Info{
		PID:     1,
		Started: now.Add(-31 * time.Minute).Format(time.RFC3339Nano),
	}))

	called := false
	require.NoError(t, l.WithLock(Meta{}, func(*Held) error { called = true; return nil }))
	assert.True(t, called)
}

func TestStalenessFallsBackToDirectoryTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l, proj := newTestLocker(t, now)

	dir := proj.Abs(project.LockDir)
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "info.json"), []byte("{not json"), 0o644))
	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(dir, old, old))

	st, err := l.Status()
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.True(t, st.Stale)
	assert.Equal(t, "dir_mtime", st.Source)
	assert.Nil(t, st.Info)

	require.NoError(t, os.Chtimes(dir, now, now))
	st, err = l.Status()
	require.NoError(t, err)
	assert.False(t, st.Stale)
}

func TestStaleRemovalSparesLockTakenInBetween(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a, proj := newTestLocker(t, now)
	b := New(proj, Options{Now: func() time.Time { return now }})

	require.NoError(t, os.Mkdir(proj.Abs(project.LockDir), 0o755))
	require.NoError(t, project.WriteJSONAtomic(proj.Abs(project.LockInfoFile), Info{
		PID:     1,
		Started: now.Add(-time.Hour).Format(time.RFC3339Nano),
		Token:   "old-holder",
	}))
	observed, err := a.Status()
	require.NoError(t, err)
	require.True(t, observed.Stale)

	// b clears the same stale lock and takes a fresh one before a acts.
	err = b.WithLock(Meta{}, func(h *Held) error {
		require.NoError(t, a.removeStale(observed))

		var info Info
		require.NoError(t, project.ReadJSON(proj.Abs(project.LockInfoFile), &info))
		assert.Equal(t, h.Token(), info.Token)

		_, err := a.acquire(Meta{})
		assert.True(t, errs.Is(err, errs.KindConcurrency), "got %v", err)
		return nil
	})
	require.NoError(t, err)
	assert.NoDirExists(t, proj.Abs(project.LockDir))

	tombs, err := filepath.Glob(proj.Abs(project.LockDir) + ".stale-*")
	require.NoError(t, err)
	assert.Empty(t, tombs)
}

func TestStaleRemovalComparesDirectoryTimeWithoutMetadata(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l, proj := newTestLocker(t, now)

	dir := proj.Abs(project.LockDir)
	require.NoError(t, os.Mkdir(dir, 0o755))
	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(dir, old, old))
	observed, err := l.Status()
	require.NoError(t, err)
	require.Equal(t, "dir_mtime", observed.Source)

	// Replaced by a newer lock without metadata.
	require.NoError(t, os.Remove(dir))
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.Chtimes(dir, now, now))

	require.NoError(t, l.removeStale(observed))
	assert.DirExists(t, dir)

	require.NoError(t, os.Chtimes(dir, old, old))
	require.NoError(t, l.removeStale(observed))
	assert.NoDirExists(t, dir)
}

func TestLockPathNotDirectoryIsFatal(t *testing.T) {
	l, proj := newTestLocker(t, time.Now())
	require.NoError(t, os.WriteFile(proj.Abs(project.LockDir), []byte("x"), 0o644))

	err := l.WithLock(Meta{}, func(*Held) error { return nil })
	assert.True(t, errs.Is(err, errs.KindPrecondition))
}

func TestClearStaleRefusesActiveLock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l, proj := newTestLocker(t, now)
	require.NoError(t, os.Mkdir(proj.Abs(project.LockDir), 0o755))
	require.NoError(t, project.WriteJSONAtomic(proj.Abs(project.LockInfoFile), Info{
		PID: 7, Started: now.Format(time.RFC3339Nano),
	}))

	_, err := l.ClearStale()
	assert.True(t, errs.Is(err, errs.KindPrecondition))
	assert.DirExists(t, proj.Abs(project.LockDir))

	later := New(proj, Options{Now: func() time.Time { return now.Add(time.Hour) }})
	st, err := later.ClearStale()
	require.NoError(t, err)
	assert.True(t, st.Stale)
	assert.NoDirExists(t, proj.Abs(project.LockDir))
}

func TestClearStaleWithoutLockIsNoop(t *testing.T) {
	l, _ := newTestLocker(t, time.Now())
	st, err := l.ClearStale()
	require.NoError(t, err)
	assert.False(t, st.Locked)
}

func TestConcurrentWithLockNeverOverlaps(t *testing.T) {
	proj := project.Project{Root: t.TempDir()}

	var (
		active    int32
		maxActive int32
		entered   int32
		wg        sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := New(proj, Options{})
			for {
				err := l.WithLock(Meta{}, func(*Held) error {
					n := atomic.AddInt32(&active, 1)
					for {
						m := atomic.LoadInt32(&maxActive)
						if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					atomic.AddInt32(&active, -1)
					atomic.AddInt32(&entered, 1)
					return nil
				})
				if err == nil {
					return
				}
				if !errs.Is(err, errs.KindConcurrency) {
					t.Errorf("unexpected error: %v", err)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, int32(16), entered)
}
