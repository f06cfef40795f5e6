package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestOfIsStableForUnchangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chapter.md")
	writeFile(t, path, "# Dawn\n\nText.\n", time.Unix(1700000000, 0))

	a, err := Of(path)
	require.NoError(t, err)
	b, err := Of(path)
	require.NoError(t, err)

	assert.True(t, Matches(a, b))
	assert.Equal(t, int64(len("# Dawn\n\nText.\n")), a.Size)
	assert.Len(t, a.ContentHash, 64)
}

func TestMatchesDetectsEachComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chapter.md")
	mtime := time.Unix(1700000000, 0)
	writeFile(t, path, "aaaa", mtime)
	base, err := Of(path)
	require.NoError(t, err)

	// Same size and mtime, different bytes.
	writeFile(t, path, "bbbb", mtime)
	changed, err := Of(path)
	require.NoError(t, err)
	assert.False(t, Matches(base, changed))

	// Same bytes, different mtime.
	writeFile(t, path, "aaaa", mtime.Add(time.Second))
	touched, err := Of(path)
	require.NoError(t, err)
	assert.False(t, Matches(base, touched))
}

func TestOfMissingFile(t *testing.T) {
	_, err := Of(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGuardedResolveUsesPrecomputedValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chapter.md")
	writeFile(t, path, "one two three", time.Unix(1700000000, 0))

	calls := 0
	count := func(data []byte) (int, error) {
		calls++
		return len(data), nil
	}

	g, err := Precompute(path, count)
	require.NoError(t, err)
	require.False(t, g.Print.IsZero())

	v, recomputed, err := g.Resolve(count)
	require.NoError(t, err)
	assert.False(t, recomputed)
	assert.Equal(t, 13, v)
	assert.Equal(t, 1, calls)
}

func TestGuardedResolveRecomputesWhenFileChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chapter.md")
	writeFile(t, path, "one", time.Unix(1700000000, 0))

	count := func(data []byte) (int, error) { return len(data), nil }
	g, err := Precompute(path, count)
	require.NoError(t, err)

	writeFile(t, path, "one two", time.Unix(1700000100, 0))

	v, recomputed, err := g.Resolve(count)
	require.NoError(t, err)
	assert.True(t, recomputed)
	assert.Equal(t, 7, v)
}
