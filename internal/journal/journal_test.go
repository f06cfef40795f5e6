package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	var version int
	require.NoError(t, j2.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestRecordAndRecent(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 2, 3, 4, 5, 6000000, time.UTC)

	require.NoError(t, j.Record(ctx, Entry{
		TxID:       "tx-1",
		Chapter:    1,
		Outcome:    Committed,
		Plan:       []string{"MOVE a -> b"},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}))
	require.NoError(t, j.Record(ctx, Entry{
		TxID:       "tx-2",
		Chapter:    2,
		Outcome:    RolledBack,
		Error:      "State version mismatch",
		Warnings:   []string{"Applied 3 state ops."},
		StartedAt:  start.Add(time.Minute),
		FinishedAt: start.Add(time.Minute),
	}))

	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "tx-2", got[0].TxID)
	assert.Equal(t, RolledBack, got[0].Outcome)
	assert.Equal(t, "State version mismatch", got[0].Error)
	assert.Equal(t, []string{}, got[0].Plan)
	assert.Equal(t, []string{"Applied 3 state ops."}, got[0].Warnings)

	assert.Equal(t, "tx-1", got[1].TxID)
	assert.Equal(t, []string{"MOVE a -> b"}, got[1].Plan)
	assert.True(t, start.Equal(got[1].StartedAt))
	assert.True(t, start.Add(time.Second).Equal(got[1].FinishedAt))
}

func TestRecordSameTxIDIsNoOp(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	e := Entry{TxID: "tx-1", Chapter: 1, Outcome: DryRun, StartedAt: time.Unix(0, 0), FinishedAt: time.Unix(0, 0)}

	require.NoError(t, j.Record(ctx, e))
	e.Outcome = Committed
	require.NoError(t, j.Record(ctx, e))

	got, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, DryRun, got[0].Outcome)
}

func TestRecordRejectsBadChapter(t *testing.T) {
	j := openTemp(t)
	err := j.Record(context.Background(), Entry{TxID: "tx-0", Chapter: 0, Outcome: Committed})
	assert.Error(t, err)
}

func TestRecentEmptyIsNotNil(t *testing.T) {
	j := openTemp(t)
	got, err := j.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRecentRespectsLimit(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.Record(ctx, Entry{TxID: id, Chapter: i + 1, Outcome: Committed}))
	}
	got, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].TxID)
	assert.Equal(t, "b", got[1].TxID)
}
