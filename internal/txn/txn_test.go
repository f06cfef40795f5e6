package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/lock"
	"github.com/roach88/novel/internal/testutil"
)

func withTx(t *testing.T, p *testutil.Project, fn func(tx *Tx)) {
	t.Helper()
	locker := lock.New(p.Proj, lock.Options{})
	require.NoError(t, locker.WithLock(lock.Meta{}, func(h *lock.Held) error {
		fn(Begin(h, testutil.NewSequenceIDs("tx")))
		return nil
	}))
}

func TestRollbackRestoresEverything(t *testing.T) {
	p := testutil.NewProject(t)
	p.Write("state/current-state.json", "old state\n")
	p.Write("state/changelog.jsonl", "line1\n")
	p.Write("staging/a.md", "chapter\n")
	p.Write("staging/delta.json", "delta\n")
	before := p.Snapshot()

	withTx(t, p, func(tx *Tx) {
		assert.Equal(t, "tx-0001", tx.ID())
		require.NoError(t, tx.Move("staging/a.md", "chapters/a.md"))
		require.NoError(t, tx.WriteFile("state/current-state.json", []byte("new state\n")))
		require.NoError(t, tx.WriteFile("state/current-state.json", []byte("newer state\n")))
		require.NoError(t, tx.Append("state/changelog.jsonl", []byte("line2\n")))
		require.NoError(t, tx.Append("logs/fresh.jsonl", []byte("x\n")))
		require.NoError(t, tx.WriteJSON("logs/report.json", map[string]int{"n": 1}))
		require.NoError(t, tx.Remove("staging/delta.json"))

		assert.Equal(t, "line1\nline2\n", p.Read("state/changelog.jsonl"))
		assert.False(t, p.Exists("staging/a.md"))
		assert.Len(t, tx.Steps(), 7)

		assert.Empty(t, tx.Rollback())
		assert.Empty(t, tx.Rollback())
	})

	assert.Equal(t, before, p.Snapshot())
}

func TestMoveRefusesOverwrite(t *testing.T) {
	p := testutil.NewProject(t)
	p.Write("staging/a.md", "new\n")
	p.Write("chapters/a.md", "old\n")

	withTx(t, p, func(tx *Tx) {
		err := tx.Move("staging/a.md", "chapters/a.md")
		assert.True(t, errs.Is(err, errs.KindPrecondition))
	})
	assert.Equal(t, "old\n", p.Read("chapters/a.md"))
	assert.Equal(t, "new\n", p.Read("staging/a.md"))
}

func TestCommitDisablesRollback(t *testing.T) {
	p := testutil.NewProject(t)

	withTx(t, p, func(tx *Tx) {
		require.NoError(t, tx.WriteFile("out.txt", []byte("kept\n")))
		tx.Commit()
		assert.Empty(t, tx.Rollback())
	})
	assert.Equal(t, "kept\n", p.Read("out.txt"))
}

func TestRollbackContinuesPastFailures(t *testing.T) {
	p := testutil.NewProject(t)
	p.Write("staging/a.md", "a\n")
	p.Write("staging/b.md", "b\n")

	withTx(t, p, func(tx *Tx) {
		require.NoError(t, tx.Move("staging/a.md", "chapters/a.md"))
		require.NoError(t, tx.Move("staging/b.md", "chapters/b.md"))
		// Something outside the transaction disturbs the first move.
		p.Remove("chapters/a.md")

		failed := tx.Rollback()
		assert.Len(t, failed, 1)
	})
	assert.Equal(t, "b\n", p.Read("staging/b.md"))
}

func TestUUIDv7(t *testing.T) {
	a, b := UUIDv7{}.Generate(), UUIDv7{}.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
