package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "novel", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"status"}, {"next"}, {"validate"}, {"prepare"}, {"advance"},
		{"commit"}, {"lock", "status"}, {"lock", "clear"}, {"journal"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("json"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("project"))
}

func TestCommitCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	commit, _, err := cmd.Find([]string{"commit"})
	require.NoError(t, err)

	require.NotNil(t, commit.Flags().Lookup("chapter"))
	dry := commit.Flags().Lookup("dry-run")
	require.NotNil(t, dry)
	assert.Equal(t, "false", dry.DefValue)
}

func TestJournalCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	journal, _, err := cmd.Find([]string{"journal"})
	require.NoError(t, err)

	limit := journal.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "20", limit.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"status", "--format", "xml"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitUnexpected, GetExitCode(err))
}
