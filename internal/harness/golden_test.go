package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_HappyPath(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/happy_path.yaml")
	require.NoError(t, err)

	// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
