package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/happy_path.yaml")
	require.NoError(t, err)

	assert.Equal(t, "happy_path", s.Name)
	require.NotEmpty(t, s.Flow)
	assert.Equal(t, ActionNext, s.Flow[0].Do)
	assert.Equal(t, "chapter:001:draft", s.Flow[0].Expect.Detail)

	stage := s.Flow[1]
	assert.Equal(t, ActionStage, stage.Do)
	assert.Equal(t, 1, stage.Chapter)
	require.Len(t, stage.Ops, 1)
	assert.Equal(t, "characters.lin.display_name", stage.Ops[0]["path"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndescription: d\nflow: [{do: next}]\nassertion: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			yaml:    "description: d\nflow: [{do: next}]\nassertions: [{type: trace_count, action: next}]\n",
			wantErr: "name is required",
		},
		{
			name:    "empty flow",
			yaml:    "name: x\ndescription: d\nflow: []\nassertions: [{type: trace_count, action: next}]\n",
			wantErr: "flow list is required",
		},
		{
			name:    "unknown action",
			yaml:    "name: x\ndescription: d\nflow: [{do: publish}]\nassertions: [{type: trace_count, action: next}]\n",
			wantErr: `unknown action "publish"`,
		},
		{
			name:    "advance without step",
			yaml:    "name: x\ndescription: d\nflow: [{do: advance}]\nassertions: [{type: trace_count, action: next}]\n",
			wantErr: "step is required for advance",
		},
		{
			name:    "stage without chapter",
			yaml:    "name: x\ndescription: d\nflow: [{do: stage}]\nassertions: [{type: trace_count, action: next}]\n",
			wantErr: "chapter is required for stage",
		},
		{
			name:    "checkpoint without expect",
			yaml:    "name: x\ndescription: d\nflow: [{do: next}]\nassertions: [{type: checkpoint}]\n",
			wantErr: "expect is required for checkpoint",
		},
		{
			name:    "journal without outcome",
			yaml:    "name: x\ndescription: d\nflow: [{do: next}]\nassertions: [{type: journal_count, count: 1}]\n",
			wantErr: "outcome is required for journal_count",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: d\nflow: [{do: next}]\nassertions: [{type: final_state}]\n",
			wantErr: `unknown assertion type "final_state"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
