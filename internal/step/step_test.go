package step

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/novel/internal/errs"
)

func TestParseCanonical(t *testing.T) {
	s, err := Parse("chapter:001:title-fix")
	require.NoError(t, err)
	assert.Equal(t, Step{Chapter: 1, Stage: TitleFix}, s)
	assert.Equal(t, "chapter:001:title-fix", s.String())
}

func TestParseAcceptsUnpaddedChapter(t *testing.T) {
	s, err := Parse("chapter:12:judge")
	require.NoError(t, err)
	assert.Equal(t, "chapter:012:judge", s.String())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"too few parts", "chapter:001"},
		{"too many parts", "chapter:001:draft:x"},
		{"wrong kind", "volume:001:draft"},
		{"zero chapter", "chapter:000:draft"},
		{"signed chapter", "chapter:-1:draft"},
		{"non numeric", "chapter:abc:draft"},
		{"unknown stage", "chapter:001:polish"},
		{"empty chapter", "chapter::draft"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.id)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindValidation))
		})
	}
}

func TestStepJSONRoundTripsAsID(t *testing.T) {
	data, err := json.Marshal(struct {
		Step Step `json:"step"`
	}{Step{Chapter: 4, Stage: Review}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":"chapter:004:review"}`, string(data))

	var back struct {
		Step Step `json:"step"`
	}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, Step{Chapter: 4, Stage: Review}, back.Step)
}
