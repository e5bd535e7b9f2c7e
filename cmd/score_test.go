package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/northbeat/scout-cli/internal/model"
)

func sampleRecs() []model.Recommendation {
	return []model.Recommendation{
		{
			ArtistID:   "c1",
			FinalScore: 0.72,
			FitScore:   0.9,
			Breakdown:  model.ScoreBreakdown{Fit: 0.9, Momentum: 0.8, Formula: "fit * momentum - risk"},
		},
		{
			ArtistID:   "c2",
			FinalScore: 0.5,
			FitScore:   1.0,
			Breakdown:  model.ScoreBreakdown{Fit: 1.0, Momentum: 0.5, Fallback: true, Note: "no metrics available; using fit-only scoring"},
		},
	}
}

func writeAndRead(t *testing.T, format string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out")
	require.NoError(t, outputRecommendations("label-1", sampleRecs(), format, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestOutputRecommendationsTable(t *testing.T) {
	out := writeAndRead(t, "table")
	assert.Contains(t, out, "label-1")
	assert.Contains(t, out, "c1")
	assert.Contains(t, out, "0.7200")
	assert.Contains(t, out, "fallback")
}

func TestOutputRecommendationsCSV(t *testing.T) {
	out := writeAndRead(t, "csv")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "artist_id,final_score,fit_score,momentum_score,risk_score,fallback", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "c1,0.7200"))
	assert.True(t, strings.HasSuffix(lines[2], "true"))
}

func TestOutputRecommendationsYAML(t *testing.T) {
	out := writeAndRead(t, "yaml")

	var doc struct {
		LabelID         string                 `yaml:"label_id"`
		Recommendations []model.Recommendation `yaml:"recommendations"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "label-1", doc.LabelID)
	require.Len(t, doc.Recommendations, 2)
	assert.Equal(t, "c1", doc.Recommendations[0].ArtistID)
}

func TestOutputRecommendationsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	require.NoError(t, outputRecommendations("label-1", nil, "table", path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "No recommendations")
}
