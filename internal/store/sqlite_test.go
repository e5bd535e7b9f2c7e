package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbeat/scout-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "scout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func i64(v int64) *int64 { return &v }

func seedLabelAndArtists(t *testing.T, st *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertLabel(ctx, model.Label{ID: "label-1", Name: "Northbeat"}))
	require.NoError(t, st.UpsertArtist(ctx, model.Artist{ID: "a1", Name: "Phantom Coast", GenreTags: []string{"indie"}}))
	require.NoError(t, st.UpsertArtist(ctx, model.Artist{ID: "a2", Name: "Velvet Static"}))
	require.NoError(t, st.UpsertArtist(ctx, model.Artist{ID: "c1", Name: "Night Harbor", IsCandidate: true}))
	require.NoError(t, st.AddRosterMember(ctx, "label-1", "a1", true))
	require.NoError(t, st.AddRosterMember(ctx, "label-1", "a2", false))
}

func TestSQLiteSnapshots(t *testing.T) {
	st := newTestStore(t)
	seedLabelAndArtists(t, st)
	ctx := context.Background()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	eng := 0.04
	require.NoError(t, st.SaveSnapshots(ctx, []model.Snapshot{
		{
			ArtistID:   "a1",
			Platform:   model.PlatformYouTube,
			CapturedAt: now,
			Followers:  i64(1300),
			Views:      i64(9000),
			Extra:      map[string]float64{"shares": 12},
		},
		{
			ArtistID:       "a1",
			Platform:       model.PlatformSpotify,
			CapturedAt:     now.AddDate(0, 0, -30),
			Followers:      i64(1000),
			EngagementRate: &eng,
		},
	}))

	snapshots, err := st.GetSnapshots(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	// Ascending by captured_at.
	assert.True(t, snapshots[0].CapturedAt.Before(snapshots[1].CapturedAt))
	assert.Equal(t, model.PlatformSpotify, snapshots[0].Platform)
	require.NotNil(t, snapshots[0].EngagementRate)
	assert.InDelta(t, 0.04, *snapshots[0].EngagementRate, 1e-9)
	require.NotNil(t, snapshots[1].Followers)
	assert.EqualValues(t, 1300, *snapshots[1].Followers)
	assert.Nil(t, snapshots[1].Likes)
	assert.Equal(t, map[string]float64{"shares": 12}, snapshots[1].Extra)

	empty, err := st.GetSnapshots(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteFeatures(t *testing.T) {
	st := newTestStore(t)
	seedLabelAndArtists(t, st)
	ctx := context.Background()

	missing, err := st.LatestFeature(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	older := model.Feature{
		ArtistID:      "a1",
		ComputedAt:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		MomentumScore: 0.2,
	}
	newer := model.Feature{
		ArtistID:      "a1",
		ComputedAt:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Growth7d:      0.1,
		Growth30d:     0.3,
		MomentumScore: 0.65,
		RiskScore:     0.2,
		RiskFlags:     []string{"inconsistent_growth"},
		Stats:         map[string]float64{"volatility_30d": 0.02},
	}
	require.NoError(t, st.SaveFeature(ctx, older))
	require.NoError(t, st.SaveFeature(ctx, newer))

	got, err := st.LatestFeature(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.65, got.MomentumScore, 1e-9)
	assert.Equal(t, []string{"inconsistent_growth"}, got.RiskFlags)
	assert.Equal(t, map[string]float64{"volatility_30d": 0.02}, got.Stats)
}

func TestSQLiteEmbeddings(t *testing.T) {
	st := newTestStore(t)
	seedLabelAndArtists(t, st)
	ctx := context.Background()

	require.NoError(t, st.SaveEmbedding(ctx, "a1", model.ProviderMetric, []float64{1, 2, 3}))
	require.NoError(t, st.SaveEmbedding(ctx, "a1", model.ProviderFallback, []float64{4, 5, 6}))

	// Upsert replaces in place, no second row.
	require.NoError(t, st.SaveEmbedding(ctx, "a1", model.ProviderMetric, []float64{7, 8, 9}))

	both, err := st.GetEmbeddings(ctx, []string{"a1"},
		[]model.EmbeddingProvider{model.ProviderMetric, model.ProviderFallback})
	require.NoError(t, err)
	require.Len(t, both, 2)

	byProvider := map[model.EmbeddingProvider][]float64{}
	for _, e := range both {
		byProvider[e.Provider] = e.Vector
	}
	assert.Equal(t, []float64{7, 8, 9}, byProvider[model.ProviderMetric])
	assert.Equal(t, []float64{4, 5, 6}, byProvider[model.ProviderFallback])

	onlyMetric, err := st.GetEmbeddings(ctx, []string{"a1"},
		[]model.EmbeddingProvider{model.ProviderMetric})
	require.NoError(t, err)
	require.Len(t, onlyMetric, 1)

	none, err := st.GetEmbeddings(ctx, nil, []model.EmbeddingProvider{model.ProviderMetric})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLiteClusters(t *testing.T) {
	st := newTestStore(t)
	seedLabelAndArtists(t, st)
	ctx := context.Background()

	first := []model.Cluster{
		{LabelID: "label-1", Index: 0, Centroid: []float64{1, 2}, ArtistIDs: []string{"a1"}},
		{LabelID: "label-1", Index: 1, Centroid: []float64{3, 4}, ArtistIDs: []string{"a2"}},
	}
	require.NoError(t, st.ReplaceClusters(ctx, "label-1", first))

	got, err := st.GetClusters(ctx, "label-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float64{1, 2}, got[0].Centroid)
	assert.Equal(t, []string{"a2"}, got[1].ArtistIDs)

	// Replacement removes the old set entirely.
	second := []model.Cluster{
		{LabelID: "label-1", Index: 0, Centroid: []float64{9, 9}, ArtistIDs: []string{"a1", "a2"}},
	}
	require.NoError(t, st.ReplaceClusters(ctx, "label-1", second))

	got, err = st.GetClusters(ctx, "label-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float64{9, 9}, got[0].Centroid)
}

func TestSQLiteRecommendations(t *testing.T) {
	st := newTestStore(t)
	seedLabelAndArtists(t, st)
	ctx := context.Background()

	require.NoError(t, st.SaveRecommendations(ctx, nil))
	require.NoError(t, st.SaveRecommendations(ctx, []model.Recommendation{{
		LabelID:    "label-1",
		ArtistID:   "c1",
		BatchID:    "batch-1",
		FitScore:   0.9,
		FinalScore: 0.45,
		Breakdown:  model.ScoreBreakdown{Fit: 0.9, Momentum: 0.5, Formula: "fit * momentum - risk", Fallback: true},
	}}))
}

func TestSQLiteRosterQueries(t *testing.T) {
	st := newTestStore(t)
	seedLabelAndArtists(t, st)
	ctx := context.Background()

	active, err := st.ActiveRosterArtistIDs(ctx, "label-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, active)

	all, err := st.AllRosterArtistIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, all)

	candidates, err := st.CandidateArtistIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, candidates)

	labels, err := st.LabelIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"label-1"}, labels)

	artists, err := st.GetArtists(ctx, []string{"a1", "c1"})
	require.NoError(t, err)
	require.Len(t, artists, 2)

	// Reactivating a member flips is_active in place.
	require.NoError(t, st.AddRosterMember(ctx, "label-1", "a2", true))
	active, err = st.ActiveRosterArtistIDs(ctx, "label-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, active)
}

func TestSQLitePipelineStatus(t *testing.T) {
	st := newTestStore(t)
	seedLabelAndArtists(t, st)
	ctx := context.Background()

	run, err := st.PipelineStatus(ctx, "label-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusIdle, run.Status)
	assert.Nil(t, run.StartedAt)

	started := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(5 * time.Minute)

	require.NoError(t, st.SetPipelineStatus(ctx, "label-1", model.RunStatusRunning, &started, nil))
	run, err = st.PipelineStatus(ctx, "label-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	require.NotNil(t, run.StartedAt)
	assert.Nil(t, run.CompletedAt)

	require.NoError(t, st.SetPipelineStatus(ctx, "label-1", model.RunStatusComplete, nil, &completed))
	run, err = st.PipelineStatus(ctx, "label-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.StartedAt) // COALESCE keeps the original start
	require.NotNil(t, run.CompletedAt)

	// Re-queueing clears both timestamps.
	require.NoError(t, st.SetPipelineStatus(ctx, "label-1", model.RunStatusQueued, nil, nil))
	run, err = st.PipelineStatus(ctx, "label-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Nil(t, run.StartedAt)
	assert.Nil(t, run.CompletedAt)

	_, err = st.PipelineStatus(ctx, "label-unknown")
	require.Error(t, err)
}
