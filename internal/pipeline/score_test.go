package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbeat/scout-cli/internal/cluster"
	"github.com/northbeat/scout-cli/internal/embedding"
	"github.com/northbeat/scout-cli/internal/feature"
	"github.com/northbeat/scout-cli/internal/model"
	"github.com/northbeat/scout-cli/internal/rank"
)

// scoreStore extends the pipeline mock with the feature, cluster, and
// recommendation methods the score stage reaches.
type scoreStore struct {
	*mockPipelineStore
	features   map[string]*model.Feature
	clusters   map[string][]model.Cluster
	recs       []model.Recommendation
	replaceErr map[string]error
}

func newScoreStore() *scoreStore {
	return &scoreStore{
		mockPipelineStore: newMockPipelineStore(),
		features:          map[string]*model.Feature{},
		clusters:          map[string][]model.Cluster{},
	}
}

func (m *scoreStore) SaveFeature(ctx context.Context, feat model.Feature) error {
	m.features[feat.ArtistID] = &feat
	return nil
}

func (m *scoreStore) LatestFeature(ctx context.Context, artistID string) (*model.Feature, error) {
	return m.features[artistID], nil
}

func (m *scoreStore) ReplaceClusters(ctx context.Context, labelID string, clusters []model.Cluster) error {
	if err := m.replaceErr[labelID]; err != nil {
		return err
	}
	m.clusters[labelID] = clusters
	return nil
}

func (m *scoreStore) GetClusters(ctx context.Context, labelID string) ([]model.Cluster, error) {
	return m.clusters[labelID], nil
}

func (m *scoreStore) SaveRecommendations(ctx context.Context, recommendations []model.Recommendation) error {
	m.recs = append(m.recs, recommendations...)
	return nil
}

func newScoreStage(st *scoreStore) *ScoreStage {
	builder := embedding.NewBuilder(16)
	return NewScoreStage(st,
		feature.NewEngine(st),
		builder,
		cluster.NewEngine(st, cluster.DefaultConfig()),
		rank.NewEngine(st),
		2,
	)
}

func TestScoreStageRun(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	st := newScoreStore()
	st.labels = []string{"label-1"}
	st.rosterByLabel["label-1"] = []string{"r1", "r2"}
	st.candidates = []string{"c1"}
	st.artists["r1"] = model.Artist{ID: "r1", Name: "Phantom Coast", GenreTags: []string{"indie"}}
	st.artists["r2"] = model.Artist{ID: "r2", Name: "Velvet Static", GenreTags: []string{"techno"}}
	st.artists["c1"] = model.Artist{ID: "c1", Name: "Night Harbor", GenreTags: []string{"indie"}, IsCandidate: true}
	st.snapshots["r1"] = []model.Snapshot{
		{ArtistID: "r1", CapturedAt: now.AddDate(0, 0, -30), Followers: i64(1000)},
		{ArtistID: "r1", CapturedAt: now, Followers: i64(1300)},
	}
	// r1 already has a metric embedding from a prior ingest.
	metricVec := make([]float64, 16)
	metricVec[0] = 1300
	st.embeddings = append(st.embeddings, model.Embedding{
		ArtistID: "r1", Provider: model.ProviderMetric, Vector: metricVec,
	})

	stage := newScoreStage(st)
	require.NoError(t, stage.Run(ctx, "label-1"))

	// r1 has history, so it gets a feature record.
	require.Contains(t, st.features, "r1")
	assert.InDelta(t, 0.30, st.features["r1"].Growth30d, 1e-9)

	// r1 was already covered; r2 and c1 lacked vectors and get fallbacks.
	assert.Empty(t, st.savedEmbeds["r1"])
	assert.Contains(t, st.savedEmbeds["r2"], model.ProviderFallback)
	assert.Contains(t, st.savedEmbeds["c1"], model.ProviderFallback)

	// The roster clustered and the candidate was ranked against it.
	require.NotEmpty(t, st.clusters["label-1"])
	require.Len(t, st.recs, 1)
	assert.Equal(t, "c1", st.recs[0].ArtistID)
	assert.True(t, st.recs[0].Breakdown.Fallback)
	assert.GreaterOrEqual(t, st.recs[0].FinalScore, 0.0)
	assert.LessOrEqual(t, st.recs[0].FinalScore, 1.0)
}

func TestScoreStageScoresAllLabels(t *testing.T) {
	st := newScoreStore()
	st.labels = []string{"label-1", "label-2"}
	st.rosterByLabel["label-1"] = []string{"r1"}
	st.rosterByLabel["label-2"] = []string{"r2"}
	st.candidates = []string{"c1"}
	st.artists["r1"] = model.Artist{ID: "r1", Name: "Phantom Coast", GenreTags: []string{"indie"}}
	st.artists["r2"] = model.Artist{ID: "r2", Name: "Velvet Static", GenreTags: []string{"techno"}}
	st.artists["c1"] = model.Artist{ID: "c1", Name: "Night Harbor", GenreTags: []string{"indie"}, IsCandidate: true}

	require.NoError(t, newScoreStage(st).Run(context.Background(), "label-1"))

	// Both labels clustered and ranked, not just the enqueued one.
	require.NotEmpty(t, st.clusters["label-1"])
	require.NotEmpty(t, st.clusters["label-2"])

	ranked := map[string]bool{}
	for _, rec := range st.recs {
		ranked[rec.LabelID] = true
	}
	assert.True(t, ranked["label-1"])
	assert.True(t, ranked["label-2"])
}

func TestScoreStageSkipsFailingLabel(t *testing.T) {
	st := newScoreStore()
	st.labels = []string{"label-bad", "label-good"}
	st.rosterByLabel["label-bad"] = []string{"r1"}
	st.rosterByLabel["label-good"] = []string{"r2"}
	st.candidates = []string{"c1"}
	st.artists["r1"] = model.Artist{ID: "r1", Name: "Phantom Coast"}
	st.artists["r2"] = model.Artist{ID: "r2", Name: "Velvet Static"}
	st.artists["c1"] = model.Artist{ID: "c1", Name: "Night Harbor", IsCandidate: true}
	st.replaceErr = map[string]error{"label-bad": errors.New("cluster write failed")}

	require.NoError(t, newScoreStage(st).Run(context.Background(), "label-bad"))

	assert.Empty(t, st.clusters["label-bad"])
	require.NotEmpty(t, st.clusters["label-good"])
	require.NotEmpty(t, st.recs)
	for _, rec := range st.recs {
		assert.Equal(t, "label-good", rec.LabelID)
	}
}

func TestRunnerScoresCandidateHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	st := newScoreStore()
	st.labels = []string{"label-1"}
	st.rosterByLabel["label-1"] = []string{"r1"}
	st.candidates = []string{"c1"}
	st.artists["r1"] = model.Artist{ID: "r1", Name: "Phantom Coast", GenreTags: []string{"indie"}}
	st.artists["c1"] = model.Artist{ID: "c1", Name: "Night Harbor", GenreTags: []string{"indie"}, IsCandidate: true}
	st.snapshots["r1"] = []model.Snapshot{
		{ArtistID: "r1", CapturedAt: now.AddDate(0, 0, -30), Followers: i64(1000)},
		{ArtistID: "r1", CapturedAt: now, Followers: i64(1300)},
	}
	st.snapshots["c1"] = []model.Snapshot{
		{ArtistID: "c1", CapturedAt: now.AddDate(0, 0, -30), Followers: i64(2000)},
		{ArtistID: "c1", CapturedAt: now, Followers: i64(2600)},
	}

	builder := embedding.NewBuilder(16)
	ingest := NewIngestStage(st, nil, builder, IngestConfig{})
	score := NewScoreStage(st,
		feature.NewEngine(st), builder,
		cluster.NewEngine(st, cluster.DefaultConfig()),
		rank.NewEngine(st), 2)
	runner := NewRunner(DefaultStages(st, ingest, score)...)

	require.NoError(t, runner.RunStages(ctx, "label-1"))

	// The candidate's snapshot history earned it a real metric embedding,
	// so its recommendation is not fit-only.
	assert.Contains(t, st.savedEmbeds["c1"], model.ProviderMetric)
	require.Len(t, st.recs, 1)
	assert.Equal(t, "c1", st.recs[0].ArtistID)
	assert.False(t, st.recs[0].Breakdown.Fallback)
}

func TestScoreStageNoArtists(t *testing.T) {
	st := newScoreStore()
	stage := newScoreStage(st)
	require.NoError(t, stage.Run(context.Background(), "label-1"))
	assert.Empty(t, st.recs)
	assert.Empty(t, st.clusters["label-1"])
}

func TestScoreStageCanceled(t *testing.T) {
	st := newScoreStore()
	st.rosterByLabel["label-1"] = []string{"r1"}
	st.artists["r1"] = model.Artist{ID: "r1", Name: "Phantom Coast"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newScoreStage(st).Run(ctx, "label-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
