package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbeat/scout-cli/internal/model"
	"github.com/northbeat/scout-cli/internal/store"
)

type mockClusterStore struct {
	store.Store
	rosterIDs  []string
	embeddings []model.Embedding
	replaced   []model.Cluster
}

func (m *mockClusterStore) ActiveRosterArtistIDs(ctx context.Context, labelID string) ([]string, error) {
	return m.rosterIDs, nil
}

func (m *mockClusterStore) GetEmbeddings(ctx context.Context, artistIDs []string, providers []model.EmbeddingProvider) ([]model.Embedding, error) {
	return m.embeddings, nil
}

func (m *mockClusterStore) ReplaceClusters(ctx context.Context, labelID string, clusters []model.Cluster) error {
	m.replaced = clusters
	return nil
}

func metricEmb(artistID string, vector []float64) model.Embedding {
	return model.Embedding{ArtistID: artistID, Provider: model.ProviderMetric, Vector: vector}
}

func TestClusterLabel(t *testing.T) {
	ctx := context.Background()

	t.Run("empty roster skips", func(t *testing.T) {
		st := &mockClusterStore{}
		clusters, err := NewEngine(st, DefaultConfig()).ClusterLabel(ctx, "label-1")
		require.NoError(t, err)
		assert.Nil(t, clusters)
		assert.Nil(t, st.replaced)
	})

	t.Run("roster without embeddings skips", func(t *testing.T) {
		st := &mockClusterStore{rosterIDs: []string{"a1", "a2"}}
		clusters, err := NewEngine(st, DefaultConfig()).ClusterLabel(ctx, "label-1")
		require.NoError(t, err)
		assert.Nil(t, clusters)
	})

	t.Run("k clamps to roster size", func(t *testing.T) {
		st := &mockClusterStore{
			rosterIDs: []string{"a1", "a2"},
			embeddings: []model.Embedding{
				metricEmb("a1", []float64{0, 0}),
				metricEmb("a2", []float64{10, 10}),
			},
		}
		clusters, err := NewEngine(st, DefaultConfig()).ClusterLabel(ctx, "label-1")
		require.NoError(t, err)
		require.Len(t, clusters, 2)

		members := map[string]bool{}
		for _, c := range clusters {
			assert.Equal(t, "label-1", c.LabelID)
			require.Len(t, c.ArtistIDs, 1)
			members[c.ArtistIDs[0]] = true
		}
		assert.True(t, members["a1"])
		assert.True(t, members["a2"])
		assert.Equal(t, clusters, st.replaced)
	})

	t.Run("centroids return to metric space", func(t *testing.T) {
		st := &mockClusterStore{
			rosterIDs: []string{"a1", "a2", "a3", "a4"},
			embeddings: []model.Embedding{
				metricEmb("a1", []float64{100, 0}),
				metricEmb("a2", []float64{102, 0}),
				metricEmb("a3", []float64{1000, 50}),
				metricEmb("a4", []float64{1002, 50}),
			},
		}
		cfg := DefaultConfig()
		cfg.Clusters = 2
		clusters, err := NewEngine(st, cfg).ClusterLabel(ctx, "label-1")
		require.NoError(t, err)
		require.Len(t, clusters, 2)

		// Each centroid is the mean of its members in the original space.
		for _, c := range clusters {
			switch {
			case contains(c.ArtistIDs, "a1"):
				assert.InDelta(t, 101.0, c.Centroid[0], 1e-6)
				assert.InDelta(t, 0.0, c.Centroid[1], 1e-6)
			case contains(c.ArtistIDs, "a3"):
				assert.InDelta(t, 1001.0, c.Centroid[0], 1e-6)
				assert.InDelta(t, 50.0, c.Centroid[1], 1e-6)
			}
		}
	})

	t.Run("deterministic membership across runs", func(t *testing.T) {
		st := &mockClusterStore{
			rosterIDs: []string{"a1", "a2", "a3"},
			embeddings: []model.Embedding{
				metricEmb("a1", []float64{0, 1}),
				metricEmb("a2", []float64{5, 5}),
				metricEmb("a3", []float64{10, 9}),
			},
		}
		cfg := DefaultConfig()
		cfg.Clusters = 2
		engine := NewEngine(st, cfg)

		first, err := engine.ClusterLabel(ctx, "label-1")
		require.NoError(t, err)
		second, err := engine.ClusterLabel(ctx, "label-1")
		require.NoError(t, err)

		require.Len(t, second, len(first))
		for i := range first {
			assert.Equal(t, first[i].ArtistIDs, second[i].ArtistIDs)
			assert.Equal(t, first[i].Centroid, second[i].Centroid)
		}
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
