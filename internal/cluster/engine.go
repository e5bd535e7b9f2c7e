// Package cluster partitions a label's roster embeddings into taste
// clusters with stored centroids.
package cluster

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/northbeat/scout-cli/internal/embedding"
	"github.com/northbeat/scout-cli/internal/model"
	"github.com/northbeat/scout-cli/internal/store"
)

// Config tunes the clustering run.
type Config struct {
	Clusters int
	Restarts int
	MaxIters int
	Seed     int64
}

// DefaultConfig returns clustering defaults matching production settings.
func DefaultConfig() Config {
	return Config{Clusters: 3, Restarts: 10, MaxIters: 100, Seed: 42}
}

// Engine computes a label's taste clusters from roster embeddings.
type Engine struct {
	store store.Store
	cfg   Config
}

// NewEngine creates a cluster Engine.
func NewEngine(st store.Store, cfg Config) *Engine {
	if cfg.Clusters < 1 {
		cfg.Clusters = 1
	}
	return &Engine{store: st, cfg: cfg}
}

// ClusterLabel clusters a label's active roster and replaces the label's
// stored cluster set. Returns an empty result when the roster has no
// embeddings; that clears nothing and is not an error. Cluster indices are
// not stable across runs.
func (e *Engine) ClusterLabel(ctx context.Context, labelID string) ([]model.Cluster, error) {
	log := zap.L().With(zap.String("label_id", labelID))

	rosterIDs, err := e.store.ActiveRosterArtistIDs(ctx, labelID)
	if err != nil {
		return nil, eris.Wrapf(err, "cluster: load roster for %s", labelID)
	}
	if len(rosterIDs) == 0 {
		log.Info("cluster: empty roster, skipping")
		return nil, nil
	}

	embeddings, err := e.store.GetEmbeddings(ctx, rosterIDs,
		[]model.EmbeddingProvider{model.ProviderMetric, model.ProviderFallback})
	if err != nil {
		return nil, eris.Wrapf(err, "cluster: load embeddings for %s", labelID)
	}
	preferred := embedding.Prefer(embeddings)
	if len(preferred) == 0 {
		log.Info("cluster: no roster embeddings, skipping")
		return nil, nil
	}

	// Fixed artist order keeps the run deterministic for a given seed.
	artistIDs := make([]string, 0, len(preferred))
	for id := range preferred {
		artistIDs = append(artistIDs, id)
	}
	sort.Strings(artistIDs)

	vectors := make([][]float64, len(artistIDs))
	for i, id := range artistIDs {
		vectors[i] = preferred[id].Vector
	}

	k := e.cfg.Clusters
	if len(artistIDs) < k {
		k = len(artistIDs)
	}
	if k < 1 {
		k = 1
	}

	sc := fitScaler(vectors)
	scaled := sc.transform(vectors)
	result := kMeans(scaled, k, e.cfg.Restarts, e.cfg.MaxIters, e.cfg.Seed)

	clusters := make([]model.Cluster, k)
	for ci := 0; ci < k; ci++ {
		var members []string
		for i, label := range result.labels {
			if label == ci {
				members = append(members, artistIDs[i])
			}
		}
		clusters[ci] = model.Cluster{
			ID:      uuid.New().String(),
			LabelID: labelID,
			Index:   ci,
			// Centroids go back to the original metric space so they
			// are directly comparable to stored artist embeddings.
			Centroid:  sc.inverse(result.centroids[ci]),
			ArtistIDs: members,
		}
	}

	if err := e.store.ReplaceClusters(ctx, labelID, clusters); err != nil {
		return nil, eris.Wrapf(err, "cluster: replace clusters for %s", labelID)
	}

	log.Info("cluster: roster clustered",
		zap.Int("roster_size", len(artistIDs)),
		zap.Int("clusters", k),
		zap.Float64("inertia", result.inertia),
	)
	return clusters, nil
}
