package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/northbeat/scout-cli/internal/cluster"
	"github.com/northbeat/scout-cli/internal/embedding"
	"github.com/northbeat/scout-cli/internal/feature"
	"github.com/northbeat/scout-cli/internal/model"
	"github.com/northbeat/scout-cli/internal/rank"
	"github.com/northbeat/scout-cli/internal/store"
)

// ScoreStage recomputes features for every tracked artist, guarantees each
// artist has at least a fallback embedding, then clusters and ranks every
// label. Scoring is a global job; the enqueuing label does not scope it.
type ScoreStage struct {
	store    store.Store
	features *feature.Engine
	builder  *embedding.Builder
	clusters *cluster.Engine
	ranker   *rank.Engine
	workers  int
}

// NewScoreStage creates the score stage.
func NewScoreStage(st store.Store, features *feature.Engine, builder *embedding.Builder, clusters *cluster.Engine, ranker *rank.Engine, workers int) *ScoreStage {
	if workers < 1 {
		workers = 4
	}
	return &ScoreStage{
		store:    st,
		features: features,
		builder:  builder,
		clusters: clusters,
		ranker:   ranker,
		workers:  workers,
	}
}

func (s *ScoreStage) Name() string { return "score" }

// Run refreshes the shared signals once, then clusters and ranks every
// label. A label whose scoring fails is logged and skipped so one bad roster
// cannot sink the whole sweep; cancellation still aborts it.
func (s *ScoreStage) Run(ctx context.Context, _ string) error {
	if err := s.RefreshSignals(ctx); err != nil {
		return err
	}

	labelIDs, err := s.store.LabelIDs(ctx)
	if err != nil {
		return eris.Wrap(err, "score: load label ids")
	}
	for _, labelID := range labelIDs {
		if err := s.ScoreLabel(ctx, labelID); err != nil {
			if ctx.Err() != nil {
				return err
			}
			zap.L().Warn("score: label scoring failed, skipping",
				zap.String("label_id", labelID), zap.Error(err))
		}
	}
	return nil
}

// RefreshSignals recomputes features for every roster artist and candidate
// and backfills fallback embeddings for artists that have no vector at all.
// Shared across labels, so a multi-label sweep calls it once.
func (s *ScoreStage) RefreshSignals(ctx context.Context) error {
	artistIDs, err := trackedArtistIDs(ctx, s.store)
	if err != nil {
		return err
	}
	if len(artistIDs) == 0 {
		zap.L().Info("score: no tracked artists")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, artistID := range artistIDs {
		g.Go(func() error {
			_, err := s.features.ComputeArtist(gctx, artistID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "score: compute features")
	}

	return s.ensureEmbeddings(ctx, artistIDs)
}

// ScoreLabel clusters one label's roster and ranks candidates against it.
func (s *ScoreStage) ScoreLabel(ctx context.Context, labelID string) error {
	if _, err := s.clusters.ClusterLabel(ctx, labelID); err != nil {
		return err
	}
	if _, err := s.ranker.RankLabel(ctx, labelID); err != nil {
		return err
	}
	return nil
}

// trackedArtistIDs is the union of every label's roster and the global
// candidate pool, deduplicated. Both the ingest and score stages operate on
// this set.
func trackedArtistIDs(ctx context.Context, st store.Store) ([]string, error) {
	rosterIDs, err := st.AllRosterArtistIDs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load roster artist ids")
	}
	candidateIDs, err := st.CandidateArtistIDs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load candidate ids")
	}

	seen := make(map[string]struct{}, len(rosterIDs)+len(candidateIDs))
	ids := make([]string, 0, len(rosterIDs)+len(candidateIDs))
	for _, id := range append(rosterIDs, candidateIDs...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// ensureEmbeddings writes a fallback vector for every artist that has
// neither a metric nor a fallback embedding, so ranking never drops an
// artist for lack of history.
func (s *ScoreStage) ensureEmbeddings(ctx context.Context, artistIDs []string) error {
	existing, err := s.store.GetEmbeddings(ctx, artistIDs,
		[]model.EmbeddingProvider{model.ProviderMetric, model.ProviderFallback})
	if err != nil {
		return eris.Wrap(err, "score: load embeddings")
	}
	covered := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		covered[e.ArtistID] = struct{}{}
	}

	var missing []string
	for _, id := range artistIDs {
		if _, ok := covered[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	artists, err := s.store.GetArtists(ctx, missing)
	if err != nil {
		return eris.Wrap(err, "score: load artists for fallback embeddings")
	}
	for _, artist := range artists {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "score: canceled")
		}
		vector := s.builder.FallbackVector(artist.Name, artist.GenreTags)
		if err := s.store.SaveEmbedding(ctx, artist.ID, model.ProviderFallback, vector); err != nil {
			return eris.Wrapf(err, "score: save fallback embedding for %s", artist.ID)
		}
	}
	zap.L().Info("score: fallback embeddings backfilled", zap.Int("count", len(artists)))
	return nil
}
