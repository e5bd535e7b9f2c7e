// Package rank scores candidate artists against a label's taste clusters
// and roster, producing one ranked recommendation batch per run.
package rank

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/northbeat/scout-cli/internal/embedding"
	"github.com/northbeat/scout-cli/internal/model"
	"github.com/northbeat/scout-cli/internal/store"
)

// Neutral substitutes used when a candidate has no Feature record. The
// breakdown's Fallback flag records the substitution so consumers can tell
// "no data, assumed average" from "measured but average".
const (
	fallbackMomentum = 0.5
	fallbackRisk     = 0.0
)

const scoreFormula = "fit * momentum - risk"

// Engine ranks candidates for labels.
type Engine struct {
	store store.Store
}

// NewEngine creates a ranking Engine.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// RankLabel scores every global candidate against the label's cluster
// centroids and roster, persists the batch, and returns it sorted by final
// score descending. A label without clusters yields an empty result and no
// batch, not an error.
func (e *Engine) RankLabel(ctx context.Context, labelID string) ([]model.Recommendation, error) {
	log := zap.L().With(zap.String("label_id", labelID))
	batchID := uuid.New().String()

	clusters, err := e.store.GetClusters(ctx, labelID)
	if err != nil {
		return nil, eris.Wrapf(err, "rank: load clusters for %s", labelID)
	}
	if len(clusters) == 0 {
		log.Info("rank: no clusters, skipping")
		return nil, nil
	}

	rosterVectors, err := e.loadRosterVectors(ctx, labelID)
	if err != nil {
		return nil, err
	}

	candidateIDs, err := e.store.CandidateArtistIDs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "rank: load candidate ids")
	}
	if len(candidateIDs) == 0 {
		log.Info("rank: no candidates")
		return nil, nil
	}

	candidateEmbeddings, err := e.store.GetEmbeddings(ctx, candidateIDs,
		[]model.EmbeddingProvider{model.ProviderMetric, model.ProviderFallback})
	if err != nil {
		return nil, eris.Wrap(err, "rank: load candidate embeddings")
	}
	preferred := embedding.Prefer(candidateEmbeddings)

	// Fixed candidate order makes repeated runs produce byte-identical
	// batches for identical inputs (modulo ids).
	sort.Strings(candidateIDs)

	var recommendations []model.Recommendation
	for _, artistID := range candidateIDs {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "rank: canceled")
		}

		emb, ok := preferred[artistID]
		if !ok {
			continue
		}

		rec, err := e.scoreCandidate(ctx, labelID, batchID, artistID, emb.Vector, clusters, rosterVectors)
		if err != nil {
			return nil, err
		}
		recommendations = append(recommendations, *rec)
	}

	sort.SliceStable(recommendations, func(i, j int) bool {
		if recommendations[i].FinalScore != recommendations[j].FinalScore {
			return recommendations[i].FinalScore > recommendations[j].FinalScore
		}
		return recommendations[i].ArtistID < recommendations[j].ArtistID
	})

	if err := e.store.SaveRecommendations(ctx, recommendations); err != nil {
		return nil, eris.Wrapf(err, "rank: save batch for %s", labelID)
	}

	log.Info("rank: batch complete",
		zap.String("batch_id", batchID),
		zap.Int("recommendations", len(recommendations)),
	)
	return recommendations, nil
}

func (e *Engine) scoreCandidate(ctx context.Context, labelID, batchID, artistID string, vector []float64, clusters []model.Cluster, rosterVectors map[string][]float64) (*model.Recommendation, error) {
	// Fit: max cosine similarity against any centroid. Clamped because
	// floating error can push cosine slightly outside [0,1].
	fit := 0.0
	nearestClusterID := ""
	for _, c := range clusters {
		if sim := embedding.Cosine(vector, c.Centroid); sim > fit {
			fit = sim
			nearestClusterID = c.ID
		}
	}
	fit = math.Max(0.0, math.Min(1.0, fit))

	feat, err := e.store.LatestFeature(ctx, artistID)
	if err != nil {
		return nil, eris.Wrapf(err, "rank: load feature for %s", artistID)
	}
	momentum := fallbackMomentum
	risk := fallbackRisk
	fallback := feat == nil
	if feat != nil {
		momentum = feat.MomentumScore
		risk = feat.RiskScore
	}

	nearestRosterID := ""
	bestRosterSim := math.Inf(-1)
	for rid, rvec := range rosterVectors {
		sim := embedding.Cosine(vector, rvec)
		if sim > bestRosterSim || (sim == bestRosterSim && rid < nearestRosterID) {
			bestRosterSim = sim
			nearestRosterID = rid
		}
	}

	// Multiplicative fit/momentum reward, additive risk penalty, floored
	// at zero so risk cannot produce negative rankings.
	final := math.Max(0.0, fit*momentum-risk)

	breakdown := model.ScoreBreakdown{
		Fit:      round4(fit),
		Momentum: round4(momentum),
		Risk:     round4(risk),
		Formula:  scoreFormula,
	}
	if fallback {
		breakdown.Fallback = true
		breakdown.Note = "no metrics available; using fit-only scoring"
	}

	return &model.Recommendation{
		ID:                    uuid.New().String(),
		LabelID:               labelID,
		ArtistID:              artistID,
		BatchID:               batchID,
		FitScore:              round4(fit),
		MomentumScore:         round4(momentum),
		RiskScore:             round4(risk),
		FinalScore:            round4(final),
		NearestClusterID:      nearestClusterID,
		NearestRosterArtistID: nearestRosterID,
		Breakdown:             breakdown,
	}, nil
}

func (e *Engine) loadRosterVectors(ctx context.Context, labelID string) (map[string][]float64, error) {
	rosterIDs, err := e.store.ActiveRosterArtistIDs(ctx, labelID)
	if err != nil {
		return nil, eris.Wrapf(err, "rank: load roster for %s", labelID)
	}
	if len(rosterIDs) == 0 {
		return nil, nil
	}

	embeddings, err := e.store.GetEmbeddings(ctx, rosterIDs,
		[]model.EmbeddingProvider{model.ProviderMetric, model.ProviderFallback})
	if err != nil {
		return nil, eris.Wrapf(err, "rank: load roster embeddings for %s", labelID)
	}

	vectors := make(map[string][]float64, len(embeddings))
	for id, emb := range embedding.Prefer(embeddings) {
		vectors[id] = emb.Vector
	}
	return vectors, nil
}

// round4 rounds to 4 decimal places so repeated runs over identical inputs
// compare equal.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
