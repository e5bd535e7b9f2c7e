package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/northbeat/scout-cli/internal/embedding"
	"github.com/northbeat/scout-cli/internal/model"
	"github.com/northbeat/scout-cli/internal/store"
)

// MetricSource fetches fresh metric snapshots for one artist. Implementations
// wrap platform APIs; Fetch returns at most one snapshot per platform.
type MetricSource interface {
	Fetch(ctx context.Context, artist model.Artist) ([]model.Snapshot, error)
}

// IngestConfig tunes the ingest stage's concurrency and request pacing.
type IngestConfig struct {
	RequestsPerSecond float64
	Burst             int
	Workers           int
}

// IngestStage pulls fresh snapshots for every tracked artist, rosters and
// candidates alike, and rebuilds their metric embeddings. Ingestion is a
// global job; candidates need metric history just as much as roster members
// or ranking falls back to their hashed-name vectors. Per-artist fetch
// failures are logged and skipped so one dead platform handle cannot sink a
// run.
type IngestStage struct {
	store   store.Store
	source  MetricSource
	builder *embedding.Builder
	limiter *rate.Limiter
	workers int
}

// NewIngestStage creates the ingest stage. A nil source disables fetching;
// the stage still rebuilds metric embeddings from stored history.
func NewIngestStage(st store.Store, source MetricSource, builder *embedding.Builder, cfg IngestConfig) *IngestStage {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	return &IngestStage{
		store:   st,
		source:  source,
		builder: builder,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		workers: cfg.Workers,
	}
}

func (s *IngestStage) Name() string { return "ingest" }

// Run ingests metrics for all tracked artists. The enqueuing label only
// identifies the run; it does not scope the artist set.
func (s *IngestStage) Run(ctx context.Context, _ string) error {
	artistIDs, err := trackedArtistIDs(ctx, s.store)
	if err != nil {
		return eris.Wrap(err, "ingest: load tracked artists")
	}
	if len(artistIDs) == 0 {
		zap.L().Info("ingest: no tracked artists")
		return nil
	}

	artists, err := s.store.GetArtists(ctx, artistIDs)
	if err != nil {
		return eris.Wrap(err, "ingest: load artists")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, artist := range artists {
		g.Go(func() error {
			return s.ingestArtist(gctx, artist)
		})
	}
	return g.Wait()
}

func (s *IngestStage) ingestArtist(ctx context.Context, artist model.Artist) error {
	if s.source != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "ingest: rate limiter")
		}
		snapshots, err := s.source.Fetch(ctx, artist)
		if err != nil {
			zap.L().Warn("ingest: fetch failed, keeping stored history",
				zap.String("artist_id", artist.ID), zap.Error(err))
		} else if len(snapshots) > 0 {
			now := time.Now().UTC()
			for i := range snapshots {
				if snapshots[i].ID == "" {
					snapshots[i].ID = uuid.New().String()
				}
				snapshots[i].ArtistID = artist.ID
				if snapshots[i].CapturedAt.IsZero() {
					snapshots[i].CapturedAt = now
				}
			}
			if err := s.store.SaveSnapshots(ctx, snapshots); err != nil {
				return eris.Wrapf(err, "ingest: save snapshots for %s", artist.ID)
			}
		}
	}

	history, err := s.store.GetSnapshots(ctx, artist.ID)
	if err != nil {
		return eris.Wrapf(err, "ingest: load history for %s", artist.ID)
	}
	vector := s.builder.MetricVector(history)
	if vector == nil {
		return nil
	}
	if err := s.store.SaveEmbedding(ctx, artist.ID, model.ProviderMetric, vector); err != nil {
		return eris.Wrapf(err, "ingest: save metric embedding for %s", artist.ID)
	}
	return nil
}
