package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/northbeat/scout-cli/internal/model"
	"github.com/northbeat/scout-cli/internal/store"
)

// Discoverer surfaces new candidate artists from an external source
// (playlists, charts, editorial feeds).
type Discoverer interface {
	Discover(ctx context.Context, labelID string) ([]model.Artist, error)
}

// DiscoverStage upserts candidates found by the configured discoverer. With
// no discoverer the stage is a no-op; ranking then draws only from
// candidates already in the store.
type DiscoverStage struct {
	store      store.Store
	discoverer Discoverer
}

// NewDiscoverStage creates the discover stage. discoverer may be nil.
func NewDiscoverStage(st store.Store, discoverer Discoverer) *DiscoverStage {
	return &DiscoverStage{store: st, discoverer: discoverer}
}

func (s *DiscoverStage) Name() string { return "discover" }

func (s *DiscoverStage) Run(ctx context.Context, labelID string) error {
	if s.discoverer == nil {
		return nil
	}

	found, err := s.discoverer.Discover(ctx, labelID)
	if err != nil {
		return eris.Wrapf(err, "discover: source failed for %s", labelID)
	}

	for _, artist := range found {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "discover: canceled")
		}
		if artist.ID == "" {
			artist.ID = uuid.New().String()
		}
		artist.IsCandidate = true
		if err := s.store.UpsertArtist(ctx, artist); err != nil {
			return eris.Wrapf(err, "discover: upsert artist %s", artist.ID)
		}
	}

	zap.L().Info("discover: candidates upserted",
		zap.String("label_id", labelID),
		zap.Int("count", len(found)),
	)
	return nil
}
