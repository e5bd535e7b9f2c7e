package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/northbeat/scout-cli/internal/store"
)

// Enricher augments top-ranked candidates with profile detail (genre tags,
// platform handles) after ranking completes.
type Enricher interface {
	Enrich(ctx context.Context, labelID string) error
}

// EnrichStage runs the configured enricher after ranking. Enrichment is
// best-effort: failures are logged and the run still completes.
type EnrichStage struct {
	store    store.Store
	enricher Enricher
}

// NewEnrichStage creates the enrich stage. enricher may be nil.
func NewEnrichStage(st store.Store, enricher Enricher) *EnrichStage {
	return &EnrichStage{store: st, enricher: enricher}
}

func (s *EnrichStage) Name() string { return "enrich" }

func (s *EnrichStage) Run(ctx context.Context, labelID string) error {
	if s.enricher == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "enrich: canceled")
	}
	if err := s.enricher.Enrich(ctx, labelID); err != nil {
		zap.L().Warn("enrich: enricher failed",
			zap.String("label_id", labelID), zap.Error(err))
	}
	return nil
}
