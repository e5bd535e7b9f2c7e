// Package pipeline implements the ordered stage sequence a scheduler run
// executes for one label: ingest, discover, score, enrich.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/northbeat/scout-cli/internal/store"
)

// Stage is one named step of a label's pipeline run. Stages must return
// promptly once ctx is canceled; the runner checks between stages, stages
// check between artists.
type Stage interface {
	Name() string
	Run(ctx context.Context, labelID string) error
}

// Runner executes stages in order for a label. Any stage error aborts the
// remaining stages.
type Runner struct {
	stages []Stage
}

// NewRunner builds a Runner over the standard stage order.
func NewRunner(stages ...Stage) *Runner {
	return &Runner{stages: stages}
}

// RunStages executes each stage in order, stopping at the first error or
// cancellation.
func (r *Runner) RunStages(ctx context.Context, labelID string) error {
	log := zap.L().With(zap.String("label_id", labelID))

	for _, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "pipeline: canceled before stage %s", stage.Name())
		}

		started := time.Now()
		log.Info("stage started", zap.String("stage", stage.Name()))
		if err := stage.Run(ctx, labelID); err != nil {
			return eris.Wrapf(err, "pipeline: stage %s", stage.Name())
		}
		log.Info("stage complete",
			zap.String("stage", stage.Name()),
			zap.Duration("duration", time.Since(started)),
		)
	}
	return nil
}

// DefaultStages assembles the production stage order.
func DefaultStages(st store.Store, ingest *IngestStage, score *ScoreStage) []Stage {
	return []Stage{
		ingest,
		NewDiscoverStage(st, nil),
		score,
		NewEnrichStage(st, nil),
	}
}
