package main

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/northbeat/scout-cli/internal/cluster"
	"github.com/northbeat/scout-cli/internal/embedding"
	"github.com/northbeat/scout-cli/internal/feature"
	"github.com/northbeat/scout-cli/internal/pipeline"
	"github.com/northbeat/scout-cli/internal/rank"
	"github.com/northbeat/scout-cli/internal/source"
	"github.com/northbeat/scout-cli/internal/store"
)

// env holds the initialized store and engines shared by the commands.
type env struct {
	Store    store.Store
	Builder  *embedding.Builder
	Features *feature.Engine
	Clusters *cluster.Engine
	Ranker   *rank.Engine
	Score    *pipeline.ScoreStage
	Runner   *pipeline.Runner
}

// Close releases resources held by the environment.
func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the configured store, runs migrations, and wires the
// engines and stage runner. Callers should defer env.Close().
func initEnv(ctx context.Context) (*env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	builder := embedding.NewBuilder(cfg.Engine.EmbeddingDim)
	features := feature.NewEngine(st)
	clusters := cluster.NewEngine(st, cluster.Config{
		Clusters: cfg.Engine.Clusters,
		Restarts: cfg.Engine.KMeansRestarts,
		MaxIters: cfg.Engine.KMeansMaxIters,
		Seed:     cfg.Engine.KMeansSeed,
	})
	ranker := rank.NewEngine(st)

	var metricSource pipeline.MetricSource
	if cfg.Ingest.SourceURL != "" {
		metricSource = source.NewHTTPSource(source.Options{
			BaseURL: cfg.Ingest.SourceURL,
			APIKey:  cfg.Ingest.SourceAPIKey,
			Rate:    rate.Limit(cfg.Ingest.RequestsPerSecond),
			Burst:   cfg.Ingest.Burst,
		})
	}

	score := pipeline.NewScoreStage(st, features, builder, clusters, ranker, cfg.Engine.ScoreWorkers)
	ingest := pipeline.NewIngestStage(st, metricSource, builder, pipeline.IngestConfig{
		RequestsPerSecond: cfg.Ingest.RequestsPerSecond,
		Burst:             cfg.Ingest.Burst,
		Workers:           cfg.Ingest.Workers,
	})
	runner := pipeline.NewRunner(pipeline.DefaultStages(st, ingest, score)...)

	return &env{
		Store:    st,
		Builder:  builder,
		Features: features,
		Clusters: clusters,
		Ranker:   ranker,
		Score:    score,
		Runner:   runner,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	}
}
