// Package store persists snapshots, features, embeddings, clusters, and
// recommendations behind a driver-agnostic interface.
package store

import (
	"context"
	"time"

	"github.com/northbeat/scout-cli/internal/model"
)

// Store defines the persistence interface consumed by the scouting engine.
// Postgres is the production driver; SQLite backs local development.
type Store interface {
	// Snapshots (append-only; GetSnapshots returns ascending by captured_at)
	SaveSnapshots(ctx context.Context, snapshots []model.Snapshot) error
	GetSnapshots(ctx context.Context, artistID string) ([]model.Snapshot, error)

	// Features (immutable records; latest computed_at is authoritative)
	SaveFeature(ctx context.Context, feature model.Feature) error
	LatestFeature(ctx context.Context, artistID string) (*model.Feature, error)

	// Embeddings (one row per artist+provider, upserted in place)
	SaveEmbedding(ctx context.Context, artistID string, provider model.EmbeddingProvider, vector []float64) error
	GetEmbeddings(ctx context.Context, artistIDs []string, providers []model.EmbeddingProvider) ([]model.Embedding, error)

	// Clusters (delete-then-insert per label)
	ReplaceClusters(ctx context.Context, labelID string, clusters []model.Cluster) error
	GetClusters(ctx context.Context, labelID string) ([]model.Cluster, error)

	// Recommendations (immutable; one batch per ranking run)
	SaveRecommendations(ctx context.Context, recommendations []model.Recommendation) error

	// Artists and rosters
	UpsertLabel(ctx context.Context, label model.Label) error
	UpsertArtist(ctx context.Context, artist model.Artist) error
	AddRosterMember(ctx context.Context, labelID, artistID string, active bool) error
	GetArtists(ctx context.Context, artistIDs []string) ([]model.Artist, error)
	ActiveRosterArtistIDs(ctx context.Context, labelID string) ([]string, error)
	AllRosterArtistIDs(ctx context.Context) ([]string, error)
	CandidateArtistIDs(ctx context.Context) ([]string, error)
	LabelIDs(ctx context.Context) ([]string, error)

	// Pipeline status (last-writer-wins; queued clears both timestamps)
	SetPipelineStatus(ctx context.Context, labelID string, status model.RunStatus, startedAt, completedAt *time.Time) error
	PipelineStatus(ctx context.Context, labelID string) (*model.PipelineRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
