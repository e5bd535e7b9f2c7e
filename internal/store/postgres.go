package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/northbeat/scout-cli/internal/db"
	"github.com/northbeat/scout-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS labels (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                  TEXT NOT NULL,
	pipeline_status       TEXT NOT NULL DEFAULT 'idle',
	pipeline_started_at   TIMESTAMPTZ,
	pipeline_completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS artists (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL,
	genre_tags   JSONB,
	is_candidate BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS roster_memberships (
	label_id  TEXT NOT NULL REFERENCES labels(id),
	artist_id TEXT NOT NULL REFERENCES artists(id),
	is_active BOOLEAN NOT NULL DEFAULT true,
	PRIMARY KEY (label_id, artist_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	id              TEXT PRIMARY KEY,
	artist_id       TEXT NOT NULL REFERENCES artists(id),
	platform        TEXT NOT NULL,
	captured_at     TIMESTAMPTZ NOT NULL,
	followers       BIGINT,
	views           BIGINT,
	likes           BIGINT,
	comments        BIGINT,
	engagement_rate DOUBLE PRECISION,
	extra           JSONB
);

CREATE TABLE IF NOT EXISTS artist_features (
	id              TEXT PRIMARY KEY,
	artist_id       TEXT NOT NULL REFERENCES artists(id),
	computed_at     TIMESTAMPTZ NOT NULL,
	growth_7d       DOUBLE PRECISION NOT NULL,
	growth_30d      DOUBLE PRECISION NOT NULL,
	acceleration    DOUBLE PRECISION NOT NULL,
	engagement_rate DOUBLE PRECISION NOT NULL,
	momentum_score  DOUBLE PRECISION NOT NULL,
	risk_score      DOUBLE PRECISION NOT NULL,
	risk_flags      JSONB,
	stats           JSONB
);

CREATE TABLE IF NOT EXISTS embeddings (
	id         TEXT PRIMARY KEY,
	artist_id  TEXT NOT NULL REFERENCES artists(id),
	provider   TEXT NOT NULL,
	vector     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (artist_id, provider)
);

CREATE TABLE IF NOT EXISTS label_clusters (
	id            TEXT PRIMARY KEY,
	label_id      TEXT NOT NULL REFERENCES labels(id),
	cluster_index INTEGER NOT NULL,
	centroid      JSONB NOT NULL,
	artist_ids    JSONB NOT NULL,
	name          TEXT
);

CREATE TABLE IF NOT EXISTS recommendations (
	id                       TEXT PRIMARY KEY,
	label_id                 TEXT NOT NULL REFERENCES labels(id),
	artist_id                TEXT NOT NULL REFERENCES artists(id),
	batch_id                 TEXT NOT NULL,
	fit_score                DOUBLE PRECISION NOT NULL,
	momentum_score           DOUBLE PRECISION NOT NULL,
	risk_score               DOUBLE PRECISION NOT NULL,
	final_score              DOUBLE PRECISION NOT NULL,
	nearest_cluster_id       TEXT,
	nearest_roster_artist_id TEXT,
	score_breakdown          JSONB NOT NULL,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_artist_captured ON snapshots(artist_id, captured_at);
CREATE INDEX IF NOT EXISTS idx_features_artist_computed ON artist_features(artist_id, computed_at DESC);
CREATE INDEX IF NOT EXISTS idx_embeddings_artist ON embeddings(artist_id);
CREATE INDEX IF NOT EXISTS idx_clusters_label ON label_clusters(label_id);
CREATE INDEX IF NOT EXISTS idx_recommendations_label_batch ON recommendations(label_id, batch_id);
CREATE INDEX IF NOT EXISTS idx_artists_candidate ON artists(is_candidate);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveSnapshots(ctx context.Context, snapshots []model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin snapshots tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, snap := range snapshots {
		id := snap.ID
		if id == "" {
			id = uuid.New().String()
		}
		var extra []byte
		if len(snap.Extra) > 0 {
			extra, err = json.Marshal(snap.Extra)
			if err != nil {
				return eris.Wrapf(err, "postgres: marshal snapshot extra for %s", snap.ArtistID)
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO snapshots
				(id, artist_id, platform, captured_at, followers, views, likes, comments, engagement_rate, extra)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, id, snap.ArtistID, string(snap.Platform), snap.CapturedAt,
			snap.Followers, snap.Views, snap.Likes, snap.Comments, snap.EngagementRate, extra)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert snapshot for %s", snap.ArtistID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit snapshots")
}

func (s *PostgresStore) GetSnapshots(ctx context.Context, artistID string) ([]model.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, artist_id, platform, captured_at, followers, views, likes, comments, engagement_rate, extra
		FROM snapshots
		WHERE artist_id = $1
		ORDER BY captured_at ASC
	`, artistID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get snapshots for %s", artistID)
	}
	defer rows.Close()

	var snapshots []model.Snapshot
	for rows.Next() {
		var snap model.Snapshot
		var platform string
		var extra []byte
		err := rows.Scan(&snap.ID, &snap.ArtistID, &platform, &snap.CapturedAt,
			&snap.Followers, &snap.Views, &snap.Likes, &snap.Comments, &snap.EngagementRate, &extra)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		snap.Platform = model.Platform(platform)
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &snap.Extra); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal snapshot extra")
			}
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate snapshots")
	}
	return snapshots, nil
}

func (s *PostgresStore) SaveFeature(ctx context.Context, feature model.Feature) error {
	id := feature.ID
	if id == "" {
		id = uuid.New().String()
	}
	flags, err := json.Marshal(feature.RiskFlags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal risk flags")
	}
	var stats []byte
	if len(feature.Stats) > 0 {
		stats, err = json.Marshal(feature.Stats)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal feature stats")
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO artist_features
			(id, artist_id, computed_at, growth_7d, growth_30d, acceleration, engagement_rate, momentum_score, risk_score, risk_flags, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, id, feature.ArtistID, feature.ComputedAt, feature.Growth7d, feature.Growth30d,
		feature.Acceleration, feature.EngagementRate, feature.MomentumScore, feature.RiskScore, flags, stats)
	return eris.Wrapf(err, "postgres: insert feature for %s", feature.ArtistID)
}

func (s *PostgresStore) LatestFeature(ctx context.Context, artistID string) (*model.Feature, error) {
	var f model.Feature
	var flags, stats []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, artist_id, computed_at, growth_7d, growth_30d, acceleration, engagement_rate, momentum_score, risk_score, risk_flags, stats
		FROM artist_features
		WHERE artist_id = $1
		ORDER BY computed_at DESC
		LIMIT 1
	`, artistID).Scan(&f.ID, &f.ArtistID, &f.ComputedAt, &f.Growth7d, &f.Growth30d,
		&f.Acceleration, &f.EngagementRate, &f.MomentumScore, &f.RiskScore, &flags, &stats)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest feature for %s", artistID)
	}

	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &f.RiskFlags); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal risk flags")
		}
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &f.Stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal feature stats")
		}
	}
	return &f, nil
}

func (s *PostgresStore) SaveEmbedding(ctx context.Context, artistID string, provider model.EmbeddingProvider, vector []float64) error {
	vec, err := json.Marshal(vector)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal embedding vector")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO embeddings (id, artist_id, provider, vector, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (artist_id, provider)
		DO UPDATE SET vector = EXCLUDED.vector, updated_at = EXCLUDED.updated_at
	`, uuid.New().String(), artistID, string(provider), vec, time.Now().UTC())
	return eris.Wrapf(err, "postgres: upsert embedding for %s/%s", artistID, provider)
}

func (s *PostgresStore) GetEmbeddings(ctx context.Context, artistIDs []string, providers []model.EmbeddingProvider) ([]model.Embedding, error) {
	if len(artistIDs) == 0 {
		return nil, nil
	}
	provStrings := make([]string, len(providers))
	for i, p := range providers {
		provStrings[i] = string(p)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT artist_id, provider, vector, updated_at
		FROM embeddings
		WHERE artist_id = ANY($1) AND provider = ANY($2)
	`, artistIDs, provStrings)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get embeddings")
	}
	defer rows.Close()

	var embeddings []model.Embedding
	for rows.Next() {
		var e model.Embedding
		var provider string
		var vec []byte
		if err := rows.Scan(&e.ArtistID, &provider, &vec, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan embedding")
		}
		e.Provider = model.EmbeddingProvider(provider)
		if err := json.Unmarshal(vec, &e.Vector); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal embedding vector")
		}
		embeddings = append(embeddings, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate embeddings")
	}
	return embeddings, nil
}

func (s *PostgresStore) ReplaceClusters(ctx context.Context, labelID string, clusters []model.Cluster) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin clusters tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM label_clusters WHERE label_id = $1`, labelID); err != nil {
		return eris.Wrapf(err, "postgres: delete clusters for %s", labelID)
	}

	for _, c := range clusters {
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		centroid, err := json.Marshal(c.Centroid)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal centroid")
		}
		artistIDs, err := json.Marshal(c.ArtistIDs)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal cluster artist ids")
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO label_clusters (id, label_id, cluster_index, centroid, artist_ids, name)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, labelID, c.Index, centroid, artistIDs, nullableString(c.Name))
		if err != nil {
			return eris.Wrapf(err, "postgres: insert cluster %d for %s", c.Index, labelID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit clusters")
}

func (s *PostgresStore) GetClusters(ctx context.Context, labelID string) ([]model.Cluster, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, label_id, cluster_index, centroid, artist_ids, name
		FROM label_clusters
		WHERE label_id = $1
		ORDER BY cluster_index ASC
	`, labelID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get clusters for %s", labelID)
	}
	defer rows.Close()

	var clusters []model.Cluster
	for rows.Next() {
		var c model.Cluster
		var centroid, artistIDs []byte
		var name *string
		if err := rows.Scan(&c.ID, &c.LabelID, &c.Index, &centroid, &artistIDs, &name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cluster")
		}
		if err := json.Unmarshal(centroid, &c.Centroid); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal centroid")
		}
		if err := json.Unmarshal(artistIDs, &c.ArtistIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal cluster artist ids")
		}
		if name != nil {
			c.Name = *name
		}
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate clusters")
	}
	return clusters, nil
}

func (s *PostgresStore) SaveRecommendations(ctx context.Context, recommendations []model.Recommendation) error {
	if len(recommendations) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(recommendations))
	for _, rec := range recommendations {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		breakdown, err := json.Marshal(rec.Breakdown)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal breakdown for %s", rec.ArtistID)
		}
		rows = append(rows, []any{
			id, rec.LabelID, rec.ArtistID, rec.BatchID,
			rec.FitScore, rec.MomentumScore, rec.RiskScore, rec.FinalScore,
			nullableString(rec.NearestClusterID), nullableString(rec.NearestRosterArtistID),
			breakdown, now,
		})
	}

	_, err := db.CopyFrom(ctx, s.pool, "recommendations", []string{
		"id", "label_id", "artist_id", "batch_id",
		"fit_score", "momentum_score", "risk_score", "final_score",
		"nearest_cluster_id", "nearest_roster_artist_id",
		"score_breakdown", "created_at",
	}, rows)
	return eris.Wrap(err, "postgres: copy recommendations")
}

func (s *PostgresStore) UpsertLabel(ctx context.Context, label model.Label) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO labels (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, label.ID, label.Name)
	return eris.Wrapf(err, "postgres: upsert label %s", label.ID)
}

func (s *PostgresStore) UpsertArtist(ctx context.Context, artist model.Artist) error {
	tags, err := json.Marshal(artist.GenreTags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal genre tags")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO artists (id, name, genre_tags, is_candidate)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, genre_tags = EXCLUDED.genre_tags, is_candidate = EXCLUDED.is_candidate
	`, artist.ID, artist.Name, tags, artist.IsCandidate)
	return eris.Wrapf(err, "postgres: upsert artist %s", artist.ID)
}

func (s *PostgresStore) AddRosterMember(ctx context.Context, labelID, artistID string, active bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO roster_memberships (label_id, artist_id, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (label_id, artist_id) DO UPDATE SET is_active = EXCLUDED.is_active
	`, labelID, artistID, active)
	return eris.Wrapf(err, "postgres: add roster member %s/%s", labelID, artistID)
}

func (s *PostgresStore) GetArtists(ctx context.Context, artistIDs []string) ([]model.Artist, error) {
	if len(artistIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, genre_tags, is_candidate
		FROM artists
		WHERE id = ANY($1)
	`, artistIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get artists")
	}
	defer rows.Close()

	var artists []model.Artist
	for rows.Next() {
		var a model.Artist
		var tags []byte
		if err := rows.Scan(&a.ID, &a.Name, &tags, &a.IsCandidate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artist")
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &a.GenreTags); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal genre tags")
			}
		}
		artists = append(artists, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate artists")
	}
	return artists, nil
}

func (s *PostgresStore) ActiveRosterArtistIDs(ctx context.Context, labelID string) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT artist_id FROM roster_memberships
		WHERE label_id = $1 AND is_active = true
	`, labelID)
}

func (s *PostgresStore) AllRosterArtistIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT DISTINCT artist_id FROM roster_memberships`)
}

func (s *PostgresStore) CandidateArtistIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM artists WHERE is_candidate = true`)
}

func (s *PostgresStore) LabelIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM labels`)
}

func (s *PostgresStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate ids")
	}
	return ids, nil
}

func (s *PostgresStore) SetPipelineStatus(ctx context.Context, labelID string, status model.RunStatus, startedAt, completedAt *time.Time) error {
	// Queued resets the run's timestamps so a re-enqueued label does not
	// carry times from its previous run.
	if status == model.RunStatusQueued {
		_, err := s.pool.Exec(ctx, `
			UPDATE labels SET pipeline_status = $1, pipeline_started_at = NULL, pipeline_completed_at = NULL
			WHERE id = $2
		`, string(status), labelID)
		return eris.Wrapf(err, "postgres: set pipeline status for %s", labelID)
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE labels SET
			pipeline_status = $1,
			pipeline_started_at = COALESCE($2, pipeline_started_at),
			pipeline_completed_at = COALESCE($3, pipeline_completed_at)
		WHERE id = $4
	`, string(status), startedAt, completedAt, labelID)
	return eris.Wrapf(err, "postgres: set pipeline status for %s", labelID)
}

func (s *PostgresStore) PipelineStatus(ctx context.Context, labelID string) (*model.PipelineRun, error) {
	run := model.PipelineRun{LabelID: labelID}
	var status string

	err := s.pool.QueryRow(ctx, `
		SELECT pipeline_status, pipeline_started_at, pipeline_completed_at
		FROM labels WHERE id = $1
	`, labelID).Scan(&status, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("label not found: %s", labelID)
		}
		return nil, eris.Wrapf(err, "postgres: pipeline status for %s", labelID)
	}

	run.Status = model.RunStatus(status)
	return &run, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
