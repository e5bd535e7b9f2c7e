package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/northbeat/scout-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and tests; Postgres is the production driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS labels (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL,
	pipeline_status       TEXT NOT NULL DEFAULT 'idle',
	pipeline_started_at   DATETIME,
	pipeline_completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS artists (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	genre_tags   TEXT,
	is_candidate INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS roster_memberships (
	label_id  TEXT NOT NULL REFERENCES labels(id),
	artist_id TEXT NOT NULL REFERENCES artists(id),
	is_active INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (label_id, artist_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	id              TEXT PRIMARY KEY,
	artist_id       TEXT NOT NULL REFERENCES artists(id),
	platform        TEXT NOT NULL,
	captured_at     DATETIME NOT NULL,
	followers       INTEGER,
	views           INTEGER,
	likes           INTEGER,
	comments        INTEGER,
	engagement_rate REAL,
	extra           TEXT
);

CREATE TABLE IF NOT EXISTS artist_features (
	id              TEXT PRIMARY KEY,
	artist_id       TEXT NOT NULL REFERENCES artists(id),
	computed_at     DATETIME NOT NULL,
	growth_7d       REAL NOT NULL,
	growth_30d      REAL NOT NULL,
	acceleration    REAL NOT NULL,
	engagement_rate REAL NOT NULL,
	momentum_score  REAL NOT NULL,
	risk_score      REAL NOT NULL,
	risk_flags      TEXT,
	stats           TEXT
);

CREATE TABLE IF NOT EXISTS embeddings (
	id         TEXT PRIMARY KEY,
	artist_id  TEXT NOT NULL REFERENCES artists(id),
	provider   TEXT NOT NULL,
	vector     TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (artist_id, provider)
);

CREATE TABLE IF NOT EXISTS label_clusters (
	id            TEXT PRIMARY KEY,
	label_id      TEXT NOT NULL REFERENCES labels(id),
	cluster_index INTEGER NOT NULL,
	centroid      TEXT NOT NULL,
	artist_ids    TEXT NOT NULL,
	name          TEXT
);

CREATE TABLE IF NOT EXISTS recommendations (
	id                       TEXT PRIMARY KEY,
	label_id                 TEXT NOT NULL REFERENCES labels(id),
	artist_id                TEXT NOT NULL REFERENCES artists(id),
	batch_id                 TEXT NOT NULL,
	fit_score                REAL NOT NULL,
	momentum_score           REAL NOT NULL,
	risk_score               REAL NOT NULL,
	final_score              REAL NOT NULL,
	nearest_cluster_id       TEXT,
	nearest_roster_artist_id TEXT,
	score_breakdown          TEXT NOT NULL,
	created_at               DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_artist_captured ON snapshots(artist_id, captured_at);
CREATE INDEX IF NOT EXISTS idx_features_artist_computed ON artist_features(artist_id, computed_at DESC);
CREATE INDEX IF NOT EXISTS idx_clusters_label ON label_clusters(label_id);
CREATE INDEX IF NOT EXISTS idx_recommendations_label_batch ON recommendations(label_id, batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSnapshots(ctx context.Context, snapshots []model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin snapshots tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, snap := range snapshots {
		id := snap.ID
		if id == "" {
			id = uuid.New().String()
		}
		var extra any
		if len(snap.Extra) > 0 {
			data, err := json.Marshal(snap.Extra)
			if err != nil {
				return eris.Wrapf(err, "sqlite: marshal snapshot extra for %s", snap.ArtistID)
			}
			extra = string(data)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots
				(id, artist_id, platform, captured_at, followers, views, likes, comments, engagement_rate, extra)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, snap.ArtistID, string(snap.Platform), snap.CapturedAt.UTC(),
			snap.Followers, snap.Views, snap.Likes, snap.Comments, snap.EngagementRate, extra)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert snapshot for %s", snap.ArtistID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit snapshots")
}

func (s *SQLiteStore) GetSnapshots(ctx context.Context, artistID string) ([]model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artist_id, platform, captured_at, followers, views, likes, comments, engagement_rate, extra
		FROM snapshots
		WHERE artist_id = ?
		ORDER BY captured_at ASC
	`, artistID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshots for %s", artistID)
	}
	defer rows.Close()

	var snapshots []model.Snapshot
	for rows.Next() {
		var snap model.Snapshot
		var platform string
		var extra sql.NullString
		err := rows.Scan(&snap.ID, &snap.ArtistID, &platform, &snap.CapturedAt,
			&snap.Followers, &snap.Views, &snap.Likes, &snap.Comments, &snap.EngagementRate, &extra)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		snap.Platform = model.Platform(platform)
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &snap.Extra); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal snapshot extra")
			}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, eris.Wrap(rows.Err(), "sqlite: iterate snapshots")
}

func (s *SQLiteStore) SaveFeature(ctx context.Context, feature model.Feature) error {
	id := feature.ID
	if id == "" {
		id = uuid.New().String()
	}
	flags, err := json.Marshal(feature.RiskFlags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal risk flags")
	}
	var stats any
	if len(feature.Stats) > 0 {
		data, err := json.Marshal(feature.Stats)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal feature stats")
		}
		stats = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artist_features
			(id, artist_id, computed_at, growth_7d, growth_30d, acceleration, engagement_rate, momentum_score, risk_score, risk_flags, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, feature.ArtistID, feature.ComputedAt.UTC(), feature.Growth7d, feature.Growth30d,
		feature.Acceleration, feature.EngagementRate, feature.MomentumScore, feature.RiskScore, string(flags), stats)
	return eris.Wrapf(err, "sqlite: insert feature for %s", feature.ArtistID)
}

func (s *SQLiteStore) LatestFeature(ctx context.Context, artistID string) (*model.Feature, error) {
	var f model.Feature
	var flags string
	var stats sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, artist_id, computed_at, growth_7d, growth_30d, acceleration, engagement_rate, momentum_score, risk_score, risk_flags, stats
		FROM artist_features
		WHERE artist_id = ?
		ORDER BY computed_at DESC
		LIMIT 1
	`, artistID).Scan(&f.ID, &f.ArtistID, &f.ComputedAt, &f.Growth7d, &f.Growth30d,
		&f.Acceleration, &f.EngagementRate, &f.MomentumScore, &f.RiskScore, &flags, &stats)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: latest feature for %s", artistID)
	}

	if flags != "" {
		if err := json.Unmarshal([]byte(flags), &f.RiskFlags); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal risk flags")
		}
	}
	if stats.Valid && stats.String != "" {
		if err := json.Unmarshal([]byte(stats.String), &f.Stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal feature stats")
		}
	}
	return &f, nil
}

func (s *SQLiteStore) SaveEmbedding(ctx context.Context, artistID string, provider model.EmbeddingProvider, vector []float64) error {
	vec, err := json.Marshal(vector)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal embedding vector")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, artist_id, provider, vector, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (artist_id, provider)
		DO UPDATE SET vector = excluded.vector, updated_at = excluded.updated_at
	`, uuid.New().String(), artistID, string(provider), string(vec), time.Now().UTC())
	return eris.Wrapf(err, "sqlite: upsert embedding for %s/%s", artistID, provider)
}

func (s *SQLiteStore) GetEmbeddings(ctx context.Context, artistIDs []string, providers []model.EmbeddingProvider) ([]model.Embedding, error) {
	if len(artistIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT artist_id, provider, vector, updated_at
		FROM embeddings
		WHERE artist_id IN (` + placeholders(len(artistIDs)) + `)
		AND provider IN (` + placeholders(len(providers)) + `)`
	args := make([]any, 0, len(artistIDs)+len(providers))
	for _, id := range artistIDs {
		args = append(args, id)
	}
	for _, p := range providers {
		args = append(args, string(p))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get embeddings")
	}
	defer rows.Close()

	var embeddings []model.Embedding
	for rows.Next() {
		var e model.Embedding
		var provider, vec string
		if err := rows.Scan(&e.ArtistID, &provider, &vec, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan embedding")
		}
		e.Provider = model.EmbeddingProvider(provider)
		if err := json.Unmarshal([]byte(vec), &e.Vector); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal embedding vector")
		}
		embeddings = append(embeddings, e)
	}
	return embeddings, eris.Wrap(rows.Err(), "sqlite: iterate embeddings")
}

func (s *SQLiteStore) ReplaceClusters(ctx context.Context, labelID string, clusters []model.Cluster) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin clusters tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM label_clusters WHERE label_id = ?`, labelID); err != nil {
		return eris.Wrapf(err, "sqlite: delete clusters for %s", labelID)
	}

	for _, c := range clusters {
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		centroid, err := json.Marshal(c.Centroid)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal centroid")
		}
		artistIDs, err := json.Marshal(c.ArtistIDs)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal cluster artist ids")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO label_clusters (id, label_id, cluster_index, centroid, artist_ids, name)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, labelID, c.Index, string(centroid), string(artistIDs), nullableString(c.Name))
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert cluster %d for %s", c.Index, labelID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit clusters")
}

func (s *SQLiteStore) GetClusters(ctx context.Context, labelID string) ([]model.Cluster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label_id, cluster_index, centroid, artist_ids, name
		FROM label_clusters
		WHERE label_id = ?
		ORDER BY cluster_index ASC
	`, labelID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get clusters for %s", labelID)
	}
	defer rows.Close()

	var clusters []model.Cluster
	for rows.Next() {
		var c model.Cluster
		var centroid, artistIDs string
		var name sql.NullString
		if err := rows.Scan(&c.ID, &c.LabelID, &c.Index, &centroid, &artistIDs, &name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cluster")
		}
		if err := json.Unmarshal([]byte(centroid), &c.Centroid); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal centroid")
		}
		if err := json.Unmarshal([]byte(artistIDs), &c.ArtistIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal cluster artist ids")
		}
		c.Name = name.String
		clusters = append(clusters, c)
	}
	return clusters, eris.Wrap(rows.Err(), "sqlite: iterate clusters")
}

func (s *SQLiteStore) SaveRecommendations(ctx context.Context, recommendations []model.Recommendation) error {
	if len(recommendations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin recommendations tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, rec := range recommendations {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		breakdown, err := json.Marshal(rec.Breakdown)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal breakdown for %s", rec.ArtistID)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recommendations
				(id, label_id, artist_id, batch_id, fit_score, momentum_score, risk_score, final_score,
				 nearest_cluster_id, nearest_roster_artist_id, score_breakdown, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, rec.LabelID, rec.ArtistID, rec.BatchID,
			rec.FitScore, rec.MomentumScore, rec.RiskScore, rec.FinalScore,
			nullableString(rec.NearestClusterID), nullableString(rec.NearestRosterArtistID),
			string(breakdown), now)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert recommendation for %s", rec.ArtistID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit recommendations")
}

func (s *SQLiteStore) UpsertLabel(ctx context.Context, label model.Label) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (id, name)
		VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
	`, label.ID, label.Name)
	return eris.Wrapf(err, "sqlite: upsert label %s", label.ID)
}

func (s *SQLiteStore) UpsertArtist(ctx context.Context, artist model.Artist) error {
	tags, err := json.Marshal(artist.GenreTags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal genre tags")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artists (id, name, genre_tags, is_candidate)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, genre_tags = excluded.genre_tags, is_candidate = excluded.is_candidate
	`, artist.ID, artist.Name, string(tags), artist.IsCandidate)
	return eris.Wrapf(err, "sqlite: upsert artist %s", artist.ID)
}

func (s *SQLiteStore) AddRosterMember(ctx context.Context, labelID, artistID string, active bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roster_memberships (label_id, artist_id, is_active)
		VALUES (?, ?, ?)
		ON CONFLICT (label_id, artist_id) DO UPDATE SET is_active = excluded.is_active
	`, labelID, artistID, active)
	return eris.Wrapf(err, "sqlite: add roster member %s/%s", labelID, artistID)
}

func (s *SQLiteStore) GetArtists(ctx context.Context, artistIDs []string) ([]model.Artist, error) {
	if len(artistIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(artistIDs))
	for i, id := range artistIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, genre_tags, is_candidate
		FROM artists
		WHERE id IN (`+placeholders(len(artistIDs))+`)
	`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get artists")
	}
	defer rows.Close()

	var artists []model.Artist
	for rows.Next() {
		var a model.Artist
		var tags sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &tags, &a.IsCandidate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artist")
		}
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &a.GenreTags); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal genre tags")
			}
		}
		artists = append(artists, a)
	}
	return artists, eris.Wrap(rows.Err(), "sqlite: iterate artists")
}

func (s *SQLiteStore) ActiveRosterArtistIDs(ctx context.Context, labelID string) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT artist_id FROM roster_memberships
		WHERE label_id = ? AND is_active = 1
	`, labelID)
}

func (s *SQLiteStore) AllRosterArtistIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT DISTINCT artist_id FROM roster_memberships`)
}

func (s *SQLiteStore) CandidateArtistIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM artists WHERE is_candidate = 1`)
}

func (s *SQLiteStore) LabelIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM labels`)
}

func (s *SQLiteStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate ids")
}

func (s *SQLiteStore) SetPipelineStatus(ctx context.Context, labelID string, status model.RunStatus, startedAt, completedAt *time.Time) error {
	if status == model.RunStatusQueued {
		_, err := s.db.ExecContext(ctx, `
			UPDATE labels SET pipeline_status = ?, pipeline_started_at = NULL, pipeline_completed_at = NULL
			WHERE id = ?
		`, string(status), labelID)
		return eris.Wrapf(err, "sqlite: set pipeline status for %s", labelID)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE labels SET
			pipeline_status = ?,
			pipeline_started_at = COALESCE(?, pipeline_started_at),
			pipeline_completed_at = COALESCE(?, pipeline_completed_at)
		WHERE id = ?
	`, string(status), utcOrNil(startedAt), utcOrNil(completedAt), labelID)
	return eris.Wrapf(err, "sqlite: set pipeline status for %s", labelID)
}

func (s *SQLiteStore) PipelineStatus(ctx context.Context, labelID string) (*model.PipelineRun, error) {
	run := model.PipelineRun{LabelID: labelID}
	var status string
	var startedAt, completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT pipeline_status, pipeline_started_at, pipeline_completed_at
		FROM labels WHERE id = ?
	`, labelID).Scan(&status, &startedAt, &completedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("label not found: %s", labelID)
		}
		return nil, eris.Wrapf(err, "sqlite: pipeline status for %s", labelID)
	}

	run.Status = model.RunStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
