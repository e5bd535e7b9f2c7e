// Package model defines the core domain types shared across the scouting pipeline.
package model

import "time"

// Platform identifies the source of a metric snapshot.
type Platform string

const (
	PlatformYouTube    Platform = "youtube"
	PlatformSpotify    Platform = "spotify"
	PlatformSoundCloud Platform = "soundcloud"
)

// Label is the minimal label record the engine reads and whose pipeline
// status it owns.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Artist is the minimal artist record the engine reads. The full artist
// profile (images, bios, platform handles) lives in the API layer.
type Artist struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	GenreTags   []string `json:"genre_tags,omitempty"`
	IsCandidate bool     `json:"is_candidate"`
}

// Snapshot is one timestamped measurement of an artist's metrics on one
// platform. Snapshots are append-only and never mutated after creation.
// Metric fields are pointers because platforms report different subsets.
type Snapshot struct {
	ID             string             `json:"id"`
	ArtistID       string             `json:"artist_id"`
	Platform       Platform           `json:"platform"`
	CapturedAt     time.Time          `json:"captured_at"`
	Followers      *int64             `json:"followers,omitempty"`
	Views          *int64             `json:"views,omitempty"`
	Likes          *int64             `json:"likes,omitempty"`
	Comments       *int64             `json:"comments,omitempty"`
	EngagementRate *float64           `json:"engagement_rate,omitempty"`
	Extra          map[string]float64 `json:"extra,omitempty"`
}

// Feature holds derived growth/risk/momentum signals for one artist at one
// computation time. Records are immutable; the latest ComputedAt wins.
type Feature struct {
	ID             string             `json:"id"`
	ArtistID       string             `json:"artist_id"`
	ComputedAt     time.Time          `json:"computed_at"`
	Growth7d       float64            `json:"growth_7d"`
	Growth30d      float64            `json:"growth_30d"`
	Acceleration   float64            `json:"acceleration"`
	EngagementRate float64            `json:"engagement_rate"`
	MomentumScore  float64            `json:"momentum_score"`
	RiskScore      float64            `json:"risk_score"`
	RiskFlags      []string           `json:"risk_flags,omitempty"`
	Stats          map[string]float64 `json:"stats,omitempty"`
}

// EmbeddingProvider distinguishes how an embedding was produced.
type EmbeddingProvider string

const (
	// ProviderMetric marks vectors built from snapshot history.
	ProviderMetric EmbeddingProvider = "metric"
	// ProviderFallback marks hashed name/genre vectors used when no
	// metric history exists. Metric always wins where both are present.
	ProviderFallback EmbeddingProvider = "fallback"
)

// Embedding is a fixed-dimension vector representing an artist. At most one
// row exists per (artist, provider); recomputes upsert in place.
type Embedding struct {
	ArtistID  string            `json:"artist_id"`
	Provider  EmbeddingProvider `json:"provider"`
	Vector    []float64         `json:"vector"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Cluster is one taste cluster of a label's roster: a centroid in embedding
// space plus its member artists. A label's cluster set is fully replaced on
// every clustering run; cluster indices are not stable across runs.
type Cluster struct {
	ID        string    `json:"id"`
	LabelID   string    `json:"label_id"`
	Index     int       `json:"cluster_index"`
	Centroid  []float64 `json:"centroid"`
	ArtistIDs []string  `json:"artist_ids"`
	Name      string    `json:"name,omitempty"`
}

// ScoreBreakdown explains how a recommendation's final score was assembled.
// Fallback is true when no Feature record existed and neutral momentum/risk
// defaults were substituted, so consumers can tell "no data, assumed average"
// from "measured but average".
type ScoreBreakdown struct {
	Fit      float64 `json:"fit"`
	Momentum float64 `json:"momentum"`
	Risk     float64 `json:"risk"`
	Formula  string  `json:"formula"`
	Fallback bool    `json:"fallback,omitempty"`
	Note     string  `json:"note,omitempty"`
}

// Recommendation is one ranked candidate for a label. Immutable once written;
// BatchID groups the output of a single ranking run and only the most recent
// batch per label is current.
type Recommendation struct {
	ID                    string         `json:"id"`
	LabelID               string         `json:"label_id"`
	ArtistID              string         `json:"artist_id"`
	BatchID               string         `json:"batch_id"`
	FitScore              float64        `json:"fit_score"`
	MomentumScore         float64        `json:"momentum_score"`
	RiskScore             float64        `json:"risk_score"`
	FinalScore            float64        `json:"final_score"`
	NearestClusterID      string         `json:"nearest_cluster_id,omitempty"`
	NearestRosterArtistID string         `json:"nearest_roster_artist_id,omitempty"`
	Breakdown             ScoreBreakdown `json:"score_breakdown"`
}

// RunStatus is the lifecycle state of a label's pipeline run.
type RunStatus string

const (
	RunStatusIdle     RunStatus = "idle"
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusError    RunStatus = "error"
	RunStatusCanceled RunStatus = "canceled"
)

// PipelineRun is the durable trace of scheduler activity for one label.
type PipelineRun struct {
	LabelID     string     `json:"label_id"`
	Status      RunStatus  `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
