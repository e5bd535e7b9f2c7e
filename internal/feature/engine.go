// Package feature derives growth, risk, and momentum signals from an
// artist's snapshot history.
package feature

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/northbeat/scout-cli/internal/model"
	"github.com/northbeat/scout-cli/internal/store"
)

// Growth windows and normalization ceilings. A ceiling is the value at which
// a sub-score saturates at 1.0.
const (
	shortWindowDays = 7
	longWindowDays  = 30

	growth7dCeiling     = 0.20 // 20% weekly follower growth is excellent
	growth30dCeiling    = 0.50
	accelerationCeiling = 0.20
	engagementCeiling   = 0.05

	growth7dWeight     = 0.35
	growth30dWeight    = 0.25
	accelerationWeight = 0.20
	engagementWeight   = 0.20
)

// Risk thresholds and score contributions.
const (
	extremeGrowthThreshold  = 5.0 // 500% in 7 days
	extremeGrowthContrib    = 0.4
	lowEngagementThreshold  = 0.001
	highFollowerThreshold   = 10_000
	lowEngagementContrib    = 0.3
	inconsistentContrib     = 0.2
	volatilityThreshold     = 0.15
	spikeRatioThreshold     = 4.0
	spikeRatioCap           = 50.0
	minRateSamplesFollowers = 3
)

// Risk flag names.
const (
	FlagExtremeGrowth7d            = "extreme_growth_7d"
	FlagLowEngagementHighFollowers = "low_engagement_high_followers"
	FlagInconsistentGrowth         = "inconsistent_growth"
	FlagHighVolatility30d          = "high_volatility_30d"
	FlagSpikyGrowth30d             = "spiky_growth_30d"
)

// Engine computes and persists feature records.
type Engine struct {
	store store.Store
}

// NewEngine creates a feature Engine backed by the given store.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// ComputeArtist loads an artist's snapshot history, derives a new Feature
// record, and persists it. Returns (nil, nil) when the artist has no
// snapshots; that is an expected outcome, not an error.
func (e *Engine) ComputeArtist(ctx context.Context, artistID string) (*model.Feature, error) {
	snapshots, err := e.store.GetSnapshots(ctx, artistID)
	if err != nil {
		return nil, eris.Wrapf(err, "feature: load snapshots for %s", artistID)
	}

	feat := Compute(artistID, snapshots, time.Now().UTC())
	if feat == nil {
		zap.L().Debug("feature: no snapshot history", zap.String("artist_id", artistID))
		return nil, nil
	}

	if err := e.store.SaveFeature(ctx, *feat); err != nil {
		return nil, eris.Wrapf(err, "feature: save feature for %s", artistID)
	}
	return feat, nil
}

// Compute derives a Feature from an ordered snapshot history (ascending by
// captured_at, all platforms). Returns nil when the history is empty.
func Compute(artistID string, snapshots []model.Snapshot, now time.Time) *model.Feature {
	if len(snapshots) == 0 {
		return nil
	}
	latest := snapshots[len(snapshots)-1]

	growth7d := growth(snapshots, followersOf, shortWindowDays, now)
	growth30d := growth(snapshots, followersOf, longWindowDays, now)

	// Acceleration compares this week's view-growth rate to the average
	// weekly rate implied by the last 30 days.
	growth7dViews := growth(snapshots, viewsOf, shortWindowDays, now)
	growth30dViews := growth(snapshots, viewsOf, longWindowDays, now)
	acceleration := growth7dViews - growth30dViews/4.0

	engagementRate := engagement(latest)

	flags, riskScore, stats := assessRisk(snapshots, growth7d, growth30d, engagementRate, latest, now)

	momentum := growth7dWeight*clamp01(growth7d/growth7dCeiling) +
		growth30dWeight*clamp01(growth30d/growth30dCeiling) +
		accelerationWeight*clamp01(math.Max(acceleration, 0)/accelerationCeiling) +
		engagementWeight*clamp01(engagementRate/engagementCeiling)
	momentum = clamp01(momentum)

	return &model.Feature{
		ID:             uuid.New().String(),
		ArtistID:       artistID,
		ComputedAt:     now,
		Growth7d:       growth7d,
		Growth30d:      growth30d,
		Acceleration:   acceleration,
		EngagementRate: engagementRate,
		MomentumScore:  momentum,
		RiskScore:      riskScore,
		RiskFlags:      flags,
		Stats:          stats,
	}
}

// growth returns the relative change of a metric between the latest snapshot
// and the latest snapshot at or before now-windowDays. Missing older
// snapshots and zero baselines both yield 0.0 so a sparse history never
// poisons downstream scores.
func growth(snapshots []model.Snapshot, metric func(model.Snapshot) float64, windowDays int, now time.Time) float64 {
	cutoff := now.AddDate(0, 0, -windowDays)

	var older *model.Snapshot
	for i := range snapshots {
		if !snapshots[i].CapturedAt.After(cutoff) {
			older = &snapshots[i]
		}
	}
	if older == nil {
		return 0.0
	}

	oldVal := metric(*older)
	newVal := metric(snapshots[len(snapshots)-1])
	if oldVal == 0 {
		return 0.0
	}
	return (newVal - oldVal) / oldVal
}

// engagement prefers the stored engagement rate, deriving one from likes and
// comments per view when the snapshot lacks it.
func engagement(latest model.Snapshot) float64 {
	if latest.EngagementRate != nil && *latest.EngagementRate != 0 {
		return *latest.EngagementRate
	}
	views := viewsOf(latest)
	if views <= 0 {
		return 0.0
	}
	return (likesOf(latest) + commentsOf(latest)) / views
}

func assessRisk(snapshots []model.Snapshot, growth7d, growth30d, engagementRate float64, latest model.Snapshot, now time.Time) ([]string, float64, map[string]float64) {
	var flags []string
	var score float64
	stats := map[string]float64{}

	if growth7d > extremeGrowthThreshold {
		flags = append(flags, FlagExtremeGrowth7d)
		score += extremeGrowthContrib
	}
	if engagementRate < lowEngagementThreshold && followersOf(latest) > highFollowerThreshold {
		flags = append(flags, FlagLowEngagementHighFollowers)
		score += lowEngagementContrib
	}
	if growth7d > 0 && growth30d < 0 {
		flags = append(flags, FlagInconsistentGrowth)
		score += inconsistentContrib
	}

	rates := dailyGrowthRates(snapshots, now)
	if len(rates) >= 2 {
		vol := stdDev(rates)
		stats["volatility_30d"] = vol
		if vol > volatilityThreshold {
			flags = append(flags, FlagHighVolatility30d)
		}
		if ratio, ok := spikeRatio(rates); ok {
			stats["spike_ratio"] = ratio
			if ratio > spikeRatioThreshold {
				flags = append(flags, FlagSpikyGrowth30d)
			}
		}
	}

	return flags, math.Min(score, 1.0), stats
}

// dailyGrowthRates builds a per-day growth rate series from consecutive
// snapshot pairs in the trailing 30-day window. Followers are preferred;
// views are the fallback when fewer than 3 follower samples exist.
func dailyGrowthRates(snapshots []model.Snapshot, now time.Time) []float64 {
	followerRates := ratesFor(snapshots, followersOf, now)
	if len(followerRates) >= minRateSamplesFollowers {
		return followerRates
	}
	viewRates := ratesFor(snapshots, viewsOf, now)
	if len(viewRates) > len(followerRates) {
		return viewRates
	}
	return followerRates
}

func ratesFor(snapshots []model.Snapshot, metric func(model.Snapshot) float64, now time.Time) []float64 {
	cutoff := now.AddDate(0, 0, -longWindowDays)

	var windowed []model.Snapshot
	for _, s := range snapshots {
		// The boundary snapshot counts, matching the growth baseline window.
		if !s.CapturedAt.Before(cutoff) {
			windowed = append(windowed, s)
		}
	}

	var rates []float64
	for i := 1; i < len(windowed); i++ {
		v1 := metric(windowed[i-1])
		v2 := metric(windowed[i])
		if v1 <= 0 {
			continue
		}
		days := windowed[i].CapturedAt.Sub(windowed[i-1].CapturedAt).Hours() / 24.0
		if days <= 0 {
			continue
		}
		rates = append(rates, (v2-v1)/v1/days)
	}
	return rates
}

// spikeRatio is the ratio of the max daily rate to the median daily rate,
// capped so a near-zero median cannot blow the ratio out.
func spikeRatio(rates []float64) (float64, bool) {
	abs := make([]float64, len(rates))
	maxRate := 0.0
	for i, r := range rates {
		abs[i] = math.Abs(r)
		if abs[i] > maxRate {
			maxRate = abs[i]
		}
	}
	med := median(abs)
	if med <= 0 {
		return 0, false
	}
	return math.Min(maxRate/med, spikeRatioCap), true
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

func clamp01(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}

func followersOf(s model.Snapshot) float64 { return int64Val(s.Followers) }
func viewsOf(s model.Snapshot) float64     { return int64Val(s.Views) }
func likesOf(s model.Snapshot) float64     { return int64Val(s.Likes) }
func commentsOf(s model.Snapshot) float64  { return int64Val(s.Comments) }

func int64Val(v *int64) float64 {
	if v == nil {
		return 0
	}
	return float64(*v)
}
