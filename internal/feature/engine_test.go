package feature

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbeat/scout-cli/internal/model"
	"github.com/northbeat/scout-cli/internal/store"
)

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

func snap(daysAgo int, followers, views int64, now time.Time) model.Snapshot {
	return model.Snapshot{
		ArtistID:   "artist-1",
		Platform:   model.PlatformYouTube,
		CapturedAt: now.AddDate(0, 0, -daysAgo),
		Followers:  i64(followers),
		Views:      i64(views),
	}
}

func TestComputeEmptyHistory(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, Compute("artist-1", nil, now))
}

func TestComputeGrowth(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		snapshots     []model.Snapshot
		wantGrowth7d  float64
		wantGrowth30d float64
	}{
		{
			name: "30 day follower growth",
			snapshots: []model.Snapshot{
				snap(30, 1000, 0, now),
				snap(0, 1300, 0, now),
			},
			wantGrowth7d:  0.30, // the 30d-old snapshot is also the 7d baseline
			wantGrowth30d: 0.30,
		},
		{
			name: "no snapshot older than the window",
			snapshots: []model.Snapshot{
				snap(3, 1000, 0, now),
				snap(0, 1300, 0, now),
			},
			wantGrowth7d:  0.0,
			wantGrowth30d: 0.0,
		},
		{
			name: "zero baseline yields zero growth",
			snapshots: []model.Snapshot{
				snap(30, 0, 0, now),
				snap(0, 500, 0, now),
			},
			wantGrowth7d:  0.0,
			wantGrowth30d: 0.0,
		},
		{
			name: "declining followers",
			snapshots: []model.Snapshot{
				snap(30, 1000, 0, now),
				snap(0, 800, 0, now),
			},
			wantGrowth7d:  -0.20,
			wantGrowth30d: -0.20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feat := Compute("artist-1", tt.snapshots, now)
			require.NotNil(t, feat)
			assert.InDelta(t, tt.wantGrowth7d, feat.Growth7d, 1e-9)
			assert.InDelta(t, tt.wantGrowth30d, feat.Growth30d, 1e-9)
		})
	}
}

func TestComputeMomentum(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// 20% weekly follower growth saturates the 7d term (0.35), 20% monthly
	// growth gives 0.4 of the 30d term (0.10), flat views zero out
	// acceleration, and a 5% engagement rate saturates its term (0.20).
	snapshots := []model.Snapshot{
		snap(30, 1000, 1000, now),
		snap(7, 1000, 1000, now),
		snap(0, 1200, 1000, now),
	}
	snapshots[2].EngagementRate = f64(0.05)

	feat := Compute("artist-1", snapshots, now)
	require.NotNil(t, feat)
	assert.InDelta(t, 0.65, feat.MomentumScore, 1e-9)
	assert.InDelta(t, 0.0, feat.RiskScore, 1e-9)
	assert.Empty(t, feat.RiskFlags)
	assert.Contains(t, feat.Stats, "volatility_30d")
}

func TestRatesIncludeWindowBoundary(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// The oldest snapshot sits exactly on the 30-day boundary. It is the
	// growth baseline, so it must also feed the daily-rate series; dropping
	// it would leave a single pair and no volatility stats.
	snapshots := []model.Snapshot{
		snap(30, 1000, 0, now),
		snap(15, 1100, 0, now),
		snap(0, 1210, 0, now),
	}

	feat := Compute("artist-1", snapshots, now)
	require.NotNil(t, feat)
	require.Contains(t, feat.Stats, "volatility_30d")
	require.Contains(t, feat.Stats, "spike_ratio")
	assert.InDelta(t, 1.0, feat.Stats["spike_ratio"], 1e-9)
}

func TestComputeMomentumBounded(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		snapshots []model.Snapshot
	}{
		{
			name: "explosive growth",
			snapshots: []model.Snapshot{
				snap(30, 1, 1, now),
				snap(0, 1_000_000, 1_000_000, now),
			},
		},
		{
			name: "total collapse",
			snapshots: []model.Snapshot{
				snap(30, 1_000_000, 1_000_000, now),
				snap(0, 1, 1, now),
			},
		},
		{
			name:      "single snapshot",
			snapshots: []model.Snapshot{snap(0, 500, 500, now)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feat := Compute("artist-1", tt.snapshots, now)
			require.NotNil(t, feat)
			assert.GreaterOrEqual(t, feat.MomentumScore, 0.0)
			assert.LessOrEqual(t, feat.MomentumScore, 1.0)
			assert.GreaterOrEqual(t, feat.RiskScore, 0.0)
			assert.LessOrEqual(t, feat.RiskScore, 1.0)
		})
	}
}

func TestAssessRiskFlags(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("extreme and inconsistent growth", func(t *testing.T) {
		snapshots := []model.Snapshot{
			snap(31, 1000, 0, now),
			snap(8, 100, 0, now),
			snap(0, 700, 0, now),
		}
		feat := Compute("artist-1", snapshots, now)
		require.NotNil(t, feat)
		assert.Contains(t, feat.RiskFlags, FlagExtremeGrowth7d)
		assert.Contains(t, feat.RiskFlags, FlagInconsistentGrowth)
		assert.InDelta(t, 0.6, feat.RiskScore, 1e-9)
	})

	t.Run("low engagement with high followers", func(t *testing.T) {
		snapshots := []model.Snapshot{
			snap(8, 20_000, 0, now),
			snap(0, 20_000, 0, now),
		}
		feat := Compute("artist-1", snapshots, now)
		require.NotNil(t, feat)
		assert.Contains(t, feat.RiskFlags, FlagLowEngagementHighFollowers)
		assert.InDelta(t, 0.3, feat.RiskScore, 1e-9)
	})

	t.Run("volatility flag does not raise score", func(t *testing.T) {
		// Alternating big jumps and crashes produce a daily rate stddev
		// well past the volatility threshold.
		snapshots := []model.Snapshot{
			snap(8, 1000, 0, now),
			snap(6, 3000, 0, now),
			snap(4, 900, 0, now),
			snap(2, 2700, 0, now),
			snap(0, 800, 0, now),
		}
		feat := Compute("artist-1", snapshots, now)
		require.NotNil(t, feat)
		assert.Contains(t, feat.RiskFlags, FlagHighVolatility30d)
		assert.InDelta(t, 0.0, feat.RiskScore, 1e-9)
	})

	t.Run("combined risk stays bounded", func(t *testing.T) {
		// All three scored conditions firing at once.
		snapshots := []model.Snapshot{
			snap(31, 100_000, 0, now),
			snap(8, 3_000, 0, now),
			snap(0, 50_000, 0, now),
		}
		feat := Compute("artist-1", snapshots, now)
		require.NotNil(t, feat)
		assert.Len(t, feat.RiskFlags, 3)
		assert.InDelta(t, 0.9, feat.RiskScore, 1e-9)
		assert.LessOrEqual(t, feat.RiskScore, 1.0)
	})
}

func TestSpikeRatio(t *testing.T) {
	tests := []struct {
		name  string
		rates []float64
		want  float64
		ok    bool
	}{
		{"flat rates have zero median", []float64{0, 0, 0}, 0, false},
		{"uniform rates", []float64{0.1, 0.1, 0.1}, 1.0, true},
		{"one spike", []float64{0.01, 0.01, 0.08}, 8.0, true},
		{"ratio capped", []float64{0.0001, 0.0001, 1.0}, 50.0, true},
		{"negative rates use magnitude", []float64{-0.01, 0.01, -0.05}, 5.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := spikeRatio(tt.rates)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

type mockFeatureStore struct {
	store.Store
	snapshots []model.Snapshot
	saved     []model.Feature
}

func (m *mockFeatureStore) GetSnapshots(ctx context.Context, artistID string) ([]model.Snapshot, error) {
	return m.snapshots, nil
}

func (m *mockFeatureStore) SaveFeature(ctx context.Context, feature model.Feature) error {
	m.saved = append(m.saved, feature)
	return nil
}

func TestComputeArtist(t *testing.T) {
	now := time.Now().UTC()

	t.Run("no history returns nil without saving", func(t *testing.T) {
		st := &mockFeatureStore{}
		feat, err := NewEngine(st).ComputeArtist(context.Background(), "artist-1")
		require.NoError(t, err)
		assert.Nil(t, feat)
		assert.Empty(t, st.saved)
	})

	t.Run("persists computed feature", func(t *testing.T) {
		st := &mockFeatureStore{snapshots: []model.Snapshot{
			snap(30, 1000, 0, now),
			snap(0, 1300, 0, now),
		}}
		feat, err := NewEngine(st).ComputeArtist(context.Background(), "artist-1")
		require.NoError(t, err)
		require.NotNil(t, feat)
		require.Len(t, st.saved, 1)
		assert.Equal(t, "artist-1", st.saved[0].ArtistID)
		assert.InDelta(t, 0.30, st.saved[0].Growth30d, 1e-9)
	})
}
