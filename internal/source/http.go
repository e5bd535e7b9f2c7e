// Package source fetches artist metric snapshots from the metrics API used
// by the ingest stage.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/northbeat/scout-cli/internal/model"
)

// Options configures the HTTP metric source.
type Options struct {
	BaseURL    string
	APIKey     string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Rate       rate.Limit
	Burst      int
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPSource fetches snapshots from the metrics API with retry and adaptive
// rate limiting.
type HTTPSource struct {
	client  *http.Client
	opts    Options
	limiter *AdaptiveLimiter
}

// NewHTTPSource creates an HTTPSource with the given options.
func NewHTTPSource(opts Options) *HTTPSource {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "scout-cli/1.0"
	}
	if opts.Rate <= 0 {
		opts.Rate = 5
	}
	if opts.Burst < 1 {
		opts.Burst = 5
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPSource{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: NewAdaptiveLimiter(opts.Rate, opts.Burst),
	}
}

// snapshotPayload is one metric reading in the API response.
type snapshotPayload struct {
	Platform       string             `json:"platform"`
	CapturedAt     time.Time          `json:"captured_at"`
	Followers      *int64             `json:"followers"`
	Views          *int64             `json:"views"`
	Likes          *int64             `json:"likes"`
	Comments       *int64             `json:"comments"`
	EngagementRate *float64           `json:"engagement_rate"`
	Extra          map[string]float64 `json:"extra"`
}

// Fetch retrieves the artist's current metrics, one snapshot per platform
// that reports data.
func (s *HTTPSource) Fetch(ctx context.Context, artist model.Artist) ([]model.Snapshot, error) {
	endpoint := fmt.Sprintf("%s/artists/%s/metrics", s.opts.BaseURL, url.PathEscape(artist.ID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "source: create request")
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	if s.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	}

	resp, err := s.doWithRetry(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "source: fetch metrics for %s", artist.ID)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("source: unexpected status %d for %s", resp.StatusCode, artist.ID)
	}

	var payloads []snapshotPayload
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, eris.Wrapf(err, "source: decode metrics for %s", artist.ID)
	}

	snapshots := make([]model.Snapshot, 0, len(payloads))
	for _, p := range payloads {
		snapshots = append(snapshots, model.Snapshot{
			ArtistID:       artist.ID,
			Platform:       model.Platform(p.Platform),
			CapturedAt:     p.CapturedAt.UTC(),
			Followers:      p.Followers,
			Views:          p.Views,
			Likes:          p.Likes,
			Comments:       p.Comments,
			EngagementRate: p.EngagementRate,
			Extra:          p.Extra,
		})
	}
	return snapshots, nil
}

func (s *HTTPSource) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := range s.opts.MaxRetries {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		cloned := req.Clone(ctx)
		resp, err := s.client.Do(cloned)
		if err != nil {
			lastErr = err
			zap.L().Warn("http request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			s.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http 429 from %s", req.URL.String())
			s.limiter.OnRateLimit()
			zap.L().Warn("rate limited (429), backing off",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
			)
			s.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String())
			zap.L().Warn("server error, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			s.backoff(ctx, attempt)
			continue
		}

		s.limiter.OnSuccess()
		return resp, nil
	}

	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

func (s *HTTPSource) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	d = d + jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
