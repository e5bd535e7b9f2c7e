// Package embedding builds fixed-dimension artist vectors and provides the
// cosine similarity used for cluster fit and nearest-roster lookups.
package embedding

import (
	"crypto/md5"
	"encoding/binary"
	"math"
	"regexp"
	"strings"

	"github.com/northbeat/scout-cli/internal/model"
)

// DefaultDim is the default embedding dimension.
const DefaultDim = 128

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Builder constructs metric and fallback embeddings of a fixed dimension.
type Builder struct {
	dim int
}

// NewBuilder creates a Builder. A non-positive dim falls back to DefaultDim.
func NewBuilder(dim int) *Builder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &Builder{dim: dim}
}

// Dim returns the configured embedding dimension.
func (b *Builder) Dim() int { return b.dim }

// MetricVector builds an embedding from an artist's snapshot history
// (ascending by captured_at): the latest snapshot's raw metrics plus
// first-to-latest growth ratios when history exists, zero-padded to the
// configured dimension. Sparse and interpretable rather than learned.
// Returns nil when the history is empty.
func (b *Builder) MetricVector(snapshots []model.Snapshot) []float64 {
	if len(snapshots) == 0 {
		return nil
	}
	latest := snapshots[len(snapshots)-1]

	features := []float64{
		int64Val(latest.Followers),
		int64Val(latest.Views),
		int64Val(latest.Likes),
		int64Val(latest.Comments),
		floatVal(latest.EngagementRate),
	}

	if len(snapshots) >= 2 {
		first := snapshots[0]
		for _, metric := range []func(model.Snapshot) float64{
			func(s model.Snapshot) float64 { return int64Val(s.Followers) },
			func(s model.Snapshot) float64 { return int64Val(s.Views) },
			func(s model.Snapshot) float64 { return int64Val(s.Likes) },
		} {
			curr := metric(latest)
			prev := metric(first)
			features = append(features, (curr-prev)/math.Max(prev, 1))
		}
	} else {
		features = append(features, 0, 0, 0)
	}

	vec := make([]float64, b.dim)
	copy(vec, features)
	return vec
}

// FallbackVector builds a deterministic hashed bag-of-tokens embedding from
// an artist's name and genre tags, guaranteeing every artist is rankable
// even without metric history. The result is L2-normalized.
func (b *Builder) FallbackVector(name string, genres []string) []float64 {
	parts := append([]string{name}, genres...)
	return b.textVector(strings.Join(parts, " "))
}

func (b *Builder) textVector(text string) []float64 {
	vec := make([]float64, b.dim)
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return vec
	}

	for _, token := range tokens {
		sum := md5.Sum([]byte(token))
		idx := binary.BigEndian.Uint32(sum[:4]) % uint32(b.dim)
		sign := 1.0
		if sum[4]%2 == 1 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// Cosine returns the cosine similarity of two vectors. Zero-norm inputs
// yield 0.0 rather than NaN so degenerate vectors never poison scores.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	for _, v := range a {
		normA += v * v
	}
	for _, v := range b {
		normB += v * v
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Prefer picks one embedding per artist from a mixed provider result,
// letting metric vectors win over fallback vectors.
func Prefer(embeddings []model.Embedding) map[string]model.Embedding {
	preferred := make(map[string]model.Embedding, len(embeddings))
	for _, e := range embeddings {
		existing, ok := preferred[e.ArtistID]
		if !ok || (existing.Provider != model.ProviderMetric && e.Provider == model.ProviderMetric) {
			preferred[e.ArtistID] = e
		}
	}
	return preferred
}

func int64Val(v *int64) float64 {
	if v == nil {
		return 0
	}
	return float64(*v)
}

func floatVal(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
