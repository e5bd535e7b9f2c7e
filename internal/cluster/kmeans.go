package cluster

import (
	"math"
	"math/rand"
)

// scaler standardizes vectors to zero mean and unit variance per dimension,
// so large-magnitude raw metrics do not dominate distances. Constant
// dimensions keep a unit scale to avoid dividing by zero.
type scaler struct {
	mean []float64
	std  []float64
}

func fitScaler(vectors [][]float64) *scaler {
	dim := len(vectors[0])
	mean := make([]float64, dim)
	std := make([]float64, dim)

	for _, v := range vectors {
		for d := 0; d < dim; d++ {
			mean[d] += v[d]
		}
	}
	n := float64(len(vectors))
	for d := 0; d < dim; d++ {
		mean[d] /= n
	}

	for _, v := range vectors {
		for d := 0; d < dim; d++ {
			diff := v[d] - mean[d]
			std[d] += diff * diff
		}
	}
	for d := 0; d < dim; d++ {
		std[d] = math.Sqrt(std[d] / n)
		if std[d] == 0 {
			std[d] = 1
		}
	}

	return &scaler{mean: mean, std: std}
}

func (sc *scaler) transform(vectors [][]float64) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		scaled := make([]float64, len(v))
		for d := range v {
			scaled[d] = (v[d] - sc.mean[d]) / sc.std[d]
		}
		out[i] = scaled
	}
	return out
}

func (sc *scaler) inverse(vector []float64) []float64 {
	out := make([]float64, len(vector))
	for d := range vector {
		out[d] = vector[d]*sc.std[d] + sc.mean[d]
	}
	return out
}

type kmeansResult struct {
	labels    []int
	centroids [][]float64
	inertia   float64
}

// kMeans runs Lloyd's algorithm with multiple random restarts and returns
// the assignment with the lowest inertia. The seed fixes the restart
// sequence so identical inputs always cluster identically.
func kMeans(vectors [][]float64, k, restarts, maxIters int, seed int64) kmeansResult {
	if restarts < 1 {
		restarts = 1
	}
	if maxIters < 1 {
		maxIters = 100
	}
	rng := rand.New(rand.NewSource(seed))

	best := kmeansResult{inertia: math.Inf(1)}
	for r := 0; r < restarts; r++ {
		result := lloyd(vectors, k, maxIters, rng)
		if result.inertia < best.inertia {
			best = result
		}
	}
	return best
}

func lloyd(vectors [][]float64, k, maxIters int, rng *rand.Rand) kmeansResult {
	dim := len(vectors[0])

	// Initialize centroids from k distinct random points.
	perm := rng.Perm(len(vectors))
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float64(nil), vectors[perm[i]]...)
	}

	labels := make([]int, len(vectors))
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, v := range vectors {
			nearest := nearestCentroid(v, centroids)
			if labels[i] != nearest {
				labels[i] = nearest
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// Recompute centroids; an emptied cluster is reseeded from a
		// random point so k survives.
		counts := make([]int, k)
		next := make([][]float64, k)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := labels[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				next[c][d] += v[d]
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				next[c] = append([]float64(nil), vectors[rng.Intn(len(vectors))]...)
				continue
			}
			for d := 0; d < dim; d++ {
				next[c][d] /= float64(counts[c])
			}
		}
		centroids = next
	}

	var inertia float64
	for i, v := range vectors {
		inertia += squaredDistance(v, centroids[labels[i]])
	}

	return kmeansResult{labels: labels, centroids: centroids, inertia: inertia}
}

func nearestCentroid(v []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for c, centroid := range centroids {
		if d := squaredDistance(v, centroid); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}
