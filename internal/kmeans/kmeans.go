// Package kmeans implements Lloyd's k-means with greedy k-means++ seeding
// and multiple restarts.
package kmeans

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Defaults
const (
	DefaultRestarts = 10
	DefaultMaxIter  = 300
	DefaultTol      = 1e-4
)

var ErrTooFewPoints = errors.New("kmeans: fewer points than clusters")

// Config controls a fit.
type Config struct {
	K        int
	Restarts int
	MaxIter  int
	Tol      float64 // relative to the mean per-feature variance
	Seed     int64
}

// Result is the best of all restarts.
type Result struct {
	Labels     []int
	Centroids  [][]float64
	Inertia    float64
	Iterations int
}

// Fit clusters the rows of X into cfg.K groups.
func Fit(X [][]float64, cfg Config) (*Result, error) {
	if cfg.K <= 0 {
		return nil, fmt.Errorf("kmeans: k must be positive, got %d", cfg.K)
	}
	if len(X) < cfg.K {
		return nil, fmt.Errorf("%w: %d < %d", ErrTooFewPoints, len(X), cfg.K)
	}
	dim := len(X[0])
	for i, row := range X {
		if len(row) != dim {
			return nil, fmt.Errorf("kmeans: row %d has %d features, want %d", i, len(row), dim)
		}
	}
	if cfg.Restarts <= 0 {
		cfg.Restarts = DefaultRestarts
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = DefaultMaxIter
	}
	if cfg.Tol <= 0 {
		cfg.Tol = DefaultTol
	}

	tol := cfg.Tol * meanVariance(X)
	rng := rand.New(rand.NewSource(cfg.Seed))

	var best *Result
	for r := 0; r < cfg.Restarts; r++ {
		centers := seed(X, cfg.K, rng)
		res := lloyd(X, centers, cfg.MaxIter, tol)
		if best == nil || res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

// Predict returns the index of the nearest centroid.
func Predict(centroids [][]float64, x []float64) int {
	best, bestDist := 0, math.Inf(1)
	for j, c := range centroids {
		if d := sqDist(x, c); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

func meanVariance(X [][]float64) float64 {
	dim := len(X[0])
	col := make([]float64, len(X))
	total := 0.0
	for j := 0; j < dim; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		_, std := stat.PopMeanStdDev(col, nil)
		total += std * std
	}
	return total / float64(dim)
}

// seed picks k initial centers with greedy k-means++: each step samples
// 2+ln(k) candidates proportional to squared distance and keeps the one that
// lowers the potential most.
func seed(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(X)
	trials := 2 + int(math.Log(float64(k)))

	centers := make([][]float64, 0, k)
	centers = append(centers, clone(X[rng.Intn(n)]))

	closest := make([]float64, n)
	for i := range X {
		closest[i] = sqDist(X[i], centers[0])
	}
	potential := floats.Sum(closest)

	cand := make([]float64, n)
	for len(centers) < k {
		bestIdx := -1
		bestPot := math.Inf(1)
		var bestClosest []float64

		for t := 0; t < trials; t++ {
			idx := sample(closest, potential, rng)
			pot := 0.0
			for i := range X {
				cand[i] = math.Min(closest[i], sqDist(X[i], X[idx]))
				pot += cand[i]
			}
			if pot < bestPot {
				bestIdx, bestPot = idx, pot
				bestClosest = append(bestClosest[:0], cand...)
			}
		}

		centers = append(centers, clone(X[bestIdx]))
		copy(closest, bestClosest)
		potential = bestPot
	}
	return centers
}

// sample draws an index with probability weights[i]/total. Uniform when every
// weight is zero.
func sample(weights []float64, total float64, rng *rand.Rand) int {
	if total <= 0 {
		return rng.Intn(len(weights))
	}
	r := rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(weights) - 1
}

func lloyd(X [][]float64, centers [][]float64, maxIter int, tol float64) *Result {
	k, dim := len(centers), len(X[0])
	labels := make([]int, len(X))
	for i := range labels {
		labels[i] = -1
	}

	iter := 0
	for iter < maxIter {
		iter++
		changed := assign(X, centers, labels)

		next := make([][]float64, k)
		counts := make([]int, k)
		for j := range next {
			next[j] = make([]float64, dim)
		}
		for i, row := range X {
			floats.Add(next[labels[i]], row)
			counts[labels[i]]++
		}
		relocateEmpty(X, centers, labels, next, counts)
		for j := range next {
			floats.Scale(1/float64(counts[j]), next[j])
		}

		shift := 0.0
		for j := range centers {
			shift += sqDist(centers[j], next[j])
		}
		centers = next

		if !changed || shift <= tol {
			break
		}
	}

	// final labels against the final centers
	assign(X, centers, labels)
	inertia := 0.0
	for i, row := range X {
		inertia += sqDist(row, centers[labels[i]])
	}

	return &Result{Labels: labels, Centroids: centers, Inertia: inertia, Iterations: iter}
}

func assign(X [][]float64, centers [][]float64, labels []int) bool {
	changed := false
	for i, row := range X {
		j := Predict(centers, row)
		if labels[i] != j {
			labels[i] = j
			changed = true
		}
	}
	return changed
}

// relocateEmpty moves each empty cluster onto the point farthest from its
// current center and takes that point out of its old cluster's sums.
func relocateEmpty(X [][]float64, centers [][]float64, labels []int, sums [][]float64, counts []int) {
	taken := make(map[int]bool)
	for j := range counts {
		if counts[j] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, row := range X {
			if taken[i] || counts[labels[i]] <= 1 {
				continue
			}
			if d := sqDist(row, centers[labels[i]]); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			// every point sits alone or is spoken for; keep the old center
			copy(sums[j], centers[j])
			counts[j] = 1
			continue
		}
		taken[far] = true
		old := labels[far]
		floats.Sub(sums[old], X[far])
		counts[old]--
		copy(sums[j], X[far])
		counts[j] = 1
		labels[far] = j
	}
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
