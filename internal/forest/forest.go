// Package forest implements a bagged ensemble of CART regression trees.
//
// Fitting is deterministic for a fixed Seed: each tree draws its bootstrap
// sample and feature order from its own generator, seeded from the master
// seed before any tree is grown, so the result does not depend on how the
// trees are scheduled across goroutines.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Defaults for a per-user emissions model.
const (
	DefaultNumTrees       = 200
	DefaultMinSamplesLeaf = 2
	DefaultSeed           = 42
)

var (
	ErrEmptyTrainingSet = errors.New("forest: empty training set")
	ErrNotFitted        = errors.New("forest: model is not fitted")
)

// Regressor is a random forest regressor.
type Regressor struct {
	NumTrees       int   `json:"n_estimators"`
	MinSamplesLeaf int   `json:"min_samples_leaf"`
	Seed           int64 `json:"random_state"`

	NumFeatures int       `json:"n_features"`
	Trees       []Tree    `json:"trees,omitempty"`
	Importances []float64 `json:"feature_importances,omitempty"`
}

// New returns an unfitted regressor with the package defaults.
func New() *Regressor {
	return &Regressor{
		NumTrees:       DefaultNumTrees,
		MinSamplesLeaf: DefaultMinSamplesLeaf,
		Seed:           DefaultSeed,
	}
}

// Fit grows NumTrees trees on bootstrap samples of (X, y).
func (r *Regressor) Fit(ctx context.Context, X [][]float64, y []float64) error {
	if len(X) == 0 || len(X[0]) == 0 {
		return ErrEmptyTrainingSet
	}
	if len(X) != len(y) {
		return fmt.Errorf("forest: %d rows but %d targets", len(X), len(y))
	}
	for i, row := range X {
		if len(row) != len(X[0]) {
			return fmt.Errorf("forest: row %d has %d features, want %d", i, len(row), len(X[0]))
		}
	}
	if r.NumTrees <= 0 {
		r.NumTrees = DefaultNumTrees
	}
	if r.MinSamplesLeaf <= 0 {
		r.MinSamplesLeaf = 1
	}

	master := rand.New(rand.NewSource(r.Seed))
	seeds := make([]int64, r.NumTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]Tree, r.NumTrees)
	importances := make([][]float64, r.NumTrees)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			idx := make([]int, len(X))
			for k := range idx {
				idx[k] = rng.Intn(len(X))
			}
			trees[i], importances[i] = growTree(X, y, idx, r.MinSamplesLeaf, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.NumFeatures = len(X[0])
	r.Trees = trees
	r.Importances = averageImportances(importances, r.NumFeatures)
	return nil
}

// Predict returns the ensemble mean for each row.
func (r *Regressor) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		v, err := r.PredictRow(row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// PredictRow returns the ensemble mean for one row.
func (r *Regressor) PredictRow(x []float64) (float64, error) {
	if len(r.Trees) == 0 {
		return 0, ErrNotFitted
	}
	if len(x) != r.NumFeatures {
		return 0, fmt.Errorf("forest: got %d features, want %d", len(x), r.NumFeatures)
	}
	sum := 0.0
	for i := range r.Trees {
		sum += r.Trees[i].Predict(x)
	}
	return sum / float64(len(r.Trees)), nil
}

// averageImportances normalizes each tree's impurity decrease, averages over
// trees that split at least once and renormalizes to sum to one. All zeros
// when no tree split.
func averageImportances(perTree [][]float64, width int) []float64 {
	out := make([]float64, width)
	splitting := 0
	for _, imp := range perTree {
		total := floats.Sum(imp)
		if total <= 0 {
			continue
		}
		splitting++
		floats.AddScaled(out, 1/total, imp)
	}
	if splitting == 0 {
		return out
	}

	floats.Scale(1/floats.Sum(out), out)
	return out
}
