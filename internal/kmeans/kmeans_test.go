package kmeans

import (
	"errors"
	"math"
	"testing"
)

func blobs() [][]float64 {
	return [][]float64{
		{0, 0}, {0.1, 0.2}, {0.2, 0.1},
		{10, 10}, {10.1, 10.2}, {9.9, 10.1},
		{20, 0}, {20.2, 0.1}, {19.9, 0.2},
	}
}

func TestFitSeparatesBlobs(t *testing.T) {
	X := blobs()
	res, err := Fit(X, Config{K: 3, Seed: 42})
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	if len(res.Centroids) != 3 || len(res.Labels) != len(X) {
		t.Fatalf("unexpected result shape: %+v", res)
	}

	for g := 0; g < 3; g++ {
		base := res.Labels[g*3]
		for i := 1; i < 3; i++ {
			if res.Labels[g*3+i] != base {
				t.Errorf("blob %d split across clusters: %v", g, res.Labels)
			}
		}
	}
	if res.Labels[0] == res.Labels[3] || res.Labels[3] == res.Labels[6] || res.Labels[0] == res.Labels[6] {
		t.Errorf("blobs share a cluster: %v", res.Labels)
	}
	if res.Inertia > 1 {
		t.Errorf("inertia = %v, expected tight clusters", res.Inertia)
	}
}

func TestFitDeterministic(t *testing.T) {
	X := blobs()
	a, err := Fit(X, Config{K: 3, Seed: 7})
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	b, err := Fit(X, Config{K: 3, Seed: 7})
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	for i := range a.Labels {
		if a.Labels[i] != b.Labels[i] {
			t.Fatalf("labels differ at %d: %v vs %v", i, a.Labels, b.Labels)
		}
	}
	if a.Inertia != b.Inertia {
		t.Errorf("inertia differs: %v vs %v", a.Inertia, b.Inertia)
	}
}

func TestFitIdenticalPoints(t *testing.T) {
	X := [][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}}
	res, err := Fit(X, Config{K: 3, Seed: 42})
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	if len(res.Centroids) != 3 {
		t.Fatalf("Expected 3 centroids, got %d", len(res.Centroids))
	}
	for _, c := range res.Centroids {
		if math.IsNaN(c[0]) || math.IsNaN(c[1]) {
			t.Fatalf("NaN centroid: %v", res.Centroids)
		}
	}
	if res.Inertia != 0 {
		t.Errorf("inertia = %v, want 0", res.Inertia)
	}
}

func TestFitErrors(t *testing.T) {
	if _, err := Fit([][]float64{{1}, {2}}, Config{K: 3}); !errors.Is(err, ErrTooFewPoints) {
		t.Errorf("Expected ErrTooFewPoints, got %v", err)
	}
	if _, err := Fit([][]float64{{1}, {2}}, Config{K: 0}); err == nil {
		t.Error("Expected error for k = 0")
	}
	if _, err := Fit([][]float64{{1}, {2, 3}}, Config{K: 1}); err == nil {
		t.Error("Expected error for ragged input")
	}
}

func TestPredict(t *testing.T) {
	centroids := [][]float64{{0, 0}, {10, 10}}
	if got := Predict(centroids, []float64{9, 8}); got != 1 {
		t.Errorf("Predict = %d, want 1", got)
	}
	if got := Predict(centroids, []float64{1, -1}); got != 0 {
		t.Errorf("Predict = %d, want 0", got)
	}
}
