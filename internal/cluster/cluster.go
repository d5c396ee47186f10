// Package cluster groups users by travel and energy behavior and labels the
// groups by emission intensity.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/kmeans"
	"github.com/06Faisal/EcoPulse/internal/records"
	"github.com/06Faisal/EcoPulse/internal/series"
)

// Fit parameters
const (
	NumClusters = 3
	Restarts    = 10
	Seed        = 42
)

// Clusterer assigns every eligible user to one of three behavior groups.
type Clusterer struct {
	source records.Source
	logger *slog.Logger
}

// NewClusterer creates a clusterer
func NewClusterer(source records.Source) *Clusterer {
	return &Clusterer{source: source, logger: slog.Default()}
}

// WithLogger sets the logger
func (c *Clusterer) WithLogger(logger *slog.Logger) *Clusterer {
	c.logger = logger
	return c
}

// errTooFewTrips marks a user skipped for lack of trips.
var errTooFewTrips = errors.New("not enough trips for clustering")

// Cluster recomputes the grouping from current records.
func (c *Clusterer) Cluster(ctx context.Context) (*api.ClusterResult, error) {
	ids, err := c.source.UserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user ids: %w", err)
	}
	if len(ids) < api.MinClusterUsers {
		return nil, fmt.Errorf("%w: %d users with data, need %d", api.ErrInsufficientPopulation, len(ids), api.MinClusterUsers)
	}

	var (
		users   []string
		vectors []api.BehaviorVector
	)
	for _, id := range ids {
		vec, err := c.Behavior(ctx, id)
		if errors.Is(err, errTooFewTrips) {
			c.logger.Debug("skipping user for clustering", "user_id", id, "reason", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, id)
		vectors = append(vectors, vec)
	}
	if len(users) < api.MinClusterUsers {
		return nil, fmt.Errorf("%w: %d eligible users, need %d", api.ErrInsufficientPopulation, len(users), api.MinClusterUsers)
	}

	X := make([][]float64, len(vectors))
	for i, v := range vectors {
		X[i] = v.Values()
	}
	fit, err := kmeans.Fit(X, kmeans.Config{K: NumClusters, Restarts: Restarts, Seed: Seed})
	if err != nil {
		return nil, fmt.Errorf("failed to fit clusters: %w", err)
	}

	labels := RankCentroids(fit.Centroids)
	sizes := make([]int, len(fit.Centroids))
	result := &api.ClusterResult{
		Status: "ok",
		Users:  make([]api.UserCluster, len(users)),
	}
	for i, id := range users {
		cid := fit.Labels[i]
		sizes[cid]++
		result.Users[i] = api.UserCluster{
			UserID:       id,
			ClusterID:    cid,
			ClusterLabel: labels[cid],
			Features:     vectors[i],
		}
	}
	for cid, center := range fit.Centroids {
		result.Centroids = append(result.Centroids, api.ClusterCentroid{
			ClusterID:      cid,
			ClusterLabel:   labels[cid],
			Size:           sizes[cid],
			BehaviorVector: api.BehaviorFromValues(center),
		})
	}

	c.logger.Info("clustered users", "users", len(users), "skipped", len(ids)-len(users), "inertia", fit.Inertia)
	return result, nil
}

// Behavior computes one user's clustering vector.
func (c *Clusterer) Behavior(ctx context.Context, userID string) (api.BehaviorVector, error) {
	trips, err := c.source.Trips(ctx, userID)
	if err != nil {
		return api.BehaviorVector{}, fmt.Errorf("failed to fetch trips: %w", err)
	}
	if len(trips) < api.MinClusterTrips {
		return api.BehaviorVector{}, fmt.Errorf("%w: %s has %d", errTooFewTrips, userID, len(trips))
	}
	bills, err := c.source.Bills(ctx, userID)
	if err != nil {
		return api.BehaviorVector{}, fmt.Errorf("failed to fetch bills: %w", err)
	}
	days, err := series.BuildDaily(trips, bills)
	if err != nil {
		return api.BehaviorVector{}, err
	}

	travel := make([]float64, len(days))
	energy := make([]float64, len(days))
	for i, d := range days {
		travel[i] = d.Travel
		energy[i] = d.Energy
	}

	counts := make(map[api.VehicleCategory]int)
	for _, trip := range trips {
		counts[trip.Vehicle]++
	}
	n := float64(len(trips))

	return api.BehaviorVector{
		AvgDailyTravel: stat.Mean(travel, nil),
		AvgDailyEnergy: stat.Mean(energy, nil),
		TripsPerDay:    n / float64(len(days)),
		CarPct:         float64(counts[api.VehicleCar]) / n,
		BusPct:         float64(counts[api.VehicleBus]) / n,
		BikePct:        float64(counts[api.VehicleBike]) / n,
		TrainPct:       float64(counts[api.VehicleTrain]) / n,
	}, nil
}

// RankCentroids labels centroids by ascending travel + energy. Ties keep
// index order.
func RankCentroids(centroids [][]float64) []string {
	order := make([]int, len(centroids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return centroids[order[a]][0]+centroids[order[a]][1] < centroids[order[b]][0]+centroids[order[b]][1]
	})

	labels := make([]string, len(centroids))
	for rank, cid := range order {
		if rank < len(api.RankLabels) {
			labels[cid] = api.RankLabels[rank]
		} else {
			labels[cid] = api.RankLabels[len(api.RankLabels)-1]
		}
	}
	return labels
}
