package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/records"
)

func addUser(t *testing.T, s *records.MemoryStore, userID string, trips int, co2 float64, vehicle api.VehicleCategory, units float64) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	for i := 0; i < trips; i++ {
		trip := api.Trip{UserID: userID, Timestamp: start.AddDate(0, 0, i), Distance: 10, Emission: co2, Vehicle: vehicle}
		if err := s.InsertTrip(ctx, trip); err != nil {
			t.Fatalf("Failed to insert trip: %v", err)
		}
	}
	if units > 0 {
		if err := s.InsertBill(ctx, api.Bill{UserID: userID, Timestamp: start, Units: units}); err != nil {
			t.Fatalf("Failed to insert bill: %v", err)
		}
	}
}

func TestClusterLabelsByEmission(t *testing.T) {
	s := records.NewMemoryStore()
	for i := 0; i < 3; i++ {
		addUser(t, s, fmt.Sprintf("eco_%d", i), 12, 0.1, api.VehicleBike, 150)
		addUser(t, s, fmt.Sprintf("mid_%d", i), 12, 3, api.VehicleBus, 300)
		addUser(t, s, fmt.Sprintf("high_%d", i), 12, 9, api.VehicleCar, 600)
	}
	// skipped: too few trips
	addUser(t, s, "newcomer", 4, 50, api.VehicleCar, 0)

	result, err := NewClusterer(s).Cluster(context.Background())
	if err != nil {
		t.Fatalf("Failed to cluster: %v", err)
	}
	if result.Status != "ok" {
		t.Errorf("status = %q", result.Status)
	}
	if len(result.Users) != 9 {
		t.Fatalf("Expected 9 clustered users, got %d", len(result.Users))
	}
	if len(result.Centroids) != 3 {
		t.Fatalf("Expected 3 centroids, got %d", len(result.Centroids))
	}

	want := map[string]string{"eco": api.LabelEcoFriendly, "mid": api.LabelModerate, "high": api.LabelHighEmission}
	for _, u := range result.Users {
		if u.UserID == "newcomer" {
			t.Errorf("user with too few trips was clustered")
		}
		prefix := u.UserID[:len(u.UserID)-2]
		if u.ClusterLabel != want[prefix] {
			t.Errorf("%s labeled %q, want %q", u.UserID, u.ClusterLabel, want[prefix])
		}
	}

	seen := map[string]bool{}
	var ecoScore, highScore float64
	for _, c := range result.Centroids {
		seen[c.ClusterLabel] = true
		if c.Size != 3 {
			t.Errorf("cluster %d size = %d, want 3", c.ClusterID, c.Size)
		}
		score := c.AvgDailyTravel + c.AvgDailyEnergy
		switch c.ClusterLabel {
		case api.LabelEcoFriendly:
			ecoScore = score
		case api.LabelHighEmission:
			highScore = score
		}
	}
	if len(seen) != 3 {
		t.Errorf("labels not distinct: %v", seen)
	}
	if ecoScore >= highScore {
		t.Errorf("eco centroid %v should be below high centroid %v", ecoScore, highScore)
	}
}

func TestClusterInsufficientPopulation(t *testing.T) {
	s := records.NewMemoryStore()
	addUser(t, s, "a", 12, 1, api.VehicleCar, 0)
	addUser(t, s, "b", 12, 1, api.VehicleCar, 0)

	if _, err := NewClusterer(s).Cluster(context.Background()); !errors.Is(err, api.ErrInsufficientPopulation) {
		t.Fatalf("Expected ErrInsufficientPopulation, got %v", err)
	}

	// three ids but only two eligible
	addUser(t, s, "c", 9, 1, api.VehicleCar, 0)
	if _, err := NewClusterer(s).Cluster(context.Background()); !errors.Is(err, api.ErrInsufficientPopulation) {
		t.Fatalf("Expected ErrInsufficientPopulation, got %v", err)
	}
}

func TestBehaviorVector(t *testing.T) {
	s := records.NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	vehicles := []api.VehicleCategory{
		api.VehicleCar, api.VehicleCar, api.VehicleCar, api.VehicleCar,
		api.VehicleBus, api.VehicleBus, api.VehicleBike, api.VehicleTrain,
		api.VehicleUnknown, api.VehicleUnknown,
	}
	// ten trips over five days, two per day
	for i, v := range vehicles {
		trip := api.Trip{UserID: "u1", Timestamp: start.AddDate(0, 0, i/2), Emission: 1, Vehicle: v}
		if err := s.InsertTrip(ctx, trip); err != nil {
			t.Fatalf("Failed to insert trip: %v", err)
		}
	}
	if err := s.InsertBill(ctx, api.Bill{UserID: "u1", Timestamp: start, Units: 300}); err != nil {
		t.Fatalf("Failed to insert bill: %v", err)
	}

	vec, err := NewClusterer(s).Behavior(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to compute behavior: %v", err)
	}
	checks := []struct {
		name      string
		got, want float64
	}{
		{"avg_daily_travel", vec.AvgDailyTravel, 2},
		{"avg_daily_energy", vec.AvgDailyEnergy, 4.5},
		{"trips_per_day", vec.TripsPerDay, 2},
		{"car_pct", vec.CarPct, 0.4},
		{"bus_pct", vec.BusPct, 0.2},
		{"bike_pct", vec.BikePct, 0.1},
		{"train_pct", vec.TrainPct, 0.1},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestRankCentroids(t *testing.T) {
	centroids := [][]float64{
		{5, 5, 0, 0, 0, 0, 0},
		{1, 1, 0, 0, 0, 0, 0},
		{9, 9, 0, 0, 0, 0, 0},
	}
	labels := RankCentroids(centroids)
	want := []string{api.LabelModerate, api.LabelEcoFriendly, api.LabelHighEmission}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("cluster %d = %q, want %q", i, labels[i], want[i])
		}
	}

	tied := RankCentroids([][]float64{{1, 1}, {1, 1}, {0, 0}})
	if tied[2] != api.LabelEcoFriendly || tied[0] != api.LabelModerate || tied[1] != api.LabelHighEmission {
		t.Errorf("ties must keep index order, got %v", tied)
	}
}
