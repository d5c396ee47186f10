package training

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/modelstore"
	"github.com/06Faisal/EcoPulse/internal/records"
)

func seedConstantUser(t *testing.T, store *records.MemoryStore, userID string, days int) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		trip := api.Trip{UserID: userID, Timestamp: start.AddDate(0, 0, i), Distance: 40, Emission: 10, Vehicle: api.VehicleCar}
		if err := store.InsertTrip(ctx, trip); err != nil {
			t.Fatalf("Failed to insert trip: %v", err)
		}
	}
	bill := api.Bill{UserID: userID, Timestamp: start, Units: 300}
	if err := store.InsertBill(ctx, bill); err != nil {
		t.Fatalf("Failed to insert bill: %v", err)
	}
}

func TestTrainAndForecastEndToEnd(t *testing.T) {
	ctx := context.Background()
	source := records.NewMemoryStore()
	models := modelstore.NewMemoryStore()
	seedConstantUser(t, source, "u1", 20)

	result, err := NewTrainer(source, models).Train(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to train: %v", err)
	}
	if result.Status != "trained" {
		t.Errorf("status = %q, want trained", result.Status)
	}
	m := result.Metrics
	if m.TrainDays != 16 || m.TestDays != 4 {
		t.Errorf("train/test days = %d/%d, want 16/4", m.TrainDays, m.TestDays)
	}
	if m.BaselineMAE != 0 || m.MAE != 0 {
		t.Errorf("mae = %v baseline = %v, want 0/0 on a constant series", m.MAE, m.BaselineMAE)
	}
	if len(m.FeatureCols) != 4 || m.FeatureCols[3] != "rolling_7" {
		t.Errorf("feature cols = %v", m.FeatureCols)
	}

	forecast, err := NewForecaster(source, models).Forecast(ctx, "u1", api.DefaultHorizonDays)
	if err != nil {
		t.Fatalf("Failed to forecast: %v", err)
	}
	if len(forecast.Daily) != 7 {
		t.Fatalf("Expected 7 daily values, got %d", len(forecast.Daily))
	}
	for _, d := range forecast.Daily {
		if d.Value != 14.5 {
			t.Errorf("%s = %v, want 14.5", d.Day, d.Value)
		}
	}
	if math.Abs(forecast.Total-101.5) > 1e-9 {
		t.Errorf("total = %v, want 101.5", forecast.Total)
	}
	// the last trip is on 2024-01-20
	if forecast.Daily[0].Day != "2024-01-21" || forecast.Daily[6].Day != "2024-01-27" {
		t.Errorf("unexpected forecast days: %v", forecast.Daily)
	}
	if forecast.Metrics == nil || forecast.Metrics.UserID != "u1" {
		t.Errorf("metrics not attached: %+v", forecast.Metrics)
	}
}

func TestTrainIsIdempotent(t *testing.T) {
	ctx := context.Background()
	source := records.NewMemoryStore()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		trip := api.Trip{UserID: "u1", Timestamp: start.AddDate(0, 0, i), Emission: float64(i%7) * 1.5}
		if err := source.InsertTrip(ctx, trip); err != nil {
			t.Fatalf("Failed to insert trip: %v", err)
		}
	}
	models := modelstore.NewMemoryStore()
	trainer := NewTrainer(source, models).WithConfig(Config{NumTrees: 20, MinSamplesLeaf: 2, Seed: 42, TestRatio: 0.2})

	first, err := trainer.Train(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to train: %v", err)
	}
	second, err := trainer.Train(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to retrain: %v", err)
	}

	a, _ := json.Marshal(first.Metrics)
	b, _ := json.Marshal(second.Metrics)
	if string(a) != string(b) {
		t.Errorf("metadata changed between runs:\n%s\n%s", a, b)
	}
}

func TestTrainInsufficientHistory(t *testing.T) {
	source := records.NewMemoryStore()
	seedConstantUser(t, source, "u1", 5)

	_, err := NewTrainer(source, modelstore.NewMemoryStore()).Train(context.Background(), "u1")
	if !errors.Is(err, api.ErrInsufficientHistory) {
		t.Fatalf("Expected ErrInsufficientHistory, got %v", err)
	}
}

func TestTrainNoTrips(t *testing.T) {
	_, err := NewTrainer(records.NewMemoryStore(), modelstore.NewMemoryStore()).Train(context.Background(), "ghost")
	if !errors.Is(err, api.ErrInsufficientData) {
		t.Fatalf("Expected ErrInsufficientData, got %v", err)
	}
}

func TestForecastUnknownUser(t *testing.T) {
	f := NewForecaster(records.NewMemoryStore(), modelstore.NewMemoryStore())
	if _, err := f.Forecast(context.Background(), "ghost", 7); !errors.Is(err, api.ErrModelNotFound) {
		t.Fatalf("Expected ErrModelNotFound, got %v", err)
	}
}

func TestForecastInvalidHorizon(t *testing.T) {
	f := NewForecaster(records.NewMemoryStore(), modelstore.NewMemoryStore())
	for _, h := range []int{0, -3, api.MaxHorizonDays + 1} {
		if _, err := f.Forecast(context.Background(), "u1", h); !errors.Is(err, api.ErrInvalidHorizon) {
			t.Errorf("horizon %d: expected ErrInvalidHorizon, got %v", h, err)
		}
	}
}

func TestForecastWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	source := records.NewMemoryStore()
	seedConstantUser(t, source, "u1", 20)

	trainer := NewTrainer(source, modelstore.NewMemoryStore()).WithConfig(Config{NumTrees: 5, MinSamplesLeaf: 2, Seed: 42, TestRatio: 0.2})
	data, err := trainer.Prepare(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to prepare: %v", err)
	}
	model, err := trainer.Fit(ctx, data.Train)
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	// model saved on its own, no metadata
	models := modelstore.NewMemoryStore()
	if err := models.SaveModel(ctx, "u1", model); err != nil {
		t.Fatalf("Failed to save model: %v", err)
	}

	forecast, err := NewForecaster(source, models).Forecast(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("Failed to forecast: %v", err)
	}
	if forecast.Metrics != nil {
		t.Errorf("Expected nil metrics, got %+v", forecast.Metrics)
	}
	body, _ := json.Marshal(forecast)
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if m, ok := decoded["metrics"].(map[string]any); !ok || len(m) != 0 {
		t.Errorf("Expected empty metrics object, got %v", decoded["metrics"])
	}
}
