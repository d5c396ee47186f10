package eval

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/modelstore"
	"github.com/06Faisal/EcoPulse/internal/records"
	"github.com/06Faisal/EcoPulse/internal/training"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeRegression(t *testing.T) {
	yTrue := []float64{10, 0, 4, 6}
	yPred := []float64{9, 1, 10, 6}

	m, err := ComputeRegression(yTrue, yPred)
	if err != nil {
		t.Fatalf("Failed to compute metrics: %v", err)
	}
	// residuals 1, -1, -6, 0
	checks := []struct {
		name      string
		got, want float64
	}{
		{"mae", m.MAE, 2},
		{"mse", m.MSE, 9.5},
		{"rmse", m.RMSE, math.Sqrt(9.5)},
		{"r2", m.R2, 1 - 38.0/52.0},
		{"mape", m.MAPE, (0.1 + 1.5 + 0) / 3 * 100},
		{"mean_residual", m.MeanResidual, -1.5},
		{"std_residual", m.StdResidual, math.Sqrt((6.25 + 0.25 + 20.25 + 2.25) / 4)},
		{"within_2kg", m.Within2kg, 75},
		{"within_5kg", m.Within5kg, 75},
	}
	for _, c := range checks {
		if !approx(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestComputeRegressionConstantTarget(t *testing.T) {
	m, err := ComputeRegression([]float64{5, 5}, []float64{5, 5})
	if err != nil {
		t.Fatalf("Failed to compute metrics: %v", err)
	}
	if m.R2 != 1 {
		t.Errorf("perfect constant prediction R2 = %v, want 1", m.R2)
	}

	m, err = ComputeRegression([]float64{5, 5}, []float64{4, 6})
	if err != nil {
		t.Fatalf("Failed to compute metrics: %v", err)
	}
	if m.R2 != 0 {
		t.Errorf("imperfect constant prediction R2 = %v, want 0", m.R2)
	}

	m, err = ComputeRegression([]float64{0, 0}, []float64{1, 1})
	if err != nil {
		t.Fatalf("Failed to compute metrics: %v", err)
	}
	if m.MAPE != 0 {
		t.Errorf("all-zero targets MAPE = %v, want 0", m.MAPE)
	}
}

func TestComputeRegressionErrors(t *testing.T) {
	if _, err := ComputeRegression([]float64{1}, []float64{1, 2}); err == nil {
		t.Error("Expected length mismatch error")
	}
	if _, err := ComputeRegression(nil, nil); err == nil {
		t.Error("Expected error on empty input")
	}
}

func TestAggregateResults(t *testing.T) {
	results := []UserEvaluation{
		{UserID: "a", Status: StatusSuccess, TestMetrics: &RegressionMetrics{MAE: 1, RMSE: 2, R2: 0.5}, FeatureImportance: map[string]float64{"rolling_7": 0.6}},
		{UserID: "b", Status: StatusSuccess, TestMetrics: &RegressionMetrics{MAE: 3, RMSE: 4, R2: 0.1}, FeatureImportance: map[string]float64{"rolling_7": 0.2}},
		{UserID: "c", Status: StatusInsufficientData},
		{UserID: "d", Status: StatusError, Error: "boom"},
	}

	agg := AggregateResults(results)
	if agg.TotalUsers != 4 || agg.SuccessfulEvaluations != 2 || agg.InsufficientData != 1 || agg.Errors != 1 {
		t.Errorf("unexpected counts: %+v", agg)
	}
	mae := agg.Metrics["mae"]
	if !approx(mae.Mean, 2) || !approx(mae.Std, 1) || mae.Min != 1 || mae.Max != 3 {
		t.Errorf("unexpected mae summary: %+v", mae)
	}
	if !approx(agg.AvgFeatureImportance["rolling_7"], 0.4) {
		t.Errorf("avg importance = %v, want 0.4", agg.AvgFeatureImportance["rolling_7"])
	}

	empty := AggregateResults([]UserEvaluation{{Status: StatusError}})
	if empty.SuccessfulEvaluations != 0 || empty.Metrics != nil {
		t.Errorf("Expected no metrics without successes, got %+v", empty)
	}
}

func seedUser(t *testing.T, s *records.MemoryStore, userID string, days int) {
	t.Helper()
	start := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		trip := api.Trip{UserID: userID, Timestamp: start.AddDate(0, 0, i), Emission: 2 + float64(i%7)}
		if err := s.InsertTrip(context.Background(), trip); err != nil {
			t.Fatalf("Failed to insert trip: %v", err)
		}
	}
}

func TestRunEvaluation(t *testing.T) {
	source := records.NewMemoryStore()
	seedUser(t, source, "steady", 28)
	seedUser(t, source, "short", 6)
	models := modelstore.NewMemoryStore()
	trainer := training.NewTrainer(source, models).WithConfig(training.Config{NumTrees: 10, MinSamplesLeaf: 2, Seed: 42, TestRatio: 0.2})

	runner := NewEvaluationRunner(source, models, trainer, nil)
	report, err := runner.RunEvaluation(context.Background(), false)
	if err != nil {
		t.Fatalf("Failed to run evaluation: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(report.Results))
	}

	byUser := map[string]UserEvaluation{}
	for _, r := range report.Results {
		byUser[r.UserID] = r
	}
	if byUser["short"].Status != StatusInsufficientData {
		t.Errorf("short status = %q", byUser["short"].Status)
	}
	steady := byUser["steady"]
	if steady.Status != StatusSuccess {
		t.Fatalf("steady status = %q (%s)", steady.Status, steady.Error)
	}
	if steady.DataStats.TrainDays+steady.DataStats.TestDays != 28 {
		t.Errorf("unexpected data stats: %+v", steady.DataStats)
	}
	if len(steady.Predictions.TestPreds) != steady.DataStats.TestDays {
		t.Errorf("test predictions = %d, want %d", len(steady.Predictions.TestPreds), steady.DataStats.TestDays)
	}

	// a missing model is trained and stored
	if _, err := models.LoadModel(context.Background(), "steady"); err != nil {
		t.Errorf("Expected model to be stored: %v", err)
	}

	dir := t.TempDir()
	if err := NewReportWriter(dir).WriteAll(report); err != nil {
		t.Fatalf("Failed to write report: %v", err)
	}
	md, err := os.ReadFile(filepath.Join(dir, "evaluation_report.md"))
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	if !strings.Contains(string(md), "| steady | success |") {
		t.Errorf("report missing user row:\n%s", md)
	}
	for _, name := range []string{"individual_results.json", "aggregated_metrics.json"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("missing %s: %v", name, err)
			continue
		}
		if !json.Valid(data) {
			t.Errorf("%s is not complete JSON:\n%s", name, data)
		}
	}
}

func TestReportWriterReturnsWriteErrors(t *testing.T) {
	dir := t.TempDir()
	w := NewReportWriter(dir)

	err := w.writeJSON("bad.json", math.NaN())
	if err == nil || !strings.Contains(err.Error(), "bad.json") {
		t.Errorf("Expected write error naming the file, got %v", err)
	}

	blocked := NewReportWriter(filepath.Join(dir, "missing", "deeper"))
	if err := blocked.writeJSON("x.json", 1); err == nil {
		t.Error("Expected error writing into a missing directory")
	}
}
