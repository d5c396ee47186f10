// Package training fits, persists and applies the per-user emissions model.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/forest"
	"github.com/06Faisal/EcoPulse/internal/modelstore"
	"github.com/06Faisal/EcoPulse/internal/records"
	"github.com/06Faisal/EcoPulse/internal/series"
)

// ModelType is recorded in every model's metadata.
const ModelType = "random_forest"

// Config defines training hyperparameters
type Config struct {
	NumTrees       int
	MinSamplesLeaf int
	Seed           int64
	TestRatio      float64
}

// DefaultConfig returns the production training configuration
func DefaultConfig() Config {
	return Config{
		NumTrees:       forest.DefaultNumTrees,
		MinSamplesLeaf: forest.DefaultMinSamplesLeaf,
		Seed:           forest.DefaultSeed,
		TestRatio:      series.DefaultTestRatio,
	}
}

// Trainer fits one model per user and stores it with its metadata.
type Trainer struct {
	source records.Source
	models modelstore.Store
	config Config
	logger *slog.Logger
}

// NewTrainer creates a trainer with DefaultConfig
func NewTrainer(source records.Source, models modelstore.Store) *Trainer {
	return &Trainer{
		source: source,
		models: models,
		config: DefaultConfig(),
		logger: slog.Default(),
	}
}

// WithLogger sets the logger
func (t *Trainer) WithLogger(logger *slog.Logger) *Trainer {
	t.logger = logger
	return t
}

// WithConfig overrides the hyperparameters
func (t *Trainer) WithConfig(cfg Config) *Trainer {
	t.config = cfg
	return t
}

// Config returns the active hyperparameters
func (t *Trainer) Config() Config {
	return t.config
}

// Prepared is a user's feature table split for training.
type Prepared struct {
	Trips []api.Trip
	Bills []api.Bill
	Rows  []series.Row
	Train []series.Row
	Test  []series.Row
}

// Prepare reads the user's records and builds the split feature table.
func (t *Trainer) Prepare(ctx context.Context, userID string) (*Prepared, error) {
	trips, bills, rows, err := loadRows(ctx, t.source, userID)
	if err != nil {
		return nil, err
	}
	train, test, err := series.Split(rows, t.config.TestRatio)
	if err != nil {
		return nil, err
	}
	return &Prepared{Trips: trips, Bills: bills, Rows: rows, Train: train, Test: test}, nil
}

// Fit grows a forest on the training rows.
func (t *Trainer) Fit(ctx context.Context, train []series.Row) (*forest.Regressor, error) {
	X, y := Matrix(train)
	model := &forest.Regressor{
		NumTrees:       t.config.NumTrees,
		MinSamplesLeaf: t.config.MinSamplesLeaf,
		Seed:           t.config.Seed,
	}
	if err := model.Fit(ctx, X, y); err != nil {
		return nil, fmt.Errorf("failed to fit model: %w", err)
	}
	return model, nil
}

// Train fits, scores and persists the user's model.
func (t *Trainer) Train(ctx context.Context, userID string) (*api.TrainResult, error) {
	start := time.Now()

	data, err := t.Prepare(ctx, userID)
	if err != nil {
		return nil, err
	}

	model, err := t.Fit(ctx, data.Train)
	if err != nil {
		return nil, err
	}

	testX, testY := Matrix(data.Test)
	preds, err := model.Predict(testX)
	if err != nil {
		return nil, fmt.Errorf("failed to score model: %w", err)
	}

	baseline := stat.Mean(series.RowTotals(data.Train), nil)
	baselinePreds := make([]float64, len(testY))
	for i := range baselinePreds {
		baselinePreds[i] = baseline
	}

	meta := api.ModelMetadata{
		UserID:      userID,
		MAE:         meanAbsError(testY, preds),
		BaselineMAE: meanAbsError(testY, baselinePreds),
		TrainDays:   len(data.Train),
		TestDays:    len(data.Test),
		FeatureCols: append([]string(nil), api.FeatureCols...),
		ModelType:   ModelType,
		Hyperparameters: map[string]float64{
			"n_estimators":     float64(model.NumTrees),
			"min_samples_leaf": float64(model.MinSamplesLeaf),
			"random_state":     float64(model.Seed),
		},
		FeatureImportance: importanceByName(model.Importances),
	}

	if err := t.models.SaveModel(ctx, userID, model); err != nil {
		return nil, fmt.Errorf("failed to save model: %w", err)
	}
	if err := t.models.SaveMetadata(ctx, userID, meta); err != nil {
		return nil, fmt.Errorf("failed to save metadata: %w", err)
	}

	t.logger.Info("trained model",
		"user_id", userID,
		"train_days", meta.TrainDays,
		"test_days", meta.TestDays,
		"mae", meta.MAE,
		"baseline_mae", meta.BaselineMAE,
		"duration", time.Since(start))

	return &api.TrainResult{Status: "trained", Metrics: meta}, nil
}

// Matrix splits rows into the feature matrix and the Total target.
func Matrix(rows []series.Row) ([][]float64, []float64) {
	X := make([][]float64, len(rows))
	for i, r := range rows {
		X[i] = r.Features()
	}
	return X, series.RowTotals(rows)
}

func loadRows(ctx context.Context, source records.Source, userID string) ([]api.Trip, []api.Bill, []series.Row, error) {
	trips, err := source.Trips(ctx, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to fetch trips: %w", err)
	}
	bills, err := source.Bills(ctx, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to fetch bills: %w", err)
	}
	days, err := series.BuildDaily(trips, bills)
	if err != nil {
		return nil, nil, nil, err
	}
	return trips, bills, series.Derive(days), nil
}

func meanAbsError(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	sum := 0.0
	for i := range yTrue {
		sum += math.Abs(yTrue[i] - yPred[i])
	}
	return sum / float64(len(yTrue))
}

func importanceByName(importances []float64) map[string]float64 {
	out := make(map[string]float64, len(api.FeatureCols))
	for i, name := range api.FeatureCols {
		if i < len(importances) {
			out[name] = importances[i]
		}
	}
	return out
}
