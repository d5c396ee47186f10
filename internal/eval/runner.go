// Package eval scores stored per-user models against their own history and
// aggregates the results across users.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/forest"
	"github.com/06Faisal/EcoPulse/internal/modelstore"
	"github.com/06Faisal/EcoPulse/internal/records"
	"github.com/06Faisal/EcoPulse/internal/series"
	"github.com/06Faisal/EcoPulse/internal/training"
)

// MinEvaluationTrips is the trip count below which a user is not evaluated.
const MinEvaluationTrips = 14

// EvaluationRunner orchestrates evaluation across every user.
type EvaluationRunner struct {
	source  records.Source
	models  modelstore.Store
	trainer *training.Trainer
	logger  *slog.Logger
}

// NewEvaluationRunner creates a new evaluation runner.
func NewEvaluationRunner(source records.Source, models modelstore.Store, trainer *training.Trainer, logger *slog.Logger) *EvaluationRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluationRunner{
		source:  source,
		models:  models,
		trainer: trainer,
		logger:  logger,
	}
}

// RunEvaluation evaluates all users. With retrain, every model is trained
// afresh; otherwise stored models are reused and missing ones trained.
// A failing user is recorded and does not stop the run.
func (er *EvaluationRunner) RunEvaluation(ctx context.Context, retrain bool) (*Report, error) {
	ids, err := er.source.UserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user ids: %w", err)
	}
	er.logger.Info("starting evaluation", "users", len(ids), "retrain", retrain)

	report := &Report{
		Timestamp: time.Now().UTC(),
		Retrain:   retrain,
		Results:   make([]UserEvaluation, 0, len(ids)),
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := er.EvaluateUser(ctx, id, retrain)
		if err != nil {
			er.logger.Warn("evaluation failed", "user_id", id, "error", err)
			result = &UserEvaluation{UserID: id, Status: StatusError, Error: err.Error()}
		}
		report.Results = append(report.Results, *result)
	}
	report.Aggregate = AggregateResults(report.Results)

	er.logger.Info("evaluation complete",
		"users", report.Aggregate.TotalUsers,
		"successful", report.Aggregate.SuccessfulEvaluations,
		"insufficient_data", report.Aggregate.InsufficientData,
		"errors", report.Aggregate.Errors)

	return report, nil
}

// EvaluateUser scores one user's model on its train and test partitions.
func (er *EvaluationRunner) EvaluateUser(ctx context.Context, userID string, retrain bool) (*UserEvaluation, error) {
	data, err := er.trainer.Prepare(ctx, userID)
	if errors.Is(err, api.ErrInsufficientHistory) || errors.Is(err, api.ErrInsufficientData) {
		return &UserEvaluation{UserID: userID, Status: StatusInsufficientData}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data.Trips) < MinEvaluationTrips {
		return &UserEvaluation{UserID: userID, Status: StatusInsufficientData, TripCount: len(data.Trips)}, nil
	}

	model, err := er.model(ctx, userID, retrain)
	if err != nil {
		return nil, err
	}

	trainX, yTrain := training.Matrix(data.Train)
	testX, yTest := training.Matrix(data.Test)
	trainPreds, err := model.Predict(trainX)
	if err != nil {
		return nil, fmt.Errorf("failed to predict train partition: %w", err)
	}
	testPreds, err := model.Predict(testX)
	if err != nil {
		return nil, fmt.Errorf("failed to predict test partition: %w", err)
	}

	baseline := baselinePredictor(data.Train)
	res := &UserEvaluation{
		UserID: userID,
		Status: StatusSuccess,
		DataStats: &DataStats{
			TotalDays: len(data.Rows),
			TrainDays: len(data.Train),
			TestDays:  len(data.Test),
			TripCount: len(data.Trips),
			BillCount: len(data.Bills),
		},
		FeatureImportance: make(map[string]float64, len(api.FeatureCols)),
		Predictions: &Predictions{
			YTrain:     yTrain,
			TrainPreds: trainPreds,
			YTest:      yTest,
			TestPreds:  testPreds,
		},
	}
	for i, name := range api.FeatureCols {
		if i < len(model.Importances) {
			res.FeatureImportance[name] = model.Importances[i]
		}
	}

	if res.TrainMetrics, err = ComputeRegression(yTrain, trainPreds); err != nil {
		return nil, err
	}
	if res.TestMetrics, err = ComputeRegression(yTest, testPreds); err != nil {
		return nil, err
	}
	if res.BaselineTrainMetrics, err = ComputeRegression(yTrain, fill(len(yTrain), baseline)); err != nil {
		return nil, err
	}
	if res.BaselineTestMetrics, err = ComputeRegression(yTest, fill(len(yTest), baseline)); err != nil {
		return nil, err
	}
	res.ImprovementOverBaseline = &Improvement{
		MAE:  res.BaselineTestMetrics.MAE - res.TestMetrics.MAE,
		RMSE: res.BaselineTestMetrics.RMSE - res.TestMetrics.RMSE,
		R2:   res.TestMetrics.R2,
	}

	return res, nil
}

func (er *EvaluationRunner) model(ctx context.Context, userID string, retrain bool) (*forest.Regressor, error) {
	if !retrain {
		model, err := er.models.LoadModel(ctx, userID)
		if err == nil {
			return model, nil
		}
		if !errors.Is(err, modelstore.ErrNotFound) {
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
	}

	er.logger.Debug("training model for evaluation", "user_id", userID)
	if _, err := er.trainer.Train(ctx, userID); err != nil {
		return nil, err
	}
	return er.models.LoadModel(ctx, userID)
}

func baselinePredictor(train []series.Row) float64 {
	sum := 0.0
	for _, r := range train {
		sum += r.Total
	}
	return sum / float64(len(train))
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
