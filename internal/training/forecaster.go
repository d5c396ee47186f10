package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/modelstore"
	"github.com/06Faisal/EcoPulse/internal/records"
	"github.com/06Faisal/EcoPulse/internal/series"
)

// Forecaster projects a user's daily emissions with their stored model.
type Forecaster struct {
	source records.Source
	models modelstore.Store
	logger *slog.Logger
}

// NewForecaster creates a forecaster
func NewForecaster(source records.Source, models modelstore.Store) *Forecaster {
	return &Forecaster{
		source: source,
		models: models,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger
func (f *Forecaster) WithLogger(logger *slog.Logger) *Forecaster {
	f.logger = logger
	return f
}

// Forecast predicts the next horizonDays days after the user's last trip.
// The feature table is rebuilt from current records on every call.
func (f *Forecaster) Forecast(ctx context.Context, userID string, horizonDays int) (*api.ForecastResult, error) {
	if horizonDays < 1 || horizonDays > api.MaxHorizonDays {
		return nil, fmt.Errorf("%w: got %d", api.ErrInvalidHorizon, horizonDays)
	}

	model, err := f.models.LoadModel(ctx, userID)
	if errors.Is(err, modelstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", api.ErrModelNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	_, _, rows, err := loadRows(ctx, f.source, userID)
	if err != nil {
		return nil, err
	}

	future := series.Project(rows, horizonDays)
	X, _ := Matrix(future)
	preds, err := model.Predict(X)
	if err != nil {
		return nil, fmt.Errorf("failed to predict: %w", err)
	}

	result := &api.ForecastResult{
		UserID:      userID,
		HorizonDays: horizonDays,
		Daily:       make([]api.DailyForecast, len(future)),
	}
	for i, row := range future {
		result.Daily[i] = api.DailyForecast{Day: row.Date.Format("2006-01-02"), Value: preds[i]}
		result.Total += preds[i]
	}

	// metadata is informational; a model without it still forecasts
	meta, err := f.models.LoadMetadata(ctx, userID)
	if err != nil {
		f.logger.Warn("failed to load model metadata", "user_id", userID, "error", err)
	}
	result.Metrics = meta

	f.logger.Debug("forecast generated", "user_id", userID, "horizon_days", horizonDays, "total", result.Total)

	return result, nil
}
