package eval

import (
	"time"
)

// Status values of a per-user evaluation.
const (
	StatusSuccess          = "success"
	StatusInsufficientData = "insufficient_data"
	StatusError            = "error"
)

// RegressionMetrics scores one set of predictions against actual totals.
type RegressionMetrics struct {
	MAE          float64 `json:"mae"`
	MSE          float64 `json:"mse"`
	RMSE         float64 `json:"rmse"`
	R2           float64 `json:"r2"`
	MAPE         float64 `json:"mape"` // percent, over non-zero targets only
	MeanResidual float64 `json:"mean_residual"`
	StdResidual  float64 `json:"std_residual"`
	Within2kg    float64 `json:"accuracy_within_2kg"` // percent of |residual| <= 2
	Within5kg    float64 `json:"accuracy_within_5kg"` // percent of |residual| <= 5
}

// DataStats describes the data behind one evaluation.
type DataStats struct {
	TotalDays int `json:"total_days"`
	TrainDays int `json:"train_days"`
	TestDays  int `json:"test_days"`
	TripCount int `json:"trip_count"`
	BillCount int `json:"bill_count"`
}

// Improvement compares the model with the training-mean baseline on the
// test partition. Positive MAE and RMSE deltas favor the model.
type Improvement struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
}

// Predictions keeps the raw series for later inspection.
type Predictions struct {
	YTrain     []float64 `json:"y_train"`
	TrainPreds []float64 `json:"train_preds"`
	YTest      []float64 `json:"y_test"`
	TestPreds  []float64 `json:"test_preds"`
}

// UserEvaluation is the outcome for one user.
type UserEvaluation struct {
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	TripCount int    `json:"trip_count,omitempty"`
	Error     string `json:"error,omitempty"`

	DataStats               *DataStats         `json:"data_stats,omitempty"`
	TrainMetrics            *RegressionMetrics `json:"train_metrics,omitempty"`
	TestMetrics             *RegressionMetrics `json:"test_metrics,omitempty"`
	BaselineTrainMetrics    *RegressionMetrics `json:"baseline_train_metrics,omitempty"`
	BaselineTestMetrics     *RegressionMetrics `json:"baseline_test_metrics,omitempty"`
	ImprovementOverBaseline *Improvement       `json:"improvement_over_baseline,omitempty"`
	FeatureImportance       map[string]float64 `json:"feature_importance,omitempty"`
	Predictions             *Predictions       `json:"predictions,omitempty"`
}

// Summary is mean, population std, min and max of one metric.
type Summary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Aggregate summarizes the test metrics of every successful evaluation.
type Aggregate struct {
	TotalUsers            int                `json:"total_users"`
	SuccessfulEvaluations int                `json:"successful_evaluations"`
	InsufficientData      int                `json:"insufficient_data"`
	Errors                int                `json:"errors"`
	Metrics               map[string]Summary `json:"metrics,omitempty"`
	AvgFeatureImportance  map[string]float64 `json:"avg_feature_importance,omitempty"`
}

// Report is a complete evaluation run.
type Report struct {
	Timestamp time.Time        `json:"timestamp"`
	Retrain   bool             `json:"retrain"`
	Results   []UserEvaluation `json:"results"`
	Aggregate Aggregate        `json:"aggregate"`
}
