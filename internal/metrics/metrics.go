package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeSuccess      = "success"
	OutcomeInsufficient = "insufficient_data"
	OutcomeNotFound     = "not_found"
	OutcomeInvalid      = "invalid"
	OutcomeError        = "error"
)

// Metrics holds all Prometheus collectors for the system
type Metrics struct {
	// Training
	TrainingRuns     *prometheus.CounterVec
	TrainingDuration prometheus.Histogram
	ModelMAE         prometheus.Histogram
	BaselineMAE      prometheus.Histogram

	// Forecasting
	Forecasts       *prometheus.CounterVec
	ForecastHorizon prometheus.Counter

	// Clustering
	ClusterRuns  *prometheus.CounterVec
	ClusterSizes *prometheus.GaugeVec

	// Evaluation
	EvaluationRuns *prometheus.CounterVec

	// Ingestion
	RecordsIngested *prometheus.CounterVec
	WALErrors       prometheus.Counter
	EventErrors     prometheus.Counter
	RateLimited     prometheus.Counter
}

// New creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TrainingRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecopulse_training_runs_total",
				Help: "Training runs by outcome",
			},
			[]string{"outcome"},
		),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ecopulse_training_duration_seconds",
			Help:    "Wall time of a training run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		// Per-user values live in model metadata; these stay unlabeled so
		// series count does not grow with the user base.
		ModelMAE: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ecopulse_model_mae",
			Help:    "Test MAE of trained models, in kg CO2 per day",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		BaselineMAE: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ecopulse_model_baseline_mae",
			Help:    "Test MAE of the mean baseline of trained models, in kg CO2 per day",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		Forecasts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecopulse_forecasts_total",
				Help: "Forecast requests by outcome",
			},
			[]string{"outcome"},
		),
		ForecastHorizon: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecopulse_forecast_days_total",
			Help: "Total number of forecast days produced",
		}),

		ClusterRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecopulse_cluster_runs_total",
				Help: "Clustering runs by outcome",
			},
			[]string{"outcome"},
		),
		ClusterSizes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ecopulse_cluster_size",
				Help: "Users per cluster label in the latest clustering run",
			},
			[]string{"label"},
		),

		EvaluationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecopulse_evaluation_runs_total",
				Help: "Evaluation runs by outcome",
			},
			[]string{"outcome"},
		),

		RecordsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecopulse_records_ingested_total",
				Help: "Records accepted by kind",
			},
			[]string{"kind"},
		),
		WALErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecopulse_wal_errors_total",
			Help: "Number of WAL write errors",
		}),
		EventErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecopulse_event_publish_errors_total",
			Help: "Number of events that failed to publish",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "ecopulse_rate_limited_total",
			Help: "Number of requests rejected by the rate limiter",
		}),
	}
}
