// Package service is the caller-facing surface shared by the HTTP server and
// the CLI. It wraps training, forecasting, clustering, evaluation and
// ingestion with tracing, metrics, logging and event publishing.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/cluster"
	"github.com/06Faisal/EcoPulse/internal/dedup"
	"github.com/06Faisal/EcoPulse/internal/eval"
	"github.com/06Faisal/EcoPulse/internal/events"
	"github.com/06Faisal/EcoPulse/internal/metrics"
	"github.com/06Faisal/EcoPulse/internal/modelstore"
	"github.com/06Faisal/EcoPulse/internal/records"
	"github.com/06Faisal/EcoPulse/internal/training"
	"github.com/06Faisal/EcoPulse/internal/wal"
	"github.com/06Faisal/EcoPulse/pkg/otel"
)

const publishTimeout = 5 * time.Second

// Options carries the optional collaborators of a Service. Zero values
// disable the WAL, keep applied WAL keys in memory, drop events, register
// metrics on a private registry and log to slog.Default.
type Options struct {
	WAL *wal.InboxWAL
	// Applied remembers WAL entries already in the record store; AppliedTTL
	// bounds how long (0 keeps them forever).
	Applied    dedup.Store
	AppliedTTL time.Duration
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Training   *training.Config
}

// Service implements every caller-facing operation.
type Service struct {
	records    records.Store
	models     modelstore.Store
	trainer    *training.Trainer
	forecaster *training.Forecaster
	clusterer  *cluster.Clusterer
	evaluator  *eval.EvaluationRunner
	wal        *wal.InboxWAL
	applied    dedup.Store
	appliedTTL time.Duration
	publisher  events.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New wires a Service over a record store and a model store.
func New(recs records.Store, models modelstore.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	applied := opts.Applied
	if applied == nil {
		applied, _ = dedup.NewMemoryStore("")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	trainer := training.NewTrainer(recs, models).WithLogger(logger)
	if opts.Training != nil {
		trainer = trainer.WithConfig(*opts.Training)
	}

	return &Service{
		records:    recs,
		models:     models,
		trainer:    trainer,
		forecaster: training.NewForecaster(recs, models).WithLogger(logger),
		clusterer:  cluster.NewClusterer(recs).WithLogger(logger),
		evaluator:  eval.NewEvaluationRunner(recs, models, trainer, logger),
		wal:        opts.WAL,
		applied:    applied,
		appliedTTL: opts.AppliedTTL,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
	}
}

// Outcome classifies an operation error for metrics and span attributes.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, api.ErrInsufficientData),
		errors.Is(err, api.ErrInsufficientHistory),
		errors.Is(err, api.ErrInsufficientPopulation):
		return metrics.OutcomeInsufficient
	case errors.Is(err, api.ErrModelNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, api.ErrInvalidInput),
		errors.Is(err, api.ErrInvalidHorizon),
		errors.Is(err, api.ErrInvalidTestRatio):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}

// Train fits and stores userID's model.
func (s *Service) Train(ctx context.Context, userID string) (*api.TrainResult, error) {
	ctx, span := otel.StartSpan(ctx, otel.TracerName, "service.Train", otel.UserAttributes(userID)...)
	defer span.End()

	start := time.Now()
	res, err := s.trainer.Train(ctx, userID)
	outcome := Outcome(err)

	s.metrics.TrainingRuns.WithLabelValues(outcome).Inc()
	s.metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(otel.AttrOutcome.String(outcome))
	if err != nil {
		otel.RecordError(span, err, "training failed")
		return nil, err
	}

	s.metrics.ModelMAE.Observe(res.Metrics.MAE)
	s.metrics.BaselineMAE.Observe(res.Metrics.BaselineMAE)
	s.publish(ctx, events.Event{
		Type:    events.TypeModelTrained,
		Key:     userID,
		Payload: res.Metrics,
	})
	return res, nil
}

// Forecast predicts userID's next horizonDays daily totals.
func (s *Service) Forecast(ctx context.Context, userID string, horizonDays int) (*api.ForecastResult, error) {
	ctx, span := otel.StartSpan(ctx, otel.TracerName, "service.Forecast", otel.ForecastAttributes(userID, horizonDays)...)
	defer span.End()

	res, err := s.forecaster.Forecast(ctx, userID, horizonDays)
	outcome := Outcome(err)

	s.metrics.Forecasts.WithLabelValues(outcome).Inc()
	span.SetAttributes(otel.AttrOutcome.String(outcome))
	if err != nil {
		otel.RecordError(span, err, "forecast failed")
		return nil, err
	}

	s.metrics.ForecastHorizon.Add(float64(len(res.Daily)))
	return res, nil
}

// clusteredEvent is the payload of users.clustered.
type clusteredEvent struct {
	RunID string         `json:"run_id"`
	Users int            `json:"users"`
	Sizes map[string]int `json:"sizes"`
}

// Cluster groups all eligible users.
func (s *Service) Cluster(ctx context.Context) (*api.ClusterResult, error) {
	ctx, span := otel.StartSpan(ctx, otel.TracerName, "service.Cluster")
	defer span.End()

	res, err := s.clusterer.Cluster(ctx)
	outcome := Outcome(err)

	s.metrics.ClusterRuns.WithLabelValues(outcome).Inc()
	span.SetAttributes(otel.AttrOutcome.String(outcome))
	if err != nil {
		otel.RecordError(span, err, "clustering failed")
		return nil, err
	}

	runID := uuid.NewString()
	sizes := make(map[string]int, len(res.Centroids))
	for _, c := range res.Centroids {
		sizes[c.ClusterLabel] = c.Size
		s.metrics.ClusterSizes.WithLabelValues(c.ClusterLabel).Set(float64(c.Size))
	}
	span.SetAttributes(otel.AttrUserCount.Int(len(res.Users)))

	s.publish(ctx, events.Event{
		Type:    events.TypeUsersClustered,
		Key:     runID,
		Payload: clusteredEvent{RunID: runID, Users: len(res.Users), Sizes: sizes},
	})
	return res, nil
}

// Evaluate scores every user's model. With retrain all models are refit.
func (s *Service) Evaluate(ctx context.Context, retrain bool) (*eval.Report, error) {
	ctx, span := otel.StartSpan(ctx, otel.TracerName, "service.Evaluate", otel.AttrRetrain.Bool(retrain))
	defer span.End()

	report, err := s.evaluator.RunEvaluation(ctx, retrain)
	outcome := Outcome(err)

	s.metrics.EvaluationRuns.WithLabelValues(outcome).Inc()
	span.SetAttributes(otel.AttrOutcome.String(outcome))
	if err != nil {
		otel.RecordError(span, err, "evaluation failed")
		return nil, err
	}
	span.SetAttributes(otel.AttrUserCount.Int(report.Aggregate.TotalUsers))
	return report, nil
}

// RecordTrip validates and stores a trip, logging it to the WAL first.
func (s *Service) RecordTrip(ctx context.Context, in api.TripInput) (api.Trip, error) {
	trip, err := in.Trip()
	if err != nil {
		return api.Trip{}, err
	}
	entry, logged, err := s.appendWAL(wal.KindTrip, in)
	if err != nil {
		return api.Trip{}, err
	}
	if err := s.records.InsertTrip(ctx, trip); err != nil {
		return api.Trip{}, fmt.Errorf("failed to store trip: %w", err)
	}
	if logged {
		s.markApplied(ctx, entry)
	}
	s.metrics.RecordsIngested.WithLabelValues(wal.KindTrip).Inc()
	return trip, nil
}

// RecordBill validates and stores a bill, logging it to the WAL first.
func (s *Service) RecordBill(ctx context.Context, in api.BillInput) (api.Bill, error) {
	bill, err := in.Bill()
	if err != nil {
		return api.Bill{}, err
	}
	entry, logged, err := s.appendWAL(wal.KindBill, in)
	if err != nil {
		return api.Bill{}, err
	}
	if err := s.records.InsertBill(ctx, bill); err != nil {
		return api.Bill{}, fmt.Errorf("failed to store bill: %w", err)
	}
	if logged {
		s.markApplied(ctx, entry)
	}
	s.metrics.RecordsIngested.WithLabelValues(wal.KindBill).Inc()
	return bill, nil
}

// Replay re-inserts WAL entries without logging them again. Entries already
// applied, live or by an earlier replay, are skipped, as are entries that
// fail validation. It returns the number of records stored.
func (s *Service) Replay(ctx context.Context, entries []wal.Entry) (int, error) {
	stored, skipped := 0, 0
	defer func() {
		s.logger.Info("WAL replay finished", "stored", stored, "already_applied", skipped)
	}()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		key := e.Key()
		seen, err := s.applied.Seen(ctx, key)
		if err != nil {
			return stored, fmt.Errorf("failed to check WAL entry: %w", err)
		}
		if seen {
			skipped++
			continue
		}

		switch e.Kind {
		case wal.KindTrip:
			err = s.replayTrip(ctx, e.Body)
		case wal.KindBill:
			err = s.replayBill(ctx, e.Body)
		default:
			s.logger.Warn("skipping WAL entry of unknown kind", "kind", e.Kind)
			continue
		}
		if errors.Is(err, api.ErrInvalidInput) {
			s.logger.Warn("skipping invalid WAL entry", "kind", e.Kind, "error", err)
			continue
		}
		if err != nil {
			return stored, err
		}
		if err := s.applied.Mark(ctx, key, s.appliedTTL); err != nil {
			return stored, fmt.Errorf("failed to mark WAL entry: %w", err)
		}
		stored++
	}
	return stored, nil
}

func (s *Service) replayTrip(ctx context.Context, body []byte) error {
	var in api.TripInput
	if err := json.Unmarshal(body, &in); err != nil {
		return fmt.Errorf("%w: %v", api.ErrInvalidInput, err)
	}
	trip, err := in.Trip()
	if err != nil {
		return err
	}
	return s.records.InsertTrip(ctx, trip)
}

func (s *Service) replayBill(ctx context.Context, body []byte) error {
	var in api.BillInput
	if err := json.Unmarshal(body, &in); err != nil {
		return fmt.Errorf("%w: %v", api.ErrInvalidInput, err)
	}
	bill, err := in.Bill()
	if err != nil {
		return err
	}
	return s.records.InsertBill(ctx, bill)
}

// Metrics exposes the collectors for the HTTP layer.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Logger returns the service logger.
func (s *Service) Logger() *slog.Logger {
	return s.logger
}

// appendWAL logs in and reports whether an entry was written.
func (s *Service) appendWAL(kind string, in any) (wal.Entry, bool, error) {
	if s.wal == nil {
		return wal.Entry{}, false, nil
	}
	body, err := json.Marshal(in)
	if err != nil {
		return wal.Entry{}, false, fmt.Errorf("failed to encode %s for WAL: %w", kind, err)
	}
	entry, err := s.wal.Append(kind, body)
	if err != nil {
		s.metrics.WALErrors.Inc()
		return wal.Entry{}, false, err
	}
	return entry, true, nil
}

// markApplied records a live insert so a later replay skips it. The record
// is already stored, so a failure is logged rather than returned.
func (s *Service) markApplied(ctx context.Context, e wal.Entry) {
	if err := s.applied.Mark(ctx, e.Key(), s.appliedTTL); err != nil {
		s.metrics.WALErrors.Inc()
		s.logger.Warn("failed to mark WAL entry applied", "kind", e.Kind, "error", err)
	}
}

// publish delivers e best-effort. Failures are logged and counted.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, e); err != nil {
		s.metrics.EventErrors.Inc()
		s.logger.Warn("failed to publish event", "type", e.Type, "key", e.Key, "error", err)
	}
}
