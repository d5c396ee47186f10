// Package app wires configuration into stores, the service and its
// collaborators. The server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/06Faisal/EcoPulse/internal/config"
	"github.com/06Faisal/EcoPulse/internal/dedup"
	"github.com/06Faisal/EcoPulse/internal/events"
	"github.com/06Faisal/EcoPulse/internal/metrics"
	"github.com/06Faisal/EcoPulse/internal/modelstore"
	"github.com/06Faisal/EcoPulse/internal/ratelimit"
	"github.com/06Faisal/EcoPulse/internal/records"
	"github.com/06Faisal/EcoPulse/internal/service"
	"github.com/06Faisal/EcoPulse/internal/wal"
	"github.com/06Faisal/EcoPulse/pkg/otel"
)

// App holds every long-lived component built from a Config.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Records   records.Store
	Applied   dedup.Store
	Models    modelstore.Store
	WAL       *wal.InboxWAL
	Publisher events.Publisher
	Limiter   *ratelimit.Limiter
	Registry  *prometheus.Registry
	Service   *service.Service

	tracer *sdktrace.TracerProvider
}

// Build opens stores and creates the service. On error everything opened
// so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	built := false
	defer func() {
		if !built {
			a.Close(context.Background())
		}
	}()

	var err error
	if a.Records, err = OpenRecords(ctx, cfg.Records); err != nil {
		return nil, err
	}
	if a.Applied, err = OpenDedup(ctx, cfg, a.Records); err != nil {
		return nil, err
	}
	if a.Models, err = OpenModels(ctx, cfg.Models); err != nil {
		return nil, err
	}
	if cfg.Models.CacheSize > 0 && cfg.Models.Backend != config.BackendMemory {
		a.Models = modelstore.NewCachedStore(a.Models, cfg.Models.CacheSize, cfg.Models.CacheTTL)
	}

	if cfg.WAL.Dir != "" {
		if a.WAL, err = wal.NewInboxWAL(cfg.WAL.Dir); err != nil {
			return nil, err
		}
	}

	a.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		a.Publisher = kp
	}

	if a.Limiter, err = ratelimit.New(ratelimit.Config{
		PerSecond:  cfg.RateLimit.PerSecond,
		Burst:      cfg.RateLimit.Burst,
		MaxClients: cfg.RateLimit.MaxClients,
	}); err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	a.tracer, err = otel.InitTracer(ctx, &otel.Config{
		ServiceName:       "ecopulse",
		ServiceVersion:    otel.DefaultConfig("ecopulse").ServiceVersion,
		Environment:       cfg.Tracing.Environment,
		CollectorEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:      cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, err
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.Service = service.New(a.Records, a.Models, service.Options{
		WAL:        a.WAL,
		Applied:    a.Applied,
		AppliedTTL: cfg.Dedup.TTL,
		Publisher:  a.Publisher,
		Metrics:    metrics.New(a.Registry),
		Logger:     logger,
	})
	built = true
	return a, nil
}

// OpenRecords opens the configured record store.
func OpenRecords(ctx context.Context, cfg config.RecordsConfig) (records.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return records.NewMemoryStore(), nil
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
			}
		}
		s, err := records.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		s, err := records.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown records backend %q", cfg.Backend)
	}
}

// OpenDedup opens the store of applied WAL keys. By default it lives in the
// records' own database so a restored database carries its keys with it.
func OpenDedup(ctx context.Context, cfg config.Config, recs records.Store) (dedup.Store, error) {
	switch cfg.Dedup.Backend {
	case config.BackendRedis:
		s, err := dedup.NewRedisStore(cfg.Models.RedisAddr, cfg.Models.RedisPassword, cfg.Models.RedisDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMemory:
		return newMemoryDedup(cfg.Dedup.SnapshotPath)
	case "":
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.Dedup.Backend)
	}

	switch r := recs.(type) {
	case *records.SQLiteStore:
		s, err := dedup.NewSQLiteStore(ctx, r.DB())
		if err != nil {
			return nil, err
		}
		return s, nil
	case *records.PostgresStore:
		s, err := dedup.NewPostgresStore(ctx, r.Pool())
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return newMemoryDedup(cfg.Dedup.SnapshotPath)
	}
}

func newMemoryDedup(snapshot string) (dedup.Store, error) {
	s, err := dedup.NewMemoryStore(snapshot)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenModels opens the configured model store.
func OpenModels(ctx context.Context, cfg config.ModelsConfig) (modelstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return modelstore.NewMemoryStore(), nil
	case config.BackendFile:
		s, err := modelstore.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		s, err := modelstore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		s, err := modelstore.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}

// Close releases everything in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := otel.Shutdown(ctx, a.tracer); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if a.WAL != nil {
		if err := a.WAL.Close(); err != nil {
			errs = append(errs, fmt.Errorf("wal: %w", err))
		}
	}
	if a.Models != nil {
		if cached, ok := a.Models.(*modelstore.CachedStore); ok && a.Logger != nil {
			st := cached.Stats()
			a.Logger.Info("model cache stats", "hits", st.Hits, "misses", st.Misses, "stale", st.Stale, "hit_rate", st.HitRate)
		}
		if err := a.Models.Close(); err != nil {
			errs = append(errs, fmt.Errorf("model store: %w", err))
		}
	}
	if a.Applied != nil {
		if err := a.Applied.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dedup store: %w", err))
		}
	}
	if a.Records != nil {
		if err := a.Records.Close(); err != nil {
			errs = append(errs, fmt.Errorf("record store: %w", err))
		}
	}
	return errors.Join(errs...)
}
