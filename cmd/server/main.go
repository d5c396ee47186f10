package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/06Faisal/EcoPulse/internal/app"
	"github.com/06Faisal/EcoPulse/internal/config"
	"github.com/06Faisal/EcoPulse/internal/httpapi"
	"github.com/06Faisal/EcoPulse/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
	})
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	router := httpapi.NewRouter(a.Service, httpapi.Options{
		Limiter:     a.Limiter,
		Gatherer:    a.Registry,
		MetricsUser: cfg.Metrics.Username,
		MetricsPass: cfg.Metrics.Password,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      logger,

		TrustedProxies: cfg.HTTP.TrustedProxies,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.Addr(),
			"records_backend", cfg.Records.Backend,
			"model_backend", cfg.Models.Backend,
			"kafka", len(cfg.Kafka.Brokers) > 0,
			"tracing", cfg.Tracing.Endpoint != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-shutdown:
		logger.Info("shutting down server")
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("error closing resources", "error", err)
	}

	logger.Info("server stopped")
}
