// Package httpapi exposes the service over JSON/HTTP.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/06Faisal/EcoPulse/internal/ratelimit"
	"github.com/06Faisal/EcoPulse/internal/service"
)

// Options configures the router. Nil Limiter disables rate limiting, a nil
// Gatherer serves the default registry, and empty metrics credentials leave
// /metrics open.
type Options struct {
	Limiter     *ratelimit.Limiter
	Gatherer    prometheus.Gatherer
	MetricsUser string
	MetricsPass string
	CORSOrigins []string
	Logger      *slog.Logger

	// TrustedProxies lists proxy IPs or CIDRs allowed to set
	// X-Forwarded-For for rate limiting.
	TrustedProxies []string
}

// Handler serves the API routes.
type Handler struct {
	svc     *service.Service
	limiter *ratelimit.Limiter
	proxies trustedProxies
	logger  *slog.Logger
}

// NewRouter builds the full HTTP handler.
func NewRouter(svc *service.Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = svc.Logger()
	}
	proxies, err := parseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		logger.Warn("ignoring trusted proxies", "error", err)
		proxies = nil
	}
	h := &Handler{svc: svc, limiter: opts.Limiter, proxies: proxies, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Handle("/metrics", metricsHandler(opts))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/cluster", h.cluster)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimitMiddleware)
			r.Post("/trips", h.addTrip)
			r.Post("/bills", h.addBill)
			r.Post("/train", h.train)
			r.Post("/predict", h.predict)
			r.Post("/evaluate", h.evaluate)
		})
	})

	if len(opts.CORSOrigins) == 0 {
		return r
	}
	return handlers.CORS(
		handlers.AllowedOrigins(opts.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-Id"}),
		handlers.AllowCredentials(),
	)(r)
}

func metricsHandler(opts Options) http.Handler {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})

	if opts.MetricsUser == "" {
		return handler
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != opts.MetricsUser || pass != opts.MetricsPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			writeDetail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		handler.ServeHTTP(w, r)
	})
}
