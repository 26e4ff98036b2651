package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"fontlens/internal/config"
	apierrors "fontlens/internal/errors"
	"fontlens/internal/infrastructure"
	"fontlens/internal/middleware"
	"fontlens/internal/provider"
	"fontlens/internal/websocket"
)

// Dependencies are the services the router wires into handlers.
type Dependencies struct {
	License  LicenseService
	Settings SettingsService
	Cache    CacheService
	Device   DeviceService
	Selector *provider.Selector

	// Runtime and Metrics are optional.
	Runtime *infrastructure.RuntimeMetrics
	Metrics http.Handler

	Tracer trace.Tracer
	Meter  metric.Meter
	Logger *slog.Logger
}

// NewRouter builds the full route tree. Gated routes answer 402 until the
// license manager reports a granting state.
func NewRouter(cfg *config.Config, deps Dependencies) (chi.Router, error) {
	logger := deps.Logger
	problems := apierrors.NewErrorHandler(logger, cfg.Logging.Development)
	validator := middleware.NewValidator()

	telemetry, err := middleware.NewHTTPTelemetry(deps.Tracer, deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("http telemetry: %w", err)
	}
	upgrader := websocket.NewUpgrader(cfg.WebSocket, cfg.Security.AllowedOrigins, logger, websocket.NewMetrics(deps.Meter))
	gate := middleware.NewLicenseGate(deps.License, logger, deps.Meter)

	licenseHandler := NewLicenseHandler(deps.License, validator, problems, logger)
	providerHandler := NewProviderHandler(deps.Selector, upgrader, cfg.Provider.PollInterval, validator, problems, logger)
	settingsHandler := NewSettingsHandler(deps.Settings, validator, problems, logger)
	cacheHandler := NewCacheHandler(deps.Cache, problems, logger)
	healthHandler := NewHealthHandler(deps.License, deps.Device, deps.Runtime, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(apierrors.NewErrorMiddleware(problems, logger).Handler)
	r.Use(telemetry.Handler)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.Security.AllowedOrigins}))
	if rl := cfg.Security.RateLimit; rl.Enabled {
		r.Use(middleware.NewRateLimiter(rl.RPS, rl.Burst, logger, problems).Handler)
	}
	r.NotFound(problems.NotFound)
	r.MethodNotAllowed(problems.MethodNotAllowed)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(requestTimeout(cfg.Server)))
		r.Get("/health", healthHandler.Health)
		r.Get("/device", healthHandler.Device)
		r.Mount("/license", licenseHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(gate.Handler)
			r.Mount("/provider", providerHandler.Routes())
			r.Mount("/settings", settingsHandler.Routes())
			r.Mount("/cache", cacheHandler.Routes())
		})
	})

	// Streams outlive the request timeout.
	r.With(gate.Handler).Get("/ws/provider/local", providerHandler.StreamLocal)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	return r, nil
}

// NewServer wraps handler in an http.Server with the configured limits.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           cfg.Addr(),
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
}

func requestTimeout(cfg config.ServerConfig) time.Duration {
	if cfg.RequestTimeout > 0 {
		return cfg.RequestTimeout
	}
	return 60 * time.Second
}
