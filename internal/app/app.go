package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"fontlens/internal/cache"
	"fontlens/internal/config"
	"fontlens/internal/device"
	"fontlens/internal/infrastructure"
	"fontlens/internal/kvstore"
	"fontlens/internal/license"
	"fontlens/internal/licenseapi"
	"fontlens/internal/provider"
	"fontlens/internal/settings"
	handlers "fontlens/internal/transport/http"
)

// Application represents the main application container
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Telemetry *infrastructure.Telemetry
	Runtime   *infrastructure.RuntimeMetrics

	Store    kvstore.Store
	Device   *device.Identity
	License  *license.Manager
	Settings *settings.Store
	Cache    *cache.Cache
	Selector *provider.Selector

	Server *http.Server
}

// NewApplication wires every component from cfg. Close releases what it
// opened, also when NewApplication fails half way.
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Application, err error) {
	a := &Application{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	logger.InfoContext(ctx, "application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion))

	paths := cfg.ResolvedPaths()
	if cfg.Storage.Driver == config.StorageSQLite || cfg.Logging.Output != "stdout" {
		if err := paths.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("failed to ensure directories: %w", err)
		}
	}
	paths.LogPathResolution(logger)

	a.Telemetry, err = infrastructure.InitializeTelemetry(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	meter := a.Telemetry.Meter

	a.Runtime, err = infrastructure.NewRuntimeMetrics(meter, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to register runtime metrics: %w", err)
	}

	a.Store, err = kvstore.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}

	a.Device = device.NewIdentity(device.WithLogger(logger))

	// A nil *licenseapi.Client must not reach the manager as a non-nil RPC.
	var rpc license.RPC
	if cfg.Entitlement.Configured() {
		client, err := licenseapi.New(cfg.Entitlement, logger, licenseapi.WithMeter(meter))
		if err != nil {
			return nil, fmt.Errorf("failed to create license client: %w", err)
		}
		rpc = client
	} else {
		logger.WarnContext(ctx, "license service is not configured; gated features stay locked")
	}
	a.License, err = license.NewManager(cfg.Entitlement, rpc, a.Device, a.Store, logger, license.WithMeter(meter))
	if err != nil {
		return nil, fmt.Errorf("failed to create license manager: %w", err)
	}

	a.Settings = settings.New(a.Store, cfg.Provider, logger)
	a.Cache = cache.New(a.Store, cfg.Cache, logger, cache.WithMeter(meter))
	a.Selector = provider.NewSelector(a.Settings, provider.NewHTTPProbe(cfg.Provider), logger, provider.WithMeter(meter))

	router, err := handlers.NewRouter(cfg, handlers.Dependencies{
		License:  a.License,
		Settings: a.Settings,
		Cache:    a.Cache,
		Device:   a.Device,
		Selector: a.Selector,
		Runtime:  a.Runtime,
		Metrics:  a.Telemetry.MetricsHandler,
		Tracer:   a.Telemetry.Tracer,
		Meter:    meter,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build router: %w", err)
	}
	a.Server = handlers.NewServer(cfg.Server, router)
	return a, nil
}

// Run listens on the configured address and serves until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve completes the startup license check, then serves HTTP on ln until
// ctx is done. Cancelling ctx shuts the server down within the configured
// shutdown timeout.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	res := a.License.CheckOnStartup(ctx)
	a.Logger.InfoContext(ctx, "startup license check finished",
		slog.String("state", string(res.State)),
		slog.String("code", string(res.Code)))
	if ctx.Err() != nil {
		_ = ln.Close()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "http server listening", slog.String("address", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.Config.Server.ShutdownTimeout)
		defer cancel()
		a.Logger.InfoContext(shutdownCtx, "shutting down http server")
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close releases the store and flushes telemetry. It is safe on a partially
// built Application.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.Runtime != nil {
		if err := a.Runtime.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("runtime metrics: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kv store: %w", err))
		}
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "application shutdown complete")
	return nil
}
