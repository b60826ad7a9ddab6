// Package app assembles the seatlockd process: configuration, logging,
// tracing, the license manager and the HTTP surface, with graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seatlock/internal/config"
	"seatlock/internal/infrastructure"
	"seatlock/internal/license"
	appmiddleware "seatlock/internal/middleware"
	"seatlock/internal/services"
	transporthttp "seatlock/internal/transport/http"
)

// AppName identifies the process in logs and health output.
const AppName = "seatlockd"

// Application is the composed seatlockd process.
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	LicenseManager *license.Manager
	LicenseService services.LicenseService
	Logger         *slog.Logger
	Tracing        *infrastructure.TracingProviders

	startedAt time.Time
}

// NewApplication wires the full process from configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", license.AppVersion),
		slog.Int("port", cfg.Server.Port),
	)

	tracing, err := infrastructure.InitializeTracing(context.Background(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	manager, err := license.NewManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize license manager: %w", err)
	}

	a := &Application{
		Config:         cfg,
		LicenseManager: manager,
		LicenseService: services.NewLicenseService(manager, logger),
		Logger:         logger,
		Tracing:        tracing,
		startedAt:      time.Now(),
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	gate := appmiddleware.NewLicenseGate(a.LicenseService, a.Logger)
	r.Use(gate.Handler)

	licenseHandler := transporthttp.NewLicenseHandler(a.LicenseService, a.Logger)
	r.Mount("/api/license", licenseHandler.Routes())

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", a.handleHealth)

	a.Router = r
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := a.LicenseManager.CheckIntegrity(r.Context())
	render.JSON(w, r, map[string]interface{}{
		"app":            AppName,
		"version":        license.AppVersion,
		"uptime_seconds": time.Since(a.startedAt).Seconds(),
		"license":        report,
	})
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run starts the HTTP server and blocks until a termination signal arrives,
// then shuts everything down in order.
func (a *Application) Run() error {
	// Surface license problems in the log at startup; the process still
	// starts so the operator can activate through the API.
	report := a.LicenseManager.CheckIntegrity(context.Background())
	if !report.Healthy() {
		a.Logger.Warn("License not ready",
			slog.Bool("artifact_present", report.ArtifactPresent),
			slog.Bool("artifact_decodes", report.ArtifactDecodes),
			slog.Bool("suspended", report.SuspendedOnDisk),
		)
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		a.Logger.Info("Shutting down", slog.String("signal", sig.String()))
	}

	return a.shutdown()
}

func (a *Application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	a.LicenseManager.Stop()

	if err := a.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if a.Tracing != nil {
		if err := a.Tracing.Shutdown(ctx); err != nil {
			a.Logger.Warn("Tracing shutdown failed", slog.String("error", err.Error()))
		}
	}
	if err := infrastructure.CloseLogger(); err != nil {
		return err
	}
	return nil
}
