// Command authority runs the remote licensing authority: the server that
// enforces single-device activation and records heartbeats.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"seatlock/internal/authority"
	"seatlock/internal/config"
	"seatlock/internal/infrastructure"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Authority failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogger()

	if cfg.Authority.APIKey == "" {
		return fmt.Errorf("authority API key is required (SEATLOCK_AUTHORITY_API_KEY)")
	}
	adminKey := cfg.Authority.AdminAPIKey
	if adminKey == "" {
		adminKey = cfg.Authority.APIKey
		logger.Warn("No admin API key configured, device listing uses the client key")
	}

	store := authority.NewMemoryStore()
	srv := authority.NewServer(store, cfg.Authority.APIKey, adminKey, logger,
		authority.WithRateLimit(cfg.Authority.RateLimitRPS, cfg.Authority.RateLimitBurst),
		authority.WithMetrics(authority.NewMetrics(prometheus.DefaultRegisterer)),
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Authority listening", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}
