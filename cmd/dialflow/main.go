package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dialflow/dialflow/internal/api"
	"github.com/dialflow/dialflow/internal/call"
	"github.com/dialflow/dialflow/internal/config"
	"github.com/dialflow/dialflow/internal/database"
	"github.com/dialflow/dialflow/internal/ivr"
	"github.com/dialflow/dialflow/internal/metrics"
	"github.com/dialflow/dialflow/internal/telephony"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load a local .env if present; real env vars win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting dialflow",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"public_url", cfg.PublicURL,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Load the IVR menu.
	menu, err := ivr.Load(cfg.MenuFile)
	if err != nil {
		slog.Error("failed to load ivr menu", "error", err, "menu_file", cfg.MenuFile)
		os.Exit(1)
	}
	slog.Info("ivr menu loaded", "actions", len(menu.Actions))

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	sessions := database.NewCallSessionRepository(db)
	events := database.NewCallEventRepository(db)
	campaigns := database.NewCampaignRepository(db)
	machine := call.NewMachine(menu, cfg.MaxInvalidAttempts)
	dispatcher := call.NewDispatcher(sessions, events, machine, logger)

	// The telephony client is optional: without credentials the server still
	// serves callbacks and the read API, but rejects new outbound calls.
	var initiator *call.Initiator
	if cfg.TwilioConfigured() {
		client, err := telephony.NewTwilioClient(
			cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger,
		)
		if err != nil {
			slog.Error("failed to create telephony client", "error", err)
			os.Exit(1)
		}
		initiator = call.NewInitiator(sessions, client, cfg.PublicURL, logger)
	} else {
		slog.Warn("telephony credentials not configured, call initiation disabled")
	}

	// Watchdog fails sessions the provider never finished.
	watchdog := call.NewWatchdog(sessions, dispatcher, cfg.SessionTimeout, cfg.WatchdogInterval, logger)
	go watchdog.Run(appCtx)

	// Prometheus metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(sessions, call.ActiveStates(), time.Now()))
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// HTTP server using the api package.
	handler := api.NewServer(cfg, sessions, events, campaigns, initiator, dispatcher, menu, metricsHandler)
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("dialflow stopped")
}
