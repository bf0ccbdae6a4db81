package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"stockagent/internal/api"
	"stockagent/internal/config"
	"stockagent/internal/logging"
	"stockagent/pkg/stockagent"
)

func main() {
	var configPath string
	var host string
	var port int
	var noScheduler bool

	flag.StringVar(&configPath, "config", "config.yaml", "Path to the YAML config file")
	flag.StringVar(&host, "host", "", "Host to bind the server to (overrides config)")
	flag.IntVar(&port, "port", 0, "Port to run the server on (overrides config)")
	flag.BoolVar(&noScheduler, "no-scheduler", false, "Disable the background refresh jobs")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger, writer, err := logging.NewLogger(cfg.Logging.Dir, slog.LevelInfo)
	if err != nil {
		slog.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("failed to close log writer", "err", err)
		}
	}()

	core, err := stockagent.OpenWithOptions(stockagent.Options{
		DBPath:          cfg.Database.Path,
		Logger:          logger,
		AIAPIKey:        cfg.AI.APIKey,
		AIBaseURL:       cfg.AI.BaseURL,
		AIModel:         cfg.AI.Model,
		RefreshSchedule: cfg.Schedule.DirectoryRefreshCron,
		PruneSchedule:   cfg.Schedule.ReportPruneCron,
		ReportRetention: time.Duration(cfg.Schedule.ReportRetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		logger.Error("failed to initialize core", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := core.Close(); err != nil {
			logger.Error("failed to close core", "err", err)
		}
	}()

	if !noScheduler {
		if err := core.StartScheduler(); err != nil {
			logger.Error("failed to start scheduler", "err", err)
			os.Exit(1)
		}
	}

	// Warm the stock directory so the first lookup does not pay the fetch.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := core.RefreshDirectory(ctx); err != nil {
			logger.Warn("initial directory refresh failed", "err", err)
		}
	}()

	addr := cfg.Addr()
	var handler http.Handler = api.NewRouter(core, logger)
	handler = middleware.Compress(5)(handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      300 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", addr, "model", core.Model())
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
}
