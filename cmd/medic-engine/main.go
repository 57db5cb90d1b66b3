package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/probestack/medic/internal/api"
	"github.com/probestack/medic/internal/cache"
	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/connector"
	"github.com/probestack/medic/internal/detector"
	"github.com/probestack/medic/internal/loadtest"
	"github.com/probestack/medic/internal/metrics"
	"github.com/probestack/medic/internal/models"
	"github.com/probestack/medic/internal/orchestrator"
	"github.com/probestack/medic/internal/patterns"
	"github.com/probestack/medic/internal/remedy"
	"github.com/probestack/medic/internal/repo"
	"github.com/probestack/medic/internal/security"
	"github.com/probestack/medic/internal/service"
	"github.com/probestack/medic/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting medic-engine",
		slog.String("address", cfg.Server.Address),
		slog.Int("servers", len(cfg.Servers)))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	patternPack, err := detector.LoadPatterns(cfg.Patterns.Path, logger)
	if err != nil {
		logger.Error("failed to load pattern pack", slog.String("path", cfg.Patterns.Path), slog.Any("error", err))
		os.Exit(1)
	}

	factory := connector.NewStdioFactory(logger)
	orch := orchestrator.New(logger, factory, cfg, cacheProvider)
	defer orch.Close()

	tracker := patterns.NewTracker(logger)
	det := detector.New(logger, factory, cfg.Thresholds.HealthProbeTimeout, patternPack, tracker)
	rem := remedy.New(logger, orch, models.RetryConfig{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		BaseDelay:       cfg.Retry.BaseDelay,
		MaxDelay:        cfg.Retry.MaxDelay,
		ExponentialBase: cfg.Retry.ExponentialBase,
		Jitter:          cfg.Retry.Jitter,
		Timeout:         cfg.Thresholds.ConnectTimeout,
	})
	tester := loadtest.New(logger, factory, cfg)
	scanner := security.New(logger, factory, cfg)
	store := repo.NewMemoryStore()

	engine := service.New(logger, cfg, orch, det, rem, tester, scanner, store, tracker)

	server, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go func() {
		server.SetServing(true)
		engine.MonitorLoop(ctx, cfg.Server.MonitorInterval)
	}()
	go engine.DiagnoseLoop(ctx, cfg.Server.DiagnoseInterval)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("medic-engine stopped")
}
