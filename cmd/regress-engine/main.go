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

	"github.com/miradorstack/mirador-regress/internal/api"
	"github.com/miradorstack/mirador-regress/internal/cache"
	"github.com/miradorstack/mirador-regress/internal/config"
	"github.com/miradorstack/mirador-regress/internal/engine"
	"github.com/miradorstack/mirador-regress/internal/metrics"
	"github.com/miradorstack/mirador-regress/internal/observability"
	"github.com/miradorstack/mirador-regress/internal/repo"
	"github.com/miradorstack/mirador-regress/internal/services"
	"github.com/miradorstack/mirador-regress/internal/settings"
	"github.com/miradorstack/mirador-regress/internal/utils"
	"github.com/miradorstack/mirador-regress/internal/workers"
)

var version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-regress", slog.String("address", cfg.Server.Address), slog.String("version", version))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, version, logger)
	if err != nil {
		logger.Error("failed to initialise tracing", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := settings.Load(cfg.Settings.Path, logger)
	if err != nil {
		logger.Error("failed to load service settings", slog.String("path", cfg.Settings.Path), slog.Any("error", err))
		os.Exit(1)
	}

	durable, err := graphStore(ctx, cfg.Cache.GraphStore)
	if err != nil {
		logger.Warn("graph store unavailable, continuing without durable tier", slog.String("kind", cfg.Cache.GraphStore.Kind), slog.Any("error", err))
		durable = cache.NoopProvider{}
	}
	composite := cache.NewComposite(cache.Options{
		Size:       cfg.Cache.Size,
		TTL:        cfg.Cache.TTL,
		Durable:    durable,
		DurableTTL: cfg.Cache.GraphStore.TTL,
		Logger:     logger,
	})
	defer composite.Close()

	backend := repo.NewAPMClient(repo.APMConfig{
		BaseURL: cfg.Clients.APM.BaseURL,
		APIKey:  cfg.Clients.APM.APIKey,
		Timeout: cfg.Clients.APM.Timeout,
		Paths:   cfg.Clients.APM.Paths,
		Breaker: cfg.Clients.APM.Breaker,
		Logger:  logger,
	})

	deps := engine.Deps{
		Backend:  backend,
		Settings: store,
		Cache:    composite,
		Pools: workers.NewRegistry(workers.Sizes{
			Query:    cfg.Workers.QueryPoolSize,
			Function: cfg.Workers.FunctionPoolSize,
		}),
		Target:         backend.Target(),
		DynamicSlicing: cfg.Slicing.Dynamic,
		Logger:         logger,
	}
	analyzer := engine.NewAnalyzer(deps)
	reporter := engine.NewReporter(deps, analyzer)
	regressionService := services.NewRegressionService(logger, analyzer, reporter)

	server, err := api.NewServer(cfg.Server, regressionService, logger)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	go reloadOnHangup(ctx, logger, store, composite)

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

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", slog.Any("error", err))
	}

	logger.Info("mirador-regress stopped")
}

func graphStore(ctx context.Context, cfg config.GraphStoreConfig) (cache.Provider, error) {
	switch cfg.Kind {
	case config.GraphStoreFolder:
		return cache.NewFolderProvider(cfg.Dir)
	case config.GraphStoreRedis:
		return cache.NewRedisProvider(ctx, cache.RedisConfig{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			Prefix:       cfg.Prefix,
		})
	default:
		return cache.NoopProvider{}, nil
	}
}

// reloadOnHangup re-reads service settings on SIGHUP and drops memoized
// results computed under the old thresholds.
func reloadOnHangup(ctx context.Context, logger *slog.Logger, store *settings.Store, composite *cache.Composite) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := store.Reload(); err != nil {
				logger.Error("settings reload failed", slog.Any("error", err))
				continue
			}
			composite.Purge()
			logger.Info("settings reloaded")
		}
	}
}
