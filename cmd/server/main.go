package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"divisa/internal/adapter/cache"
	httpRouter "divisa/internal/adapter/http"
	"divisa/internal/adapter/repository"
	"divisa/internal/config"
	"divisa/internal/domain/model"
	"divisa/internal/domain/ports"
	"divisa/internal/metrics"
	"divisa/internal/service"
	"divisa/internal/worker"
	"divisa/pkg/logger"
)

func main() {
	envFile := flag.String("env-file", "", "path to a .env file")
	flag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		logger.NewLogger("info").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	log.Info("Starting divisa shell", "version", cfg.Shell.CacheName(), "upstream", cfg.Shell.UpstreamURL)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, closeStorage, err := openStorage(ctx, cfg.Cache, log)
	if err != nil {
		log.Error("Failed to open cache storage", "backend", cfg.Cache.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStorage()

	ratesAPI := repository.NewRatesAPI(cfg.API.BaseURL, cfg.API.Timeout, log, repository.WithMetrics(appMetrics))
	hub := worker.NewHub(log, appMetrics)

	shell, err := worker.New(worker.Config{
		CacheName:     cfg.Shell.CacheName(),
		StaticCache:   cfg.Shell.StaticCacheName(),
		DynamicCache:  cfg.Shell.DynamicCacheName(),
		StaticFiles:   cfg.Shell.StaticFiles,
		APIRoutes:     cfg.Shell.APIRoutes,
		ManifestPath:  cfg.Shell.ManifestPath,
		DocumentPaths: cfg.Shell.DocumentPaths,
	}, cfg.Shell.UpstreamURL, storage, log, worker.WithBroadcaster(hub), worker.WithMetrics(appMetrics))
	if err != nil {
		log.Error("Invalid worker configuration", "error", err)
		os.Exit(1)
	}
	hub.OnMessage(shell.HandleRawMessage)

	// An install failure leaves the worker redundant; requests pass
	// through to the upstream until the next start.
	if err := shell.Start(ctx); err != nil {
		log.Error("Worker install failed, serving without cache", "error", err)
	}

	syncs := worker.NewSyncManager(shell, ratesAPI)
	syncs.Start(ctx)
	go scheduleSync(ctx, syncs, cfg.Shell.SyncInterval, log)

	converter := service.NewConverterService(ratesAPI, model.Currency(cfg.API.LocalCurrency), log, appMetrics)
	handler := httpRouter.NewHandler(shell, syncs, hub, storage, converter, log, appMetrics)
	router := httpRouter.NewRouter(handler, log, appMetrics, registry)
	routes := router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      routes,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	cancel()
	syncs.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server exited")
}

func openStorage(ctx context.Context, cfg config.CacheConfig, log *logger.Logger) (ports.CacheStorage, func(), error) {
	if cfg.Backend != "redis" {
		return cache.NewMemoryStorage(log), func() {}, nil
	}

	storage, err := cache.NewRedisStorageFromURL(ctx, cfg.RedisURL, cfg.KeyPrefix, log)
	if err != nil {
		return nil, nil, err
	}
	return storage, func() {
		if err := storage.Close(); err != nil {
			log.Error("Failed to close redis", "error", err)
		}
	}, nil
}

// scheduleSync registers the rates sync tag periodically, the server side
// counterpart of the page registering it on load.
func scheduleSync(ctx context.Context, syncs *worker.SyncManager, interval time.Duration, log *logger.Logger) {
	if err := syncs.Register(worker.TagUpdateRates); err != nil {
		log.Error("Failed to register startup sync", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := syncs.Register(worker.TagUpdateRates); err != nil {
				log.Error("Failed to register periodic sync", "error", err)
			}
		case <-ctx.Done():
			log.Info("Stopping sync scheduler")
			return
		}
	}
}
