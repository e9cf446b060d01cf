package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/config"
	"github.com/kailas-cloud/omnidex/internal/domain"
	logpkg "github.com/kailas-cloud/omnidex/internal/logger"
	"github.com/kailas-cloud/omnidex/internal/metrics"
	analyticsrepo "github.com/kailas-cloud/omnidex/internal/repository/analytics"
	collectionrepo "github.com/kailas-cloud/omnidex/internal/repository/collection"
	documentrepo "github.com/kailas-cloud/omnidex/internal/repository/document"
	overriderepo "github.com/kailas-cloud/omnidex/internal/repository/override"
	"github.com/kailas-cloud/omnidex/internal/store"
	storeBadger "github.com/kailas-cloud/omnidex/internal/store/badger"
	storeRedis "github.com/kailas-cloud/omnidex/internal/store/redis"
	chiTransport "github.com/kailas-cloud/omnidex/internal/transport/chi"
	"github.com/kailas-cloud/omnidex/internal/transport/leader"
	openaiEmb "github.com/kailas-cloud/omnidex/internal/transport/openai"
	analyticsuc "github.com/kailas-cloud/omnidex/internal/usecase/analytics"
	collectionuc "github.com/kailas-cloud/omnidex/internal/usecase/collection"
	curationuc "github.com/kailas-cloud/omnidex/internal/usecase/curation"
	documentuc "github.com/kailas-cloud/omnidex/internal/usecase/document"
	embeddinguc "github.com/kailas-cloud/omnidex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/omnidex/internal/usecase/health"
	searchuc "github.com/kailas-cloud/omnidex/internal/usecase/search"
	"github.com/kailas-cloud/omnidex/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting omnidex server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("store_driver", cfg.Store.Driver),
	)

	// Create the KV store based on driver
	var kv store.KV
	switch cfg.Store.Driver {
	case "badger":
		kv, err = storeBadger.NewStore(storeBadger.Config{Path: cfg.Store.Path})
	case "redis":
		kv, err = storeRedis.NewStore(storeRedis.Config{
			Addrs:    cfg.Store.Addrs,
			Password: cfg.Store.Password,
		})
	default:
		logger.Fatal("Unknown store driver", zap.String("driver", cfg.Store.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create store", zap.Error(err))
	}
	defer func() { _ = kv.Close() }()

	ctx := context.Background()
	if err := kv.WaitForReady(ctx, 30*time.Second); err != nil {
		logger.Fatal("Store not ready", zap.Error(err))
	}
	logger.Info("Connected to store")

	metrics.RegisterSearchMetrics()

	// Embedder chain — composition root
	providers := map[string]domain.Embedder{}
	for name, pc := range cfg.Embedding.Providers {
		providers[name] = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Logger:  logger,
		})
	}
	dispatcher := embeddinguc.NewDispatcher(providers, embeddinguc.NewLocalEmbedder(384), logger)

	// Repositories
	colRepo := collectionrepo.New(kv)
	docRepo := documentrepo.New(kv)
	overRepo := overriderepo.New(kv)
	anaRepo := analyticsrepo.New(kv)

	// Services
	registry := collectionuc.NewRegistry(colRepo, docRepo, logger)
	collections := collectionuc.New(registry, colRepo, logger)
	documents := documentuc.New(registry, colRepo, docRepo, dispatcher, logger)
	curation := curationuc.New(overRepo, logger)

	leaderClient := leader.New(cfg.Analytics.LeaderURL, "")
	analytics := analyticsuc.New(anaRepo, leaderClient,
		uint32(cfg.Analytics.MinuteRateLimit), //nolint:gosec // validated small config value
		time.Duration(cfg.Analytics.FlushIntervalSec)*time.Second, logger)

	search := searchuc.New(registry, docRepo, curation, dispatcher, searchuc.Options{
		Observer:        analytics,
		MaxPerPage:      cfg.Search.MaxPerPage,
		DefaultCutoffMs: cfg.Search.DefaultSearchCutoff,
	}, logger)

	health := healthuc.New(kv)

	// Hydrate persisted state
	if err := collections.Load(ctx); err != nil {
		logger.Fatal("Failed to load collections", zap.Error(err))
	}
	if err := analytics.Load(ctx); err != nil {
		logger.Fatal("Failed to load analytics rules", zap.Error(err))
	}
	if cfg.Analytics.Enabled {
		go analytics.Run(ctx)
	}

	server := chiTransport.NewServer(collections, documents, search, curation, analytics, health, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.HTTP.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	analytics.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
}
