package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/embed"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "data_dir", cfg.Indexer.DataDir)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), nil)
		if err := ms.Start(); err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer ms.Shutdown(context.Background())
	}

	embedder, err := embed.New(cfg.Embedding, embed.Hooks{
		CacheLookup: func(hit bool) { m.CacheLookup("embedding", hit) },
		BreakerState: func(name string, _, to resilience.State) {
			m.BreakerState(name, int(to))
		},
	})
	if err != nil {
		slog.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}

	exec := executor.New(embedder, executor.Options{
		WindowMultiplier: cfg.Search.WindowMultiplier,
		Params:           ranker.Params{K1: cfg.BM25.K1, B: cfg.BM25.B},
	}, m)
	if _, err := exec.Reload(cfg.Indexer.DataDir); err != nil {
		if !apperrors.IsRebuildRequired(err) {
			slog.Error("failed to load snapshot", "error", err)
			os.Exit(1)
		}
		slog.Warn("no usable snapshot yet; serving 503 until one is published", "error", err)
	}

	var (
		queryCache  *cache.QueryCache
		redisClient *pkgredis.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, cfg.Server.RequestTimeout, func(hit bool) { m.CacheLookup("query", hit) })
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Kafka.Brokers) > 0 {
		var invalidator consumer.Invalidator
		if queryCache != nil {
			invalidator = queryCache
		}
		reloads := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, consumerGroup(cfg.Kafka.ConsumerGroup),
			consumer.HandleIndexComplete(exec, cfg.Indexer.DataDir, invalidator))
		go func() {
			if err := reloads.Start(ctx); err != nil {
				slog.Error("reload consumer stopped", "error", err)
			}
		}()
		slog.Info("hot reload enabled", "topic", cfg.Kafka.Topics.IndexComplete)
	}

	checker := health.NewChecker()
	checker.Register("snapshot", health.Required(func(context.Context) error {
		_, err := exec.Current()
		return err
	}))
	if redisClient != nil {
		checker.Register("redis", health.Optional(redisClient.Ping))
	}

	h := handler.New(exec, queryCache, handler.Options{
		DataDir:      cfg.Indexer.DataDir,
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
		DefaultAlpha: cfg.Search.DefaultAlpha,
		RRFK:         cfg.Search.RRFK,
	})
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

// consumerGroup gives each replica its own group so every replica sees
// every index complete event.
func consumerGroup(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return base
	}
	return base + "-" + host
}
