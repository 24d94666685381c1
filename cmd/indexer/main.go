package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/embed"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	corpusPath := flag.String("corpus", "", "override the corpus file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *corpusPath != "" {
		cfg.Corpus.Source = "file"
		cfg.Corpus.Path = *corpusPath
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("indexer failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), nil)
		if err := ms.Start(); err != nil {
			return err
		}
		defer ms.Shutdown(context.Background())
	}

	loader, closeLoader, err := newLoader(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLoader()

	embedder, err := embed.New(cfg.Embedding, embed.Hooks{
		CacheLookup: func(hit bool) { m.CacheLookup("embedding", hit) },
		BreakerState: func(name string, _, to resilience.State) {
			m.BreakerState(name, int(to))
		},
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	var publisher indexer.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		publisher = producer
	}

	engine := indexer.NewEngine(indexer.Options{
		DataDir:      cfg.Indexer.DataDir,
		Workers:      cfg.Indexer.Workers,
		Params:       ranker.Params{K1: cfg.BM25.K1, B: cfg.BM25.B},
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
		Overlap:      cfg.Chunking.Overlap,
		Concurrency:  cfg.Embedding.Concurrency,
	}, embedder, publisher, m)

	slog.Info("starting index build",
		"source", cfg.Corpus.Source,
		"data_dir", cfg.Indexer.DataDir,
		"embedding", embedder.ModelName(),
	)
	event, err := engine.Build(ctx, loader)
	if err != nil {
		return err
	}
	slog.Info("index published",
		"documents", event.Documents,
		"chunks", event.Chunks,
		"lexical_version", event.LexicalVersion,
		"semantic_version", event.SemanticVersion,
	)
	return nil
}

func newLoader(ctx context.Context, cfg *config.Config) (corpus.Loader, func(), error) {
	switch cfg.Corpus.Source {
	case "postgres":
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return corpus.NewPostgresLoader(client.DB, cfg.Corpus.Query), func() { client.Close() }, nil
	default:
		return corpus.NewFileLoader(cfg.Corpus.Path), func() {}, nil
	}
}
