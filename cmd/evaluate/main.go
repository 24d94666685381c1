package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/embed"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/evaluation"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	limit := flag.Int("limit", 0, "results evaluated per query (precision@k); 0 uses the config value")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if *limit <= 0 {
		*limit = cfg.Evaluation.Limit
	}

	report, err := run(cfg, *limit)
	if err != nil {
		slog.Error("evaluation failed", "error", err)
		os.Exit(1)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}
	printReport(os.Stdout, report)
}

func run(cfg *config.Config, limit int) (*evaluation.Report, error) {
	cases, err := evaluation.LoadGolden(cfg.Evaluation.GoldenPath)
	if err != nil {
		return nil, err
	}
	embedder, err := embed.New(cfg.Embedding, embed.Hooks{})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	exec := executor.New(embedder, executor.Options{
		WindowMultiplier: cfg.Search.WindowMultiplier,
		Params:           ranker.Params{K1: cfg.BM25.K1, B: cfg.BM25.B},
	}, nil)
	if _, err := exec.Reload(cfg.Indexer.DataDir); err != nil {
		return nil, err
	}
	return evaluation.Evaluate(context.Background(), exec, cases, cfg.Search.RRFK, limit)
}

func printReport(w io.Writer, report *evaluation.Report) {
	fmt.Fprintf(w, "k=%d\n\n", report.Limit)
	for _, r := range report.Results {
		fmt.Fprintf(w, "- Query: %s\n", r.Query)
		fmt.Fprintf(w, "  - Precision@%d: %.4f\n", report.Limit, r.Precision)
		fmt.Fprintf(w, "  - Recall@%d: %.4f\n", report.Limit, r.Recall)
		fmt.Fprintf(w, "  - F1 Score: %.4f\n", r.F1)
		fmt.Fprintf(w, "  - Retrieved: %s\n", strings.Join(r.Retrieved, ", "))
		fmt.Fprintf(w, "  - Relevant: %s\n\n", strings.Join(r.Relevant, ", "))
	}
	fmt.Fprintf(w, "mean precision %.4f, mean recall %.4f, mean F1 %.4f\n",
		report.MeanPrecision, report.MeanRecall, report.MeanF1)
}
