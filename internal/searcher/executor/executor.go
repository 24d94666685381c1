// Package executor serves the four search modes over the currently loaded
// index snapshot. The snapshot is swapped atomically on reload so queries
// never observe a half-loaded index.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/embed"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/semantic"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/fusion"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/tracing"
)

const DefaultWindowMultiplier = 500

// Snapshot pairs a lexical and a semantic index built from the same corpus.
type Snapshot struct {
	Lexical  *index.InvertedIndex
	Semantic *semantic.Index
	Version  string
	LoadedAt time.Time
}

// SearchResult is the response body of every search mode.
type SearchResult struct {
	Query   string             `json:"query"`
	Mode    string             `json:"mode"`
	Results []ranker.ScoredDoc `json:"results"`
	Version string             `json:"version"`
}

type Options struct {
	// WindowMultiplier sizes the per-source fetch of the fused modes as
	// limit*WindowMultiplier.
	WindowMultiplier int
	Params           ranker.Params
}

type Executor struct {
	current  atomic.Pointer[Snapshot]
	embedder embed.Embedder
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New returns an executor with no snapshot loaded; queries fail with
// ErrIndexNotBuilt until Reload or Swap succeeds. m may be nil.
func New(embedder embed.Embedder, opts Options, m *metrics.Metrics) *Executor {
	if opts.WindowMultiplier < 1 {
		opts.WindowMultiplier = DefaultWindowMultiplier
	}
	if opts.Params == (ranker.Params{}) {
		opts.Params = ranker.DefaultParams()
	}
	return &Executor{
		embedder: embedder,
		opts:     opts,
		metrics:  m,
		logger:   slog.Default().With("component", "query-executor"),
	}
}

// LoadSnapshot reads both published indexes from dataDir. The semantic
// index must resolve to the lexical document list and match the embedder
// that will embed queries.
func LoadSnapshot(dataDir string, params ranker.Params, embedder embed.Embedder) (*Snapshot, error) {
	lex, err := index.Load(dataDir, params)
	if err != nil {
		return nil, fmt.Errorf("loading lexical index: %w", err)
	}
	sem, err := semantic.Load(dataDir, lex.Documents())
	if err != nil {
		return nil, fmt.Errorf("loading semantic index: %w", err)
	}
	if sem.ChunkCount() > 0 {
		if sem.Dimensions() != embedder.Dimensions() {
			return nil, fmt.Errorf("%w: semantic index has %d dimensions, embedder produces %d",
				apperrors.ErrCorruptPersistedState, sem.Dimensions(), embedder.Dimensions())
		}
		if sem.Model() != embedder.ModelName() {
			return nil, fmt.Errorf("%w: semantic index built with %q, embedder is %q",
				apperrors.ErrCorruptPersistedState, sem.Model(), embedder.ModelName())
		}
	}
	return &Snapshot{
		Lexical:  lex,
		Semantic: sem,
		Version:  lex.Version() + "+" + sem.Version(),
		LoadedAt: time.Now().UTC(),
	}, nil
}

// Reload loads the published snapshot and swaps it in. On failure the
// current snapshot keeps serving.
func (e *Executor) Reload(dataDir string) (*Snapshot, error) {
	snap, err := LoadSnapshot(dataDir, e.opts.Params, e.embedder)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SnapshotReloadsTotal.WithLabelValues("failure").Inc()
		}
		e.logger.Error("snapshot reload failed", "data_dir", dataDir, "error", err)
		return nil, err
	}
	e.Swap(snap)
	if e.metrics != nil {
		e.metrics.SnapshotReloadsTotal.WithLabelValues("success").Inc()
	}
	return snap, nil
}

// Swap installs snap as the snapshot served to new queries.
func (e *Executor) Swap(snap *Snapshot) {
	prev := e.current.Swap(snap)
	if e.metrics != nil {
		e.metrics.SnapshotDocuments.Set(float64(snap.Lexical.DocCount()))
		e.metrics.SnapshotChunks.Set(float64(snap.Semantic.ChunkCount()))
	}
	attrs := []any{
		"version", snap.Version,
		"documents", snap.Lexical.DocCount(),
		"chunks", snap.Semantic.ChunkCount(),
	}
	if prev != nil {
		attrs = append(attrs, "previous", prev.Version)
	}
	e.logger.Info("snapshot installed", attrs...)
}

// Current returns the snapshot being served.
func (e *Executor) Current() (*Snapshot, error) {
	snap := e.current.Load()
	if snap == nil {
		return nil, apperrors.ErrIndexNotBuilt
	}
	return snap, nil
}

// BM25Search ranks documents lexically.
func (e *Executor) BM25Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	return e.run(ctx, metrics.ModeBM25, query, limit, func(ctx context.Context, snap *Snapshot) ([]ranker.ScoredDoc, error) {
		return snap.Lexical.BM25Search(query, limit), nil
	})
}

// SearchChunks ranks documents by their most similar chunk.
func (e *Executor) SearchChunks(ctx context.Context, query string, limit int) (*SearchResult, error) {
	return e.run(ctx, metrics.ModeSemantic, query, limit, func(ctx context.Context, snap *Snapshot) ([]ranker.ScoredDoc, error) {
		return snap.Semantic.SearchChunks(ctx, query, e.embedder, limit)
	})
}

// WeightedFusedSearch blends min-max normalized scores as
// alpha*bm25 + (1-alpha)*semantic.
func (e *Executor) WeightedFusedSearch(ctx context.Context, query string, alpha float64, limit int) (*SearchResult, error) {
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%w: alpha %v outside [0,1]", apperrors.ErrInvalidInput, alpha)
	}
	return e.run(ctx, metrics.ModeWeighted, query, limit, func(ctx context.Context, snap *Snapshot) ([]ranker.ScoredDoc, error) {
		bm25, sem, err := e.fetchBoth(ctx, snap, query, limit)
		if err != nil {
			return nil, err
		}
		return fusion.Weighted(bm25, sem, alpha, limit)
	})
}

// RRFFusedSearch combines the two rankings by reciprocal rank.
func (e *Executor) RRFFusedSearch(ctx context.Context, query string, k float64, limit int) (*SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: rrf k must be positive, got %v", apperrors.ErrInvalidInput, k)
	}
	return e.run(ctx, metrics.ModeRRF, query, limit, func(ctx context.Context, snap *Snapshot) ([]ranker.ScoredDoc, error) {
		bm25, sem, err := e.fetchBoth(ctx, snap, query, limit)
		if err != nil {
			return nil, err
		}
		return fusion.RRF(bm25, sem, k, limit)
	})
}

// fetchBoth runs both sources concurrently, each over-fetched by the
// window multiplier.
func (e *Executor) fetchBoth(ctx context.Context, snap *Snapshot, query string, limit int) (bm25, sem []ranker.ScoredDoc, err error) {
	window := e.window(limit)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, span := tracing.StartChildSpan(gctx, "bm25")
		defer span.End()
		bm25 = snap.Lexical.BM25Search(query, window)
		span.SetAttr("candidates", len(bm25))
		return nil
	})
	g.Go(func() error {
		sctx, span := tracing.StartChildSpan(gctx, "semantic")
		defer span.End()
		var err error
		sem, err = snap.Semantic.SearchChunks(sctx, query, e.embedder, window)
		span.SetAttr("candidates", len(sem))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return bm25, sem, nil
}

func (e *Executor) window(limit int) int {
	const maxWindow = 1 << 20
	if limit > maxWindow/e.opts.WindowMultiplier {
		return maxWindow
	}
	return limit * e.opts.WindowMultiplier
}

type searchFunc func(ctx context.Context, snap *Snapshot) ([]ranker.ScoredDoc, error)

func (e *Executor) run(ctx context.Context, mode, query string, limit int, search searchFunc) (*SearchResult, error) {
	start := time.Now()
	ctx, span := tracing.StartChildSpan(ctx, "executor."+mode)
	result, err := e.execute(ctx, mode, query, limit, search)
	if err == nil {
		span.SetAttr("results", len(result.Results))
	}
	span.End()
	if e.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		e.metrics.SearchQueriesTotal.WithLabelValues(mode, outcome).Inc()
		e.metrics.SearchLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
		if err == nil {
			e.metrics.SearchResultsCount.WithLabelValues(mode).Observe(float64(len(result.Results)))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", mode, err)
	}
	e.logger.Debug("search executed",
		"mode", mode,
		"query", query,
		"results", len(result.Results),
		"latency", time.Since(start),
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, mode, query string, limit int, search searchFunc) (*SearchResult, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", apperrors.ErrInvalidInput, limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := e.Current()
	if err != nil {
		return nil, err
	}
	if len(tokenizer.Normalize(query)) == 0 {
		return &SearchResult{Query: query, Mode: mode, Results: []ranker.ScoredDoc{}, Version: snap.Version}, nil
	}
	results, err := search(ctx, snap)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []ranker.ScoredDoc{}
	}
	return &SearchResult{Query: query, Mode: mode, Results: results, Version: snap.Version}, nil
}
