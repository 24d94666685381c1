// Package handler exposes the query service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/tracing"
)

type Searcher interface {
	BM25Search(ctx context.Context, query string, limit int) (*executor.SearchResult, error)
	SearchChunks(ctx context.Context, query string, limit int) (*executor.SearchResult, error)
	WeightedFusedSearch(ctx context.Context, query string, alpha float64, limit int) (*executor.SearchResult, error)
	RRFFusedSearch(ctx context.Context, query string, k float64, limit int) (*executor.SearchResult, error)
	Current() (*executor.Snapshot, error)
	Reload(dataDir string) (*executor.Snapshot, error)
}

type Options struct {
	DataDir      string
	DefaultLimit int
	MaxResults   int
	DefaultAlpha float64
	RRFK         float64
}

type Handler struct {
	searcher Searcher
	cache    *cache.QueryCache
	opts     Options
	logger   *slog.Logger
}

// New returns a handler. queryCache may be nil to disable result caching.
func New(searcher Searcher, queryCache *cache.QueryCache, opts Options) *Handler {
	return &Handler{
		searcher: searcher,
		cache:    queryCache,
		opts:     opts,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search/bm25", h.BM25)
	mux.HandleFunc("GET /api/v1/search/semantic", h.Semantic)
	mux.HandleFunc("GET /api/v1/search/weighted", h.Weighted)
	mux.HandleFunc("GET /api/v1/search/rrf", h.RRF)
	mux.HandleFunc("GET /api/v1/terms/{term}", h.TermStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/admin/snapshot", h.Snapshot)
	mux.HandleFunc("POST /api/v1/admin/reload", h.Reload)
}

func (h *Handler) BM25(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, metrics.ModeBM25, 0, func(ctx context.Context, q string, limit int) (*executor.SearchResult, error) {
		return h.searcher.BM25Search(ctx, q, limit)
	})
}

func (h *Handler) Semantic(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, metrics.ModeSemantic, 0, func(ctx context.Context, q string, limit int) (*executor.SearchResult, error) {
		return h.searcher.SearchChunks(ctx, q, limit)
	})
}

func (h *Handler) Weighted(w http.ResponseWriter, r *http.Request) {
	alpha, err := floatParam(r, "alpha", h.opts.DefaultAlpha)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.search(w, r, metrics.ModeWeighted, alpha, func(ctx context.Context, q string, limit int) (*executor.SearchResult, error) {
		return h.searcher.WeightedFusedSearch(ctx, q, alpha, limit)
	})
}

func (h *Handler) RRF(w http.ResponseWriter, r *http.Request) {
	k, err := floatParam(r, "k", h.opts.RRFK)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.search(w, r, metrics.ModeRRF, k, func(ctx context.Context, q string, limit int) (*executor.SearchResult, error) {
		return h.searcher.RRFFusedSearch(ctx, q, k, limit)
	})
}

type searchFunc func(ctx context.Context, query string, limit int) (*executor.SearchResult, error)

func (h *Handler) search(w http.ResponseWriter, r *http.Request, mode string, param float64, run searchFunc) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "search."+mode, middleware.GetRequestID(r.Context()))
	log := logger.FromContext(ctx)
	defer func() {
		span.End()
		span.Log(ctx, log)
	}()

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, r, fmt.Errorf("%w: query parameter 'q' is required", apperrors.ErrInvalidInput))
		return
	}
	limit, err := h.limit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var (
		result   *executor.SearchResult
		cacheHit bool
	)
	if h.cache != nil {
		snap, err := h.searcher.Current()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		key := cache.Key{Mode: mode, Query: query, Limit: limit, Param: param, Version: snap.Version}
		result, cacheHit, err = h.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*executor.SearchResult, error) {
			return run(ctx, query, limit)
		})
	} else {
		result, err = run(ctx, query, limit)
	}
	if err != nil {
		log.Error("search failed", "mode", mode, "query", query, "error", err)
		h.writeError(w, r, err)
		return
	}

	span.SetAttr("cache_hit", cacheHit)
	log.Info("search completed",
		"mode", mode,
		"query", query,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

// TermStats reports the scoring statistics of a single term, and its
// per-document values when doc_id is given.
func (h *Handler) TermStats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.searcher.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lex := snap.Lexical
	term := r.PathValue("term")

	idf, err := lex.IDF(term)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bm25IDF, err := lex.BM25IDF(term)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	docs := lex.DocumentsContaining(term)
	body := map[string]any{
		"term":      term,
		"doc_freq":  len(docs),
		"idf":       idf,
		"bm25_idf":  bm25IDF,
		"documents": docs,
	}

	if raw := r.URL.Query().Get("doc_id"); raw != "" {
		docID, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: doc_id must be an integer", apperrors.ErrInvalidInput))
			return
		}
		stats, err := docTermStats(lex, docID, term)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		body["doc_id"] = docID
		body["tf"] = stats.TF
		body["tf_idf"] = stats.TFIDF
		body["bm25_tf"] = stats.BM25TF
		body["bm25"] = stats.BM25
	}
	h.writeJSON(w, http.StatusOK, body)
}

type termStats struct {
	TF     int
	TFIDF  float64
	BM25TF float64
	BM25   float64
}

func docTermStats(lex *index.InvertedIndex, docID int, term string) (termStats, error) {
	var (
		st  termStats
		err error
	)
	if st.TF, err = lex.TermFrequency(docID, term); err != nil {
		return termStats{}, err
	}
	if st.TFIDF, err = lex.TFIDF(docID, term); err != nil {
		return termStats{}, err
	}
	p := lex.Params()
	if st.BM25TF, err = lex.BM25TF(docID, term, p.K1, p.B); err != nil {
		return termStats{}, err
	}
	if st.BM25, err = lex.BM25Score(docID, term); err != nil {
		return termStats{}, err
	}
	return st, nil
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.searcher.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshotInfo(snap))
}

// Reload loads the latest published snapshot. A failed reload leaves the
// current snapshot serving.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.searcher.Reload(h.opts.DataDir)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.cache != nil {
		if _, err := h.cache.Invalidate(r.Context()); err != nil {
			h.logger.Warn("cache invalidation after reload failed", "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, snapshotInfo(snap))
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache invalidation failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func snapshotInfo(snap *executor.Snapshot) map[string]any {
	return map[string]any{
		"version":   snap.Version,
		"documents": snap.Lexical.DocCount(),
		"terms":     snap.Lexical.TermCount(),
		"chunks":    snap.Semantic.ChunkCount(),
		"model":     snap.Semantic.Model(),
		"loaded_at": snap.LoadedAt.Format(time.RFC3339),
	}
}

func (h *Handler) limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return h.opts.DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", apperrors.ErrInvalidInput)
	}
	if h.opts.MaxResults > 0 && limit > h.opts.MaxResults {
		limit = h.opts.MaxResults
	}
	return limit, nil
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", apperrors.ErrInvalidInput, name)
	}
	return v, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to its HTTP status. Server-side failures get a generic
// message; client errors echo the cause.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
