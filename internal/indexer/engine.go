// Package indexer builds the lexical and semantic indexes from a corpus and
// publishes them as the snapshot the query service loads.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/embed"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/semantic"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/metrics"
)

const lockFile = ".build.lock"

// ErrBuildInProgress is returned when another process holds the build lock.
var ErrBuildInProgress = errors.New("index build already in progress")

// IndexCompleteEvent announces a newly published snapshot.
type IndexCompleteEvent struct {
	LexicalVersion  string    `json:"lexical_version"`
	SemanticVersion string    `json:"semantic_version"`
	Documents       int       `json:"documents"`
	Terms           int       `json:"terms"`
	Chunks          int       `json:"chunks"`
	Model           string    `json:"model"`
	BuiltAt         time.Time `json:"built_at"`
	DurationMs      int64     `json:"duration_ms"`
}

// Publisher delivers IndexCompleteEvent notifications.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Options struct {
	DataDir      string
	Workers      int
	Params       ranker.Params
	MaxChunkSize int
	Overlap      int
	Concurrency  int
}

type Engine struct {
	opts      Options
	embedder  embed.Embedder
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEngine returns a builder. publisher and m may be nil.
func NewEngine(opts Options, embedder embed.Embedder, publisher Publisher, m *metrics.Metrics) *Engine {
	return &Engine{
		opts:      opts,
		embedder:  embedder,
		publisher: publisher,
		metrics:   m,
		logger:    slog.Default().With("component", "indexer"),
	}
}

// Build loads the corpus, builds both indexes in memory and only then
// publishes them. A failure before publishing leaves the previous snapshot
// in place.
func (e *Engine) Build(ctx context.Context, loader corpus.Loader) (*IndexCompleteEvent, error) {
	start := time.Now()
	event, err := e.build(ctx, loader, start)
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		e.metrics.IndexBuildsTotal.WithLabelValues(status).Inc()
		e.metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		e.logger.Error("index build failed", "error", err, "elapsed", time.Since(start))
		return nil, err
	}
	e.notify(ctx, event)
	return event, nil
}

func (e *Engine) build(ctx context.Context, loader corpus.Loader, start time.Time) (*IndexCompleteEvent, error) {
	if err := os.MkdirAll(e.opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	lock := flock.New(filepath.Join(e.opts.DataDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring build lock: %w", err)
	}
	if !locked {
		return nil, ErrBuildInProgress
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			e.logger.Warn("releasing build lock", "error", err)
		}
	}()

	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	e.logger.Info("corpus loaded", "documents", len(docs))

	lex, err := index.Build(ctx, docs, index.Options{Workers: e.opts.Workers, Params: e.opts.Params})
	if err != nil {
		return nil, fmt.Errorf("building lexical index: %w", err)
	}
	sem, err := semantic.Build(ctx, docs, e.embedder, semantic.Options{
		MaxChunkSize: e.opts.MaxChunkSize,
		Overlap:      e.opts.Overlap,
		Concurrency:  e.opts.Concurrency,
		OnDocument:   e.onDocument,
	})
	if err != nil {
		return nil, fmt.Errorf("building semantic index: %w", err)
	}
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Add(float64(lex.DocCount()))
	}

	lexVersion, semVersion, err := e.publish(lex, sem)
	if err != nil {
		return nil, err
	}

	event := &IndexCompleteEvent{
		LexicalVersion:  lexVersion,
		SemanticVersion: semVersion,
		Documents:       lex.DocCount(),
		Terms:           lex.TermCount(),
		Chunks:          sem.ChunkCount(),
		Model:           e.embedder.ModelName(),
		BuiltAt:         time.Now().UTC(),
		DurationMs:      time.Since(start).Milliseconds(),
	}
	e.logger.Info("index build complete",
		"documents", event.Documents,
		"terms", event.Terms,
		"chunks", event.Chunks,
		"lexical_version", lexVersion,
		"semantic_version", semVersion,
		"duration_ms", event.DurationMs,
	)
	return event, nil
}

// publish stages both artifact sets before either pointer moves, then flips
// them in order. Any failure rolls back whatever was already staged or
// published, so readers keep seeing the previous pair.
func (e *Engine) publish(lex *index.InvertedIndex, sem *semantic.Index) (string, string, error) {
	lexStaged, err := lex.Stage(e.opts.DataDir)
	if err != nil {
		return "", "", err
	}
	semStaged, err := sem.Stage(e.opts.DataDir)
	if err != nil {
		e.rollback(lexStaged)
		return "", "", err
	}
	if err := lexStaged.Publish(); err != nil {
		e.rollback(semStaged, lexStaged)
		return "", "", fmt.Errorf("publishing lexical snapshot: %w", err)
	}
	if err := semStaged.Publish(); err != nil {
		e.rollback(semStaged, lexStaged)
		return "", "", fmt.Errorf("publishing semantic snapshot: %w", err)
	}
	e.logger.Info("snapshots published",
		"lexical_version", lexStaged.Version(),
		"semantic_version", semStaged.Version(),
	)
	return lexStaged.Version(), semStaged.Version(), nil
}

func (e *Engine) rollback(staged ...*segment.Staged) {
	for _, st := range staged {
		if err := st.Rollback(); err != nil {
			e.logger.Error("rolling back snapshot", "version", st.Version(), "previous", st.Previous(), "error", err)
		}
	}
}

func (e *Engine) onDocument(chunks int) {
	if e.metrics != nil {
		e.metrics.ChunksEmbeddedTotal.Add(float64(chunks))
	}
}

// notify is best effort: the snapshot is already published and searchers
// can still pick it up through a manual reload.
func (e *Engine) notify(ctx context.Context, event *IndexCompleteEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, kafka.Event{Key: event.LexicalVersion, Value: event}); err != nil {
		e.logger.Warn("index complete notification failed", "error", err)
	}
}
