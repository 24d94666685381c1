// Package semantic implements the chunk-level similarity index. Each
// document description is split into sentence windows, every window is
// embedded, and a query scores a document by its best matching chunk.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/embed"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/chunker"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

// Chunk identifies one embedded window of a document. ChunkIndex runs from 0
// to TotalChunks-1 within a document.
type Chunk struct {
	DocID         int    `json:"doc_id"`
	DocumentIndex int    `json:"document_index"`
	ChunkIndex    int    `json:"chunk_index"`
	TotalChunks   int    `json:"total_chunks"`
	Text          string `json:"text"`
}

type Options struct {
	MaxChunkSize int
	Overlap      int
	// Concurrency is the number of documents embedded at once.
	Concurrency int
	// OnDocument, if set, is called after each document is embedded with
	// the number of chunks it produced.
	OnDocument func(chunks int)
}

// Index is immutable once Build or Load returns.
type Index struct {
	docs    []corpus.Document
	chunks  []Chunk
	vectors [][]float32
	dims    int
	model   string
	version string
	logger  *slog.Logger
}

func newIndex(docs []corpus.Document) *Index {
	return &Index{
		docs:    docs,
		chunks:  make([]Chunk, 0),
		vectors: make([][]float32, 0),
		logger:  slog.Default().With("component", "semantic-index"),
	}
}

// Build chunks and embeds every document with a non-blank description.
// Documents are embedded concurrently, one batch call per document; the
// first failure cancels the rest and fails the build.
func Build(ctx context.Context, docs []corpus.Document, embedder embed.Embedder, opts Options) (*Index, error) {
	if err := corpus.Validate(docs); err != nil {
		return nil, err
	}
	if opts.MaxChunkSize < 1 {
		opts.MaxChunkSize = 4
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	texts := make([][]string, len(docs))
	for i, doc := range docs {
		texts[i] = chunker.BySentence(doc.Description, opts.MaxChunkSize, opts.Overlap)
	}

	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("creating embedding pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][][]float32, len(docs))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		buildErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			buildErr = err
			cancel()
		})
	}
	for i := range docs {
		if len(texts[i]) == 0 {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := embedder.EmbedBatch(ctx, texts[i])
			if err == nil {
				err = checkVectors(vecs, len(texts[i]), embedder.Dimensions())
			}
			if err != nil {
				fail(fmt.Errorf("embedding document %d: %w", docs[i].ID, err))
				return
			}
			vectors[i] = vecs
			if opts.OnDocument != nil {
				opts.OnDocument(len(vecs))
			}
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("submitting document %d: %w", docs[i].ID, submitErr))
			break
		}
	}
	wg.Wait()
	if buildErr != nil {
		return nil, buildErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("building semantic index: %w", err)
	}

	idx := newIndex(docs)
	idx.model = embedder.ModelName()
	idx.dims = embedder.Dimensions()
	for i, doc := range docs {
		for j, text := range texts[i] {
			idx.chunks = append(idx.chunks, Chunk{
				DocID:         doc.ID,
				DocumentIndex: i,
				ChunkIndex:    j,
				TotalChunks:   len(texts[i]),
				Text:          text,
			})
			idx.vectors = append(idx.vectors, vectors[i][j])
		}
	}
	idx.logger.Info("semantic index built",
		"documents", len(docs),
		"chunks", len(idx.chunks),
		"model", idx.model,
		"dimensions", idx.dims,
	)
	return idx, nil
}

func checkVectors(vecs [][]float32, want, dims int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d vectors for %d chunks", apperrors.ErrEmbeddingUnavailable, len(vecs), want)
	}
	for _, v := range vecs {
		if len(v) != dims {
			return fmt.Errorf("%w: got %d dimensions, expected %d", apperrors.ErrEmbeddingUnavailable, len(v), dims)
		}
	}
	return nil
}

func (idx *Index) ChunkCount() int {
	return len(idx.chunks)
}

func (idx *Index) Dimensions() int {
	return idx.dims
}

// Version is the snapshot version the index was loaded from.
func (idx *Index) Version() string {
	return idx.version
}

// Model is the name of the embedding model the vectors came from.
func (idx *Index) Model() string {
	return idx.model
}

// Chunks returns a copy of the chunk metadata in storage order.
func (idx *Index) Chunks() []Chunk {
	out := make([]Chunk, len(idx.chunks))
	copy(out, idx.chunks)
	return out
}

// SearchChunks embeds query once, scores every chunk by cosine similarity
// and ranks documents by their best chunk. A blank query has no results.
func (idx *Index) SearchChunks(ctx context.Context, query string, embedder embed.Embedder, limit int) ([]ranker.ScoredDoc, error) {
	if strings.TrimSpace(query) == "" {
		return []ranker.ScoredDoc{}, nil
	}
	q, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	best := make(map[int]float64)
	for i, chunk := range idx.chunks {
		score := Cosine(q, idx.vectors[i])
		if prev, ok := best[chunk.DocumentIndex]; !ok || score > prev {
			best[chunk.DocumentIndex] = score
		}
	}

	scored := make([]ranker.ScoredDoc, 0, len(best))
	for docIndex, score := range best {
		doc := idx.docs[docIndex]
		scored = append(scored, ranker.ScoredDoc{
			DocID:    doc.ID,
			Title:    doc.Title,
			Document: doc.Description,
			Score:    score,
		})
	}
	return merger.TopK(scored, limit), nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either has zero
// magnitude or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
