package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

const (
	DefaultHashDimensions = 256

	termWeight    = 0.7
	trigramWeight = 0.3
)

// HashEmbedder maps text to vectors by feature hashing stemmed terms and
// character trigrams. It needs no network or model and is deterministic, so
// it backs local development and tests. Similarity is lexical, not
// semantic.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEmbeddingUnavailable, err)
	}
	if err := checkTexts(text); err != nil {
		return nil, err
	}
	v := make([]float32, e.dims)
	terms := tokenizer.Normalize(text)
	for _, term := range terms {
		v[e.bucket(term)] += termWeight
	}
	// Trigrams run across term boundaries so near-miss stems still overlap.
	joined := []rune(strings.Join(terms, ""))
	for i := 0; i+3 <= len(joined); i++ {
		v[e.bucket(string(joined[i:i+3]))] += trigramWeight
	}
	return normalize(v), nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashEmbedder) Dimensions() int {
	return e.dims
}

func (e *HashEmbedder) ModelName() string {
	return fmt.Sprintf("hash-%d", e.dims)
}

func (e *HashEmbedder) bucket(feature string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	return int(h.Sum64() % uint64(e.dims))
}
