// Package embed provides the embedding capability the semantic index is
// built and queried with: a deterministic hashing embedder for local use,
// an OpenAI-compatible remote embedder, and wrappers that add an LRU cache
// and retry, timeout and circuit breaking around any of them.
package embed

import (
	"context"
	"fmt"
	"math"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

// Embedder turns text into fixed-dimension vectors. Implementations return
// errors wrapping ErrEmbeddingUnavailable for empty input or provider
// failure.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// checkTexts rejects blank input before any provider is called.
func checkTexts(texts ...string) error {
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: text %d is empty", apperrors.ErrEmbeddingUnavailable, i)
		}
	}
	return nil
}
