package embed

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 1000

// CachedEmbedder remembers vectors for recently embedded texts. Queries
// repeat far more than documents, so this mostly saves query round trips.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
	onHit func(hit bool)
}

// NewCachedEmbedder wraps inner with an LRU of size entries. onHit, if not
// nil, is told about every lookup.
func NewCachedEmbedder(inner Embedder, size int, onHit func(hit bool)) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache, onHit: onHit}, nil
}

func (c *CachedEmbedder) key(text string) string {
	return c.inner.ModelName() + "\x00" + text
}

func (c *CachedEmbedder) lookup(text string) ([]float32, bool) {
	v, ok := c.cache.Get(c.key(text))
	if c.onHit != nil {
		c.onHit(ok)
	}
	return v, ok
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(text); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(c.key(text), v)
	return v, nil
}

// EmbedBatch only sends the texts that miss the cache to the inner embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if v, ok := c.lookup(text); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Add(c.key(texts[i]), vecs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}
