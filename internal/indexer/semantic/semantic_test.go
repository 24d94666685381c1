package semantic

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/embed"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

// keywordEmbedder places text on one axis per keyword it mentions, so
// similarities in tests are easy to reason about.
type keywordEmbedder struct {
	keywords []string
	calls    atomic.Int32
	failOn   string
}

func (k *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := k.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (k *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	k.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		if k.failOn != "" && strings.Contains(lower, k.failOn) {
			return nil, apperrors.ErrEmbeddingUnavailable
		}
		v := make([]float32, len(k.keywords))
		for j, kw := range k.keywords {
			if strings.Contains(lower, kw) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func (k *keywordEmbedder) Dimensions() int   { return len(k.keywords) }
func (k *keywordEmbedder) ModelName() string { return "keywords" }

var docs = []corpus.Document{
	{ID: 1, Title: "The Bear", Description: "A grizzly bear survives. The winter is long. Snow falls."},
	{ID: 2, Title: "Space Wars", Description: "Robots fight in space. Ships explode."},
	{ID: 3, Title: "Untitled", Description: "   "},
	{ID: 4, Title: "Bear in Space", Description: "A bear flies to space."},
}

func newEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"bear", "space", "snow"}}
}

func build(t *testing.T, e embed.Embedder) *Index {
	t.Helper()
	idx, err := Build(context.Background(), docs, e, Options{MaxChunkSize: 2, Overlap: 1, Concurrency: 2})
	require.NoError(t, err)
	return idx
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 1}))
	assert.Zero(t, Cosine(nil, nil))
}

func TestBuild_Chunks(t *testing.T) {
	e := newEmbedder()
	idx := build(t, e)

	chunks := idx.Chunks()
	// doc 1: three sentences in windows of two; doc 2: one window; doc 3
	// has no text; doc 4: one sentence.
	require.Len(t, chunks, 4)
	assert.Equal(t, Chunk{DocID: 1, DocumentIndex: 0, ChunkIndex: 0, TotalChunks: 2,
		Text: "A grizzly bear survives. The winter is long."}, chunks[0])
	assert.Equal(t, Chunk{DocID: 1, DocumentIndex: 0, ChunkIndex: 1, TotalChunks: 2,
		Text: "The winter is long. Snow falls."}, chunks[1])
	assert.Equal(t, 2, chunks[2].DocID)
	assert.Equal(t, 4, chunks[3].DocID)
	assert.Equal(t, 3, idx.Dimensions())
	assert.Equal(t, "keywords", idx.Model())
	assert.Equal(t, int32(3), e.calls.Load())
}

func TestBuild_EmbeddingFailure(t *testing.T) {
	e := newEmbedder()
	e.failOn = "robots"
	_, err := Build(context.Background(), docs, e, Options{MaxChunkSize: 2, Concurrency: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrEmbeddingUnavailable))
}

func TestBuild_Empty(t *testing.T) {
	idx, err := Build(context.Background(), nil, newEmbedder(), Options{})
	require.NoError(t, err)
	assert.Zero(t, idx.ChunkCount())

	results, err := idx.SearchChunks(context.Background(), "bear", newEmbedder(), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchChunks_MaxAggregation(t *testing.T) {
	e := newEmbedder()
	idx := build(t, e)

	results, err := idx.SearchChunks(context.Background(), "snow", e, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	// Only doc 1's second chunk mentions snow, and it wins outright.
	assert.Equal(t, 1, results[0].DocID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, docs[0].Description, results[0].Document)
	// The rest tie at zero and fall back to ascending ids.
	assert.Equal(t, 2, results[1].DocID)
	assert.Equal(t, 4, results[2].DocID)
}

func TestSearchChunks_OrderAndLimit(t *testing.T) {
	e := newEmbedder()
	idx := build(t, e)

	results, err := idx.SearchChunks(context.Background(), "bear space", e, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 4, results[0].DocID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchChunks_BlankQuery(t *testing.T) {
	e := newEmbedder()
	idx := build(t, e)
	before := e.calls.Load()

	results, err := idx.SearchChunks(context.Background(), "  ", e, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, before, e.calls.Load())
}

func TestSearchChunks_EmbedderFailure(t *testing.T) {
	e := newEmbedder()
	idx := build(t, e)
	e.failOn = "bear"

	_, err := idx.SearchChunks(context.Background(), "bear", e, 5)
	assert.True(t, errors.Is(err, apperrors.ErrEmbeddingUnavailable))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := newEmbedder()
	idx := build(t, e)
	_, err := idx.Save(dir)
	require.NoError(t, err)

	loaded, err := Load(dir, docs)
	require.NoError(t, err)
	assert.Equal(t, idx.Chunks(), loaded.Chunks())
	assert.Equal(t, idx.Dimensions(), loaded.Dimensions())
	assert.Equal(t, idx.Model(), loaded.Model())

	for _, q := range []string{"bear", "space", "snow bear"} {
		want, err := idx.SearchChunks(context.Background(), q, e, 10)
		require.NoError(t, err)
		got, err := loaded.SearchChunks(context.Background(), q, e, 10)
		require.NoError(t, err)
		assert.Equal(t, want, got, q)
	}
}

func TestLoad_NotBuilt(t *testing.T) {
	_, err := Load(t.TempDir(), docs)
	assert.True(t, errors.Is(err, apperrors.ErrIndexNotBuilt))
}

func TestLoad_DifferentCorpus(t *testing.T) {
	dir := t.TempDir()
	_, err := build(t, newEmbedder()).Save(dir)
	require.NoError(t, err)

	_, err = Load(dir, docs[:2])
	assert.True(t, errors.Is(err, apperrors.ErrCorruptPersistedState))
}

func TestLoad_TruncatedEmbeddings(t *testing.T) {
	dir := t.TempDir()
	idx := build(t, newEmbedder())
	_, err := idx.Save(dir)
	require.NoError(t, err)

	r, err := segment.OpenReader(dir, ArtifactSet)
	require.NoError(t, err)
	_, payload, err := r.ReadArtifact(embeddingsArtifact)
	require.NoError(t, err)

	snap, err := segment.NewWriter(dir, ArtifactSet).Begin()
	require.NoError(t, err)
	require.NoError(t, snap.WriteArtifact(embeddingsArtifact, idx.ChunkCount(), payload[:len(payload)-4]))
	_, manifest, err := r.ReadArtifact(chunksArtifact)
	require.NoError(t, err)
	require.NoError(t, snap.WriteArtifact(chunksArtifact, idx.ChunkCount(), manifest))
	require.NoError(t, snap.Commit(embeddingsArtifact, chunksArtifact))

	_, err = Load(dir, docs)
	assert.True(t, errors.Is(err, apperrors.ErrCorruptPersistedState))
}

func TestLoad_DeclaredTotalMismatch(t *testing.T) {
	dir := t.TempDir()
	snap, err := segment.NewWriter(dir, ArtifactSet).Begin()
	require.NoError(t, err)
	require.NoError(t, snap.WriteArtifact(embeddingsArtifact, 0, nil))
	require.NoError(t, snap.WriteJSON(chunksArtifact, 0, chunkManifest{Dimensions: 3, TotalChunks: 2}))
	require.NoError(t, snap.Commit())

	_, err = Load(dir, docs)
	assert.True(t, errors.Is(err, apperrors.ErrCorruptPersistedState))
}
