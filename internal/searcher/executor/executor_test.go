package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/embed"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/semantic"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/metrics"
)

var movies = []corpus.Document{
	{ID: 1, Title: "The Bear", Description: "A grizzly bear survives the wilderness. Winter comes early."},
	{ID: 2, Title: "Space Wars", Description: "Robots fight in space. Ships explode over the moon."},
	{ID: 3, Title: "Ocean Deep", Description: "Divers explore a sunken ship. Sharks circle."},
}

// publish builds and saves both indexes for movies under a fresh data dir.
func publish(t *testing.T, embedder embed.Embedder) string {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	lex, err := index.Build(ctx, movies, index.Options{Workers: 2})
	require.NoError(t, err)
	sem, err := semantic.Build(ctx, movies, embedder, semantic.Options{MaxChunkSize: 1, Concurrency: 2})
	require.NoError(t, err)
	_, err = lex.Save(dir)
	require.NoError(t, err)
	_, err = sem.Save(dir)
	require.NoError(t, err)
	return dir
}

func loaded(t *testing.T, m *metrics.Metrics) *Executor {
	t.Helper()
	embedder := embed.NewHashEmbedder(0)
	dir := publish(t, embedder)
	exec := New(embedder, Options{WindowMultiplier: 10}, m)
	_, err := exec.Reload(dir)
	require.NoError(t, err)
	return exec
}

func TestExecutor_NotLoaded(t *testing.T) {
	exec := New(embed.NewHashEmbedder(0), Options{}, nil)
	_, err := exec.Current()
	assert.ErrorIs(t, err, apperrors.ErrIndexNotBuilt)

	_, err = exec.BM25Search(context.Background(), "bear", 5)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotBuilt)
}

func TestExecutor_BM25Search(t *testing.T) {
	exec := loaded(t, nil)
	res, err := exec.BM25Search(context.Background(), "bear", 5)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 1, res.Results[0].DocID)
	assert.Equal(t, metrics.ModeBM25, res.Mode)
	assert.NotEmpty(t, res.Version)
}

func TestExecutor_SearchChunks(t *testing.T) {
	exec := loaded(t, nil)
	res, err := exec.SearchChunks(context.Background(), "grizzly bear", 2)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, 1, res.Results[0].DocID)
	assert.Equal(t, movies[0].Description, res.Results[0].Document)
}

func TestExecutor_InvalidLimit(t *testing.T) {
	exec := loaded(t, nil)
	_, err := exec.BM25Search(context.Background(), "bear", 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = exec.RRFFusedSearch(context.Background(), "bear", 60, -1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestExecutor_EmptyQuery(t *testing.T) {
	exec := loaded(t, nil)
	ctx := context.Background()
	for _, q := range []string{"", "the of and", "?!"} {
		res, err := exec.WeightedFusedSearch(ctx, q, 0.5, 5)
		require.NoError(t, err, q)
		assert.Empty(t, res.Results, q)
		assert.NotNil(t, res.Results)
	}
}

func TestExecutor_WeightedFusedSearch(t *testing.T) {
	exec := loaded(t, nil)
	ctx := context.Background()

	res, err := exec.WeightedFusedSearch(ctx, "bear", 1, 3)
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, 1, res.Results[0].DocID)
	assert.InDelta(t, 1.0, res.Results[0].Score, 1e-9)
	require.NotNil(t, res.Results[0].Metadata)
	assert.InDelta(t, 1.0, res.Results[0].Metadata.BM25Score, 1e-9)

	_, err = exec.WeightedFusedSearch(ctx, "bear", 1.5, 3)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestExecutor_RRFFusedSearch(t *testing.T) {
	exec := loaded(t, nil)
	ctx := context.Background()

	res, err := exec.RRFFusedSearch(ctx, "grizzly bear", 60, 3)
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	top := res.Results[0]
	assert.Equal(t, 1, top.DocID)
	require.NotNil(t, top.Metadata)
	assert.Equal(t, 1, top.Metadata.BM25Rank)
	assert.Equal(t, 1, top.Metadata.SemanticRank)
	assert.InDelta(t, 2.0/61.0, top.Score, 1e-12)

	_, err = exec.RRFFusedSearch(ctx, "bear", 0, 3)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestExecutor_ReloadFailureKeepsSnapshot(t *testing.T) {
	exec := loaded(t, nil)
	before, err := exec.Current()
	require.NoError(t, err)

	_, err = exec.Reload(t.TempDir())
	assert.ErrorIs(t, err, apperrors.ErrIndexNotBuilt)

	after, err := exec.Current()
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestLoadSnapshot_EmbedderMismatch(t *testing.T) {
	dir := publish(t, embed.NewHashEmbedder(0))
	_, err := LoadSnapshot(dir, ranker.DefaultParams(), embed.NewHashEmbedder(64))
	assert.ErrorIs(t, err, apperrors.ErrCorruptPersistedState)
	assert.True(t, apperrors.IsRebuildRequired(err))
}

func TestExecutor_ConcurrentQueriesDuringSwap(t *testing.T) {
	embedder := embed.NewHashEmbedder(0)
	dir := publish(t, embedder)
	exec := New(embedder, Options{}, nil)
	_, err := exec.Reload(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := exec.RRFFusedSearch(context.Background(), "space ship", 60, 2); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		_, err := exec.Reload(dir)
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestExecutor_RecordsMetrics(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	exec := loaded(t, m)

	_, err := exec.BM25Search(context.Background(), "bear", 5)
	require.NoError(t, err)
	_, err = exec.BM25Search(context.Background(), "bear", 0)
	require.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	assert.Equal(t, 1.0, counterValue(t, m.SearchQueriesTotal.WithLabelValues(metrics.ModeBM25, "success")))
	assert.Equal(t, 1.0, counterValue(t, m.SearchQueriesTotal.WithLabelValues(metrics.ModeBM25, "error")))
	assert.Equal(t, 1.0, counterValue(t, m.SnapshotReloadsTotal.WithLabelValues("success")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}
