package index

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

var movies = []corpus.Document{
	{ID: 1, Title: "The Bear", Description: "A grizzly bear survives the wilderness"},
	{ID: 2, Title: "Space Wars", Description: "Robots fight in space"},
}

var library = []corpus.Document{
	{ID: 10, Title: "Bear Country", Description: "Bears roam the forest and bears fish in rivers"},
	{ID: 11, Title: "River Run", Description: "A long river journey through the forest"},
	{ID: 12, Title: "City Lights", Description: "Neon lights over a sleepless city"},
	{ID: 13, Title: "Forest Bear", Description: "A young bear learns to fish"},
	{ID: 14, Title: "Quiet", Description: ""},
}

func build(t *testing.T, docs []corpus.Document) *InvertedIndex {
	t.Helper()
	idx, err := Build(context.Background(), docs, Options{Workers: 2})
	require.NoError(t, err)
	return idx
}

func TestBM25Search_TwoMovies(t *testing.T) {
	idx := build(t, movies)

	results := idx.BM25Search("bear", 5)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].DocID)
	assert.Equal(t, "The Bear", results[0].Title)
	assert.Equal(t, "A grizzly bear survives the wilderness", results[0].Document)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestBuild_Tables(t *testing.T) {
	idx := build(t, movies)

	assert.Equal(t, 2, idx.DocCount())
	assert.Equal(t, []int{1}, idx.DocumentsContaining("bear"))
	assert.Equal(t, []int{2}, idx.DocumentsContaining("Space"))
	assert.Empty(t, idx.DocumentsContaining("dragon"))
	assert.Empty(t, idx.DocumentsContaining("the"))
	assert.Equal(t, movies, idx.Documents())
}

func TestBuild_EmptyCorpus(t *testing.T) {
	idx := build(t, nil)

	assert.Equal(t, 0, idx.DocCount())
	assert.Empty(t, idx.BM25Search("anything", 10))
	assert.NotNil(t, idx.BM25Search("anything", 10))
	assert.NotNil(t, idx.Documents())
}

func TestBuild_DuplicateIDs(t *testing.T) {
	_, err := Build(context.Background(), []corpus.Document{{ID: 1}, {ID: 1}}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, library, Options{Workers: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTermFrequency(t *testing.T) {
	idx := build(t, library)

	tests := []struct {
		name  string
		docID int
		term  string
		want  int
	}{
		{"stemmed plural", 10, "bears", 3},
		{"singular", 10, "bear", 3},
		{"case folded", 11, "RIVER", 2},
		{"absent term", 12, "bear", 0},
		{"unknown document", 99, "bear", 0},
		{"title only", 14, "quiet", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := idx.TermFrequency(tt.docID, tt.term)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTermFrequency_InvalidTerm(t *testing.T) {
	idx := build(t, library)

	for _, term := range []string{"grizzly bear", "", "the", "!!!"} {
		_, err := idx.TermFrequency(10, term)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidTerm), "term %q", term)
	}
	_, err := idx.BM25Score(10, "two words")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTerm))
}

func TestIDF_Values(t *testing.T) {
	idx := build(t, library)

	idf, err := idx.IDF("bear")
	require.NoError(t, err)
	assert.InDelta(t, math.Log(6.0/3.0), idf, 1e-12)

	bm25IDF, err := idx.BM25IDF("bear")
	require.NoError(t, err)
	assert.InDelta(t, math.Log((5-2+0.5)/(2+0.5)+1), bm25IDF, 1e-12)

	unseen, err := idx.IDF("dragon")
	require.NoError(t, err)
	assert.InDelta(t, math.Log(6.0), unseen, 1e-12)
}

func TestIDF_MonotonicInDocFrequency(t *testing.T) {
	idx := build(t, library)

	// df: city=1, bear=2, forest=3
	terms := []string{"city", "bear", "forest"}
	prevIDF, prevBM25 := math.Inf(1), math.Inf(1)
	for _, term := range terms {
		idf, err := idx.IDF(term)
		require.NoError(t, err)
		bm25, err := idx.BM25IDF(term)
		require.NoError(t, err)
		assert.LessOrEqual(t, idf, prevIDF, term)
		assert.LessOrEqual(t, bm25, prevBM25, term)
		prevIDF, prevBM25 = idf, bm25
	}
}

func TestTFIDF(t *testing.T) {
	idx := build(t, library)

	got, err := idx.TFIDF(10, "bear")
	require.NoError(t, err)
	assert.InDelta(t, 3*math.Log(6.0/3.0), got, 1e-12)

	zero, err := idx.TFIDF(12, "bear")
	require.NoError(t, err)
	assert.Zero(t, zero)
}

func TestBM25TF_MatchesFormula(t *testing.T) {
	idx := build(t, movies)

	// Both documents have five terms, so len/avg is 1.
	got, err := idx.BM25TF(1, "bear", 1.2, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 2*2.2/(2+1.2), got, 1e-12)

	score, err := idx.BM25Score(1, "bear")
	require.NoError(t, err)
	want := (2 * 2.5 / (2 + 1.5)) * math.Log((2-1+0.5)/(1+0.5)+1)
	assert.InDelta(t, want, score, 1e-12)
}

func TestBM25Search_Ordering(t *testing.T) {
	idx := build(t, library)

	results := idx.BM25Search("bear forest fish", 10)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1], results[i]
		assert.True(t, prev.Score > cur.Score || (prev.Score == cur.Score && prev.DocID < cur.DocID),
			"results %d and %d out of order", i-1, i)
	}
	for _, r := range results {
		assert.NotEqual(t, 12, r.DocID)
		assert.NotEqual(t, 14, r.DocID)
	}
}

func TestBM25Search_Limit(t *testing.T) {
	idx := build(t, library)

	all := idx.BM25Search("forest", 10)
	require.Len(t, all, 3)
	top := idx.BM25Search("forest", 2)
	assert.Equal(t, all[:2], top)
}

func TestBM25Search_RepeatedTokensAccumulate(t *testing.T) {
	idx := build(t, library)

	once := idx.BM25Search("river", 10)
	twice := idx.BM25Search("river river", 10)
	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].DocID, twice[i].DocID)
		assert.InDelta(t, 2*once[i].Score, twice[i].Score, 1e-12)
	}
}

func TestBM25Search_EmptyQuery(t *testing.T) {
	idx := build(t, library)

	for _, q := range []string{"", "   ", "the and of", "?!"} {
		results := idx.BM25Search(q, 5)
		assert.NotNil(t, results)
		assert.Empty(t, results, "query %q", q)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx := build(t, library)
	version, err := idx.Save(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	loaded, err := Load(dir, ranker.DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, idx.Documents(), loaded.Documents())
	assert.Equal(t, idx.TermCount(), loaded.TermCount())
	for _, q := range []string{"bear", "forest fish", "river river", "neon city", "nothing"} {
		assert.Equal(t, idx.BM25Search(q, 10), loaded.BM25Search(q, 10), "query %q", q)
	}
}

func TestLoad_NotBuilt(t *testing.T) {
	_, err := Load(t.TempDir(), ranker.DefaultParams())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrIndexNotBuilt))
}

func TestLoad_MissingArtifact(t *testing.T) {
	dir := t.TempDir()
	snap, err := segment.NewWriter(dir, ArtifactSet).Begin()
	require.NoError(t, err)
	require.NoError(t, snap.WriteJSON(postingsArtifact, 0, map[string][]int{}))
	require.NoError(t, snap.Commit(postingsArtifact))

	_, err = Load(dir, ranker.DefaultParams())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrIndexNotBuilt))
}

func TestLoad_Inconsistent(t *testing.T) {
	docs := []corpus.Document{{ID: 1, Title: "Bear"}}
	good := map[string]any{
		postingsArtifact: map[string][]int{"bear": {1}},
		docMapArtifact:   docs,
		termFreqArtifact: map[int]map[string]int{1: {"bear": 1}},
		docLenArtifact:   map[int]int{1: 1},
	}
	tests := []struct {
		name     string
		artifact string
		value    any
	}{
		{"posting references unknown document", postingsArtifact, map[string][]int{"bear": {1, 7}}},
		{"posting without frequency", postingsArtifact, map[string][]int{"bear": {1}, "wolf": {1}}},
		{"missing posting", postingsArtifact, map[string][]int{}},
		{"length disagrees with frequencies", docLenArtifact, map[int]int{1: 4}},
		{"frequency row for unknown document", termFreqArtifact, map[int]map[string]int{2: {"bear": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			snap, err := segment.NewWriter(dir, ArtifactSet).Begin()
			require.NoError(t, err)
			for name, v := range good {
				if name == tt.artifact {
					v = tt.value
				}
				require.NoError(t, snap.WriteJSON(name, 1, v))
			}
			require.NoError(t, snap.Commit())

			_, err = Load(dir, ranker.DefaultParams())
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrCorruptPersistedState), err.Error())
		})
	}
}

func TestSave_FailedRebuildKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	_, err := build(t, movies).Save(dir)
	require.NoError(t, err)

	snap, err := segment.NewWriter(dir, ArtifactSet).Begin()
	require.NoError(t, err)
	require.NoError(t, snap.WriteJSON(postingsArtifact, 0, map[string][]int{}))
	require.NoError(t, snap.Abort())

	loaded, err := Load(dir, ranker.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, movies, loaded.Documents())
}
