// Package fusion merges the BM25 and semantic result lists into one ranking,
// either by blending min-max normalized scores or by reciprocal rank.
package fusion

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

// DefaultRRFK is the usual reciprocal rank smoothing constant.
const DefaultRRFK = 60

// Normalize min-max scales scores into [0,1]. If every score is equal they
// all become 1.
func Normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	for i, s := range scores {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

type entry struct {
	doc  ranker.ScoredDoc
	meta ranker.Metadata
}

// table keeps one entry per document in first-seen order.
type table struct {
	byID  map[int]*entry
	order []int
}

func newTable(capacity int) *table {
	return &table{byID: make(map[int]*entry, capacity), order: make([]int, 0, capacity)}
}

func (t *table) get(doc ranker.ScoredDoc) *entry {
	e, ok := t.byID[doc.DocID]
	if !ok {
		e = &entry{doc: ranker.ScoredDoc{DocID: doc.DocID, Title: doc.Title, Document: doc.Document}}
		t.byID[doc.DocID] = e
		t.order = append(t.order, doc.DocID)
	}
	return e
}

func (t *table) results(score func(ranker.Metadata) float64, limit int) []ranker.ScoredDoc {
	out := make([]ranker.ScoredDoc, 0, len(t.order))
	for _, id := range t.order {
		e := t.byID[id]
		meta := e.meta
		doc := e.doc
		doc.Score = score(meta)
		doc.Metadata = &meta
		out = append(out, doc)
	}
	return merger.TopK(out, limit)
}

// Weighted blends the two lists as alpha*bm25 + (1-alpha)*semantic over
// per-source normalized scores. A document missing from a source scores 0
// there; a document listed twice in one source keeps its higher score.
func Weighted(bm25, semantic []ranker.ScoredDoc, alpha float64, limit int) ([]ranker.ScoredDoc, error) {
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%w: alpha must be in [0,1], got %v", apperrors.ErrInvalidInput, alpha)
	}
	t := newTable(len(bm25) + len(semantic))
	for i, s := range Normalize(scoresOf(bm25)) {
		e := t.get(bm25[i])
		e.meta.BM25Score = max(e.meta.BM25Score, s)
	}
	for i, s := range Normalize(scoresOf(semantic)) {
		e := t.get(semantic[i])
		e.meta.SemanticScore = max(e.meta.SemanticScore, s)
	}
	return t.results(func(m ranker.Metadata) float64 {
		return alpha*m.BM25Score + (1-alpha)*m.SemanticScore
	}, limit), nil
}

// RRF sums 1/(k+rank) over the sources a document appears in, ranks
// starting at 1. A document listed more than once in a source contributes
// once, at its best rank, which is also what the metadata records.
func RRF(bm25, semantic []ranker.ScoredDoc, k float64, limit int) ([]ranker.ScoredDoc, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: rrf k must be positive, got %v", apperrors.ErrInvalidInput, k)
	}
	t := newTable(len(bm25) + len(semantic))
	for i, doc := range bm25 {
		e := t.get(doc)
		if e.meta.BM25Rank == 0 {
			e.meta.BM25Rank = i + 1
		}
	}
	for i, doc := range semantic {
		e := t.get(doc)
		if e.meta.SemanticRank == 0 {
			e.meta.SemanticRank = i + 1
		}
	}
	return t.results(func(m ranker.Metadata) float64 {
		return Reciprocal(m.BM25Rank, k) + Reciprocal(m.SemanticRank, k)
	}, limit), nil
}

// Reciprocal is 1/(k+rank), or 0 for rank 0 (absent).
func Reciprocal(rank int, k float64) float64 {
	if rank <= 0 {
		return 0
	}
	return 1 / (k + float64(rank))
}

func scoresOf(docs []ranker.ScoredDoc) []float64 {
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = d.Score
	}
	return out
}
