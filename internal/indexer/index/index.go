// Package index implements the lexical inverted index: postings, term
// frequencies and document lengths built once from a corpus, with TF-IDF and
// BM25 scoring and ranked BM25 search on top. An InvertedIndex is never
// mutated after Build or Load returns, so it is safe for concurrent readers.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

// Options control index construction.
type Options struct {
	// Workers bounds the number of concurrent tokenizers. Zero uses
	// GOMAXPROCS.
	Workers int
	Params  ranker.Params
}

type InvertedIndex struct {
	postings   map[string][]int
	docs       map[int]corpus.Document
	order      []int
	termFreqs  map[int]map[string]int
	docLengths map[int]int
	params     ranker.Params
	version    string
	logger     *slog.Logger
}

// New returns an empty index using the given BM25 parameters.
func New(params ranker.Params) *InvertedIndex {
	return &InvertedIndex{
		postings:   make(map[string][]int),
		docs:       make(map[int]corpus.Document),
		order:      make([]int, 0),
		termFreqs:  make(map[int]map[string]int),
		docLengths: make(map[int]int),
		params:     params,
		logger:     slog.Default().With("component", "inverted-index"),
	}
}

type analyzedDoc struct {
	termFreqs map[string]int
	length    int
}

// Build tokenizes every document and assembles the index. Tokenization is
// spread across workers that each fill their own slice range; the tables are
// then populated by a single pass in corpus order.
func Build(ctx context.Context, docs []corpus.Document, opts Options) (*InvertedIndex, error) {
	if err := corpus.Validate(docs); err != nil {
		return nil, err
	}
	if opts.Params == (ranker.Params{}) {
		opts.Params = ranker.DefaultParams()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	analyzed := make([]analyzedDoc, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	batch := (len(docs) + workers - 1) / workers
	for start := 0; start < len(docs); start += batch {
		start := start
		end := min(start+batch, len(docs))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				terms := tokenizer.Normalize(docs[i].Text())
				tf := make(map[string]int, len(terms))
				for _, term := range terms {
					tf[term]++
				}
				analyzed[i] = analyzedDoc{termFreqs: tf, length: len(terms)}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tokenizing corpus: %w", err)
	}

	idx := New(opts.Params)
	for i, doc := range docs {
		idx.docs[doc.ID] = doc
		idx.order = append(idx.order, doc.ID)
		idx.termFreqs[doc.ID] = analyzed[i].termFreqs
		idx.docLengths[doc.ID] = analyzed[i].length
		for term := range analyzed[i].termFreqs {
			idx.postings[term] = append(idx.postings[term], doc.ID)
		}
	}
	for _, ids := range idx.postings {
		sort.Ints(ids)
	}

	idx.logger.Info("inverted index built",
		"documents", len(idx.docs),
		"terms", len(idx.postings),
		"workers", workers,
	)
	return idx, nil
}

// DocCount is the number of indexed documents.
func (idx *InvertedIndex) DocCount() int {
	return len(idx.docs)
}

// TermCount is the vocabulary size.
func (idx *InvertedIndex) TermCount() int {
	return len(idx.postings)
}

// Version is the snapshot version the index was loaded from, or "" for an
// index built in memory.
func (idx *InvertedIndex) Version() string {
	return idx.version
}

// Params returns the BM25 parameters used by BM25Score and BM25Search.
func (idx *InvertedIndex) Params() ranker.Params {
	return idx.params
}

// Document looks up a document by id.
func (idx *InvertedIndex) Document(docID int) (corpus.Document, bool) {
	doc, ok := idx.docs[docID]
	return doc, ok
}

// Documents returns the indexed documents in corpus order.
func (idx *InvertedIndex) Documents() []corpus.Document {
	out := make([]corpus.Document, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.docs[id])
	}
	return out
}

// DocumentsContaining returns the sorted ids of documents containing term.
// The term is normalized first; anything that is not exactly one index term
// matches nothing.
func (idx *InvertedIndex) DocumentsContaining(term string) []int {
	t, err := singleTerm(term)
	if err != nil {
		return []int{}
	}
	ids := idx.postings[t]
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}

// TermFrequency returns how often term occurs in the document. Unknown
// documents have frequency zero.
func (idx *InvertedIndex) TermFrequency(docID int, term string) (int, error) {
	t, err := singleTerm(term)
	if err != nil {
		return 0, err
	}
	return idx.termFreqs[docID][t], nil
}

func (idx *InvertedIndex) IDF(term string) (float64, error) {
	t, err := singleTerm(term)
	if err != nil {
		return 0, err
	}
	return ranker.IDF(len(idx.docs), len(idx.postings[t])), nil
}

func (idx *InvertedIndex) TFIDF(docID int, term string) (float64, error) {
	t, err := singleTerm(term)
	if err != nil {
		return 0, err
	}
	tf := idx.termFreqs[docID][t]
	return float64(tf) * ranker.IDF(len(idx.docs), len(idx.postings[t])), nil
}

func (idx *InvertedIndex) BM25IDF(term string) (float64, error) {
	t, err := singleTerm(term)
	if err != nil {
		return 0, err
	}
	return idx.bm25IDF(t), nil
}

// BM25TF returns the saturated term frequency with explicit k1 and b.
func (idx *InvertedIndex) BM25TF(docID int, term string, k1, b float64) (float64, error) {
	t, err := singleTerm(term)
	if err != nil {
		return 0, err
	}
	return idx.bm25TF(docID, t, ranker.Params{K1: k1, B: b}, idx.avgDocLength()), nil
}

// BM25Score is BM25TF times BM25IDF using the index parameters.
func (idx *InvertedIndex) BM25Score(docID int, term string) (float64, error) {
	t, err := singleTerm(term)
	if err != nil {
		return 0, err
	}
	return idx.bm25Score(docID, t, idx.avgDocLength()), nil
}

// BM25Search ranks documents against query. Every occurrence of a token in
// the query contributes its score again, so "bear bear" weighs bear twice.
// A query with no index terms returns no results.
func (idx *InvertedIndex) BM25Search(query string, limit int) []ranker.ScoredDoc {
	tokens := tokenizer.Normalize(query)
	if len(tokens) == 0 {
		return []ranker.ScoredDoc{}
	}

	candidates := make(map[int]struct{})
	for _, t := range tokens {
		for _, id := range idx.postings[t] {
			candidates[id] = struct{}{}
		}
	}

	avg := idx.avgDocLength()
	scored := make([]ranker.ScoredDoc, 0, len(candidates))
	for id := range candidates {
		doc, ok := idx.docs[id]
		if !ok {
			idx.logger.Warn("skipping candidate missing from document map", "doc_id", id)
			continue
		}
		var score float64
		for _, t := range tokens {
			score += idx.bm25Score(id, t, avg)
		}
		scored = append(scored, ranker.ScoredDoc{
			DocID:    id,
			Title:    doc.Title,
			Document: doc.Description,
			Score:    score,
		})
	}
	return merger.TopK(scored, limit)
}

func (idx *InvertedIndex) bm25IDF(term string) float64 {
	return ranker.BM25IDF(len(idx.docs), len(idx.postings[term]))
}

func (idx *InvertedIndex) bm25TF(docID int, term string, p ranker.Params, avg float64) float64 {
	return ranker.BM25TF(idx.termFreqs[docID][term], idx.docLengths[docID], avg, p)
}

func (idx *InvertedIndex) bm25Score(docID int, term string, avg float64) float64 {
	return idx.bm25TF(docID, term, idx.params, avg) * idx.bm25IDF(term)
}

// avgDocLength is derived from the length table on every call, never cached.
func (idx *InvertedIndex) avgDocLength() float64 {
	if len(idx.docLengths) == 0 {
		return 0
	}
	total := 0
	for _, l := range idx.docLengths {
		total += l
	}
	return float64(total) / float64(len(idx.docLengths))
}

func singleTerm(term string) (string, error) {
	tokens := tokenizer.Normalize(term)
	if len(tokens) != 1 {
		return "", fmt.Errorf("%w: %q normalizes to %d terms", apperrors.ErrInvalidTerm, term, len(tokens))
	}
	return tokens[0], nil
}
