// Package merger selects the top results from a candidate list using a
// bounded min-heap, keeping the same ordering as ranker.Less.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
)

// TopK returns the best limit results in descending order. A non-positive
// limit returns every candidate sorted.
func TopK(candidates []ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	if limit <= 0 || limit >= len(candidates) {
		out := make([]ranker.ScoredDoc, len(candidates))
		copy(out, candidates)
		ranker.Sort(out)
		return out
	}
	h := &scoredDocHeap{}
	heap.Init(h)
	for _, doc := range candidates {
		heap.Push(h, doc)
		if h.Len() > limit {
			heap.Pop(h)
		}
	}
	result := make([]ranker.ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ranker.ScoredDoc)
	}
	return result
}

// scoredDocHeap keeps the worst result at the root.
type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	return ranker.Less(h[j], h[i])
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
