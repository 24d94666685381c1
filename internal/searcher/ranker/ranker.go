// Package ranker holds the scoring formulas shared by the lexical index and
// the result types every search mode returns.
package ranker

import (
	"math"
	"sort"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Metadata carries per-source details of a fused result. Ranks are 1-based;
// zero means the document was absent from that source.
type Metadata struct {
	BM25Score     float64 `json:"bm25_score"`
	SemanticScore float64 `json:"semantic_score"`
	BM25Rank      int     `json:"bm25_rank,omitempty"`
	SemanticRank  int     `json:"semantic_rank,omitempty"`
}

type ScoredDoc struct {
	DocID    int       `json:"doc_id"`
	Title    string    `json:"title"`
	Document string    `json:"document"`
	Score    float64   `json:"score"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Params are the BM25 tuning constants.
type Params struct {
	K1 float64
	B  float64
}

func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

// IDF is the smoothed inverse document frequency ln((N+1)/(df+1)).
func IDF(totalDocs, docFreq int) float64 {
	return math.Log(float64(totalDocs+1) / float64(docFreq+1))
}

// BM25IDF is ln((N - df + 0.5)/(df + 0.5) + 1).
func BM25IDF(totalDocs, docFreq int) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

// BM25TF is the saturated, length-normalised term frequency. A zero average
// length disables length normalisation.
func BM25TF(termFreq, docLength int, avgDocLength float64, p Params) float64 {
	tf := float64(termFreq)
	lengthNorm := 1.0
	if avgDocLength > 0 {
		lengthNorm = 1 - p.B + p.B*(float64(docLength)/avgDocLength)
	}
	denominator := tf + p.K1*lengthNorm
	if denominator == 0 {
		return 0
	}
	return (tf * (p.K1 + 1)) / denominator
}

// Less orders results by descending score, then ascending DocID.
func Less(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Sort orders results in place by Less.
func Sort(results []ScoredDoc) {
	sort.Slice(results, func(i, j int) bool {
		return Less(results[i], results[j])
	})
}
