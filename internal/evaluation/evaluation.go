// Package evaluation measures retrieval quality against a golden dataset of
// queries and the titles that should be returned for them.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

type TestCase struct {
	Query        string   `json:"query"`
	RelevantDocs []string `json:"relevant_docs"`
}

type golden struct {
	TestCases []TestCase `json:"test_cases"`
}

// Result is the score of one test case at a fixed limit.
type Result struct {
	Query     string   `json:"query"`
	Precision float64  `json:"precision"`
	Recall    float64  `json:"recall"`
	F1        float64  `json:"f1"`
	Retrieved []string `json:"retrieved"`
	Relevant  []string `json:"relevant"`
}

type Report struct {
	Limit         int      `json:"limit"`
	Results       []Result `json:"results"`
	MeanPrecision float64  `json:"mean_precision"`
	MeanRecall    float64  `json:"mean_recall"`
	MeanF1        float64  `json:"mean_f1"`
}

// Searcher runs the fused search being evaluated.
type Searcher interface {
	RRFFusedSearch(ctx context.Context, query string, k float64, limit int) (*executor.SearchResult, error)
}

// LoadGolden reads `{"test_cases":[{"query":...,"relevant_docs":[...]}]}`.
func LoadGolden(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading golden dataset: %w", err)
	}
	var g golden
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: decoding golden dataset: %v", apperrors.ErrInvalidInput, err)
	}
	for i, tc := range g.TestCases {
		if len(tc.RelevantDocs) == 0 {
			return nil, fmt.Errorf("%w: test case %d (%q) has no relevant documents", apperrors.ErrInvalidInput, i, tc.Query)
		}
	}
	return g.TestCases, nil
}

// Score computes precision@limit, recall and F1 of retrieved titles.
// Duplicate titles count once.
func Score(retrieved, relevant []string, limit int) (precision, recall, f1 float64, err error) {
	if limit < 1 {
		return 0, 0, 0, fmt.Errorf("%w: limit must be positive, got %d", apperrors.ErrInvalidInput, limit)
	}
	want := make(map[string]struct{}, len(relevant))
	for _, title := range relevant {
		want[title] = struct{}{}
	}
	if len(want) == 0 {
		return 0, 0, 0, fmt.Errorf("%w: relevant set is empty", apperrors.ErrInvalidInput)
	}
	hit := make(map[string]struct{})
	for _, title := range retrieved {
		if _, ok := want[title]; ok {
			hit[title] = struct{}{}
		}
	}
	precision = float64(len(hit)) / float64(limit)
	recall = float64(len(hit)) / float64(len(want))
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1, nil
}

// Evaluate runs every test case through RRF search and scores it. Cases run
// concurrently; results keep the input order.
func Evaluate(ctx context.Context, s Searcher, cases []TestCase, k float64, limit int) (*Report, error) {
	results := make([]Result, len(cases))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, tc := range cases {
		g.Go(func() error {
			res, err := s.RRFFusedSearch(ctx, tc.Query, k, limit)
			if err != nil {
				return fmt.Errorf("evaluating %q: %w", tc.Query, err)
			}
			retrieved := make([]string, len(res.Results))
			for j, doc := range res.Results {
				retrieved[j] = doc.Title
			}
			p, r, f1, err := Score(retrieved, tc.RelevantDocs, limit)
			if err != nil {
				return fmt.Errorf("evaluating %q: %w", tc.Query, err)
			}
			results[i] = Result{
				Query:     tc.Query,
				Precision: p,
				Recall:    r,
				F1:        f1,
				Retrieved: retrieved,
				Relevant:  tc.RelevantDocs,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Limit: limit, Results: results}
	if n := float64(len(results)); n > 0 {
		for _, r := range results {
			report.MeanPrecision += r.Precision / n
			report.MeanRecall += r.Recall / n
			report.MeanF1 += r.F1 / n
		}
	}
	slog.Default().With("component", "evaluation").Info("evaluation complete",
		"cases", len(results),
		"limit", limit,
		"mean_precision", report.MeanPrecision,
		"mean_recall", report.MeanRecall,
		"mean_f1", report.MeanF1,
	)
	return report, nil
}
