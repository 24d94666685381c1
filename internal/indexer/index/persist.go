package index

import (
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

const (
	ArtifactSet = "lexical"

	postingsArtifact = "postings"
	docMapArtifact   = "docmap"
	termFreqArtifact = "termfreq"
	docLenArtifact   = "doclen"
)

// Save stages the lexical snapshot and publishes it. It returns the
// published version.
func (idx *InvertedIndex) Save(dataDir string) (string, error) {
	staged, err := idx.Stage(dataDir)
	if err != nil {
		return "", err
	}
	if err := staged.Publish(); err != nil {
		_ = staged.Rollback()
		return "", fmt.Errorf("publishing lexical snapshot: %w", err)
	}
	idx.logger.Info("lexical snapshot published",
		"version", staged.Version(),
		"documents", len(idx.docs),
		"terms", len(idx.postings),
	)
	return staged.Version(), nil
}

// Stage writes the four lexical tables as one snapshot version without
// publishing it.
func (idx *InvertedIndex) Stage(dataDir string) (*segment.Staged, error) {
	snap, err := segment.NewWriter(dataDir, ArtifactSet).Begin()
	if err != nil {
		return nil, fmt.Errorf("starting lexical snapshot: %w", err)
	}
	artifacts := []struct {
		name    string
		entries int
		value   any
	}{
		{postingsArtifact, len(idx.postings), idx.postings},
		{docMapArtifact, len(idx.order), idx.Documents()},
		{termFreqArtifact, len(idx.termFreqs), idx.termFreqs},
		{docLenArtifact, len(idx.docLengths), idx.docLengths},
	}
	for _, a := range artifacts {
		if err := snap.WriteJSON(a.name, a.entries, a.value); err != nil {
			_ = snap.Abort()
			return nil, fmt.Errorf("writing lexical snapshot: %w", err)
		}
	}
	staged, err := snap.Stage(postingsArtifact, docMapArtifact, termFreqArtifact, docLenArtifact)
	if err != nil {
		return nil, fmt.Errorf("staging lexical snapshot: %w", err)
	}
	return staged, nil
}

// Load reads the published lexical snapshot. The four tables are checked
// against each other; any disagreement is ErrCorruptPersistedState.
func Load(dataDir string, params ranker.Params) (*InvertedIndex, error) {
	r, err := segment.OpenReader(dataDir, ArtifactSet)
	if err != nil {
		return nil, err
	}
	if params == (ranker.Params{}) {
		params = ranker.DefaultParams()
	}

	var (
		postings   map[string][]int
		docs       []corpus.Document
		termFreqs  map[int]map[string]int
		docLengths map[int]int
	)
	if _, err := r.ReadJSON(postingsArtifact, &postings); err != nil {
		return nil, err
	}
	if _, err := r.ReadJSON(docMapArtifact, &docs); err != nil {
		return nil, err
	}
	if _, err := r.ReadJSON(termFreqArtifact, &termFreqs); err != nil {
		return nil, err
	}
	if _, err := r.ReadJSON(docLenArtifact, &docLengths); err != nil {
		return nil, err
	}

	idx := New(params)
	for _, doc := range docs {
		if _, dup := idx.docs[doc.ID]; dup {
			return nil, corrupt("document %d stored twice", doc.ID)
		}
		idx.docs[doc.ID] = doc
		idx.order = append(idx.order, doc.ID)
	}
	if postings != nil {
		idx.postings = postings
	}
	if termFreqs != nil {
		idx.termFreqs = termFreqs
	}
	if docLengths != nil {
		idx.docLengths = docLengths
	}
	if err := idx.verify(); err != nil {
		return nil, err
	}
	idx.version = r.Version()

	idx.logger.Info("lexical snapshot loaded",
		"version", r.Version(),
		"documents", len(idx.docs),
		"terms", len(idx.postings),
	)
	return idx, nil
}

func (idx *InvertedIndex) verify() error {
	if len(idx.termFreqs) != len(idx.docs) || len(idx.docLengths) != len(idx.docs) {
		return corrupt("table sizes disagree: %d documents, %d term rows, %d lengths",
			len(idx.docs), len(idx.termFreqs), len(idx.docLengths))
	}

	pairs := 0
	for id, row := range idx.termFreqs {
		if _, ok := idx.docs[id]; !ok {
			return corrupt("term frequencies reference unknown document %d", id)
		}
		length, ok := idx.docLengths[id]
		if !ok {
			return corrupt("document %d has no stored length", id)
		}
		sum := 0
		for term, tf := range row {
			if tf < 1 {
				return corrupt("document %d has non-positive frequency for %q", id, term)
			}
			sum += tf
		}
		if sum != length {
			return corrupt("document %d length %d does not match term total %d", id, length, sum)
		}
		pairs += len(row)
	}

	entries := 0
	for term, ids := range idx.postings {
		if !sort.IntsAreSorted(ids) {
			return corrupt("posting list for %q is not sorted", term)
		}
		for i, id := range ids {
			if i > 0 && ids[i-1] == id {
				return corrupt("posting list for %q repeats document %d", term, id)
			}
			if _, ok := idx.docs[id]; !ok {
				return corrupt("posting list for %q references unknown document %d", term, id)
			}
			if idx.termFreqs[id][term] < 1 {
				return corrupt("posting list for %q lists document %d without occurrences", term, id)
			}
		}
		entries += len(ids)
	}
	if entries != pairs {
		return corrupt("postings hold %d entries but term frequencies hold %d", entries, pairs)
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: lexical snapshot: %s", apperrors.ErrCorruptPersistedState, fmt.Sprintf(format, args...))
}
