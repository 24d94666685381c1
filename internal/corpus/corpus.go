// Package corpus defines the document records the indexes are built from
// and the loaders that read them from a JSON file or PostgreSQL.
package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

// Document is a single corpus record. IDs are unique within a corpus.
type Document struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Text is the string the lexical index tokenizes. The semantic index chunks
// the description alone.
func (d Document) Text() string {
	return d.Title + " " + d.Description
}

// Loader reads an ordered corpus snapshot.
type Loader interface {
	Load(ctx context.Context) ([]Document, error)
}

// FileLoader reads a JSON corpus. Both `{"movies": [...]}` and a bare array
// of documents are accepted.
type FileLoader struct {
	Path string
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{Path: path}
}

func (l *FileLoader) Load(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus file %s: %w", l.Path, err)
	}
	docs, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding corpus file %s: %w", l.Path, err)
	}
	return docs, nil
}

// Decode parses corpus JSON and validates id uniqueness.
func Decode(data []byte) ([]Document, error) {
	data = bytes.TrimSpace(data)
	var docs []Document
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("parsing document array: %w", err)
		}
	} else {
		var wrapper struct {
			Movies    []Document `json:"movies"`
			Documents []Document `json:"documents"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("parsing document object: %w", err)
		}
		docs = wrapper.Movies
		if len(docs) == 0 {
			docs = wrapper.Documents
		}
	}
	if docs == nil {
		docs = []Document{}
	}
	if err := Validate(docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Validate rejects corpora with duplicate document ids.
func Validate(docs []Document) error {
	seen := make(map[int]struct{}, len(docs))
	for _, d := range docs {
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate document id %d", apperrors.ErrInvalidInput, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
