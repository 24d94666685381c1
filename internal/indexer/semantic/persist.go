package semantic

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

const (
	ArtifactSet = "semantic"

	embeddingsArtifact = "embeddings"
	chunksArtifact     = "chunks"
)

type chunkManifest struct {
	Model       string  `json:"model"`
	Dimensions  int     `json:"dimensions"`
	TotalChunks int     `json:"total_chunks"`
	Chunks      []Chunk `json:"chunks"`
}

// Save stages the semantic snapshot and publishes it.
func (idx *Index) Save(dataDir string) (string, error) {
	staged, err := idx.Stage(dataDir)
	if err != nil {
		return "", err
	}
	if err := staged.Publish(); err != nil {
		_ = staged.Rollback()
		return "", fmt.Errorf("publishing semantic snapshot: %w", err)
	}
	idx.logger.Info("semantic snapshot published", "version", staged.Version(), "chunks", len(idx.chunks))
	return staged.Version(), nil
}

// Stage writes the vectors as packed little-endian float32 rows together
// with the chunk manifest as one unpublished snapshot version.
func (idx *Index) Stage(dataDir string) (*segment.Staged, error) {
	snap, err := segment.NewWriter(dataDir, ArtifactSet).Begin()
	if err != nil {
		return nil, fmt.Errorf("starting semantic snapshot: %w", err)
	}
	payload := make([]byte, 0, len(idx.vectors)*idx.dims*4)
	for _, v := range idx.vectors {
		for _, x := range v {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(x))
		}
	}
	if err := snap.WriteArtifact(embeddingsArtifact, len(idx.vectors), payload); err != nil {
		_ = snap.Abort()
		return nil, fmt.Errorf("writing semantic snapshot: %w", err)
	}
	manifest := chunkManifest{
		Model:       idx.model,
		Dimensions:  idx.dims,
		TotalChunks: len(idx.chunks),
		Chunks:      idx.chunks,
	}
	if err := snap.WriteJSON(chunksArtifact, len(idx.chunks), manifest); err != nil {
		_ = snap.Abort()
		return nil, fmt.Errorf("writing semantic snapshot: %w", err)
	}
	staged, err := snap.Stage(embeddingsArtifact, chunksArtifact)
	if err != nil {
		return nil, fmt.Errorf("staging semantic snapshot: %w", err)
	}
	return staged, nil
}

// Load reads the published semantic snapshot. docs must be the corpus the
// snapshot was built from, in the same order; every chunk is checked to
// resolve to it.
func Load(dataDir string, docs []corpus.Document) (*Index, error) {
	r, err := segment.OpenReader(dataDir, ArtifactSet)
	if err != nil {
		return nil, err
	}
	var manifest chunkManifest
	if _, err := r.ReadJSON(chunksArtifact, &manifest); err != nil {
		return nil, err
	}
	header, payload, err := r.ReadArtifact(embeddingsArtifact)
	if err != nil {
		return nil, err
	}

	if len(manifest.Chunks) != manifest.TotalChunks {
		return nil, corrupt("manifest lists %d chunks but declares %d", len(manifest.Chunks), manifest.TotalChunks)
	}
	if int(header.EntryCount) != manifest.TotalChunks {
		return nil, corrupt("%d vectors stored for %d chunks", header.EntryCount, manifest.TotalChunks)
	}
	if manifest.TotalChunks > 0 && manifest.Dimensions <= 0 {
		return nil, corrupt("non-positive dimensions %d", manifest.Dimensions)
	}
	if want := manifest.TotalChunks * manifest.Dimensions * 4; len(payload) != want {
		return nil, corrupt("embedding payload is %d bytes, expected %d", len(payload), want)
	}
	if err := verifyChunks(manifest.Chunks, docs); err != nil {
		return nil, err
	}

	idx := newIndex(docs)
	idx.model = manifest.Model
	idx.version = r.Version()
	idx.dims = manifest.Dimensions
	idx.chunks = manifest.Chunks
	if idx.chunks == nil {
		idx.chunks = make([]Chunk, 0)
	}
	idx.vectors = make([][]float32, manifest.TotalChunks)
	for i := range idx.vectors {
		v := make([]float32, manifest.Dimensions)
		row := payload[i*manifest.Dimensions*4:]
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(row[j*4:]))
		}
		idx.vectors[i] = v
	}
	idx.logger.Info("semantic snapshot loaded", "version", r.Version(), "chunks", len(idx.chunks), "model", idx.model)
	return idx, nil
}

// verifyChunks checks that chunks resolve to docs and that each document's
// chunks are stored contiguously as 0..TotalChunks-1.
func verifyChunks(chunks []Chunk, docs []corpus.Document) error {
	seen := make(map[int]bool)
	for i := 0; i < len(chunks); {
		c := chunks[i]
		if c.DocumentIndex < 0 || c.DocumentIndex >= len(docs) {
			return corrupt("chunk %d references document index %d of %d", i, c.DocumentIndex, len(docs))
		}
		if docs[c.DocumentIndex].ID != c.DocID {
			return corrupt("chunk %d belongs to document %d but index %d holds %d",
				i, c.DocID, c.DocumentIndex, docs[c.DocumentIndex].ID)
		}
		if seen[c.DocumentIndex] {
			return corrupt("chunks of document %d are not contiguous", c.DocID)
		}
		seen[c.DocumentIndex] = true
		if c.TotalChunks < 1 || i+c.TotalChunks > len(chunks) {
			return corrupt("document %d declares %d chunks", c.DocID, c.TotalChunks)
		}
		for j := 0; j < c.TotalChunks; j++ {
			next := chunks[i+j]
			if next.DocumentIndex != c.DocumentIndex || next.ChunkIndex != j || next.TotalChunks != c.TotalChunks {
				return corrupt("document %d chunk sequence broken at position %d", c.DocID, j)
			}
		}
		i += c.TotalChunks
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: semantic snapshot: %s", apperrors.ErrCorruptPersistedState, fmt.Sprintf(format, args...))
}
