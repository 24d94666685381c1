package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/errors"
)

// Reader reads artifacts from the currently published snapshot version.
type Reader struct {
	dir     string
	version string
}

// OpenReader resolves the CURRENT pointer of an artifact set. It fails with
// ErrIndexNotBuilt when nothing has been published.
func OpenReader(dataDir string, set string) (*Reader, error) {
	root := filepath.Join(dataDir, set)
	data, err := os.ReadFile(filepath.Join(root, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no published %s snapshot in %s", apperrors.ErrIndexNotBuilt, set, dataDir)
		}
		return nil, fmt.Errorf("reading snapshot pointer: %w", err)
	}
	version := strings.TrimSpace(string(data))
	if version == "" || strings.ContainsAny(version, `/\`) {
		return nil, fmt.Errorf("%w: invalid %s snapshot pointer %q", apperrors.ErrCorruptPersistedState, set, version)
	}
	dir := filepath.Join(root, version)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s snapshot %s missing", apperrors.ErrIndexNotBuilt, set, version)
		}
		return nil, fmt.Errorf("checking snapshot directory: %w", err)
	}
	return &Reader{dir: dir, version: version}, nil
}

// Version returns the published version name.
func (r *Reader) Version() string {
	return r.version
}

// ReadArtifact returns the header and verified payload of a named artifact.
// A missing artifact is ErrIndexNotBuilt; a damaged one is
// ErrCorruptPersistedState.
func (r *Reader) ReadArtifact(name string) (ArtifactHeader, []byte, error) {
	path := filepath.Join(r.dir, name+fileExt)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ArtifactHeader{}, nil, fmt.Errorf("%w: artifact %q missing from snapshot %s", apperrors.ErrIndexNotBuilt, name, r.version)
		}
		return ArtifactHeader{}, nil, fmt.Errorf("opening artifact %s: %w", name, err)
	}
	defer f.Close()

	headerBytes := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return ArtifactHeader{}, nil, fmt.Errorf("%w: reading header of %s: %v", apperrors.ErrCorruptPersistedState, name, err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return ArtifactHeader{}, nil, fmt.Errorf("%w: %s has bad magic bytes %x", apperrors.ErrCorruptPersistedState, name, header.Magic)
	}
	if header.Version != FormatVersion {
		return ArtifactHeader{}, nil, fmt.Errorf("%w: %s has unsupported format version %d", apperrors.ErrCorruptPersistedState, name, header.Version)
	}
	payload, err := io.ReadAll(f)
	if err != nil {
		return ArtifactHeader{}, nil, fmt.Errorf("reading payload of %s: %w", name, err)
	}
	if int64(len(payload)) != header.PayloadSize {
		return ArtifactHeader{}, nil, fmt.Errorf("%w: %s payload is %d bytes, header declares %d",
			apperrors.ErrCorruptPersistedState, name, len(payload), header.PayloadSize)
	}
	if crc32.ChecksumIEEE(payload) != header.Checksum {
		return ArtifactHeader{}, nil, fmt.Errorf("%w: %s checksum mismatch", apperrors.ErrCorruptPersistedState, name)
	}
	return header, payload, nil
}

// ReadJSON reads a JSON artifact into v.
func (r *Reader) ReadJSON(name string, v any) (ArtifactHeader, error) {
	header, payload, err := r.ReadArtifact(name)
	if err != nil {
		return header, err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return header, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrCorruptPersistedState, name, err)
	}
	return header, nil
}
