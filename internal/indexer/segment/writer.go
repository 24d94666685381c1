// Package segment persists tied index snapshots. A snapshot is a directory
// of .spdx artifact files that is only ever read or written as a unit: a new
// version is written under a temporary name, synced, renamed into place and
// then published by atomically replacing the CURRENT pointer file. Staging
// and publishing are separate steps so several sets can be staged before any
// of them becomes visible.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MagicBytes identifies a valid .spdx artifact file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64

	currentFile   = "CURRENT"
	fileExt       = ".spdx"
	tmpSuffix     = ".tmp"
	versionPrefix = "v"
)

// ArtifactHeader is the 64-byte header written at the start of every
// artifact file.
type ArtifactHeader struct {
	Magic       uint32
	Version     uint32
	EntryCount  uint32
	Checksum    uint32
	CreatedAt   int64
	PayloadSize int64
}

func (h ArtifactHeader) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.Checksum)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.PayloadSize))
	return buf
}

func decodeHeader(buf []byte) ArtifactHeader {
	return ArtifactHeader{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		Version:     binary.LittleEndian.Uint32(buf[4:8]),
		EntryCount:  binary.LittleEndian.Uint32(buf[8:12]),
		Checksum:    binary.LittleEndian.Uint32(buf[12:16]),
		CreatedAt:   int64(binary.LittleEndian.Uint64(buf[16:24])),
		PayloadSize: int64(binary.LittleEndian.Uint64(buf[24:32])),
	}
}

// Writer creates new snapshot versions for one artifact set (for example
// "lexical" or "semantic") under dataDir.
type Writer struct {
	root string
}

// NewWriter creates a Writer for the named artifact set.
func NewWriter(dataDir string, set string) *Writer {
	return &Writer{root: filepath.Join(dataDir, set)}
}

// Snapshot is an unpublished version being written.
type Snapshot struct {
	root    string
	version string
	tmpDir  string
	written map[string]struct{}
	done    bool
}

// Begin starts a new snapshot version in a temporary directory.
func (w *Writer) Begin() (*Snapshot, error) {
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	version := fmt.Sprintf("%s%d", versionPrefix, time.Now().UnixNano())
	tmpDir := filepath.Join(w.root, version+tmpSuffix)
	if err := os.Mkdir(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("creating temp snapshot directory: %w", err)
	}
	return &Snapshot{
		root:    w.root,
		version: version,
		tmpDir:  tmpDir,
		written: make(map[string]struct{}),
	}, nil
}

// Version returns the name the snapshot will be published under.
func (s *Snapshot) Version() string {
	return s.version
}

// WriteArtifact writes one artifact file with the given payload.
func (s *Snapshot) WriteArtifact(name string, entryCount int, payload []byte) error {
	if s.done {
		return fmt.Errorf("snapshot %s already finished", s.version)
	}
	header := ArtifactHeader{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		EntryCount:  uint32(entryCount),
		Checksum:    crc32.ChecksumIEEE(payload),
		CreatedAt:   time.Now().Unix(),
		PayloadSize: int64(len(payload)),
	}
	path := filepath.Join(s.tmpDir, name+fileExt)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating artifact %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.Write(header.encode()); err != nil {
		return fmt.Errorf("writing header for %s: %w", name, err)
	}
	if _, err := f.Write(payload); err != nil {
		return fmt.Errorf("writing payload for %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing artifact %s: %w", name, err)
	}
	s.written[name] = struct{}{}
	return nil
}

// WriteJSON marshals v and writes it as an artifact.
func (s *Snapshot) WriteJSON(name string, entryCount int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling artifact %s: %w", name, err)
	}
	return s.WriteArtifact(name, entryCount, data)
}

// Commit stages the snapshot and publishes it immediately.
func (s *Snapshot) Commit(required ...string) error {
	staged, err := s.Stage(required...)
	if err != nil {
		return err
	}
	if err := staged.Publish(); err != nil {
		_ = staged.Rollback()
		return err
	}
	return nil
}

// Stage moves the written artifacts into their final version directory
// without touching CURRENT. Every name in required must have been written;
// otherwise nothing is staged and the temporary directory is removed.
func (s *Snapshot) Stage(required ...string) (*Staged, error) {
	if s.done {
		return nil, fmt.Errorf("snapshot %s already finished", s.version)
	}
	for _, name := range required {
		if _, ok := s.written[name]; !ok {
			_ = s.Abort()
			return nil, fmt.Errorf("snapshot %s missing artifact %q", s.version, name)
		}
	}
	previous, err := readPointer(s.root)
	if err != nil {
		_ = s.Abort()
		return nil, err
	}
	s.done = true
	finalDir := filepath.Join(s.root, s.version)
	if err := os.Rename(s.tmpDir, finalDir); err != nil {
		_ = os.RemoveAll(s.tmpDir)
		return nil, fmt.Errorf("renaming snapshot directory: %w", err)
	}
	if err := syncDir(s.root); err != nil {
		_ = os.RemoveAll(finalDir)
		return nil, err
	}
	return &Staged{root: s.root, version: s.version, previous: previous}, nil
}

// Staged is a complete version directory that readers cannot see until
// Publish swaps CURRENT to it.
type Staged struct {
	root      string
	version   string
	previous  string
	published bool
}

func (st *Staged) Version() string {
	return st.version
}

// Previous is the version CURRENT pointed at when the snapshot was staged,
// or "" if nothing was published.
func (st *Staged) Previous() string {
	return st.previous
}

// Publish atomically points CURRENT at the staged version and prunes every
// version other than it and the one it replaced.
func (st *Staged) Publish() error {
	if err := writePointer(st.root, st.version); err != nil {
		return err
	}
	st.published = true
	pruneVersions(st.root, st.version, st.previous)
	return nil
}

// Rollback undoes Stage and, if it ran, Publish: CURRENT goes back to the
// previous version (or is removed when there was none) and the staged
// directory is deleted.
func (st *Staged) Rollback() error {
	if st.published {
		if st.previous == "" {
			if err := os.Remove(filepath.Join(st.root, currentFile)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing snapshot pointer: %w", err)
			}
		} else if err := writePointer(st.root, st.previous); err != nil {
			return fmt.Errorf("restoring snapshot pointer: %w", err)
		}
		st.published = false
	}
	if err := os.RemoveAll(filepath.Join(st.root, st.version)); err != nil {
		return fmt.Errorf("removing staged snapshot: %w", err)
	}
	return nil
}

func readPointer(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading snapshot pointer: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func writePointer(root, version string) error {
	pointerTmp := filepath.Join(root, currentFile+tmpSuffix)
	if err := writeFileSync(pointerTmp, []byte(version+"\n")); err != nil {
		return fmt.Errorf("writing snapshot pointer: %w", err)
	}
	if err := os.Rename(pointerTmp, filepath.Join(root, currentFile)); err != nil {
		return fmt.Errorf("publishing snapshot pointer: %w", err)
	}
	return syncDir(root)
}

// Abort discards an unpublished snapshot.
func (s *Snapshot) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := os.RemoveAll(s.tmpDir); err != nil {
		return fmt.Errorf("removing temp snapshot: %w", err)
	}
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening snapshot directory: %w", err)
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename is still
	// durable enough there.
	_ = d.Sync()
	return nil
}

// pruneVersions removes abandoned temporary directories and every version
// not listed in keep.
func pruneVersions(root string, keep ...string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	kept := make(map[string]struct{}, len(keep))
	for _, v := range keep {
		if v != "" {
			kept[v] = struct{}{}
		}
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, versionPrefix) {
			continue
		}
		if _, ok := kept[name]; ok {
			continue
		}
		_ = os.RemoveAll(filepath.Join(root, name))
	}
}
