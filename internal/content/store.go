// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
)

// Metadata is the small JSON sidecar recorded alongside each blob.
type Metadata struct {
	Digest Digest `json:"digest"`
	Label  string `json:"label,omitempty"`
}

// Store is a directory-backed content-addressed blob store:
// blobs/<alg>/<hex>, ingests/<id>, metadata/<alg>/<hex>.
type Store struct {
	dir string
}

// NewStore creates (if necessary) the store's directory layout rooted
// at dir.
func NewStore(dir string) (*Store, error) {
	for _, sub := range []string{"blobs/sha256", "ingests", "metadata/sha256"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return &Store{dir: dir}, nil
}

// BlobPath returns the path a committed blob lives at.
func (s *Store) BlobPath(d Digest) string {
	return filepath.Join(s.dir, "blobs", d.Algorithm(), d.Encoded())
}

func (s *Store) metadataPath(d Digest) string {
	return filepath.Join(s.dir, "metadata", d.Algorithm(), d.Encoded())
}

func (s *Store) ingestPath(id string) string {
	return filepath.Join(s.dir, "ingests", id)
}

// Has reports whether a blob with the given digest is already committed.
func (s *Store) Has(d Digest) bool {
	_, err := os.Stat(s.BlobPath(d))
	return err == nil
}

// ReadMetadata loads the metadata sidecar for a digest.
func (s *Store) ReadMetadata(d Digest) (*Metadata, error) {
	raw, err := os.ReadFile(s.metadataPath(d))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &m, nil
}

// WriteMetadata writes the metadata sidecar for a digest.
func (s *Store) WriteMetadata(d Digest, m *Metadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.dir, "metadata", d.Algorithm()), 0o755); err != nil {
		return err
	}
	tmp := s.metadataPath(d) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.metadataPath(d))
}

// Writer opens an ingest target keyed by a caller-chosen id. Concurrent
// ingests under different ids never collide because each writes to its
// own ingest path.
func (s *Store) Writer(id string) (*Writer, error) {
	f, err := os.Create(s.ingestPath(id))
	if err != nil {
		return nil, fmt.Errorf("create ingest %s: %w", id, err)
	}
	return &Writer{store: s, id: id, f: f}, nil
}

// Writer accumulates bytes for one ingest until Commit or Abort.
type Writer struct {
	store *Store
	id    string
	f     *os.File
}

// Write appends to the ingest.
func (w *Writer) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Commit computes the digest of everything written, and — if expected
// is non-zero and does not match — leaves the ingest in place and
// returns an error (spec.md's invariant: an ingest is promoted to a blob
// only when the computed digest equals the caller-supplied expected
// digest). On success the ingest file is atomically renamed into the
// blobs tree.
func (w *Writer) Commit(expected Digest) (Digest, error) {
	if err := w.f.Sync(); err != nil {
		return Digest{}, fmt.Errorf("sync ingest: %w", err)
	}
	if _, err := w.f.Seek(0, 0); err != nil {
		return Digest{}, fmt.Errorf("seek ingest: %w", err)
	}

	digester := digest.SHA256.Digester()
	if err := hashFile(w.f, digester); err != nil {
		return Digest{}, fmt.Errorf("digest ingest: %w", err)
	}
	computed := Digest{inner: digester.Digest()}

	if !expected.IsZero() && !computed.Equal(expected) {
		w.f.Close()
		return Digest{}, fmt.Errorf("digest mismatch: computed %s, expected %s", computed, expected)
	}

	if err := w.f.Close(); err != nil {
		return Digest{}, err
	}

	blobDir := filepath.Join(w.store.dir, "blobs", computed.Algorithm())
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return Digest{}, err
	}
	if err := os.Rename(w.store.ingestPath(w.id), w.store.BlobPath(computed)); err != nil {
		return Digest{}, fmt.Errorf("commit rename: %w", err)
	}
	return computed, nil
}

// Abort discards the ingest without promoting it to a blob.
func (w *Writer) Abort() error {
	w.f.Close()
	return os.Remove(w.store.ingestPath(w.id))
}

func hashFile(f *os.File, digester digest.Digester) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := digester.Hash().Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
