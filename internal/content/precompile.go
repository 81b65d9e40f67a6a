// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package content

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PrecompiledLabel builds the content-store label used to look up a
// previously precompiled Wasm blob: "<vendor>/precompiled/<engine>/<hex>".
// Grounded on spec.md §4.3 and original_source's containerd/lease.rs
// cache-key usage.
func PrecompiledLabel(vendor, engine string, cacheKey Digest) string {
	return fmt.Sprintf("%s/precompiled/%s/%s", vendor, engine, cacheKey.Encoded())
}

// LoadOrCompile implements the precompile cache flow from spec.md §4.3:
// if a blob already carries the label, its digest is returned directly;
// otherwise compile is invoked, each non-nil output is ingested and
// committed, and the label is attached atomically to each resulting
// digest through its metadata sidecar. LoadOrCompile takes no lease
// itself; a caller that needs one holds it around the call.
func (s *Store) LoadOrCompile(
	label string,
	layerIDs []string,
	compile func() ([][]byte, error),
) ([]Digest, error) {
	if cached, ok := s.lookupLabel(label); ok {
		return cached, nil
	}

	outputs, err := compile()
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	if len(outputs) != len(layerIDs) {
		return nil, fmt.Errorf("compile returned %d outputs for %d layers", len(outputs), len(layerIDs))
	}

	digests := make([]Digest, len(outputs))
	for i, out := range outputs {
		if out == nil {
			continue
		}
		w, err := s.Writer(layerIDs[i])
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(out); err != nil {
			w.Abort()
			return nil, err
		}
		d, err := w.Commit(Digest{})
		if err != nil {
			return nil, err
		}
		if err := s.WriteMetadata(d, &Metadata{Digest: d, Label: label}); err != nil {
			return nil, err
		}
		digests[i] = d
	}
	return digests, nil
}

// lookupLabel is a linear scan over committed metadata for a matching
// label. Production content stores index labels; this client-side store
// keeps the precompile cache small enough (one label per engine/layer)
// that a scan is the simplest correct implementation.
func (s *Store) lookupLabel(label string) ([]Digest, bool) {
	root := filepath.Join(s.dir, "metadata")
	var found []Digest
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		var m Metadata
		if jerr := json.Unmarshal(raw, &m); jerr != nil {
			return nil
		}
		if m.Label == label {
			found = append(found, m.Digest)
		}
		return nil
	})
	if err != nil || len(found) == 0 {
		return nil, false
	}
	return found, true
}
