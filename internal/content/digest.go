// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package content implements the client-facing pieces of the OCI content
// store a shim needs: digest parsing, the blobs/ingests/metadata layout,
// atomic ingest->commit, and a GC lease guard.
//
// Grounded on spec.md §3/§4.3 and original_source's
// crates/containerd-shim-wasm/src/content/mod.rs (Digest/Store/Metadata
// shape, ingest/commit flow) and .../containerd/lease.rs (LeaseGuard).
package content

import (
	"fmt"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// Digest is algorithm:hex, e.g. "sha256:abcd...". It wraps
// opencontainers/go-digest.Digest so parsing/validation reuses the
// ecosystem's own implementation rather than reinventing hex validation.
type Digest struct {
	inner digest.Digest
}

// ParseDigest parses "alg:hex" into a Digest.
func ParseDigest(s string) (Digest, error) {
	if !strings.Contains(s, ":") {
		return Digest{}, fmt.Errorf("invalid digest format: %s", s)
	}
	d, err := digest.Parse(s)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest format: %w", err)
	}
	return Digest{inner: d}, nil
}

// NewDigest builds a Digest from separate algorithm/encoded parts.
func NewDigest(algorithm, encoded string) Digest {
	return Digest{inner: digest.NewDigestFromEncoded(digest.Algorithm(algorithm), encoded)}
}

// FromBytes computes the sha256 Digest of b, used to key precompile
// cache entries by the input Wasm bytes rather than a caller-supplied
// layer id.
func FromBytes(b []byte) Digest {
	return Digest{inner: digest.FromBytes(b)}
}

// Algorithm returns the hash algorithm name, e.g. "sha256".
func (d Digest) Algorithm() string { return string(d.inner.Algorithm()) }

// Encoded returns the hex-encoded hash.
func (d Digest) Encoded() string { return d.inner.Encoded() }

// String renders "alg:hex".
func (d Digest) String() string { return d.inner.String() }

// Equal reports whether two digests are identical.
func (d Digest) Equal(other Digest) bool { return d.inner == other.inner }

// IsZero reports whether d was never set.
func (d Digest) IsZero() bool { return d.inner == "" }

// MarshalText renders d as "alg:hex", so a Digest serializes the same
// way inside JSON metadata sidecars.
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.inner.String()), nil }

// UnmarshalText restores a Digest from its "alg:hex" text form exactly
// as written, so writing then reading a Metadata recovers the original.
func (d *Digest) UnmarshalText(b []byte) error {
	d.inner = digest.Digest(b)
	return nil
}
