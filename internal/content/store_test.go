// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package content

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestRoundTrip(t *testing.T) {
	d, err := ParseDigest("sha256:" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", d.String())

	again, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.True(t, d.Equal(again))
}

func TestParseDigestRejectsMalformed(t *testing.T) {
	_, err := ParseDigest("not-a-digest")
	require.Error(t, err)
}

func TestCommitAtomicOnSuccess(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	w, err := store.Writer("ingest-1")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)

	d, err := w.Commit(Digest{})
	require.NoError(t, err)
	assert.True(t, store.Has(d))

	_, err = os.Stat(filepath.Join(dir, "ingests", "ingest-1"))
	assert.True(t, os.IsNotExist(err), "ingest file should be gone after commit")
}

func TestCommitRejectsDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	w, err := store.Writer("ingest-2")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)

	wrong := NewDigest("sha256", "0000000000000000000000000000000000000000000000000000000000000")
	_, err = w.Commit(wrong)
	require.Error(t, err)

	// The ingest is left in place rather than promoted to a blob.
	_, statErr := os.Stat(filepath.Join(dir, "ingests", "ingest-2"))
	assert.False(t, os.IsNotExist(statErr), "ingest should remain in place on mismatch")
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	d := NewDigest("sha256", "abc123")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "metadata", "sha256"), 0o755))
	require.NoError(t, store.WriteMetadata(d, &Metadata{Digest: d, Label: "test-label"}))

	got, err := store.ReadMetadata(d)
	require.NoError(t, err)
	assert.Equal(t, "test-label", got.Label)
	assert.True(t, got.Digest.Equal(d))
}

func TestLoadOrCompileCachesByLabel(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	calls := 0
	compile := func() ([][]byte, error) {
		calls++
		return [][]byte{[]byte("compiled-bytes")}, nil
	}

	digests, err := store.LoadOrCompile("vendor/precompiled/wasmedge/deadbeef", []string{"layer-1"}, compile)
	require.NoError(t, err)
	require.Len(t, digests, 1)
	assert.Equal(t, 1, calls)

	digests2, err := store.LoadOrCompile("vendor/precompiled/wasmedge/deadbeef", []string{"layer-1"}, compile)
	require.NoError(t, err)
	assert.Equal(t, digests, digests2)
	assert.Equal(t, 1, calls, "second call should hit the label cache, not recompile")
}

func TestLoadOrCompileDeclinedSlotIsNil(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	compile := func() ([][]byte, error) {
		return [][]byte{nil}, nil
	}
	digests, err := store.LoadOrCompile("vendor/precompiled/wasmtime/cafef00d", []string{"layer-1"}, compile)
	require.NoError(t, err)
	require.Len(t, digests, 1)
	assert.True(t, digests[0].IsZero())
}
