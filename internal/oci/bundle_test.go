// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package oci

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestParseConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{"ociVersion":"1.0.0","annotations":{"io.kubernetes.cri.sandbox-id":"pod-123"}}`)

	spec, err := ParseConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", spec.Version)
	assert.Equal(t, "pod-123", GroupingKey(spec))
}

func TestParseOptionsMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	opts, err := ParseOptions(dir)
	require.NoError(t, err)
	assert.Equal(t, "", opts.Root)
}

func TestResolveRootPrecedence(t *testing.T) {
	withOverride := &Options{Root: "/custom/root"}
	assert.Equal(t, "/custom/root", ResolveRoot(withOverride, "wasmedge", "default", "c1"))

	assert.Equal(t, "/run/wasmedge/default/c1", ResolveRoot(&Options{}, "wasmedge", "default", "c1"))
	assert.Equal(t, "/run/wasmedge/default/c1", ResolveRoot(nil, "wasmedge", "default", "c1"))
}

func TestGroupingKeyEmptyWhenUnset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{"ociVersion":"1.0.0"}`)
	spec, err := ParseConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "", GroupingKey(spec))
}
