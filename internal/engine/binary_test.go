// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectBinaryType(t *testing.T) {
	module := append([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	assert.Equal(t, BinaryModule, DetectBinaryType(module))

	component := append([]byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00})
	assert.Equal(t, BinaryComponent, DetectBinaryType(component))

	garbage := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	assert.Equal(t, BinaryUnknown, DetectBinaryType(garbage))

	assert.Equal(t, BinaryUnknown, DetectBinaryType([]byte{0x00}))
}

func TestCanHandleLayerAlwaysAccepted(t *testing.T) {
	ep := Entrypoint{Source: Source{Layer: []byte{0x00, 0x61, 0x73, 0x6d}}}
	assert.NoError(t, CanHandle(ep, nil))
}

func TestCanHandleValidWasmFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.wasm")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, 0o644))

	ep := Entrypoint{Source: Source{Path: path}}
	assert.NoError(t, CanHandle(ep, nil))
}

func TestCanHandleInvalidEntrypointRejected(t *testing.T) {
	ep := Entrypoint{Source: Source{Path: "/invalid_entrypoint.wasm"}}
	err := CanHandle(ep, nil)
	require.Error(t, err)
}

func TestCanHandleFallsBackToWat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.wat")
	require.NoError(t, os.WriteFile(path, []byte("(module)"), 0o644))

	ep := Entrypoint{Source: Source{Path: path}}

	called := false
	parse := func(src []byte) error {
		called = true
		assert.Equal(t, "(module)", string(src))
		return nil
	}
	require.NoError(t, CanHandle(ep, parse))
	assert.True(t, called)
}
