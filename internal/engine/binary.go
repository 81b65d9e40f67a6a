// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package engine

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// BinaryType tags whether resolved Wasm bytes are a core module or a
// component.
type BinaryType int

const (
	// BinaryUnknown fails validation before Create returns.
	BinaryUnknown BinaryType = iota
	BinaryModule
	BinaryComponent
)

func (b BinaryType) String() string {
	switch b {
	case BinaryModule:
		return "module"
	case BinaryComponent:
		return "component"
	default:
		return "unknown"
	}
}

// wasmMagic is the four magic bytes every binary Wasm module or
// component starts with.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// componentVersionMarker is the low byte of the version field (byte 4 of
// the binary header) that a component carries, per the component-model
// binary convention; a core module carries version 0x01 0x00 there.
const componentVersionMarker = 0x0d

// DetectBinaryType inspects the first eight bytes of a Wasm binary and
// classifies it as a core module or a component.
func DetectBinaryType(header []byte) BinaryType {
	if len(header) < 8 || !bytes.Equal(header[:4], wasmMagic) {
		return BinaryUnknown
	}
	if header[4] == 0x01 && header[5] == 0x00 {
		return BinaryModule
	}
	if header[4] == componentVersionMarker {
		return BinaryComponent
	}
	return BinaryUnknown
}

// ResolvePath resolves an entrypoint source path against $PATH and the
// current working directory, mirroring can_handle's default resolution
// order in spec.md §4.3.
func ResolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}

	if resolved, err := exec.LookPath(path); err == nil {
		return resolved, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(cwd, path)
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("resolve entrypoint %q: %w", path, err)
	}
	return candidate, nil
}

// WatParser attempts to parse a byte slice as WebAssembly text format.
// The concrete Wasm engine linked into the shim binary supplies the
// implementation; this package only defines the contract so that
// can_handle's default algorithm (§4.3) stays engine-agnostic.
type WatParser func(src []byte) error

// CanHandle implements the default can_handle algorithm from spec.md
// §4.3: an in-memory OCI layer is always accepted; otherwise the path is
// resolved, its first 4 bytes are checked against the Wasm magic, and on
// mismatch a Wat parse is attempted before rejecting.
func CanHandle(ep Entrypoint, parseWat WatParser) error {
	if ep.Source.IsLayer() {
		return nil
	}

	resolved, err := ResolvePath(ep.Source.Path)
	if err != nil {
		return fmt.Errorf("invalid entrypoint: %w", err)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return fmt.Errorf("invalid entrypoint: %w", err)
	}
	defer f.Close()

	header := make([]byte, 4)
	n, _ := f.Read(header)
	if n == 4 && bytes.Equal(header, wasmMagic) {
		return nil
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("invalid entrypoint: %w", err)
	}
	if parseWat == nil {
		return fmt.Errorf("invalid entrypoint %q: not a wasm binary and no wat parser configured", ep.Source.Path)
	}
	if err := parseWat(raw); err != nil {
		return fmt.Errorf("invalid entrypoint %q: %w", ep.Source.Path, err)
	}
	return nil
}
