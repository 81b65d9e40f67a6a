// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package engine defines the narrow capability contracts a concrete Wasm
// runtime implements to be driven by this shim, plus the context value
// handed to every engine call.
//
// Grounded on spec.md §4.3 and, for the Entrypoint/RuntimeContext shape,
// original_source/crates/containerd-shim-wasm/src/sandbox/oci.rs.
package engine

import (
	"io"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Source identifies where Wasm bytes come from: either a path on disk
// (a .wasm or .wat file) or an in-memory OCI image layer.
type Source struct {
	Path  string // set when the entrypoint is a filesystem path
	Layer []byte // set when the entrypoint is an in-memory OCI layer blob
}

// IsLayer reports whether this source is an in-memory layer rather than
// a path.
func (s Source) IsLayer() bool { return s.Layer != nil }

// Entrypoint identifies the Wasm code to execute: source, exported
// function name (default "_start"), and the module name to register.
type Entrypoint struct {
	Source Source
	Func   string
	Name   string
}

// DefaultFunc is used when an entrypoint does not specify a start
// function.
const DefaultFunc = "_start"

// RuntimeContext is a read-only view over the resolved OCI spec handed
// to an Engine or Sandbox implementation.
type RuntimeContext struct {
	Args       []string
	Env        []string
	Entrypoint Entrypoint
	Spec       *specs.Spec
}

// Stdio names the three (possibly empty/unwired) stdio paths resolved
// for a container.
type Stdio struct {
	Stdin  string
	Stdout string
	Stderr string
}

// OpenStdio is the result of resolving Stdio paths into file handles.
// Any of the three may be nil when the corresponding path was empty or
// did not exist ("unwired"), per spec.md §5.
type OpenStdio struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
	Stderr io.WriteCloser
}

// Close closes whichever handles are non-nil.
func (s *OpenStdio) Close() error {
	var firstErr error
	closers := []io.Closer{s.Stdin, s.Stdout, s.Stderr}
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
