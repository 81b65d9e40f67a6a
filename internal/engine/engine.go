// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package engine

import (
	"context"

	digest "github.com/opencontainers/go-digest"
	imagespec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Sandbox is the "sandbox-style" engine flavor: the engine itself
// handles process isolation and runs the Wasm module directly.
type Sandbox interface {
	// Name identifies the engine, e.g. "wasmedge", "wasmtime", "wasmer".
	Name() string

	// CanHandle validates that ctx's entrypoint is runnable by this
	// engine. A rejection here surfaces as InvalidArgument on Create,
	// never at Start.
	CanHandle(ctx context.Context, rctx *RuntimeContext) error

	// RunWasi executes the module and returns its exit code.
	RunWasi(ctx context.Context, rctx *RuntimeContext, io OpenStdio) (uint32, error)
}

// Engine is the "container-style" flavor: a native OCI container is
// constructed by the zygote and this engine is exec'd as its init
// process.
type Engine interface {
	Name() string

	// Run executes the module as the container's init process.
	Run(ctx context.Context, rctx *RuntimeContext, io OpenStdio) (uint32, error)

	// SupportedLayerTypes lists the OCI media types this engine accepts
	// as precompiled or executable image layers.
	SupportedLayerTypes() []string
}

// Compiler is an optional capability: an engine that can precompile Wasm
// layers ahead of time and cache the result in the content store.
type Compiler interface {
	// CacheKey identifies the compiler's output format/version; combined
	// with the engine name to form the content-store label
	// "<vendor>/precompiled/<engine>/<hex(cache_key)>".
	CacheKey() digest.Digest

	// Compile returns one optional output slot per input layer. A nil
	// entry means precompilation declined for that layer.
	Compile(ctx context.Context, layers []imagespec.Descriptor) ([][]byte, error)
}
