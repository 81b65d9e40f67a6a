// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package wazeroengine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/containerd/containerd/leases"
	"github.com/containerd/errdefs"
	digest "github.com/opencontainers/go-digest"
	imagespec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/wasmshim/containerd-shim-wasm-v1/internal/content"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/engine"
)

var _ engine.Compiler = (*Engine)(nil)

// CacheKey ties every precompile-cache label this Engine writes to its
// own vendored wazero release: bumping the dependency changes the key,
// so a stale cache entry from a prior wazero version is never reused.
func (e *Engine) CacheKey() digest.Digest {
	version := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			if dep.Path == "github.com/tetratelabs/wazero" {
				version = dep.Version
			}
		}
	}
	return digest.FromString("wazero-module-cache-v1/" + version)
}

// Compile satisfies engine.Compiler for the generic registry-layer
// precompilation path. wazero has no portable serialized-module format
// in its public API, so there is no AOT artifact to hand back here;
// every layer declines precompilation (a nil slot, per Compiler's own
// contract) rather than fabricating one. The cache this engine actually
// exercises is the resolved-entrypoint path in Run/loadOrCache below,
// which caches validated local bytes rather than registry layers.
func (e *Engine) Compile(ctx context.Context, layers []imagespec.Descriptor) ([][]byte, error) {
	return make([][]byte, len(layers)), nil
}

// loadOrCache ingests wasmBytes into the content store under a label
// keyed by their own digest, guarded by a lease for the duration of the
// ingest so a crash mid-write never leaves an orphaned blob GC can't
// see. A second call with identical bytes finds the label already
// attached and does not ingest them again. Either way it returns
// wasmBytes unchanged: the blob under that label is keyed by their own
// digest, so it holds the same bytes.
func (e *Engine) loadOrCache(ctx context.Context, wasmBytes []byte) ([]byte, error) {
	key := content.FromBytes(wasmBytes)
	label := content.PrecompiledLabel("wasmshim", e.Name(), key)

	lease, err := e.leases.Create(ctx, leases.WithID(label))
	if err != nil && !errdefs.IsAlreadyExists(err) {
		return nil, fmt.Errorf("create lease: %w", err)
	}
	guard := content.NewGuard(e.leases, lease)
	defer guard.Release(ctx)

	if _, err := e.store.LoadOrCompile(label, []string{key.Encoded()}, func() ([][]byte, error) {
		return [][]byte{wasmBytes}, nil
	}); err != nil {
		return nil, err
	}
	return wasmBytes, nil
}
