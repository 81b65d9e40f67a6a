// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package instance implements InstanceData: the per-container runtime
// object that owns a state machine, a write-once pid, and an
// engine-backed runner hosted in a zygote. Grounded on
// pkg/containerd-shim-v2/container.go's field shape, narrowed from a VM
// sandbox handle down to a zygote handle.
package instance

import "github.com/wasmshim/containerd-shim-wasm-v1/internal/engine"

// Config is the immutable per-instance record built at Create time.
// Any of Stdin/Stdout/Stderr may be empty or point to a non-existent
// path — both are treated as "not wired" by engine.MaybeOpenStdio.
// These paths are recorded and reported (State, TaskCreate) but are not
// sent to the zygote: the zygote's Container opens an empty Stdio, so
// the guest's stdin, stdout and stderr are never wired to them.
type Config struct {
	ID        string
	Bundle    string
	Namespace string
	Stdin     string
	Stdout    string
	Stderr    string
	// Root is the resolved per-instance state directory: the bundle's
	// options.json root when set, else the default derived from engine
	// name, namespace and id (see oci.ResolveRoot).
	Root string
}

// Stdio projects Config's stdio paths into the shape engine.MaybeOpenStdio
// expects.
func (c Config) Stdio() engine.Stdio {
	return engine.Stdio{Stdin: c.Stdin, Stdout: c.Stdout, Stderr: c.Stderr}
}
