// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"context"
	"fmt"
	"os"

	cdshim "github.com/containerd/containerd/runtime/v2/shim"

	"github.com/wasmshim/containerd-shim-wasm-v1/internal/content"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/task"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/wazeroengine"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/zygote"
)

const shimID = "io.containerd.wasmshim.v1"

// version/revision are overridden at link time via -ldflags, matching
// the teacher's cli/containerd-shim-kata-v2/main.go --version handling.
var (
	version  = "0.0.0-dev"
	revision = "unknown"
)

func shimConfig(config *cdshim.Config) {
	config.NoReaper = true
	config.NoSubreaper = true
}

func main() {
	if zygote.IsReexec(os.Args) {
		runZygote()
		return
	}

	if len(os.Args) == 2 && os.Args[1] == "--version" {
		fmt.Printf("%s containerd shim: id: %q, version: %s, commit: %v\n", shimID, shimID, version, revision)
		os.Exit(0)
	}

	cdshim.Run(shimID, newShim, shimConfig)
}

// newShim adapts task.New to the exact cdshim.Shim factory signature
// cdshim.Run requires, binding it to the wazero engine this binary
// ships with.
func newShim(ctx context.Context, id string, publisher cdshim.Publisher, shutdown func()) (cdshim.Shim, error) {
	return task.New(ctx, id, publisher, shutdown, wazeroengine.New())
}

// runZygote is the re-exec entry point: Spawn re-execs this same binary
// with the zygote sentinel argument and CLONE_NEW* namespace flags
// already applied at clone(2) time, so by the time this function runs
// the process is already inside its own namespaces. It serves the
// control protocol over the inherited fd 3 until the entrypoint exits
// or an explicit Delete arrives, whichever happens first.
func runZygote() {
	container := zygote.NewContainer(newZygoteEngine())

	go func() {
		<-container.Started()
		code, _ := container.Wait()
		os.Exit(int(code))
	}()

	conn, err := zygote.ControlConn()
	if err != nil {
		fmt.Fprintln(os.Stderr, "zygote: control connection:", err)
		os.Exit(1)
	}

	if err := zygote.Serve(conn, container); err != nil {
		fmt.Fprintln(os.Stderr, "zygote: serve:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// newZygoteEngine wires the wazero engine to a local content store that
// records the resolved entrypoint bytes under a precompile-cache label;
// the entrypoint path is still resolved on every Run. The store lives in
// a per-process directory, /run/wasmshim/cache/<pid>, rather than a
// shared location: each zygote only ever runs one container for its
// lifetime, so it is not shared across processes.
func newZygoteEngine() *wazeroengine.Engine {
	dir := fmt.Sprintf("/run/wasmshim/cache/%d", os.Getpid())
	store, err := content.NewStore(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "zygote: precompile cache disabled:", err)
		return wazeroengine.New()
	}
	return wazeroengine.NewWithCache(store, content.NewMemoryManager())
}
