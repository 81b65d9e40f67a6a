//go:build linux

// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package zygote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/engine"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/oci"
)

// Container is the Dispatcher hosted inside a zygote child: one OCI
// bundle, one cgroup, one running (or not yet started) Wasm entrypoint.
// It lives entirely on the zygote side of the control connection — the
// shim process only ever sees it through Zygote's RPC wrappers.
type Container struct {
	mu     sync.Mutex
	engine engine.Engine

	bundle    string
	namespace string
	root      string
	rctx      *engine.RuntimeContext
	cgroup    *CgroupController

	cancel    context.CancelFunc
	done      chan struct{}
	startedCh chan struct{}
	exitCode  uint32
	runErr    error
	started   bool
}

// NewContainer returns a Container that will run its entrypoint through
// eng once Build and Start are called.
func NewContainer(eng engine.Engine) *Container {
	return &Container{engine: eng, startedCh: make(chan struct{})}
}

// Build parses the OCI bundle and creates the container's cgroup and
// root state directory. It does not start the entrypoint; the zygote's
// own namespaces were already entered at clone(2) time by Spawn's
// SysProcAttr.Cloneflags. root is the fully-resolved per-instance state
// directory from oci.ResolveRoot (engine name / namespace / id already
// joined in by the caller), mirroring construct_instance_root's
// create-if-missing semantics in the original sandbox/instance_utils.rs.
func (c *Container) Build(bundle, namespace, root string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	spec, err := oci.ParseConfig(bundle)
	if err != nil {
		return fmt.Errorf("parse bundle config: %w", err)
	}

	rctx, err := buildRuntimeContext(spec)
	if err != nil {
		return err
	}

	if err := engine.CanHandle(rctx.Entrypoint, nil); err != nil {
		return fmt.Errorf("entrypoint rejected: %w", err)
	}

	if root != "" {
		if err := os.MkdirAll(root, 0o711); err != nil {
			return fmt.Errorf("create instance root %s: %w", root, err)
		}
	}

	cgPath := CgroupPath(namespace)
	var resources *specs.LinuxResources
	if spec.Linux != nil {
		resources = spec.Linux.Resources
	}
	cg, err := NewCgroupController(cgPath, resources)
	if err != nil {
		return fmt.Errorf("create cgroup: %w", err)
	}
	if err := cg.AddProcess(os.Getpid()); err != nil {
		return fmt.Errorf("join cgroup: %w", err)
	}

	c.bundle = bundle
	c.namespace = namespace
	c.root = root
	c.rctx = rctx
	c.cgroup = cg
	return nil
}

// Pid returns this zygote process's own pid, which is pid 1 of its
// pid namespace when CLONE_NEWPID was requested at Spawn.
func (c *Container) Pid() (int, error) {
	return os.Getpid(), nil
}

// Start runs the entrypoint through the configured Engine in a
// background goroutine, recording its exit code for a later Wait.
func (c *Container) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("container already started")
	}
	if c.rctx == nil {
		c.mu.Unlock()
		return fmt.Errorf("container not built")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	rctx := c.rctx
	eng := c.engine
	done := c.done
	c.mu.Unlock()
	close(c.startedCh)

	stdio, err := engine.MaybeOpenStdio(engine.Stdio{})
	if err != nil {
		cancel()
		return fmt.Errorf("open stdio: %w", err)
	}

	go func() {
		defer close(done)
		code, runErr := eng.Run(ctx, rctx, *stdio)
		c.mu.Lock()
		c.exitCode = code
		c.runErr = runErr
		c.mu.Unlock()
	}()
	return nil
}

// Kill cancels the entrypoint's context. Engines are expected to treat
// context cancellation as the signal to unwind and return promptly;
// numeric POSIX signal semantics beyond SIGKILL/SIGTERM-as-cancel have
// no meaning for an in-process Wasm guest.
func (c *Container) Kill(signal int) error {
	c.mu.Lock()
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()

	if !started {
		return fmt.Errorf("container not started")
	}
	if signal == int(syscall.SIGKILL) || signal == int(syscall.SIGTERM) {
		cancel()
		return nil
	}
	// Any other signal is accepted but has no effect on a library-hosted
	// Wasm guest; only process-shaped entrypoints could honor it.
	return nil
}

// Delete tears down the cgroup. The caller is expected to have already
// observed the entrypoint's exit (via Wait) before calling Delete.
func (c *Container) Delete() error {
	c.mu.Lock()
	cg := c.cgroup
	c.mu.Unlock()

	if cg == nil {
		return nil
	}
	return cg.Delete()
}

// Started returns a channel closed once Start has begun running the
// entrypoint, so a caller can wait for Wait to become meaningful
// without racing Start from another goroutine.
func (c *Container) Started() <-chan struct{} {
	return c.startedCh
}

// Wait blocks until the entrypoint has exited and returns its exit
// code. It is not exposed over the wire protocol: the zygote's own main
// loop calls it to pick its process exit code, and InstanceData observes
// completion by waiting on the zygote process (Zygote.Wait) instead.
func (c *Container) Wait() (uint32, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return 0, fmt.Errorf("container not started")
	}
	<-done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode, c.runErr
}

// CgroupPath places every container of a namespace under a common
// parent, mirroring the teacher's per-sandbox cgroup layout. It is a
// pure function of namespace so the shim process can recompute the
// same path the zygote used, without needing a handle into the
// zygote's address space, to read stats after the fact.
func CgroupPath(namespace string) string {
	return fmt.Sprintf("/wasmshim/%s", namespace)
}

// buildRuntimeContext derives an engine.RuntimeContext from the parsed
// OCI spec: args/env come from spec.Process, and the entrypoint's
// source#func split follows SPEC_FULL.md's Entrypoint convention.
func buildRuntimeContext(spec *specs.Spec) (*engine.RuntimeContext, error) {
	if spec.Process == nil || len(spec.Process.Args) == 0 {
		return nil, fmt.Errorf("oci spec has no process.args entrypoint")
	}

	source, fn := splitEntrypoint(spec.Process.Args[0])
	ep := engine.Entrypoint{
		Source: engine.Source{Path: source},
		Func:   fn,
		Name:   filepath.Base(source),
	}

	return &engine.RuntimeContext{
		Args:       spec.Process.Args,
		Env:        spec.Process.Env,
		Entrypoint: ep,
		Spec:       spec,
	}, nil
}

// splitEntrypoint divides "path#func" into its path and function name,
// defaulting the function to engine.DefaultFunc when no '#' is present.
func splitEntrypoint(arg string) (path, fn string) {
	for i := 0; i < len(arg); i++ {
		if arg[i] == '#' {
			return arg[:i], arg[i+1:]
		}
	}
	return arg, engine.DefaultFunc
}
