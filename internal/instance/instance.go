// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package instance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wasmshim/containerd-shim-wasm-v1/internal/state"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/waitable"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/zygote"
)

// Runner is the subset of *zygote.Zygote that InstanceData drives. It
// exists so tests can substitute a fake without forking a real process.
type Runner interface {
	Build(bundle, namespace, root string) error
	HostPid() int
	Start() error
	Kill(signal int) error
	Delete() error
	Wait() (uint32, error)
}

var _ Runner = (*zygote.Zygote)(nil)

// ExitResult is the (code, timestamp) pair observed exactly once per
// instance, then replayed to every subsequent Wait call.
type ExitResult struct {
	Code     uint32
	ExitedAt time.Time
}

// Data is the per-container runtime object: one StateMachine, one
// write-once pid, one Runner. Grounded on spec.md §4.5 and
// pkg/containerd-shim-v2/container.go's field layout.
type Data struct {
	mu     sync.Mutex
	cfg    Config
	state  *state.Machine
	runner Runner

	pid  *waitable.Cell[int]
	exit *waitable.Cell[ExitResult]
}

// New constructs a Data bound to runner. Build has already run (or is
// run by the caller immediately after this returns) so that an invalid
// entrypoint surfaces as InvalidArgument on Create, never at Start —
// New itself does not call Build so callers can distinguish a
// bundle-parse failure from a constructor failure.
func New(cfg Config, runner Runner) *Data {
	return &Data{
		cfg:    cfg,
		state:  state.New(),
		runner: runner,
		pid:    waitable.New[int](),
		exit:   waitable.New[ExitResult](),
	}
}

// Config returns the instance's immutable configuration.
func (d *Data) Config() Config { return d.cfg }

// Status returns the current lifecycle state.
func (d *Data) Status() state.Status { return d.state.Status() }

// Pid returns the child pid, or 0 if the instance has not started.
func (d *Data) Pid() int {
	if pid, ok := d.pid.TryGet(); ok {
		return pid
	}
	return 0
}

// Start transitions Created -> Starting, runs the entrypoint, and on
// success transitions Starting -> Started with the real pid recorded.
// On failure to start, the instance moves straight to Exited so a
// caller can still observe it and eventually Delete it.
func (d *Data) Start(ctx context.Context) (int, error) {
	d.mu.Lock()
	if err := d.state.Start(); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	d.mu.Unlock()

	if err := d.runner.Start(); err != nil {
		d.mu.Lock()
		_ = d.state.Stop()
		d.mu.Unlock()
		return 0, fmt.Errorf("start entrypoint: %w", err)
	}

	pid := d.runner.HostPid()
	d.pid.Set(pid)

	d.mu.Lock()
	if err := d.state.Started(); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	d.mu.Unlock()

	go d.awaitExit()

	return pid, nil
}

// awaitExit blocks on the runner's process exit and publishes the
// result exactly once, transitioning Started -> Exited.
func (d *Data) awaitExit() {
	code, err := d.runner.Wait()
	exitedAt := time.Now()
	if err != nil {
		code = 1
	}

	d.mu.Lock()
	_ = d.state.Stop()
	d.mu.Unlock()

	d.exit.Set(ExitResult{Code: code, ExitedAt: exitedAt})
}

// Kill requires the instance be Started; it does not itself change
// state, matching spec.md §4.1 (signals never alter TaskState).
func (d *Data) Kill(signal int) error {
	d.mu.Lock()
	err := d.state.Kill()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.runner.Kill(signal)
}

// Delete requires the instance be Created or Exited. On failure it
// falls back Deleting -> Exited so the caller may retry.
func (d *Data) Delete() error {
	d.mu.Lock()
	if err := d.state.Delete(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	if err := d.runner.Delete(); err != nil {
		d.mu.Lock()
		_ = d.state.Stop()
		d.mu.Unlock()
		return fmt.Errorf("delete instance: %w", err)
	}
	return nil
}

// Wait blocks until the entrypoint exits and returns its result.
// Idempotent: every caller observes the same ExitResult.
func (d *Data) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-d.exit.Done():
		r, _ := d.exit.TryGet()
		return r, nil
	case <-ctx.Done():
		return ExitResult{}, ctx.Err()
	}
}

// WaitTimeout returns the exit result if it completes within d, else
// (zero, false) without altering state.
func (d *Data) WaitTimeout(timeout time.Duration) (ExitResult, bool) {
	if r, ok := d.exit.TryGet(); ok {
		return r, true
	}
	select {
	case <-d.exit.Done():
		r, _ := d.exit.TryGet()
		return r, true
	case <-time.After(timeout):
		return ExitResult{}, false
	}
}
