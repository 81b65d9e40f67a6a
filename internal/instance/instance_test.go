// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package instance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmshim/containerd-shim-wasm-v1/internal/state"
)

type fakeRunner struct {
	hostPid    int
	startErr   error
	killErr    error
	deleteErr  error
	waitCode   uint32
	waitErr    error
	waitSignal chan struct{}
	kills      int32
}

func (f *fakeRunner) Build(bundle, namespace, root string) error { return nil }
func (f *fakeRunner) HostPid() int                          { return f.hostPid }
func (f *fakeRunner) Start() error                          { return f.startErr }
func (f *fakeRunner) Kill(signal int) error {
	atomic.AddInt32(&f.kills, 1)
	return f.killErr
}
func (f *fakeRunner) Delete() error { return f.deleteErr }
func (f *fakeRunner) Wait() (uint32, error) {
	if f.waitSignal != nil {
		<-f.waitSignal
	}
	return f.waitCode, f.waitErr
}

func TestStartTransitionsToStartedAndRecordsPid(t *testing.T) {
	r := &fakeRunner{hostPid: 777, waitSignal: make(chan struct{})}
	d := New(Config{ID: "c1"}, r)

	pid, err := d.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 777, pid)
	assert.Equal(t, 777, d.Pid())
	assert.Equal(t, state.Started, d.Status())

	close(r.waitSignal)
}

func TestStartFailureTransitionsToExited(t *testing.T) {
	r := &fakeRunner{startErr: errors.New("engine rejected entrypoint")}
	d := New(Config{ID: "c2"}, r)

	_, err := d.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, state.Exited, d.Status())
}

func TestKillRequiresStarted(t *testing.T) {
	r := &fakeRunner{}
	d := New(Config{ID: "c3"}, r)

	err := d.Kill(9)
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&r.kills))
}

func TestKillForwardsToRunnerWhenStarted(t *testing.T) {
	r := &fakeRunner{waitSignal: make(chan struct{})}
	d := New(Config{ID: "c4"}, r)
	_, err := d.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.Kill(9))
	assert.Equal(t, int32(1), atomic.LoadInt32(&r.kills))
	close(r.waitSignal)
}

func TestDeleteRequiresCreatedOrExited(t *testing.T) {
	r := &fakeRunner{waitSignal: make(chan struct{})}
	d := New(Config{ID: "c5"}, r)
	_, err := d.Start(context.Background())
	require.NoError(t, err)

	err = d.Delete()
	require.Error(t, err, "delete should be rejected while Started")
	close(r.waitSignal)
}

func TestDeleteFromCreatedSucceeds(t *testing.T) {
	r := &fakeRunner{}
	d := New(Config{ID: "c6"}, r)
	require.NoError(t, d.Delete())
}

func TestDeleteFailureFallsBackToExited(t *testing.T) {
	r := &fakeRunner{deleteErr: errors.New("cgroup busy")}
	d := New(Config{ID: "c7"}, r)

	err := d.Delete()
	require.Error(t, err)
	assert.Equal(t, state.Exited, d.Status())

	// Retrying Delete from Exited is legal.
	r.deleteErr = nil
	require.NoError(t, d.Delete())
}

func TestWaitObservesExitAfterStart(t *testing.T) {
	r := &fakeRunner{waitCode: 42}
	d := New(Config{ID: "c8"}, r)
	_, err := d.Start(context.Background())
	require.NoError(t, err)

	result, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(42), result.Code)
	assert.Equal(t, state.Exited, d.Status())
}

func TestWaitIsIdempotent(t *testing.T) {
	r := &fakeRunner{waitCode: 7}
	d := New(Config{ID: "c9"}, r)
	_, err := d.Start(context.Background())
	require.NoError(t, err)

	first, err := d.Wait(context.Background())
	require.NoError(t, err)
	second, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWaitTimeoutReturnsFalseWithoutExit(t *testing.T) {
	r := &fakeRunner{waitSignal: make(chan struct{})}
	d := New(Config{ID: "c10"}, r)
	_, err := d.Start(context.Background())
	require.NoError(t, err)

	_, ok := d.WaitTimeout(20 * time.Millisecond)
	assert.False(t, ok)
	close(r.waitSignal)
}
