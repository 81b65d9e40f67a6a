// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package content

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/containerd/containerd/leases"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDeleter struct {
	deletes int32
}

func (c *countingDeleter) Delete(ctx context.Context, l leases.Lease, opts ...leases.DeleteOpt) error {
	atomic.AddInt32(&c.deletes, 1)
	return nil
}

func TestGuardReleaseDeletesOnce(t *testing.T) {
	d := &countingDeleter{}
	g := NewGuard(d, leases.Lease{ID: "lease-1"})

	require.NoError(t, g.Release(context.Background()))
	require.NoError(t, g.Release(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&d.deletes))
}

func TestMemoryManagerCreateRejectsDuplicateID(t *testing.T) {
	m := NewMemoryManager()
	_, err := m.Create(context.Background(), leases.WithID("l1"))
	require.NoError(t, err)

	_, err = m.Create(context.Background(), leases.WithID("l1"))
	require.Error(t, err)
}

func TestMemoryManagerDeleteThenListIsEmpty(t *testing.T) {
	m := NewMemoryManager()
	l, err := m.Create(context.Background(), leases.WithID("l2"))
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), l))

	out, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGuardFinalizerDeletesWhenDropped(t *testing.T) {
	d := &countingDeleter{}

	func() {
		_ = NewGuard(d, leases.Lease{ID: "lease-2"})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if atomic.LoadInt32(&d.deletes) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.deletes))
}
