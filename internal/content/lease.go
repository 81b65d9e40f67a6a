// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package content

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/containerd/containerd/leases"
	"github.com/containerd/errdefs"
	"github.com/sirupsen/logrus"
)

var leaseLog = logrus.WithField("source", "content/lease")

// Deleter is the subset of containerd/containerd/leases.Manager a
// LeaseGuard needs: deleting a lease by id.
type Deleter interface {
	Delete(ctx context.Context, l leases.Lease, opts ...leases.DeleteOpt) error
}

// Guard is an RAII handle over a content-store GC lease. Release awaits
// the delete; if a Guard is dropped (garbage collected) without an
// explicit Release, a finalizer schedules a best-effort delete instead —
// Go has no async-drop, so a finalizer is the idiomatic stand-in for
// "schedule cleanup on a detached task at drop time" (spec.md §9).
type Guard struct {
	mu       sync.Mutex
	released bool
	client   Deleter
	lease    leases.Lease
}

// NewGuard wraps an already-created lease so its deletion is guaranteed
// on every exit path.
func NewGuard(client Deleter, lease leases.Lease) *Guard {
	g := &Guard{client: client, lease: lease}
	runtime.SetFinalizer(g, finalizeGuard)
	return g
}

// ID returns the lease identifier.
func (g *Guard) ID() string { return g.lease.ID }

// Release deletes the lease and blocks until the delete completes. Safe
// to call more than once; only the first call does work.
func (g *Guard) Release(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil
	}
	g.released = true
	runtime.SetFinalizer(g, nil)
	return g.client.Delete(ctx, g.lease)
}

func finalizeGuard(g *Guard) {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true
	g.mu.Unlock()

	go func() {
		ctx := context.Background()
		if err := g.client.Delete(ctx, g.lease); err != nil {
			leaseLog.WithError(err).WithField("lease", g.lease.ID).Warn("error removing lease")
			return
		}
		leaseLog.WithField("lease", g.lease.ID).Info("removed lease")
	}()
}

// MemoryManager is a minimal, process-local leases.Manager. Real
// containerd daemons back leases.Manager with the bolt-backed metadata
// store (metadata.NewLeaseManager); a zygote child has no access to
// that store and has no GC of its own to coordinate with, so it only
// needs enough bookkeeping to make Guard's create/delete round trip
// meaningful within a single process lifetime.
type MemoryManager struct {
	mu      sync.Mutex
	leases  map[string]leases.Lease
}

// NewMemoryManager returns an empty MemoryManager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{leases: make(map[string]leases.Lease)}
}

func (m *MemoryManager) Create(ctx context.Context, opts ...leases.Opt) (leases.Lease, error) {
	l := leases.Lease{CreatedAt: time.Now()}
	for _, opt := range opts {
		if err := opt(&l); err != nil {
			return leases.Lease{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		return leases.Lease{}, fmt.Errorf("lease id required")
	}
	if _, exists := m.leases[l.ID]; exists {
		return leases.Lease{}, errdefs.ErrAlreadyExists
	}
	m.leases[l.ID] = l
	return l, nil
}

func (m *MemoryManager) Delete(ctx context.Context, l leases.Lease, opts ...leases.DeleteOpt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, l.ID)
	return nil
}

func (m *MemoryManager) List(ctx context.Context, filters ...string) ([]leases.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]leases.Lease, 0, len(m.leases))
	for _, l := range m.leases {
		out = append(out, l)
	}
	return out, nil
}

func (m *MemoryManager) AddResource(ctx context.Context, l leases.Lease, r leases.Resource) error {
	return nil
}

func (m *MemoryManager) DeleteResource(ctx context.Context, l leases.Lease, r leases.Resource) error {
	return nil
}

func (m *MemoryManager) ListResources(ctx context.Context, l leases.Lease) ([]leases.Resource, error) {
	return nil, nil
}
