//go:build linux

// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package zygote

import (
	"fmt"

	"github.com/containerd/cgroups"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// CgroupController places and tears down processes in a cgroupfs
// hierarchy. Narrowed from pkg/resourcecontrol.ResourceController to the
// handful of operations the zygote actually drives: a Wasm container's
// cgroup is created once at build() time and torn down once at
// delete(), with no live device/cpuset updates in between.
type CgroupController struct {
	path    string
	cgroup  cgroups.Cgroup
}

// NewCgroupController creates (or re-attaches to) a cgroupfs hierarchy
// rooted at path, applying the given resource limits.
func NewCgroupController(path string, resources *specs.LinuxResources) (*CgroupController, error) {
	cg, err := cgroups.New(cgroups.V1, cgroups.StaticPath(path), resources)
	if err != nil {
		return nil, fmt.Errorf("create cgroup %s: %w", path, err)
	}
	return &CgroupController{path: path, cgroup: cg}, nil
}

// AddProcess places pid's process into every subsystem of this cgroup.
func (c *CgroupController) AddProcess(pid int) error {
	return c.cgroup.Add(cgroups.Process{Pid: pid})
}

// Delete removes the cgroup hierarchy.
func (c *CgroupController) Delete() error {
	return c.cgroup.Delete()
}

// Path returns the cgroup's filesystem path, for diagnostics.
func (c *CgroupController) Path() string { return c.path }

// DeleteCgroupByPath reclaims a cgroup the shim process did not itself
// create, used when the zygote that owns it has already exited: the
// cgroup is host-visible kernel state addressable by path, so deleting
// it needs no live handle into the zygote's address space. A cgroup
// that is already gone (e.g. cleaned up by a previous Delete attempt)
// is not an error.
func DeleteCgroupByPath(path string) error {
	cg, err := cgroups.Load(cgroups.V1, cgroups.StaticPath(path))
	if err != nil {
		if err == cgroups.ErrCgroupDeleted {
			return nil
		}
		return fmt.Errorf("load cgroup %s: %w", path, err)
	}
	if err := cg.Delete(); err != nil && err != cgroups.ErrCgroupDeleted {
		return fmt.Errorf("delete cgroup %s: %w", path, err)
	}
	return nil
}
