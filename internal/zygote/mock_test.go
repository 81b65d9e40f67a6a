//go:build linux

// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package zygote

import (
	"github.com/containerd/cgroups"
	v1 "github.com/containerd/cgroups/stats/v1"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// mockCgroup is an empty github.com/containerd/cgroups Cgroup
// implementation, for testing and mocking purposes. Grounded on
// virtcontainers/pkg/cgroups/mock.go, the teacher's own stand-in for
// driving Cgroup-consuming code without a real cgroupfs mount.
type mockCgroup struct {
	subsystems []cgroups.Subsystem
}

func (c *mockCgroup) New(name string, resources *specs.LinuxResources) (cgroups.Cgroup, error) {
	return &mockCgroup{}, nil
}
func (c *mockCgroup) Subsystems() []cgroups.Subsystem { return c.subsystems }
func (c *mockCgroup) Add(process cgroups.Process) error     { return nil }
func (c *mockCgroup) AddProc(pid uint64) error               { return nil }
func (c *mockCgroup) AddTask(process cgroups.Process) error { return nil }
func (c *mockCgroup) Delete() error                          { return nil }
func (c *mockCgroup) Stat(handlers ...cgroups.ErrorHandler) (*v1.Metrics, error) {
	return nil, nil
}
func (c *mockCgroup) Update(resources *specs.LinuxResources) error { return nil }
func (c *mockCgroup) Processes(subsystem cgroups.Name, recursive bool) ([]cgroups.Process, error) {
	return nil, nil
}
func (c *mockCgroup) Tasks(subsystem cgroups.Name, recursive bool) ([]cgroups.Task, error) {
	return nil, nil
}
func (c *mockCgroup) Freeze() error { return nil }
func (c *mockCgroup) Thaw() error   { return nil }
func (c *mockCgroup) OOMEventFD() (uintptr, error) { return 0, nil }
func (c *mockCgroup) RegisterMemoryEvent(event cgroups.MemoryEvent) (uintptr, error) {
	return 0, nil
}
func (c *mockCgroup) State() cgroups.State                 { return cgroups.Unknown }
func (c *mockCgroup) MoveTo(destination cgroups.Cgroup) error { return nil }

// newMockCgroupController builds a CgroupController backed by a
// mockCgroup, so Container tests can exercise Build/Delete's cgroup
// plumbing without a real cgroupfs mount or root privileges.
func newMockCgroupController(path string) *CgroupController {
	return &CgroupController{path: path, cgroup: &mockCgroup{}}
}
