//go:build linux

// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package zygote

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NSType names a Linux namespace kind. mnt and user are deliberately
// absent: Go's multithreaded runtime can fail to setns(2) into those two
// from an arbitrary goroutine (EINVAL), so this package never joins
// them via setns — the same split the teacher's nsenter package
// documents. Nor does CloneFlags request them at spawn time, so a
// zygote shares its parent's mount and user namespaces.
type NSType string

const (
	NSCgroup NSType = "cgroup"
	NSIPC    NSType = "ipc"
	NSNet    NSType = "net"
	NSPID    NSType = "pid"
	NSUTS    NSType = "uts"
)

// cloneFlags maps each joinable namespace type to its CLONE_NEW* flag,
// used when a zygote child spawns into a fresh namespace rather than
// joining an existing one.
var cloneFlags = map[NSType]uintptr{
	NSCgroup: unix.CLONE_NEWCGROUP,
	NSIPC:    unix.CLONE_NEWIPC,
	NSNet:    unix.CLONE_NEWNET,
	NSPID:    unix.CLONE_NEWPID,
	NSUTS:    unix.CLONE_NEWUTS,
}

// CloneFlags ORs together the CLONE_NEW* flags for the given namespace
// types, for use in syscall.SysProcAttr.Cloneflags.
func CloneFlags(types ...NSType) uintptr {
	var flags uintptr
	for _, t := range types {
		flags |= cloneFlags[t]
	}
	return flags
}

func nsPath(pid int, t NSType) string {
	return fmt.Sprintf("/proc/%d/ns/%s", pid, t)
}

// JoinNamespace enters the namespace of the given type hosted at the
// given pid's /proc/<pid>/ns/<type> file. Must be called from a locked
// OS thread (runtime.LockOSThread) dedicated to namespace operations —
// the caller owns that invariant, typically the zygote's single request
// goroutine.
func JoinNamespace(pid int, t NSType) error {
	f, err := os.Open(nsPath(pid, t))
	if err != nil {
		return fmt.Errorf("open namespace file: %w", err)
	}
	defer f.Close()

	if err := unix.Setns(int(f.Fd()), nsCloneFlag(t)); err != nil {
		return fmt.Errorf("setns(%s): %w", t, err)
	}
	return nil
}

func nsCloneFlag(t NSType) int {
	return int(cloneFlags[t])
}
