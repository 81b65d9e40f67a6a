//go:build !linux

// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package zygote

import (
	"context"
	"fmt"
	"net"

	"github.com/wasmshim/containerd-shim-wasm-v1/internal/engine"
)

// Zygote is the non-Linux stand-in: namespaces and cgroups are
// Linux-only concepts, so every operation here fails closed rather than
// silently no-opping.
type Zygote struct{}

func Spawn(ctx context.Context, execPath string, cloneFlags uintptr) (*Zygote, error) {
	return nil, fmt.Errorf("zygote: namespace isolation is only supported on linux")
}

func (z *Zygote) Build(bundle, namespace, root string) error { return errUnsupported }
func (z *Zygote) Pid() (int, error)                    { return 0, errUnsupported }
func (z *Zygote) Start() error                         { return errUnsupported }
func (z *Zygote) Kill(signal int) error                { return errUnsupported }
func (z *Zygote) Delete() error                        { return errUnsupported }
func (z *Zygote) HostPid() int                         { return 0 }
func (z *Zygote) Wait() (uint32, error)                { return 0, errUnsupported }

var errUnsupported = fmt.Errorf("zygote: not supported on this platform")

// Container mirrors the Linux Dispatcher shape so callers can reference
// the type, but it can never be constructed off Linux.
type Container struct{}

func NewContainer(eng engine.Engine) *Container { return &Container{} }

func (c *Container) Build(bundle, namespace, root string) error { return errUnsupported }
func (c *Container) Pid() (int, error)                    { return 0, errUnsupported }
func (c *Container) Start() error                         { return errUnsupported }
func (c *Container) Kill(signal int) error                { return errUnsupported }
func (c *Container) Delete() error                        { return errUnsupported }
func (c *Container) Wait() (uint32, error)                 { return 0, errUnsupported }
func (c *Container) Started() <-chan struct{}              { ch := make(chan struct{}); return ch }

func Serve(conn net.Conn, disp Dispatcher) error { return errUnsupported }

func IsReexec(argv []string) bool { return false }

// NSType and CloneFlags mirror the Linux names so callers that build
// clone flags compile here; no flags are ever set.
type NSType string

const (
	NSCgroup NSType = "cgroup"
	NSIPC    NSType = "ipc"
	NSNet    NSType = "net"
	NSPID    NSType = "pid"
	NSUTS    NSType = "uts"
)

func CloneFlags(types ...NSType) uintptr { return 0 }

func ControlConn() (net.Conn, error) { return nil, errUnsupported }

// Dispatcher mirrors the Linux definition so package consumers compile
// unchanged across platforms.
type Dispatcher interface {
	Build(bundle, namespace, root string) error
	Pid() (int, error)
	Start() error
	Kill(signal int) error
	Delete() error
}
