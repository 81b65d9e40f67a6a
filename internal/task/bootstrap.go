// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package task

import (
	"context"
	"fmt"
	"os"
	sysexec "os/exec"
	goruntime "runtime"
	"syscall"
	"time"

	"github.com/containerd/containerd/namespaces"
	cdshim "github.com/containerd/containerd/runtime/v2/shim"
	taskAPI "github.com/containerd/containerd/runtime/v2/task"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wasmshim/containerd-shim-wasm-v1/internal/engine"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/oci"
)

// New is the cdshim.Shim factory passed to cdshim.Run, grounded on
// pkg/containerd-shim-v2/service.go's own New: it resolves the ttrpc
// namespace, wires a log-or-containerd event Publisher, and returns a
// Service ready to serve the Task API. eng selects which Engine every
// Create on this process builds instances against.
func New(ctx context.Context, id string, publisher cdshim.Publisher, shutdown func(), eng engine.Engine) (cdshim.Shim, error) {
	ns, found := namespaces.Namespace(ctx)
	if !found {
		return nil, fmt.Errorf("shim namespace cannot be empty")
	}

	log := logrus.WithFields(logrus.Fields{"sandbox": id, "namespace": ns, "pid": os.Getpid()})
	oci.SetLogger(log)

	svc := NewService(ns, eng, NewPublisher(ctx, publisher, log), log)
	svc.shutdownFunc = shutdown
	return svc, nil
}

// StartShim is the binary-level call containerd makes before a ttrpc
// connection exists: reuse a running shim for this bundle's grouping
// key, or spawn and register a fresh one. Grounded verbatim on
// service.StartShim / manager.Start in the teacher.
func (s *Service) StartShim(ctx context.Context, opts cdshim.StartOpts) (_ string, retErr error) {
	bundlePath, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if address, err := existingAddress(ctx, bundlePath, opts.Address); err != nil {
		return "", err
	} else if address != "" {
		if err := cdshim.WriteAddress("address", address); err != nil {
			return "", err
		}
		return address, nil
	}

	cmd, err := newCommand(ctx, opts.ID, opts.ContainerdBinary, opts.Address)
	if err != nil {
		return "", err
	}

	address, err := cdshim.SocketAddress(ctx, opts.Address, opts.ID)
	if err != nil {
		return "", err
	}

	socket, err := cdshim.NewSocket(address)
	if err != nil {
		if !cdshim.SocketEaddrinuse(err) {
			return "", err
		}
		if err := cdshim.RemoveSocket(address); err != nil {
			return "", errors.Wrap(err, "remove already used socket")
		}
		if socket, err = cdshim.NewSocket(address); err != nil {
			return "", err
		}
	}

	defer func() {
		if retErr != nil {
			socket.Close()
			_ = cdshim.RemoveSocket(address)
		}
	}()

	f, err := socket.File()
	if err != nil {
		return "", err
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, f)

	goruntime.LockOSThread()
	startErr := cmd.Start()
	goruntime.UnlockOSThread()
	if startErr != nil {
		return "", startErr
	}

	defer func() {
		if retErr != nil {
			cmd.Process.Kill()
		}
	}()

	if err := cdshim.WritePidFile("shim.pid", cmd.Process.Pid); err != nil {
		return "", err
	}
	if err := cdshim.WriteAddress("address", address); err != nil {
		return "", err
	}
	return address, nil
}

// Cleanup is the binary-level call containerd makes on `delete`, used
// when a shim process never got to run its own Delete RPC (e.g. it
// crashed). It reports the same fixed exit status as a normal forced
// delete, since there is no live registry to consult any more.
func (s *Service) Cleanup(ctx context.Context) (*taskAPI.DeleteResponse, error) {
	return &taskAPI.DeleteResponse{
		ExitStatus: 128 + uint32(syscall.SIGKILL),
		ExitedAt:   time.Now(),
	}, nil
}

// existingAddress returns the socket address of an already-running shim
// sharing this bundle's grouping key, or "" if this bundle is not
// grouped with another container. Grounded on the teacher's getAddress
// (pkg/containerd-shim-v2/utils.go): the address is never read from a
// file in the current bundle — every container in a grouping has its
// own distinct bundle directory, so nothing would ever be there to
// read. Instead it is recomputed deterministically from the shared
// sandbox-id annotation via cdshim.SocketAddress, the same derivation
// the first container's shim used when it originally bound that
// socket, so every later container in the grouping lands on the exact
// same address without any shared state beyond the OCI spec itself.
func existingAddress(ctx context.Context, bundlePath, containerdAddress string) (string, error) {
	spec, err := oci.ParseConfig(bundlePath)
	if err != nil {
		return "", nil
	}
	sandboxID := oci.GroupingKey(spec)
	if sandboxID == "" {
		return "", nil
	}
	return cdshim.SocketAddress(ctx, containerdAddress, sandboxID)
}

// newCommand re-execs the shim binary with the flags containerd itself
// would pass a freshly-started shim, so the respawned process goes
// through the identical -namespace/-address/-publish-binary/-id
// startup path. GOMAXPROCS is capped since this process only brokers
// ttrpc calls and forks zygotes; it never needs scheduler parallelism.
func newCommand(ctx context.Context, id, containerdBinary, containerdAddress string) (*sysexec.Cmd, error) {
	ns, err := namespaces.NamespaceRequired(ctx)
	if err != nil {
		return nil, err
	}
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	args := []string{
		"-namespace", ns,
		"-address", containerdAddress,
		"-publish-binary", containerdBinary,
		"-id", id,
	}
	if opts, ok := ctx.Value(cdshim.OptsKey{}).(cdshim.Opts); ok && opts.Debug {
		args = append(args, "-debug")
	}

	cmd := sysexec.Command(self, args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "GOMAXPROCS=2")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}
