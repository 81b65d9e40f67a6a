//go:build linux

// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package zygote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// reexecSentinel is appended to a zygote child's argv so the shim's own
// main() recognizes a re-exec and calls Serve instead of running the
// ordinary task-service bootstrap. Grounded on pkg/containerd-shim-v2's
// self-exec pattern in manager.go, narrowed to the zygote's one use.
const reexecSentinel = "__zygote_serve"

// Dispatcher is the set of operations the zygote's control loop routes
// tagged commands to. internal/zygote/container.go's Container is the
// only implementation; Dispatcher exists so protocol dispatch can be
// tested without a real fork.
type Dispatcher interface {
	Build(bundle, namespace, root string) error
	Pid() (int, error)
	Start() error
	Kill(signal int) error
	Delete() error
}

// Zygote is the shim-side handle to a privileged helper process that
// hosts one Wasm container's namespaces and cgroup. The shim process
// never enters those namespaces itself; it only ever talks to the
// zygote over the control connection established at Spawn.
type Zygote struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	conn      *net.UnixConn
	code      *codec
	namespace string
}

// Spawn forks a new zygote child from execPath (typically the shim's
// own binary, re-exec'd), entering the namespace set selected by
// cloneFlags at clone(2) time. pid namespaces require CLONE_NEWPID to
// be set here rather than joined later: the zygote's very first thread
// must be PID 1 of its namespace.
func Spawn(ctx context.Context, execPath string, cloneFlags uintptr) (*Zygote, error) {
	parentFD, childFD, err := socketpair()
	if err != nil {
		return nil, fmt.Errorf("create control socketpair: %w", err)
	}

	childFile := os.NewFile(uintptr(childFD), "zygote-control")
	defer childFile.Close()

	cmd := exec.CommandContext(ctx, execPath, reexecSentinel)
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: cloneFlags}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		syscall.Close(parentFD)
		return nil, fmt.Errorf("start zygote: %w", err)
	}

	parentFile := os.NewFile(uintptr(parentFD), "zygote-control-parent")
	fc, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("wrap control socket: %w", err)
	}
	conn, ok := fc.(*net.UnixConn)
	if !ok {
		fc.Close()
		cmd.Process.Kill()
		return nil, fmt.Errorf("control socket is not a unix connection")
	}

	return &Zygote{
		cmd:  cmd,
		conn: conn,
		code: newCodec(conn),
	}, nil
}

// socketpair creates a connected pair of stream-mode unix domain sockets
// and returns both file descriptors.
func socketpair() (parent, child int, err error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// call sends req and waits for the matching response. The control
// connection is single-request-at-a-time: InstanceData serializes
// access through its own state machine, so no additional queuing is
// needed here beyond this mutex.
func (z *Zygote) call(req Request) (Response, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if err := z.code.send(req); err != nil {
		return Response{}, fmt.Errorf("send %s command: %w", req.Kind, err)
	}
	resp, err := z.code.recvResponse()
	if err != nil {
		return Response{}, fmt.Errorf("receive %s response: %w", req.Kind, err)
	}
	return resp, nil
}

// Build asks the zygote to parse the OCI bundle, validate its
// entrypoint, create the instance root directory and join the
// container's cgroup, without starting the entrypoint. root is the
// resolved per-instance state directory from oci.ResolveRoot.
func (z *Zygote) Build(bundle, namespace, root string) error {
	resp, err := z.call(Request{Kind: CmdBuild, Bundle: bundle, Namespace: namespace, Root: root})
	if err != nil {
		return err
	}
	if err := resp.Error(); err != nil {
		return err
	}
	z.mu.Lock()
	z.namespace = namespace
	z.mu.Unlock()
	return nil
}

// Pid returns the zygote child's own pid, which doubles as the
// container's pid 1 once namespaces are entered at clone time.
func (z *Zygote) Pid() (int, error) {
	resp, err := z.call(Request{Kind: CmdPid})
	if err != nil {
		return 0, err
	}
	return resp.Pid, resp.Error()
}

// Start runs the container's entrypoint inside the zygote's namespaces.
func (z *Zygote) Start() error {
	resp, err := z.call(Request{Kind: CmdStart})
	if err != nil {
		return err
	}
	return resp.Error()
}

// Kill forwards signal to the zygote's container, which cancels its
// running entrypoint on SIGKILL or SIGTERM and ignores other signals.
func (z *Zygote) Kill(signal int) error {
	resp, err := z.call(Request{Kind: CmdKill, Signal: signal})
	if err != nil {
		return err
	}
	return resp.Error()
}

// HostPid returns the zygote child's pid as seen by the host pid
// namespace — the value the shim's own wait(2)/SIGCHLD handling needs,
// as opposed to Pid's RPC round trip which reports the pid as the
// zygote sees its own process (pid 1 when CLONE_NEWPID was used).
func (z *Zygote) HostPid() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.cmd.Process == nil {
		return 0
	}
	return z.cmd.Process.Pid
}

// Wait blocks until the zygote process itself exits and returns its
// exit code. The zygote's main loop calls os.Exit with the entrypoint's
// exit code once Container's Started channel closes and Wait returns, so
// waiting on the OS process doubles as waiting on the Wasm guest.
func (z *Zygote) Wait() (uint32, error) {
	err := z.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return uint32(exitErr.ExitCode()), nil
	}
	return 0, fmt.Errorf("wait zygote process: %w", err)
}

// Delete tears down the zygote's cgroup and terminates the helper
// process itself. The common case is that the zygote has already
// self-exited once its entrypoint finished (Wait having already
// returned the exit code via cmd.Wait()), so the control connection is
// broken by the time Delete is called; the cgroup is host-visible
// kernel state, so it is reclaimed by path in that case rather than
// treating the broken RPC as a failure.
func (z *Zygote) Delete() error {
	resp, err := z.call(Request{Kind: CmdDelete})
	_ = z.conn.Close()
	if err != nil {
		z.mu.Lock()
		ns := z.namespace
		z.mu.Unlock()
		if ns == "" {
			return nil
		}
		return DeleteCgroupByPath(CgroupPath(ns))
	}
	return resp.Error()
}

// Serve runs the zygote-side control loop, dispatching each decoded
// Request to disp until the connection closes or a Delete has been
// answered. Called from main() when
// os.Args carries reexecSentinel, with conn wrapping fd 3 (the
// ExtraFiles[0] descriptor Spawn passed to the child).
func Serve(conn net.Conn, disp Dispatcher) error {
	code := newCodec(conn)
	for {
		req, err := code.recvRequest()
		if err != nil {
			return err
		}

		var resp Response
		switch req.Kind {
		case CmdBuild:
			resp = errResponse(0, disp.Build(req.Bundle, req.Namespace, req.Root))
		case CmdPid:
			pid, err := disp.Pid()
			resp = errResponse(pid, err)
		case CmdStart:
			resp = errResponse(0, disp.Start())
		case CmdKill:
			resp = errResponse(0, disp.Kill(req.Signal))
		case CmdDelete:
			err := disp.Delete()
			if rerr := code.reply(errResponse(0, err)); rerr != nil {
				return rerr
			}
			return nil
		default:
			resp = errResponse(0, fmt.Errorf("unknown command kind %d", int(req.Kind)))
		}

		if err := code.reply(resp); err != nil {
			return err
		}
	}
}

// IsReexec reports whether argv carries the zygote re-exec sentinel,
// for main() to branch on before the ordinary flag parsing runs.
func IsReexec(argv []string) bool {
	return len(argv) > 1 && argv[1] == reexecSentinel
}

// ControlConn wraps fd 3 (the zygote child's inherited ExtraFiles[0])
// as the net.Conn Serve expects.
func ControlConn() (net.Conn, error) {
	f := os.NewFile(3, "zygote-control-child")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("wrap inherited control fd: %w", err)
	}
	return conn, nil
}
