// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package task

import (
	"context"
	"os"
	"sync"
	"time"

	eventstypes "github.com/containerd/containerd/api/events"
	apitypes "github.com/containerd/containerd/api/types/task"
	taskAPI "github.com/containerd/containerd/runtime/v2/task"
	ptypes "github.com/gogo/protobuf/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wasmshim/containerd-shim-wasm-v1/internal/engine"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/instance"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/metrics"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/oci"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/state"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/waitable"
	"github.com/wasmshim/containerd-shim-wasm-v1/internal/zygote"
)

var empty = &ptypes.Empty{}

// errUnimplemented covers RPC methods this shim does not support: a
// Wasm container is single-process and cannot exec an additional
// process, pause/resume a VM, or checkpoint, so Exec/Pause/Resume/
// Checkpoint/ResizePty/CloseIO/Update all surface as Unimplemented
// rather than being silently accepted.
var errUnimplemented = status.Error(codes.Unimplemented, "not supported by the wasm shim")

// Service is the ttrpc-facing Task Service: a registry of InstanceData
// keyed by container ID, grounded on pkg/containerd-shim-v2/service.go's
// `service` struct narrowed to this shim's single-engine, single-host
// scope (no hypervisor pid stand-in, no sandbox/pod-container split).
type Service struct {
	mu         sync.RWMutex
	namespace  string
	containers map[string]*instance.Data

	engine    engine.Engine
	publisher *Publisher
	shutdown  *waitable.Cell[struct{}]

	// shutdownFunc is cdshim's own exit trigger, supplied by New when
	// constructed through the cdshim.Shim factory path; it is nil in
	// tests that construct a Service directly via NewService.
	shutdownFunc func()

	// newRunner produces the instance.Runner backing a freshly Created
	// container. Defaults to spawning a real zygote; tests substitute a
	// fake here, the same dependency-injection seam virtcontainers'
	// vcmock gives kata-containers' own service tests.
	newRunner func(ctx context.Context) (instance.Runner, error)

	log *logrus.Entry
}

// NewService constructs a Service bound to namespace and eng, publishing
// lifecycle events through publisher.
func NewService(namespace string, eng engine.Engine, publisher *Publisher, log *logrus.Entry) *Service {
	return &Service{
		namespace:  namespace,
		containers: make(map[string]*instance.Data),
		engine:     eng,
		publisher:  publisher,
		shutdown:   waitable.New[struct{}](),
		log:        log,
		newRunner:  spawnZygoteRunner,
	}
}

// SetRunnerFactory overrides how Create obtains the instance.Runner for
// a new container. Exposed for tests; production callers should rely on
// NewService's default zygote-spawning factory.
func (s *Service) SetRunnerFactory(f func(ctx context.Context) (instance.Runner, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newRunner = f
}

func spawnZygoteRunner(ctx context.Context) (instance.Runner, error) {
	cloneFlags := zygote.CloneFlags(zygote.NSCgroup, zygote.NSIPC, zygote.NSNet, zygote.NSPID, zygote.NSUTS)
	return zygote.Spawn(ctx, selfExecPath(), cloneFlags)
}

// triggerShutdown sets the shutdown cell and, when running under
// cdshim.Run, also invokes its own process-exit callback.
func (s *Service) triggerShutdown() {
	s.shutdown.Set(struct{}{})
	if s.shutdownFunc != nil {
		s.shutdownFunc()
	}
}

// ShutdownCell is observed by the shim's main wait loop; it is set once
// the registry empties after a Delete, or by an explicit Shutdown call.
func (s *Service) ShutdownCell() *waitable.Cell[struct{}] { return s.shutdown }

func observeRPC(name string) func() {
	start := time.Now()
	return func() {
		metrics.RPCDuration.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	}
}

// Create parses the OCI bundle, validates the entrypoint through the
// engine, and registers a new InstanceData. A second Create with the
// same ID fails with AlreadyExists; an unrunnable entrypoint fails with
// InvalidArgument here rather than at Start.
func (s *Service) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (*taskAPI.CreateTaskResponse, error) {
	defer observeRPC("create")()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.containers[r.ID]; exists {
		return nil, toGRPC(AlreadyExistsf("container %s already exists", r.ID))
	}

	runner, err := s.newRunner(ctx)
	if err != nil {
		return nil, toGRPCf(err, "spawn zygote for %s", r.ID)
	}

	opts, _ := oci.ParseOptions(r.Bundle)
	root := oci.ResolveRoot(opts, s.engine.Name(), s.namespace, r.ID)

	if err := runner.Build(r.Bundle, s.namespace, root); err != nil {
		return nil, toGRPCf(InvalidArgumentf("%v", err), "build container %s", r.ID)
	}

	cfg := instance.Config{
		ID:        r.ID,
		Bundle:    r.Bundle,
		Namespace: s.namespace,
		Root:      root,
		Stdin:     r.Stdin,
		Stdout:    r.Stdout,
		Stderr:    r.Stderr,
	}

	data := instance.New(cfg, runner)
	s.containers[r.ID] = data

	s.publisher.Publish(Event{
		Topic:     TopicTaskCreate,
		Namespace: s.namespace,
		Payload: &eventstypes.TaskCreate{
			ContainerID: r.ID,
			Bundle:      r.Bundle,
			Rootfs:      r.Rootfs,
			IO: &eventstypes.TaskIO{
				Stdin:    r.Stdin,
				Stdout:   r.Stdout,
				Stderr:   r.Stderr,
				Terminal: r.Terminal,
			},
			Checkpoint: r.Checkpoint,
			Pid:        0,
		},
	})

	return &taskAPI.CreateTaskResponse{Pid: 0}, nil
}

// Start runs the container's entrypoint and emits TaskStart on success.
func (s *Service) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	defer observeRPC("start")()
	if r.ExecID != "" {
		return nil, errUnimplemented
	}

	data, err := s.lookup(r.ID)
	if err != nil {
		return nil, toGRPC(err)
	}

	pid, err := data.Start(ctx)
	if err != nil {
		return nil, toGRPCf(err, "start %s", r.ID)
	}

	s.publisher.Publish(Event{
		Topic:     TopicTaskStart,
		Namespace: s.namespace,
		Payload:   &eventstypes.TaskStart{ContainerID: r.ID, Pid: uint32(pid)},
	})

	return &taskAPI.StartResponse{Pid: uint32(pid)}, nil
}

// Kill forwards a POSIX signal to the container's entrypoint. r.All
// requests the signal reach every process in the container's cgroup;
// this shim's zygote hosts exactly one process per container (the
// Wasm guest runs inside the zygote itself, never forked further), so
// "every process" and "the one process" already coincide and All needs
// no separate handling.
func (s *Service) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	defer observeRPC("kill")()
	if r.ExecID != "" {
		return nil, errUnimplemented
	}

	data, err := s.lookup(r.ID)
	if err != nil {
		return nil, toGRPC(err)
	}

	if err := data.Kill(int(r.Signal)); err != nil {
		return nil, toGRPCf(err, "kill %s", r.ID)
	}
	return empty, nil
}

// Wait blocks until the container's entrypoint has exited and emits
// TaskExit on every call that observes the exit, so repeated Waits on
// the same container publish the event again.
func (s *Service) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	defer observeRPC("wait")()
	if r.ExecID != "" {
		return nil, errUnimplemented
	}

	data, err := s.lookup(r.ID)
	if err != nil {
		return nil, toGRPC(err)
	}

	result, err := data.Wait(ctx)
	if err != nil {
		return nil, toGRPC(err)
	}

	s.publisher.Publish(Event{
		Topic:     TopicTaskExit,
		Namespace: s.namespace,
		Payload: &eventstypes.TaskExit{
			ContainerID: r.ID,
			ID:          r.ID,
			Pid:         uint32(data.Pid()),
			ExitStatus:  result.Code,
			ExitedAt:    result.ExitedAt,
		},
	})

	return &taskAPI.WaitResponse{ExitStatus: result.Code, ExitedAt: result.ExitedAt}, nil
}

// Delete tears down the instance and removes it from the registry. If
// the registry becomes empty, the shim's shutdown cell is set.
func (s *Service) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	defer observeRPC("delete")()
	if r.ExecID != "" {
		return nil, errUnimplemented
	}

	s.mu.Lock()
	data, ok := s.containers[r.ID]
	if !ok {
		s.mu.Unlock()
		return nil, toGRPC(NotFoundf("container %s not found", r.ID))
	}
	s.mu.Unlock()

	if err := data.Delete(); err != nil {
		return nil, toGRPCf(err, "delete %s", r.ID)
	}

	s.mu.Lock()
	delete(s.containers, r.ID)
	registryEmpty := len(s.containers) == 0
	s.mu.Unlock()

	exitStatus, exitedAt := uint32(exitCodeForcedDelete), time.Now()
	if result, ok := data.WaitTimeout(0); ok {
		exitStatus, exitedAt = result.Code, result.ExitedAt
	}

	s.publisher.Publish(Event{
		Topic:     TopicTaskDelete,
		Namespace: s.namespace,
		Payload: &eventstypes.TaskDelete{
			ContainerID: r.ID,
			Pid:         uint32(data.Pid()),
			ExitStatus:  exitStatus,
			ExitedAt:    exitedAt,
		},
	})

	if registryEmpty {
		s.triggerShutdown()
	}

	return &taskAPI.DeleteResponse{ExitStatus: exitStatus, ExitedAt: exitedAt, Pid: uint32(data.Pid())}, nil
}

// State is a thin read-only accessor over an instance's lifecycle
// status and stdio wiring.
func (s *Service) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	defer observeRPC("state")()
	data, err := s.lookup(r.ID)
	if err != nil {
		return nil, toGRPC(err)
	}

	cfg := data.Config()
	resp := &taskAPI.StateResponse{
		ID:       r.ID,
		Bundle:   cfg.Bundle,
		Pid:      uint32(data.Pid()),
		Status:   toAPIStatus(data.Status()),
		Stdin:    cfg.Stdin,
		Stdout:   cfg.Stdout,
		Stderr:   cfg.Stderr,
		Terminal: false,
	}
	if result, ok := data.WaitTimeout(0); ok {
		resp.ExitStatus = result.Code
		resp.ExitedAt = result.ExitedAt
	}
	return resp, nil
}

// Pids returns the single pid hosted by this container's zygote.
func (s *Service) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	defer observeRPC("pids")()
	data, err := s.lookup(r.ID)
	if err != nil {
		return nil, toGRPC(err)
	}
	return &taskAPI.PidsResponse{
		Processes: []*apitypes.ProcessInfo{{Pid: uint32(data.Pid())}},
	}, nil
}

// Stats delegates to the platform metrics helper keyed by the
// container's cgroup, which lives at a path derived from namespace and
// is host-visible regardless of which namespaces the zygote entered.
func (s *Service) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	defer observeRPC("stats")()
	if _, err := s.lookup(r.ID); err != nil {
		return nil, toGRPC(err)
	}
	stat, err := metrics.ReadStats(s.namespace)
	if err != nil {
		return nil, toGRPCf(err, "read stats for %s", r.ID)
	}
	any, err := ptypes.MarshalAny(stat)
	if err != nil {
		return nil, toGRPCf(err, "marshal stats for %s", r.ID)
	}
	return &taskAPI.StatsResponse{Stats: any}, nil
}

// Shutdown unconditionally sets the shutdown cell.
func (s *Service) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	defer observeRPC("shutdown")()
	s.triggerShutdown()
	return empty, nil
}

// Connect reports this shim's own pid, along with a task pid that
// currently has no single meaningful value across multiple instances
// and is reported as 0; callers needing a specific task's pid should
// use State or Pids instead.
func (s *Service) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	defer observeRPC("connect")()
	return &taskAPI.ConnectResponse{ShimPid: uint32(shimPid()), TaskPid: 0}, nil
}

func (s *Service) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	return nil, errUnimplemented
}
func (s *Service) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	return nil, errUnimplemented
}
func (s *Service) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	return nil, errUnimplemented
}
func (s *Service) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	return nil, errUnimplemented
}
func (s *Service) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	return nil, errUnimplemented
}
func (s *Service) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	return nil, errUnimplemented
}
func (s *Service) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	return nil, errUnimplemented
}

func (s *Service) lookup(id string) (*instance.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.containers[id]
	if !ok {
		return nil, NotFoundf("container %s not found", id)
	}
	return data, nil
}

// exitCodeForcedDelete is returned when a container is deleted before
// ever having reported an exit: 128 + SIGKILL, the same status Cleanup
// reports for a forcibly removed task.
const exitCodeForcedDelete = 128 + 9

func toAPIStatus(st state.Status) apitypes.Status {
	switch st {
	case state.Created:
		return apitypes.StatusCreated
	case state.Starting:
		return apitypes.StatusCreated
	case state.Started:
		return apitypes.StatusRunning
	case state.Exited, state.Deleting:
		return apitypes.StatusStopped
	default:
		return apitypes.StatusUnknown
	}
}

var registerMetricsOnce sync.Once

func init() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(metrics.RPCDuration)
	})
}

func selfExecPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "containerd-shim-wasm-v1"
	}
	return exe
}

func shimPid() int { return os.Getpid() }
