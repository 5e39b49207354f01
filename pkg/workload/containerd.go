package workload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace the workload lives in
	DefaultNamespace = "k8s.io"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultStopTimeout is the grace period before SIGKILL
	DefaultStopTimeout = 10 * time.Second
)

// ContainerdConfig configures the containerd-backed runtime
type ContainerdConfig struct {
	SocketPath  string
	Namespace   string
	ContainerID string
	// HostRoot is the host directory bind-mounted at "/" paths the operator
	// manages (config, auth file and certificates)
	HostRoot    string
	StopTimeout time.Duration
}

// ContainerdRuntime drives a single pre-created container through containerd
type ContainerdRuntime struct {
	client      *containerd.Client
	namespace   string
	containerID string
	hostRoot    string
	stopTimeout time.Duration
}

// NewContainerdRuntime connects to containerd
func NewContainerdRuntime(cfg ContainerdConfig) (*ContainerdRuntime, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.ContainerID == "" {
		return nil, errors.New("container id is required")
	}

	client, err := containerd.New(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:      client,
		namespace:   cfg.Namespace,
		containerID: cfg.ContainerID,
		hostRoot:    cfg.HostRoot,
		stopTimeout: cfg.StopTimeout,
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// CanConnect reports whether containerd is serving and knows the container
func (r *ContainerdRuntime) CanConnect(ctx context.Context) bool {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	serving, err := r.client.IsServing(ctx)
	if err != nil || !serving {
		return false
	}
	_, err = r.client.LoadContainer(ctx, r.containerID)
	return err == nil
}

// Start creates and starts a task unless one is already running
func (r *ContainerdRuntime) Start(ctx context.Context) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, r.containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", r.containerID, err)
	}

	// Reuse a running task, clear out an exited one
	if task, err := container.Task(ctx, nil); err == nil {
		status, err := task.Status(ctx)
		if err == nil && status.Status == containerd.Running {
			return nil
		}
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil {
			return fmt.Errorf("failed to delete stale task: %w", err)
		}
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}

	return nil
}

// Stop terminates the running task, escalating to SIGKILL after the timeout
func (r *ContainerdRuntime) Stop(ctx context.Context) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, r.containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", r.containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task, nothing to stop
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
	defer cancel()

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	return nil
}

// Restart stops and starts the task
func (r *ContainerdRuntime) Restart(ctx context.Context) error {
	if err := r.Stop(ctx); err != nil {
		return err
	}
	return r.Start(ctx)
}

// Running reports whether the task is in the running state
func (r *ContainerdRuntime) Running(ctx context.Context) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, r.containerID)
	if err != nil {
		return false, fmt.Errorf("failed to load container %s: %w", r.containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the service is not running
		return false, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get task status: %w", err)
	}

	return status.Status == containerd.Running, nil
}

// Exec runs a process inside the running task and collects its output
func (r *ContainerdRuntime) Exec(ctx context.Context, args []string, env map[string]string, cwd string) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, r.containerID)
	if err != nil {
		return "", fmt.Errorf("failed to load container %s: %w", r.containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("no running task for %s: %w", r.containerID, err)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load container spec: %w", err)
	}
	if spec.Process == nil {
		return "", errors.New("container spec has no process")
	}

	pspec := execProcess(spec.Process, args, env, cwd)

	out := &lockedBuffer{}
	process, err := task.Exec(ctx, "exec-"+uuid.NewString(), pspec, cio.NewCreator(cio.WithStreams(nil, out, out)))
	if err != nil {
		return "", fmt.Errorf("failed to create exec process: %w", err)
	}
	defer func() {
		_, _ = process.Delete(ctx)
	}()

	statusC, err := process.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to wait for exec process: %w", err)
	}

	if err := process.Start(ctx); err != nil {
		return "", fmt.Errorf("failed to start exec process: %w", err)
	}

	var status containerd.ExitStatus
	select {
	case status = <-statusC:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	process.IO().Wait()

	code, _, err := status.Result()
	if err != nil {
		return out.String(), &ExecError{Command: args, Output: out.String(), Err: err}
	}
	if code != 0 {
		return out.String(), &ExecError{Command: args, ExitCode: int(code), Output: out.String()}
	}

	return out.String(), nil
}

// execProcess derives an exec process from the container's main process:
// same user and capabilities, no terminal, env extended in key order
func execProcess(base *specs.Process, args []string, env map[string]string, cwd string) *specs.Process {
	p := *base
	p.Terminal = false
	p.Args = args
	if cwd != "" {
		p.Cwd = cwd
	}
	p.Env = append([]string(nil), base.Env...)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Env = append(p.Env, k+"="+env[k])
	}
	return &p
}

// Exists checks a workload path through the host bind mount
func (r *ContainerdRuntime) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(r.hostPath(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ReadFile pulls a workload file through the host bind mount
func (r *ContainerdRuntime) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(r.hostPath(path))
}

// WriteFile pushes a workload file through the host bind mount
func (r *ContainerdRuntime) WriteFile(_ context.Context, path string, data []byte) error {
	target := r.hostPath(path)
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return os.WriteFile(target, data, 0640)
}

func (r *ContainerdRuntime) hostPath(path string) string {
	return filepath.Join(r.hostRoot, filepath.Clean("/"+path))
}

// lockedBuffer serializes stdout and stderr copies into one buffer
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
