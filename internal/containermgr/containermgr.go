// Package containermgr is the container manager (spec §4.C4): it
// translates a registered Workload into a runtime.ContainerSpec, owns the
// per-container host directory layout, and wraps the create/destroy/exec
// lifecycle against the runtime adapter (C2), adapted from the reference
// codebase's docker.Manager CreateVM/StopVM/health-wait shape.
package containermgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/logging"
	"github.com/boilerhouse/boilerhouse/internal/metrics"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/google/uuid"
)

// Config carries the host directory roots the manager binds per-container
// state under, mirroring the reference codebase's env-driven docker.Config.
type Config struct {
	StateBaseDir          string
	SecretsBaseDir        string
	SocketBaseDir         string
	ContainerStartTimeout time.Duration
	StopGracePeriod       time.Duration
}

// DefaultConfig returns sane defaults; callers normally derive this from
// internal/config.RuntimeConfig instead.
func DefaultConfig() Config {
	return Config{
		StateBaseDir:          "/var/lib/boilerhouse/state",
		SecretsBaseDir:        "/var/lib/boilerhouse/secrets",
		SocketBaseDir:         "/var/lib/boilerhouse/sockets",
		ContainerStartTimeout: 30 * time.Second,
		StopGracePeriod:       10 * time.Second,
	}
}

// Manager builds and tears down PoolContainers for a Workload.
type Manager struct {
	cfg Config
	rt  runtime.Runtime
}

// New returns a Manager that drives rt using cfg's host directory layout.
func New(cfg Config, rt runtime.Runtime) *Manager {
	return &Manager{cfg: cfg, rt: rt}
}

// Create provisions a new container for poolID/workload, returning the
// PoolContainer once the runtime reports it running. It fails with
// boilerr.ErrStartTimeout when the container does not report running
// within the start timeout; every other create or start failure is a
// Runtime error with code "container_create_failed" ("host_dir_create" for
// the host directories). It does not return boilerr.ErrImageUnavailable or
// boilerr.ErrRuntimeUnavailable: those failures are not told apart.
func (m *Manager) Create(ctx context.Context, poolID string, w *domain.Workload) (*domain.PoolContainer, error) {
	containerID := newContainerID()

	stateDir := filepath.Join(m.cfg.StateBaseDir, containerID)
	secretsDir := filepath.Join(m.cfg.SecretsBaseDir, containerID)
	socketDir := filepath.Join(m.cfg.SocketBaseDir, containerID)
	for _, dir := range []string{stateDir, secretsDir, socketDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, boilerr.Wrap(boilerr.Runtime, "host_dir_create", err)
		}
	}
	socketPath := filepath.Join(socketDir, "app.sock")

	spec := m.buildSpec(w, poolID, containerID, stateDir, secretsDir, socketDir)

	startCtx, cancel := context.WithTimeout(ctx, m.startTimeout())
	defer cancel()

	rtID, err := m.rt.CreateContainer(startCtx, spec)
	if err != nil {
		metrics.RecordContainerCreate(poolID, "runtime_error")
		return nil, boilerr.Wrap(boilerr.Runtime, "container_create_failed", err)
	}
	if err := m.rt.StartContainer(startCtx, rtID); err != nil {
		_ = m.rt.RemoveContainer(ctx, rtID)
		metrics.RecordContainerCreate(poolID, "start_failed")
		return nil, boilerr.Wrap(boilerr.Runtime, "container_create_failed", err)
	}
	if err := m.awaitRunning(startCtx, rtID); err != nil {
		_ = m.rt.RemoveContainer(ctx, rtID)
		metrics.RecordContainerCreate(poolID, "start_timeout")
		return nil, err
	}
	metrics.RecordContainerCreate(poolID, "created")

	now := time.Now()
	pc := &domain.PoolContainer{
		ContainerID:  rtID,
		PoolID:       poolID,
		Status:       domain.ContainerIdle,
		LastActivity: now,
		SocketPath:   socketPath,
		StateDir:     stateDir,
		SecretsDir:   secretsDir,
		CreatedAt:    now,
	}
	logging.Op().Info("container created", "container_id", pc.ContainerID, "pool_id", poolID, "workload_id", w.ID)
	return pc, nil
}

func (m *Manager) awaitRunning(ctx context.Context, rtID string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		insp, err := m.rt.InspectContainer(ctx, rtID)
		if err == nil && insp.Running {
			return nil
		}
		select {
		case <-ctx.Done():
			return boilerr.Wrap(boilerr.Timeout, "start_timeout", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Destroy stops then removes container, swallowing not-found so the
// operation is idempotent (spec §4.C4).
func (m *Manager) Destroy(ctx context.Context, containerID string) error {
	grace := m.cfg.StopGracePeriod
	if grace == 0 {
		grace = 10 * time.Second
	}
	if err := m.rt.StopContainer(ctx, containerID, grace); err != nil {
		logging.Op().Warn("stop failed during destroy, proceeding to remove", "container_id", containerID, "error", err)
	}
	if err := m.rt.RemoveContainer(ctx, containerID); err != nil {
		logging.Op().Warn("remove failed during destroy, treating as already gone", "container_id", containerID, "error", err)
	}
	return nil
}

// Exec runs command inside container for a lifecycle hook or health probe.
func (m *Manager) Exec(ctx context.Context, containerID string, command []string, timeout time.Duration) (runtime.ExecResult, error) {
	res, err := m.rt.Exec(ctx, containerID, command, timeout)
	if err != nil {
		return runtime.ExecResult{}, boilerr.Wrap(boilerr.Hook, "hook_exec_failed", err)
	}
	return res, nil
}

func (m *Manager) startTimeout() time.Duration {
	if m.cfg.ContainerStartTimeout > 0 {
		return m.cfg.ContainerStartTimeout
	}
	return 30 * time.Second
}

func (m *Manager) buildSpec(w *domain.Workload, poolID, containerID, stateDir, secretsDir, socketDir string) runtime.ContainerSpec {
	var mounts []runtime.Mount
	if w.Volumes.State != nil {
		mounts = append(mounts, runtime.Mount{Source: stateDir, Target: w.Volumes.State.Target, ReadOnly: w.Volumes.State.ReadOnly})
	}
	if w.Volumes.Secrets != nil {
		mounts = append(mounts, runtime.Mount{Source: secretsDir, Target: w.Volumes.Secrets.Target, ReadOnly: true})
	}
	if w.Volumes.Comm != nil {
		mounts = append(mounts, runtime.Mount{Source: socketDir, Target: w.Volumes.Comm.Target, ReadOnly: false})
	}
	for _, v := range w.Volumes.Custom {
		mounts = append(mounts, runtime.Mount{Source: filepath.Join(stateDir, "custom", v.Name), Target: v.Target, ReadOnly: v.ReadOnly})
	}

	env := make([]string, 0, len(w.Environment))
	for k, v := range w.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	user := w.Security.User
	if user == "" {
		user = "65534:65534" // non-root default (spec §4.C4 security defaults)
	}
	dropCaps := w.Security.DropCapabilities
	if len(dropCaps) == 0 {
		dropCaps = []string{"ALL"}
	}

	var resources runtime.ResourceLimits
	if w.Deploy != nil && w.Deploy.Resources.Limits != nil {
		lim := w.Deploy.Resources.Limits
		resources.MemoryBytes = lim.MemoryBytes
		resources.NanoCPUs = int64(lim.CPUs * 1e9)
	}

	return runtime.ContainerSpec{
		Image:       w.Image,
		Command:     w.Command,
		Env:         env,
		Mounts:      mounts,
		User:        user,
		NetworkMode: w.Security.NetworkMode,
		Networks:    w.Networks,
		DNS:         w.DNS,
		Labels: map[string]string{
			runtime.LabelManaged:     "true",
			runtime.LabelContainerID: containerID,
			runtime.LabelPoolID:      poolID,
			runtime.LabelWorkloadID:  w.ID,
		},
		ReadOnlyRootFS:   true,
		NoNewPrivileges:  true,
		DropCapabilities: dropCaps,
		Resources:        resources,
		Tmpfs:            map[string]string{"/tmp": "rw,size=64m"},
	}
}

func newContainerID() string {
	return "bh-" + uuid.NewString()
}
