// Package runtime is the container runtime adapter (spec §4.C2): the
// boundary between Boilerhouse and whatever actually creates and destroys
// containers. The contract is deliberately small and mirrors the
// Backend/Client split the reference codebase uses for its own VM
// backends, generalized to container create/start/stop/remove/inspect/exec.
package runtime

import (
	"context"
	"time"
)

// ManagedLabel is set on every container Boilerhouse creates so recovery
// (C9) can list them back out of the runtime by label alone, independent
// of the persistent store.
const ManagedLabel = "boilerhouse.managed"

// Label keys attached to every container Boilerhouse creates.
const (
	LabelManaged     = "boilerhouse.managed"
	LabelContainerID = "boilerhouse.container-id"
	LabelPoolID      = "boilerhouse.pool-id"
	LabelWorkloadID  = "boilerhouse.workload-id"
)

// Mount describes one bind mount into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ResourceLimits mirrors the resolved (byte/nanocpu) resource limits for a
// container, already converted from the workload's human-readable strings
// by internal/spec.
type ResourceLimits struct {
	MemoryBytes int64
	NanoCPUs    int64
}

// ContainerSpec is everything the runtime adapter needs to create one
// container; it is built by internal/containermgr from a domain.Workload
// plus the pool/container identifiers that become labels.
type ContainerSpec struct {
	Image            string
	Command          []string
	Env              []string
	Mounts           []Mount
	Labels           map[string]string
	User             string
	NetworkMode      string
	Networks         []string
	DNS              []string
	ReadOnlyRootFS   bool
	NoNewPrivileges  bool
	DropCapabilities []string
	Resources        ResourceLimits
	Tmpfs            map[string]string
}

// Inspection is the subset of a container's runtime state Boilerhouse
// needs: whether it's running, and how to reach it.
type Inspection struct {
	ID      string
	Running bool
	Labels  map[string]string
}

// ManagedContainer is returned by ListManaged: enough to reconcile a
// container the runtime still knows about against what the store has.
type ManagedContainer struct {
	ID      string
	Running bool
	Labels  map[string]string
}

// ExecResult is the outcome of a one-shot command run inside a container,
// used by the hook executor (spec §4 Hooks) and health checks.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runtime is the container runtime adapter contract. A concrete
// implementation talks to a real container engine; tests use an in-memory
// fake that satisfies the same interface.
type Runtime interface {
	// CreateContainer creates (but does not start) a container from spec,
	// returning the engine-assigned container ID.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// StartContainer starts a previously created container.
	StartContainer(ctx context.Context, id string) error

	// StopContainer stops a running container, waiting up to timeout for
	// a graceful exit before the engine forces it.
	StopContainer(ctx context.Context, id string, timeout time.Duration) error

	// RemoveContainer force-removes a container and its anonymous volumes.
	RemoveContainer(ctx context.Context, id string) error

	// InspectContainer reports a container's current runtime state.
	InspectContainer(ctx context.Context, id string) (Inspection, error)

	// Exec runs cmd inside a running container and waits for completion,
	// used for health checks and lifecycle hooks (spec §4 Hooks).
	Exec(ctx context.Context, id string, cmd []string, timeout time.Duration) (ExecResult, error)

	// ListManaged lists every container carrying Boilerhouse's managed
	// label, used by recovery (C9) to reconcile runtime state with the
	// store on startup.
	ListManaged(ctx context.Context) ([]ManagedContainer, error)

	// Ping verifies the runtime engine is reachable.
	Ping(ctx context.Context) error

	// Close releases any connection the adapter holds open.
	Close() error
}
