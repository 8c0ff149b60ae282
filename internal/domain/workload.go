// Package domain defines the core value types shared by every component of
// Boilerhouse: the declarative Workload resource, the runtime Pool and
// PoolContainer records, and the sync/activity bookkeeping types. Domain
// types carry JSON and YAML tags so the same struct can be persisted, sent
// over the wire, and parsed from a workload spec file without translation
// layers.
package domain

import "time"

// Runtime-facing identifiers are plain strings; Boilerhouse does not need a
// closed runtime enum the way a FaaS platform does; a Workload instead
// names a container image directly.

// Workload is the declarative, immutable-after-registration description of
// a container a pool is built from (spec §3, §6). It is shared by
// reference: the container engine (C4) and the pool engine (C5) build
// containers from it, and the core reads its Sync and Hooks blocks.
type Workload struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Image       string            `json:"image" yaml:"image"`
	Command     []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Volumes     Volumes           `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	HealthCheck *HealthCheck      `json:"healthcheck,omitempty" yaml:"healthcheck,omitempty"`
	Deploy      *Deploy           `json:"deploy,omitempty" yaml:"deploy,omitempty"`
	Security    Security          `json:"security,omitempty" yaml:"security,omitempty"`
	Networks    []string          `json:"networks,omitempty" yaml:"networks,omitempty"`
	DNS         []string          `json:"dns,omitempty" yaml:"dns,omitempty"`
	Pool        PoolDefaults      `json:"pool" yaml:"pool"`
	Sync        *SyncConfig       `json:"sync,omitempty" yaml:"sync,omitempty"`
	Hooks       *Hooks            `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"-"`
}

// Volumes lists the well-known mount roles plus any custom named mounts.
type Volumes struct {
	State   *Volume  `json:"state,omitempty" yaml:"state,omitempty"`
	Secrets *Volume  `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	Comm    *Volume  `json:"comm,omitempty" yaml:"comm,omitempty"`
	Custom  []Volume `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// Volume describes a single bind mount.
type Volume struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Target   string `json:"target" yaml:"target"`
	ReadOnly bool   `json:"read_only,omitempty" yaml:"read_only,omitempty"`
	Seed     string `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// HealthCheck mirrors the workload's container healthcheck block.
type HealthCheck struct {
	Test        []string      `json:"test,omitempty" yaml:"test,omitempty"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	Retries     int           `json:"retries" yaml:"retries"`
	StartPeriod time.Duration `json:"start_period,omitempty" yaml:"start_period,omitempty"`
}

// Deploy carries resource reservations/limits.
type Deploy struct {
	Resources ResourceSpec `json:"resources" yaml:"resources"`
}

// ResourceSpec is the limits/reservations pair used by Deploy.
type ResourceSpec struct {
	Limits       *Resources `json:"limits,omitempty" yaml:"limits,omitempty"`
	Reservations *Resources `json:"reservations,omitempty" yaml:"reservations,omitempty"`
}

// Resources holds the cpu/memory quantities; Memory is a human string
// ("512m", "1g") resolved by internal/spec at parse time into MemoryBytes.
type Resources struct {
	CPUs        float64 `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	Memory      string  `json:"memory,omitempty" yaml:"memory,omitempty"`
	MemoryBytes int64   `json:"memory_bytes,omitempty" yaml:"-"`
}

// Security captures the container's security posture (spec §3).
type Security struct {
	ReadOnlyRootFS   bool     `json:"read_only,omitempty" yaml:"read_only,omitempty"`
	User             string   `json:"user,omitempty" yaml:"user,omitempty"`
	NetworkMode      string   `json:"network_mode,omitempty" yaml:"network_mode,omitempty"`
	DropCapabilities []string `json:"drop_capabilities,omitempty" yaml:"drop_capabilities,omitempty"`
	NoNewPrivileges  bool     `json:"no_new_privileges,omitempty" yaml:"no_new_privileges,omitempty"`
}

// PoolDefaults are the pool-sizing knobs a Workload proposes; a Pool may
// override FileIdleTTL and Networks explicitly (spec §9 Open Questions).
type PoolDefaults struct {
	MinIdle      int           `json:"min_idle" yaml:"min_idle"`
	MaxSize      int           `json:"max_size" yaml:"max_size"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	FileIdleTTL  time.Duration `json:"file_idle_ttl,omitempty" yaml:"file_idle_ttl,omitempty"`
	Networks     []string      `json:"networks,omitempty" yaml:"networks,omitempty"`
	DNS          []string      `json:"dns,omitempty" yaml:"dns,omitempty"`
}

// Hooks are lifecycle commands run around claim/release.
type Hooks struct {
	PostClaim  []Hook `json:"post_claim,omitempty" yaml:"post_claim,omitempty"`
	PreRelease []Hook `json:"pre_release,omitempty" yaml:"pre_release,omitempty"`
}

// HookErrorPolicy names what happens when a hook command fails.
type HookErrorPolicy string

const (
	HookOnErrorFail     HookErrorPolicy = "fail"
	HookOnErrorContinue HookErrorPolicy = "continue"
	HookOnErrorRetry    HookErrorPolicy = "retry"
)

// Hook is a single lifecycle command.
type Hook struct {
	Command []string        `json:"command" yaml:"command"`
	Timeout time.Duration   `json:"timeout" yaml:"timeout"`
	OnError HookErrorPolicy `json:"on_error" yaml:"on_error"`
	Retries int             `json:"retries,omitempty" yaml:"retries,omitempty"`
}
