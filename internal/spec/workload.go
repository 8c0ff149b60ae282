// Package spec parses workload specifications from YAML (spec §6), the
// declarative documents that register a Workload with Boilerhouse.
// Durations are written as "30s"/"5m"/"1000ms"/"1h"; memory is written as
// "512m"/"1g"; both are resolved into their typed domain.Workload fields
// here, following the string-field-plus-parse-helper convention of the
// reference codebase's internal/spec/function.go.
package spec

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/domain"
	"gopkg.in/yaml.v3"
)

// WorkloadSpec is the raw YAML shape; durations/memory stay as strings
// until Resolve converts them into a domain.Workload.
type WorkloadSpec struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	Image       string                 `yaml:"image"`
	Command     []string               `yaml:"command,omitempty"`
	Volumes     volumesSpec            `yaml:"volumes,omitempty"`
	Environment map[string]string      `yaml:"environment,omitempty"`
	HealthCheck *healthCheckSpec       `yaml:"healthcheck,omitempty"`
	Deploy      *deploySpec            `yaml:"deploy,omitempty"`
	ReadOnly    bool                   `yaml:"read_only,omitempty"`
	User        string                 `yaml:"user,omitempty"`
	NetworkMode string                 `yaml:"network_mode,omitempty"`
	Networks    []string               `yaml:"networks,omitempty"`
	DNS         []string               `yaml:"dns,omitempty"`
	Pool        poolDefaultsSpec       `yaml:"pool"`
	Sync        *domain.SyncConfig     `yaml:"sync,omitempty"`
	Hooks       *domain.Hooks          `yaml:"hooks,omitempty"`
}

type volumesSpec struct {
	State   *domain.Volume  `yaml:"state,omitempty"`
	Secrets *domain.Volume  `yaml:"secrets,omitempty"`
	Comm    *domain.Volume  `yaml:"comm,omitempty"`
	Custom  []domain.Volume `yaml:"custom,omitempty"`
}

type healthCheckSpec struct {
	Test        []string `yaml:"test,omitempty"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period,omitempty"`
}

type resourcesSpec struct {
	CPUs   float64 `yaml:"cpus,omitempty"`
	Memory string  `yaml:"memory,omitempty"`
}

type deploySpec struct {
	Resources struct {
		Limits       *resourcesSpec `yaml:"limits,omitempty"`
		Reservations *resourcesSpec `yaml:"reservations,omitempty"`
	} `yaml:"resources"`
}

type poolDefaultsSpec struct {
	MinIdle     int      `yaml:"min_idle"`
	MaxSize     int      `yaml:"max_size"`
	IdleTimeout string   `yaml:"idle_timeout"`
	FileIdleTTL string   `yaml:"file_idle_ttl,omitempty"`
	Networks    []string `yaml:"networks,omitempty"`
	DNS         []string `yaml:"dns,omitempty"`
}

// MultiSpec holds every workload document parsed from one file/stream.
type MultiSpec struct {
	Workloads []WorkloadSpec
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ParseFile parses a YAML file containing one or more workload specs.
func ParseFile(path string) (*MultiSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse parses a (possibly multi-document) YAML stream of workload specs.
func Parse(r io.Reader) (*MultiSpec, error) {
	decoder := yaml.NewDecoder(r)
	var specs []WorkloadSpec
	for {
		var s WorkloadSpec
		if err := decoder.Decode(&s); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode workload spec: %w", err)
		}
		if s.ID == "" {
			continue
		}
		specs = append(specs, s)
	}
	return &MultiSpec{Workloads: specs}, nil
}

// Resolve validates the spec and converts it into a domain.Workload,
// resolving duration and memory strings into their typed fields.
func (s WorkloadSpec) Resolve() (*domain.Workload, error) {
	if !idPattern.MatchString(s.ID) {
		return nil, fmt.Errorf("invalid workload id %q: must be lowercase alphanumeric + hyphen", s.ID)
	}
	if s.Image == "" {
		return nil, fmt.Errorf("workload %q: image is required", s.ID)
	}

	w := &domain.Workload{
		ID:          s.ID,
		Name:        s.Name,
		Image:       s.Image,
		Command:     s.Command,
		Environment: s.Environment,
		Networks:    s.Networks,
		DNS:         s.DNS,
		Hooks:       s.Hooks,
		Sync:        s.Sync,
		Volumes: domain.Volumes{
			State:   s.Volumes.State,
			Secrets: s.Volumes.Secrets,
			Comm:    s.Volumes.Comm,
			Custom:  s.Volumes.Custom,
		},
		Security: domain.Security{
			ReadOnlyRootFS: s.ReadOnly,
			User:           s.User,
			NetworkMode:    s.NetworkMode,
		},
	}

	if s.HealthCheck != nil {
		interval, err := ParseDuration(s.HealthCheck.Interval)
		if err != nil {
			return nil, fmt.Errorf("workload %q: healthcheck.interval: %w", s.ID, err)
		}
		timeout, err := ParseDuration(s.HealthCheck.Timeout)
		if err != nil {
			return nil, fmt.Errorf("workload %q: healthcheck.timeout: %w", s.ID, err)
		}
		var startPeriod time.Duration
		if s.HealthCheck.StartPeriod != "" {
			startPeriod, err = ParseDuration(s.HealthCheck.StartPeriod)
			if err != nil {
				return nil, fmt.Errorf("workload %q: healthcheck.start_period: %w", s.ID, err)
			}
		}
		w.HealthCheck = &domain.HealthCheck{
			Test:        s.HealthCheck.Test,
			Interval:    interval,
			Timeout:     timeout,
			Retries:     s.HealthCheck.Retries,
			StartPeriod: startPeriod,
		}
	}

	if s.Deploy != nil {
		deploy := &domain.Deploy{}
		var err error
		if s.Deploy.Resources.Limits != nil {
			if deploy.Resources.Limits, err = resolveResources(s.Deploy.Resources.Limits); err != nil {
				return nil, fmt.Errorf("workload %q: deploy.resources.limits: %w", s.ID, err)
			}
		}
		if s.Deploy.Resources.Reservations != nil {
			if deploy.Resources.Reservations, err = resolveResources(s.Deploy.Resources.Reservations); err != nil {
				return nil, fmt.Errorf("workload %q: deploy.resources.reservations: %w", s.ID, err)
			}
		}
		w.Deploy = deploy
	}

	idleTimeout, err := ParseDuration(s.Pool.IdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("workload %q: pool.idle_timeout: %w", s.ID, err)
	}
	pool := domain.PoolDefaults{
		MinIdle:     s.Pool.MinIdle,
		MaxSize:     s.Pool.MaxSize,
		IdleTimeout: idleTimeout,
		Networks:    s.Pool.Networks,
		DNS:         s.Pool.DNS,
	}
	if s.Pool.FileIdleTTL != "" {
		pool.FileIdleTTL, err = ParseDuration(s.Pool.FileIdleTTL)
		if err != nil {
			return nil, fmt.Errorf("workload %q: pool.file_idle_ttl: %w", s.ID, err)
		}
	}
	w.Pool = pool

	return w, nil
}

func resolveResources(r *resourcesSpec) (*domain.Resources, error) {
	res := &domain.Resources{CPUs: r.CPUs, Memory: r.Memory}
	if r.Memory != "" {
		bytes, err := ParseMemory(r.Memory)
		if err != nil {
			return nil, err
		}
		res.MemoryBytes = bytes
	}
	return res, nil
}

// ParseDuration parses durations written as "30s"/"5m"/"1000ms"/"1h".
// An empty string resolves to zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// ParseMemory parses memory strings like "512m", "1g", "2048k", or a bare
// byte count.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "g"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "k")
	}
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory value %q: %w", s, err)
	}
	return val * multiplier, nil
}
