package runtime

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/filters"
	"github.com/moby/moby/api/types/mount"
	dockerclient "github.com/moby/moby/client"
)

// DockerRuntime is the concrete Runtime adapter backed by a local Docker
// engine, adapted from the reference pack's docker client wiring
// (connect-with-API-negotiation, mounts/resources/security-opt
// construction, force-remove on teardown).
type DockerRuntime struct {
	client *dockerclient.Client
}

// NewDockerRuntime connects to the Docker engine named by the environment
// (DOCKER_HOST and friends), negotiating the API version and verifying
// connectivity before returning.
func NewDockerRuntime(ctx context.Context) (*DockerRuntime, error) {
	cli, err := dockerclient.New(dockerclient.WithAPIVersionNegotiation(), dockerclient.FromEnv)
	if err != nil {
		return nil, boilerr.Wrap(boilerr.Runtime, "docker_connect", err)
	}
	if _, err := cli.Ping(ctx, dockerclient.PingOptions{NegotiateAPIVersion: true}); err != nil {
		return nil, boilerr.Wrap(boilerr.Runtime, "docker_ping", err)
	}
	return &DockerRuntime{client: cli}, nil
}

func (r *DockerRuntime) Close() error { return r.client.Close() }

func (r *DockerRuntime) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx, dockerclient.PingOptions{NegotiateAPIVersion: true})
	if err != nil {
		return boilerr.Wrap(boilerr.Runtime, "docker_ping", err)
	}
	return nil
}

func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	networkMode := spec.NetworkMode
	if networkMode == "" && len(spec.Networks) > 0 {
		networkMode = spec.Networks[0]
	}

	pidsLimit := int64(256)
	result, err := r.client.ContainerCreate(ctx, dockerclient.ContainerCreateOptions{
		Image: spec.Image,
		Config: &container.Config{
			Image:  spec.Image,
			Cmd:    spec.Command,
			Env:    spec.Env,
			User:   spec.User,
			Labels: spec.Labels,
		},
		HostConfig: &container.HostConfig{
			NetworkMode: container.NetworkMode(networkMode),
			DNS:         spec.DNS,
			Resources: container.Resources{
				Memory:    spec.Resources.MemoryBytes,
				NanoCPUs:  spec.Resources.NanoCPUs,
				PidsLimit: &pidsLimit,
			},
			Mounts:          mounts,
			SecurityOpt:     securityOpt(spec),
			ReadonlyRootfs:  spec.ReadOnlyRootFS,
			Tmpfs:           spec.Tmpfs,
			CapDrop:         spec.DropCapabilities,
		},
	})
	if err != nil {
		return "", boilerr.Wrap(boilerr.Runtime, "container_create", err)
	}
	return result.ID, nil
}

func securityOpt(spec ContainerSpec) []string {
	if !spec.NoNewPrivileges {
		return nil
	}
	return []string{"no-new-privileges"}
}

func (r *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	_, err := r.client.ContainerStart(ctx, id, dockerclient.ContainerStartOptions{})
	if err != nil {
		return boilerr.Wrap(boilerr.Runtime, "container_start", err)
	}
	return nil
}

func (r *DockerRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	_, err := r.client.ContainerStop(ctx, id, dockerclient.ContainerStopOptions{Timeout: &secs})
	if err != nil {
		return boilerr.Wrap(boilerr.Runtime, "container_stop", err)
	}
	return nil
}

func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	_, err := r.client.ContainerRemove(ctx, id, dockerclient.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil {
		return boilerr.Wrap(boilerr.Runtime, "container_remove", err)
	}
	return nil
}

func (r *DockerRuntime) InspectContainer(ctx context.Context, id string) (Inspection, error) {
	result, err := r.client.ContainerInspect(ctx, id, dockerclient.ContainerInspectOptions{})
	if err != nil {
		return Inspection{}, boilerr.Wrap(boilerr.Runtime, "container_inspect", err)
	}
	insp := Inspection{ID: result.Container.ID, Labels: result.Container.Config.Labels}
	if result.Container.State != nil {
		insp.Running = result.Container.State.Running
	}
	return insp, nil
}

func (r *DockerRuntime) Exec(ctx context.Context, id string, cmd []string, timeout time.Duration) (ExecResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := r.client.ContainerExecCreate(execCtx, id, dockerclient.ContainerExecCreateOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, boilerr.Wrap(boilerr.Hook, "exec_create", err)
	}

	attached, err := r.client.ContainerExecAttach(execCtx, created.ID, dockerclient.ContainerExecAttachOptions{})
	if err != nil {
		return ExecResult{}, boilerr.Wrap(boilerr.Hook, "exec_attach", err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	_, _ = stdout.ReadFrom(attached.Reader)

	inspect, err := r.client.ContainerExecInspect(execCtx, created.ID)
	if err != nil {
		return ExecResult{}, boilerr.Wrap(boilerr.Hook, "exec_inspect", err)
	}

	return ExecResult{ExitCode: inspect.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (r *DockerRuntime) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	args := filters.NewArgs()
	args.Add("label", fmt.Sprintf("%s=true", LabelManaged))

	containers, err := r.client.ContainerList(ctx, dockerclient.ContainerListOptions{All: true, Filters: args})
	if err != nil {
		return nil, boilerr.Wrap(boilerr.Runtime, "container_list", err)
	}

	out := make([]ManagedContainer, 0, len(containers))
	for _, c := range containers {
		out = append(out, ManagedContainer{
			ID:      c.ID,
			Running: c.State == "running",
			Labels:  c.Labels,
		})
	}
	return out, nil
}
