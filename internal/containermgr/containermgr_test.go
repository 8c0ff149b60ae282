package containermgr

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	base := t.TempDir()
	return Config{
		StateBaseDir:          filepath.Join(base, "state"),
		SecretsBaseDir:        filepath.Join(base, "secrets"),
		SocketBaseDir:         filepath.Join(base, "sockets"),
		ContainerStartTimeout: time.Second,
		StopGracePeriod:       time.Second,
	}
}

func testWorkload() *domain.Workload {
	return &domain.Workload{
		ID:    "worker",
		Image: "busybox:latest",
		Volumes: domain.Volumes{
			State:   &domain.Volume{Target: "/state"},
			Secrets: &domain.Volume{Target: "/secrets"},
			Comm:    &domain.Volume{Target: "/comm"},
		},
		Environment: map[string]string{"FOO": "bar"},
	}
}

func TestManager_CreateAssignsLabelsAndMounts(t *testing.T) {
	fake := runtime.NewFakeRuntime()
	m := New(testConfig(t), fake)

	pc, err := m.Create(context.Background(), "pool-1", testWorkload())
	require.NoError(t, err)
	require.NotEmpty(t, pc.ContainerID)
	require.Equal(t, domain.ContainerIdle, pc.Status)
	require.Equal(t, "pool-1", pc.PoolID)

	insp, err := fake.InspectContainer(context.Background(), pc.ContainerID)
	require.NoError(t, err)
	require.True(t, insp.Running)
	require.Equal(t, "true", insp.Labels[runtime.LabelManaged])
	require.Equal(t, "pool-1", insp.Labels[runtime.LabelPoolID])
	require.Equal(t, "worker", insp.Labels[runtime.LabelWorkloadID])
}

func TestManager_DestroyIsIdempotent(t *testing.T) {
	fake := runtime.NewFakeRuntime()
	m := New(testConfig(t), fake)

	pc, err := m.Create(context.Background(), "pool-1", testWorkload())
	require.NoError(t, err)

	require.NoError(t, m.Destroy(context.Background(), pc.ContainerID))
	require.NoError(t, m.Destroy(context.Background(), pc.ContainerID))
}

func TestManager_CreateFailurePropagates(t *testing.T) {
	fake := runtime.NewFakeRuntime()
	fake.FailCreate = errAny{}
	m := New(testConfig(t), fake)

	_, err := m.Create(context.Background(), "pool-1", testWorkload())
	require.Error(t, err)
}

type errAny struct{}

func (errAny) Error() string { return "fail" }
