package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeRuntime_CreateStartStopRemove(t *testing.T) {
	ctx := context.Background()
	r := NewFakeRuntime()

	id, err := r.CreateContainer(ctx, ContainerSpec{Image: "busybox", Labels: map[string]string{LabelManaged: "true"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	insp, err := r.InspectContainer(ctx, id)
	require.NoError(t, err)
	require.False(t, insp.Running)

	require.NoError(t, r.StartContainer(ctx, id))
	insp, err = r.InspectContainer(ctx, id)
	require.NoError(t, err)
	require.True(t, insp.Running)

	managed, err := r.ListManaged(ctx)
	require.NoError(t, err)
	require.Len(t, managed, 1)

	require.NoError(t, r.StopContainer(ctx, id, 0))
	require.NoError(t, r.RemoveContainer(ctx, id))

	_, err = r.InspectContainer(ctx, id)
	require.Error(t, err)
}

func TestFakeRuntime_FailCreateOnce(t *testing.T) {
	ctx := context.Background()
	r := NewFakeRuntime()
	r.FailCreate = errors.New("boom")

	_, err := r.CreateContainer(ctx, ContainerSpec{Image: "busybox"})
	require.Error(t, err)

	id, err := r.CreateContainer(ctx, ContainerSpec{Image: "busybox"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}
