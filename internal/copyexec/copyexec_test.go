package copyexec

import (
	"context"
	"testing"

	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.Equal(t, ClassSourceDirectoryNotFound, Classify("rclone: directory not found"))
	require.Equal(t, ClassBisyncResyncRequired, Classify("Bisync aborted. Must run --resync to recover."))
	require.Equal(t, "", Classify("connection refused"))
}

func TestS3Adapter_BuildRemotePath(t *testing.T) {
	a := &s3Adapter{}
	sink := domain.Sink{Type: "s3", Bucket: "bucket", Prefix: "tenants/${tenantId}"}

	path, err := a.BuildRemotePath(sink, "tenant-a", "models")
	require.NoError(t, err)
	require.Equal(t, "bucket/tenants/tenant-a/models", path)
}

func TestS3Adapter_RemoteUsesEnvAuthByDefault(t *testing.T) {
	a := &s3Adapter{}
	remote, _, err := a.Remote(domain.Sink{Type: "s3", Region: "us-east-1"})
	require.NoError(t, err)
	require.Contains(t, remote, "env_auth=true")
	require.Contains(t, remote, "region=us-east-1")
}

func TestBuildArgs_BidirectionalInitialSyncAddsResync(t *testing.T) {
	mapping := domain.Mapping{Direction: domain.DirectionBidirectional}
	args, verb := buildArgs(mapping, "/state", "bucket/tenant", true)
	require.Equal(t, "bisync", verb)
	require.Contains(t, args, "--resync")
}

func TestBuildArgs_PatternAddsIncludeExclude(t *testing.T) {
	mapping := domain.Mapping{Direction: domain.DirectionUpload, Pattern: "*.json"}
	args, _ := buildArgs(mapping, "/state", "bucket/tenant", false)
	require.Contains(t, args, "--include")
	require.Contains(t, args, "*.json")
}

func TestFakeExecutor_RecordsCallsAndFailsOnce(t *testing.T) {
	fe := &FakeExecutor{}
	mapping := domain.Mapping{Direction: domain.DirectionUpload}
	sink := domain.Sink{Type: "s3", Bucket: "bucket"}

	fe.FailNext = "source directory not found"
	res, err := fe.Sync(context.Background(), "tenant-a", mapping, sink, "/state", true)
	require.NoError(t, err)
	require.False(t, res.Success)

	res, err = fe.Sync(context.Background(), "tenant-a", mapping, sink, "/state", true)
	require.NoError(t, err)
	require.True(t, res.Success)

	require.Len(t, fe.Calls, 2)
}
