package copyexec

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/boilerhouse/boilerhouse/internal/domain"
)

func init() {
	RegisterAdapter("s3", &s3Adapter{})
}

// s3Adapter implements SinkAdapter for S3-compatible sinks (spec §6
// "initial implementation supports S3-compatible"). It resolves
// credentials via the AWS SDK's default chain (or static keys if the
// workload supplies them) purely to validate a sink's reachability
// (EnsureReachable); the actual byte transfer for a sync is delegated to
// the rclone subprocess built by RcloneExecutor, matching rclone's own
// :s3: remote syntax.
type s3Adapter struct{}

// BuildRemotePath interpolates ${tenantId} into sink.Prefix and appends
// sinkPath, returning a path relative to the bucket root.
func (s3Adapter) BuildRemotePath(sink domain.Sink, tenantID, sinkPath string) (string, error) {
	if sink.Bucket == "" {
		return "", fmt.Errorf("copyexec: s3 sink missing bucket")
	}
	prefix := strings.ReplaceAll(sink.Prefix, "${tenantId}", tenantID)
	parts := []string{sink.Bucket}
	if prefix != "" {
		parts = append(parts, strings.Trim(prefix, "/"))
	}
	if sinkPath != "" {
		parts = append(parts, strings.Trim(sinkPath, "/"))
	}
	return strings.Join(parts, "/"), nil
}

// Remote returns the rclone :s3: connection-string remote for sink, using
// env_auth when no explicit keys are configured so the workload can rely
// on the host's AWS credential chain (shared config, instance profile,
// etc.) the same way the AWS SDK client below does.
func (s3Adapter) Remote(sink domain.Sink) (string, []string, error) {
	var b strings.Builder
	b.WriteString(":s3,provider=AWS")
	if sink.Region != "" {
		fmt.Fprintf(&b, ",region=%s", sink.Region)
	}
	if sink.Endpoint != "" {
		fmt.Fprintf(&b, ",endpoint=%s", sink.Endpoint)
	}
	if sink.AccessKey != "" && sink.SecretKey != "" {
		fmt.Fprintf(&b, ",access_key_id=%s,secret_access_key=%s", sink.AccessKey, sink.SecretKey)
	} else {
		b.WriteString(",env_auth=true")
	}
	b.WriteString(":")
	return b.String(), nil, nil
}

// EnsureReachable performs a lightweight HeadBucket call against sink's
// bucket using the AWS SDK default credential chain, reporting an
// unreachable or misconfigured sink. Nothing in this module calls it;
// workload registration does not check sink reachability.
func EnsureReachable(ctx context.Context, sink domain.Sink) error {
	if sink.Type != "s3" {
		return nil
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if sink.Region != "" {
		opts = append(opts, awsconfig.WithRegion(sink.Region))
	}
	if sink.AccessKey != "" && sink.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sink.AccessKey, sink.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("copyexec: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if sink.Endpoint != "" {
			o.BaseEndpoint = &sink.Endpoint
		}
	})
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &sink.Bucket})
	if err != nil {
		return fmt.Errorf("copyexec: head bucket %s: %w", sink.Bucket, err)
	}
	return nil
}
