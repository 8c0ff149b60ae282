// Package copyexec implements the remote-copy executor contract (spec
// §4.C3, §6): moving files between a container's local volume and a
// tagged remote sink, and classifying failures for the sync coordinator
// (C8). The actual byte-moving is delegated to an `rclone` subprocess per
// spec §6 ("the executor is responsible for path interpolation... and for
// emitting the error strings C8 classifies") rather than re-implemented
// here; this package owns sink-path interpolation, argument construction,
// and output parsing.
package copyexec

import (
	"context"
	"strings"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/domain"
)

// Executor is the C3 contract: sync one mapping between a container's
// local volume path and its remote sink.
type Executor interface {
	Sync(ctx context.Context, tenantID string, mapping domain.Mapping, sink domain.Sink, localPath string, initialSync bool) (domain.SyncResult, error)
}

// SinkAdapter is the tagged adapter interface of spec §9 Design Notes
// ("Dynamic sink typing"): one implementation per sink.Type, registered by
// tag, responsible for interpolating the remote path and building the
// rclone remote spec and flags for that sink kind.
type SinkAdapter interface {
	// BuildRemotePath interpolates ${tenantId} into the sink's prefix and
	// appends sinkPath, returning a path relative to the sink's remote
	// root (e.g. "bucket/prefix/tenant-a/models").
	BuildRemotePath(sink domain.Sink, tenantID, sinkPath string) (string, error)
	// Remote returns the rclone remote spec for this sink (e.g.
	// ":s3,provider=AWS,env_auth=true:" or a named remote), along with any
	// extra global flags the sink requires.
	Remote(sink domain.Sink) (remote string, extraArgs []string, err error)
}

var adapters = map[string]SinkAdapter{}

// RegisterAdapter adds a SinkAdapter under tag, called from each adapter's
// package init (e.g. s3sink.go's init for tag "s3").
func RegisterAdapter(tag string, a SinkAdapter) {
	adapters[tag] = a
}

// adapterFor looks up the registered SinkAdapter for sink.Type.
func adapterFor(sink domain.Sink) (SinkAdapter, error) {
	a, ok := adapters[sink.Type]
	if !ok {
		return nil, &UnsupportedSinkError{Type: sink.Type}
	}
	return a, nil
}

// UnsupportedSinkError is returned when a workload names a sink.type with
// no registered adapter.
type UnsupportedSinkError struct{ Type string }

func (e *UnsupportedSinkError) Error() string {
	return "copyexec: unsupported sink type " + e.Type
}

// Classify maps a raw executor failure string onto the two classes spec
// §4.C8.3 names for automatic recovery/metrics, returning "" for anything
// else (surfaced as-is by the caller).
func Classify(message string) string {
	switch {
	case containsAny(message, "source directory not found", "directory not found", "no such remote dir"):
		return ClassSourceDirectoryNotFound
	case containsAny(message, "must run --resync", "resync required", "bisync aborted"):
		return ClassBisyncResyncRequired
	default:
		return ""
	}
}

// Error classes named by spec §4.C8.3.
const (
	ClassSourceDirectoryNotFound = "source_directory_not_found"
	ClassBisyncResyncRequired    = "bisync_resync_required"
)

func containsAny(s string, subs ...string) bool {
	ls := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(ls, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// buildResult assembles a SyncResult, stamping duration from start.
func buildResult(success bool, direction domain.SyncDirection, mapping domain.Mapping, bytes int64, files int, errs []string, start time.Time) domain.SyncResult {
	return domain.SyncResult{
		Success:          success,
		Direction:        direction,
		Mapping:          mapping,
		BytesTransferred: bytes,
		FilesTransferred: files,
		Errors:           errs,
		Duration:         time.Since(start),
	}
}
