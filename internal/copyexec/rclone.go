package copyexec

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
)

// RcloneExecutor shells out to an `rclone` binary on PATH to move files
// between a container's local volume and a tagged remote sink, per spec
// §6's C3 contract. mode selects `rclone sync`/`copy`/`bisync` and
// direction selects the local/remote argument order.
type RcloneExecutor struct {
	// BinaryPath overrides the rclone binary to exec; defaults to
	// "rclone" resolved from PATH.
	BinaryPath string
	// Timeout bounds a single sync invocation; zero means no timeout.
	Timeout time.Duration
}

// NewRcloneExecutor constructs a RcloneExecutor using "rclone" from PATH.
func NewRcloneExecutor(timeout time.Duration) *RcloneExecutor {
	return &RcloneExecutor{BinaryPath: "rclone", Timeout: timeout}
}

func (e *RcloneExecutor) Sync(ctx context.Context, tenantID string, mapping domain.Mapping, sink domain.Sink, localPath string, initialSync bool) (domain.SyncResult, error) {
	start := time.Now()

	adapter, err := adapterFor(sink)
	if err != nil {
		return buildResult(false, mapping.Direction, mapping, 0, 0, []string{err.Error()}, start), boilerr.Wrap(boilerr.Sync, "unsupported_sink", err)
	}
	remotePath, err := adapter.BuildRemotePath(sink, tenantID, mapping.SinkPath)
	if err != nil {
		return buildResult(false, mapping.Direction, mapping, 0, 0, []string{err.Error()}, start), boilerr.Wrap(boilerr.Sync, "build_remote_path_failed", err)
	}
	remote, extraArgs, err := adapter.Remote(sink)
	if err != nil {
		return buildResult(false, mapping.Direction, mapping, 0, 0, []string{err.Error()}, start), boilerr.Wrap(boilerr.Sync, "build_remote_failed", err)
	}
	remoteArg := remote + remotePath

	args, _ := buildArgs(mapping, localPath, remoteArg, initialSync)
	args = append(args, extraArgs...)

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	binary := e.BinaryPath
	if binary == "" {
		binary = "rclone"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	bytesN, files := parseTransferStats(stdout.String())

	if runErr != nil {
		msg := stderr.String()
		if msg == "" {
			msg = runErr.Error()
		}
		return buildResult(false, mapping.Direction, mapping, bytesN, files, []string{msg}, start), nil
	}
	return buildResult(true, mapping.Direction, mapping, bytesN, files, nil, start), nil
}

// buildArgs constructs the rclone subcommand and flags for one mapping,
// per spec §6: sync vs copy vs bidirectional from mapping.Mode/Direction,
// include/exclude patterns when mapping.Pattern is set, and resync
// semantics on initialSync for bidirectional mappings.
func buildArgs(mapping domain.Mapping, localPath, remotePath string, initialSync bool) ([]string, string) {
	verb := "copy"
	var src, dst string

	switch mapping.Direction {
	case domain.DirectionUpload:
		src, dst = localPath, remotePath
		if mapping.Mode == domain.ModeSync {
			verb = "sync"
		}
	case domain.DirectionDownload:
		src, dst = remotePath, localPath
		if mapping.Mode == domain.ModeSync {
			verb = "sync"
		}
	case domain.DirectionBidirectional:
		verb = "bisync"
		src, dst = localPath, remotePath
	}

	args := []string{verb, src, dst}
	if mapping.Pattern != "" {
		args = append(args, "--include", mapping.Pattern, "--exclude", "*")
	}
	if verb == "bisync" && initialSync {
		args = append(args, "--resync")
	}
	return args, verb
}

var reFilesLine = regexp.MustCompile(`Transferred:\s*(\d+)\s*/\s*(\d+),`)

// parseTransferStats scrapes rclone's "Transferred: N / M," summary line
// for a rough file count; the byte count is not parsed and is always
// returned as 0. rclone's JSON stats API (--use-json-log) is a
// stronger fit for production telemetry, but the plain-text summary is
// sufficient for the SyncResult counters this contract exposes.
func parseTransferStats(output string) (bytesTransferred int64, files int) {
	if m := reFilesLine.FindStringSubmatch(output); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			files = n
		}
	}
	return 0, files
}
