// Package hooks executes a Workload's lifecycle hooks (spec §4 Hooks,
// §6 "hooks" block): post_claim commands run after a container is claimed
// and before the claim is handed back to the caller, pre_release commands
// run before a container is returned to idle. Each hook names its own
// on_error policy (fail/continue/retry); retry uses
// github.com/cenkalti/backoff/v5 the same way the retry-capable paths in
// the reference codebase's scheduler retry a failed dispatch.
package hooks

import (
	"context"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/logging"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/cenkalti/backoff/v5"
)

const defaultHookTimeout = 30 * time.Second

// Execer is the subset of containermgr.Manager a hook runner needs; taking
// the interface here instead of *containermgr.Manager keeps this package
// independent of the runtime adapter's construction details.
type Execer interface {
	Exec(ctx context.Context, containerID string, command []string, timeout time.Duration) (runtime.ExecResult, error)
}

// Runner executes a Workload's post_claim/pre_release hooks against a
// specific container.
type Runner struct {
	exec Execer
}

// New constructs a Runner bound to exec (normally a *containermgr.Manager).
func New(exec Execer) *Runner {
	return &Runner{exec: exec}
}

// RunPostClaim runs every post_claim hook in order. A hook whose on_error
// is "fail" (the default) aborts the claim on final failure, as does a
// "retry" hook once its attempts are exhausted; a "continue" failure is
// logged and the sequence proceeds.
func (r *Runner) RunPostClaim(ctx context.Context, containerID string, h *domain.Hooks) error {
	if h == nil {
		return nil
	}
	for _, hook := range h.PostClaim {
		if err := r.runOne(ctx, containerID, hook, true); err != nil {
			return err
		}
	}
	return nil
}

// RunPreRelease runs every pre_release hook in order. Per spec §7, a
// failing pre_release hook never aborts the release — it is always logged
// and the release proceeds, regardless of the hook's own on_error policy.
func (r *Runner) RunPreRelease(ctx context.Context, containerID string, h *domain.Hooks) {
	if h == nil {
		return
	}
	for _, hook := range h.PreRelease {
		_ = r.runOne(ctx, containerID, hook, false)
	}
}

// runOne executes a single hook, honouring its on_error policy. abortOnFail
// gates whether a final failure is returned to the caller at all; it is
// always false for pre_release hooks per spec §7.
func (r *Runner) runOne(ctx context.Context, containerID string, hook domain.Hook, abortOnFail bool) error {
	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}

	attempt := func() (runtime.ExecResult, error) {
		res, err := r.exec.Exec(ctx, containerID, hook.Command, timeout)
		if err != nil {
			return res, err
		}
		if res.ExitCode != 0 {
			return res, boilerr.Errorf(boilerr.Hook, "hook_failed", "hook exited %d: %s", res.ExitCode, res.Stderr)
		}
		return res, nil
	}

	var err error
	switch hook.OnError {
	case domain.HookOnErrorRetry:
		tries := hook.Retries
		if tries <= 0 {
			tries = 1
		}
		_, err = backoff.Retry(ctx, attempt, backoff.WithMaxTries(uint(tries)))
	default:
		_, err = attempt()
	}

	if err == nil {
		return nil
	}

	logging.Op().Warn("lifecycle hook failed", "container_id", containerID, "command", hook.Command, "on_error", hook.OnError, "error", err)
	if hook.OnError != domain.HookOnErrorContinue && abortOnFail {
		if ctx.Err() != nil {
			return boilerr.Wrap(boilerr.Timeout, "hook_timeout", ctx.Err())
		}
		return boilerr.Wrap(boilerr.Hook, "hook_failed", err)
	}
	return nil
}
