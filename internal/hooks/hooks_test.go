package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/stretchr/testify/require"
)

type fakeExecer struct {
	results []runtime.ExecResult
	errs    []error
	calls   int
}

func (f *fakeExecer) Exec(_ context.Context, _ string, _ []string, _ time.Duration) (runtime.ExecResult, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.results[i], err
}

func TestRunPostClaim_FailAbortsClaim(t *testing.T) {
	exec := &fakeExecer{results: []runtime.ExecResult{{ExitCode: 1, Stderr: "boom"}}}
	r := New(exec)
	h := &domain.Hooks{PostClaim: []domain.Hook{{Command: []string{"warm"}, OnError: domain.HookOnErrorFail}}}
	err := r.RunPostClaim(context.Background(), "c1", h)
	require.Error(t, err)
	require.Equal(t, 1, exec.calls)
}

func TestRunPostClaim_ContinueSwallowsFailure(t *testing.T) {
	exec := &fakeExecer{results: []runtime.ExecResult{{ExitCode: 1, Stderr: "boom"}}}
	r := New(exec)
	h := &domain.Hooks{PostClaim: []domain.Hook{{Command: []string{"warm"}, OnError: domain.HookOnErrorContinue}}}
	err := r.RunPostClaim(context.Background(), "c1", h)
	require.NoError(t, err)
}

func TestRunPostClaim_RetryExhaustsThenAborts(t *testing.T) {
	exec := &fakeExecer{results: []runtime.ExecResult{{ExitCode: 1}, {ExitCode: 1}, {ExitCode: 1}}}
	r := New(exec)
	h := &domain.Hooks{PostClaim: []domain.Hook{{Command: []string{"warm"}, OnError: domain.HookOnErrorRetry, Retries: 3}}}
	err := r.RunPostClaim(context.Background(), "c1", h)
	require.Error(t, err)
	require.Equal(t, 3, exec.calls)
}

func TestRunPostClaim_RetrySucceedsBeforeExhausting(t *testing.T) {
	exec := &fakeExecer{results: []runtime.ExecResult{{ExitCode: 1}, {ExitCode: 0}}}
	r := New(exec)
	h := &domain.Hooks{PostClaim: []domain.Hook{{Command: []string{"warm"}, OnError: domain.HookOnErrorRetry, Retries: 3}}}
	err := r.RunPostClaim(context.Background(), "c1", h)
	require.NoError(t, err)
	require.Equal(t, 2, exec.calls)
}

func TestRunPreRelease_NeverAbortsEvenOnFail(t *testing.T) {
	exec := &fakeExecer{results: []runtime.ExecResult{{ExitCode: 1, Stderr: "flush failed"}}}
	r := New(exec)
	h := &domain.Hooks{PreRelease: []domain.Hook{{Command: []string{"flush"}, OnError: domain.HookOnErrorFail}}}
	r.RunPreRelease(context.Background(), "c1", h)
	require.Equal(t, 1, exec.calls)
}

func TestRunPostClaim_NilHooksIsNoop(t *testing.T) {
	exec := &fakeExecer{}
	r := New(exec)
	require.NoError(t, r.RunPostClaim(context.Background(), "c1", nil))
}
