package copyexec

import (
	"context"
	"sync"

	"github.com/boilerhouse/boilerhouse/internal/domain"
)

// FakeExecutor is an in-memory Executor test double: every call is
// recorded, and FailNext lets a test script a failure for the next call
// without shelling out to rclone.
type FakeExecutor struct {
	mu    sync.Mutex
	Calls []FakeCall

	// FailNext, if non-empty, is returned as the failure for the very
	// next Sync call and then cleared.
	FailNext string
}

// FakeCall records one Sync invocation for test assertions.
type FakeCall struct {
	TenantID    string
	Mapping     domain.Mapping
	Sink        domain.Sink
	LocalPath   string
	InitialSync bool
}

var _ Executor = (*FakeExecutor)(nil)

func (f *FakeExecutor) Sync(_ context.Context, tenantID string, mapping domain.Mapping, sink domain.Sink, localPath string, initialSync bool) (domain.SyncResult, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, FakeCall{TenantID: tenantID, Mapping: mapping, Sink: sink, LocalPath: localPath, InitialSync: initialSync})
	fail := f.FailNext
	f.FailNext = ""
	f.mu.Unlock()

	if fail != "" {
		return domain.SyncResult{
			Success:   false,
			Direction: mapping.Direction,
			Mapping:   mapping,
			Errors:    []string{fail},
		}, nil
	}
	return domain.SyncResult{
		Success:          true,
		Direction:        mapping.Direction,
		Mapping:          mapping,
		FilesTransferred: 1,
		BytesTransferred: 1024,
	}, nil
}
