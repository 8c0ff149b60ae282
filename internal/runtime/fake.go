package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeRuntime is an in-memory Runtime used by tests across packages that
// depend on this contract, so exercising the pool engine, container
// manager, or recovery logic never requires a live container engine.
type FakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	// FailCreate, when set, is returned by the next CreateContainer call
	// and then cleared, letting tests simulate a one-off provisioning
	// failure.
	FailCreate error
}

type fakeContainer struct {
	spec    ContainerSpec
	running bool
}

// NewFakeRuntime returns an empty fake runtime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{containers: make(map[string]*fakeContainer)}
}

func (f *FakeRuntime) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate != nil {
		err := f.FailCreate
		f.FailCreate = nil
		return "", err
	}
	id := "fake-" + uuid.NewString()
	f.containers[id] = &fakeContainer{spec: spec}
	return id, nil
}

func (f *FakeRuntime) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("runtime: container %s not found", id)
	}
	c.running = true
	return nil
}

func (f *FakeRuntime) StopContainer(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("runtime: container %s not found", id)
	}
	c.running = false
	return nil
}

func (f *FakeRuntime) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *FakeRuntime) InspectContainer(_ context.Context, id string) (Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return Inspection{}, fmt.Errorf("runtime: container %s not found", id)
	}
	return Inspection{ID: id, Running: c.running, Labels: c.spec.Labels}, nil
}

func (f *FakeRuntime) Exec(_ context.Context, id string, _ []string, _ time.Duration) (ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return ExecResult{}, fmt.Errorf("runtime: container %s not found", id)
	}
	return ExecResult{ExitCode: 0}, nil
}

func (f *FakeRuntime) ListManaged(_ context.Context) ([]ManagedContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ManagedContainer, 0, len(f.containers))
	for id, c := range f.containers {
		out = append(out, ManagedContainer{ID: id, Running: c.running, Labels: c.spec.Labels})
	}
	return out, nil
}

func (f *FakeRuntime) Ping(context.Context) error { return nil }

func (f *FakeRuntime) Close() error { return nil }

var _ Runtime = (*FakeRuntime)(nil)
