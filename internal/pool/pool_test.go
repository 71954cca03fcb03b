package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"

	"github.com/softbank-final/nanogrid-agent/internal/domain"
)

type fakeRuntime struct {
	mu        sync.Mutex
	running   map[string]bool
	unpauseErr map[string]error
	created   int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{running: make(map[string]bool), unpauseErr: make(map[string]error)}
}

func (f *fakeRuntime) ContainerCreate(_ context.Context, _ *container.Config, _ *container.HostConfig, _ string, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	id := fmt.Sprintf("%s-%s", name, uuid.NewString())
	f.running[id] = true
	return id, nil
}

func (f *fakeRuntime) ContainerStart(_ context.Context, id string) error { return nil }

func (f *fakeRuntime) ContainerPause(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = true
	return nil
}

func (f *fakeRuntime) ContainerUnpause(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.unpauseErr[id]; ok {
		return err
	}
	return nil
}

func (f *fakeRuntime) ContainerStop(_ context.Context, id string, _ time.Duration) error { return nil }

func (f *fakeRuntime) ContainerRemove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	return nil
}

func (f *fakeRuntime) ContainerIsRunning(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id], nil
}

type fakeImages struct{}

func (fakeImages) ImageFor(rt domain.Runtime) string { return string(rt) + ":latest" }
func (fakeImages) SizeFor(rt domain.Runtime) int {
	if rt == domain.RuntimePython {
		return 2
	}
	return 0
}

func TestInitialize_PreWarmsConfiguredDepth(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(rt, fakeImages{}, "/host", "/container")

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := m.Depth(domain.RuntimePython); got != 2 {
		t.Fatalf("expected depth 2, got %d", got)
	}
	if got := m.Depth(domain.RuntimeGo); got != 0 {
		t.Fatalf("expected depth 0, got %d", got)
	}
}

func TestAcquireRelease_RoundTrips(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(rt, fakeImages{}, "/host", "/container")
	ctx := context.Background()

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	id, err := m.Acquire(ctx, domain.RuntimePython)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if m.Depth(domain.RuntimePython) != 1 {
		t.Fatalf("expected depth 1 after acquire, got %d", m.Depth(domain.RuntimePython))
	}

	m.Release(ctx, domain.RuntimePython, id)
	if m.Depth(domain.RuntimePython) != 2 {
		t.Fatalf("expected depth 2 after release, got %d", m.Depth(domain.RuntimePython))
	}
}

func TestAcquire_EmptyPoolCreatesReplacement(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(rt, fakeImages{}, "/host", "/container")
	ctx := context.Background()

	id, err := m.Acquire(ctx, domain.RuntimeGo)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if id == "" {
		t.Fatal("expected a container id")
	}
	if rt.created != 1 {
		t.Fatalf("expected one container created, got %d", rt.created)
	}
}

func TestAcquire_UnpauseFailureDiscardsAndRetries(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(rt, fakeImages{}, "/host", "/container")
	ctx := context.Background()

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Poison every currently pooled container's unpause call.
	mu := m.mus[domain.RuntimePython]
	mu.Lock()
	for _, id := range m.pools[domain.RuntimePython] {
		rt.unpauseErr[id] = errors.New("unpause failed")
	}
	mu.Unlock()

	id, err := m.Acquire(ctx, domain.RuntimePython)
	if err != nil {
		t.Fatalf("Acquire should retry with a fresh container: %v", err)
	}
	if id == "" {
		t.Fatal("expected a replacement container id")
	}
}

func TestRelease_DiscardsStoppedContainer(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(rt, fakeImages{}, "/host", "/container")
	ctx := context.Background()

	id, err := m.Acquire(ctx, domain.RuntimeGo)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	rt.mu.Lock()
	rt.running[id] = false
	rt.mu.Unlock()

	m.Release(ctx, domain.RuntimeGo, id)
	if m.Depth(domain.RuntimeGo) != 0 {
		t.Fatalf("expected discarded container not returned to pool, depth=%d", m.Depth(domain.RuntimeGo))
	}
}

func TestShutdown_DrainsAllPools(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(rt, fakeImages{}, "/host", "/container")
	ctx := context.Background()

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	m.Shutdown(ctx)
	if got := m.Depth(domain.RuntimePython); got != 0 {
		t.Fatalf("expected depth 0 after shutdown, got %d", got)
	}
}
