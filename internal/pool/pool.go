// Package pool manages per-runtime warm container pools.
//
// # Design rationale
//
// Cold-starting a container is dominated by image boot time for every
// runtime this agent supports. Pause/unpause is orders of magnitude
// cheaper than stop/start, so the pool keeps one paused container
// per-slot alive between tasks rather than tearing containers down
// after every invocation. The pool caps the number of live containers
// per runtime and doubles as both a cache and an admission limit.
//
// # Pool topology
//
// One deque of paused container ids is maintained per runtime variant.
// Each deque is guarded by its own mutex so a future multi-worker
// variant can acquire/release concurrently without cross-runtime
// contention, even though today's dispatcher is single-threaded.
//
// # Concurrency model
//
// The only operations performed under a runtime's lock are popping and
// pushing container ids. Container creation, pause, and unpause all
// happen outside the critical section — an empty-pool miss on acquire
// releases the lock before creating a replacement container.
//
// # Invariants
//
//   - Every id in a pool is in the paused state.
//   - No id is a member of more than one pool.
//   - checkout and release are balanced for every successful
//     acquisition: the pipeline always releases or discards before ack.
//
// # Failure behaviour
//
// An unpause failure during checkout discards the offending container
// and retries once with a freshly created one. A creation failure on an
// empty-pool miss is returned as a ContainerError without a retry. Any
// failure during release discards the container instead of returning
// it to the pool; the pool then temporarily sits below its target
// depth and is lazily replenished on the next checkout miss.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"

	"github.com/softbank-final/nanogrid-agent/internal/domain"
	"github.com/softbank-final/nanogrid-agent/internal/logging"
)

// ContainerRuntime is the narrow subset of the Docker Engine API the
// pool needs. containerexec.DockerAPI declares the rest of the surface
// this agent uses (exec, stats, archive copy); internal/dockerclient
// implements both against the same client.
type ContainerRuntime interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, runtime string, name string) (string, error)
	ContainerStart(ctx context.Context, id string) error
	ContainerPause(ctx context.Context, id string) error
	ContainerUnpause(ctx context.Context, id string) error
	ContainerStop(ctx context.Context, id string, grace time.Duration) error
	ContainerRemove(ctx context.Context, id string) error
	ContainerIsRunning(ctx context.Context, id string) (bool, error)
}

// RuntimeImages resolves the image name and warm-pool target depth for
// a runtime, sourced from config.
type RuntimeImages interface {
	ImageFor(runtime domain.Runtime) string
	SizeFor(runtime domain.Runtime) int
}

// Manager owns one paused-container deque per runtime.
type Manager struct {
	rt        ContainerRuntime
	images    RuntimeImages
	workRoot  string // in-container bind target
	hostRoot  string // host bind source (task_base_dir)

	mus   map[domain.Runtime]*sync.Mutex
	pools map[domain.Runtime][]string
}

// NewManager constructs a Manager for the four closed-set runtimes.
func NewManager(rt ContainerRuntime, images RuntimeImages, hostRoot, workRoot string) *Manager {
	m := &Manager{
		rt:       rt,
		images:   images,
		hostRoot: hostRoot,
		workRoot: workRoot,
		mus:      make(map[domain.Runtime]*sync.Mutex),
		pools:    make(map[domain.Runtime][]string),
	}
	for _, r := range []domain.Runtime{domain.RuntimePython, domain.RuntimeCPP, domain.RuntimeNodeJS, domain.RuntimeGo} {
		m.mus[r] = &sync.Mutex{}
	}
	return m
}

// Initialize pre-creates and pauses each runtime's configured number of
// containers. Called once at startup by process wiring (component J).
func (m *Manager) Initialize(ctx context.Context) error {
	for _, r := range []domain.Runtime{domain.RuntimePython, domain.RuntimeCPP, domain.RuntimeNodeJS, domain.RuntimeGo} {
		size := m.images.SizeFor(r)
		for i := 0; i < size; i++ {
			id, err := m.createAndPause(ctx, r)
			if err != nil {
				return fmt.Errorf("pre-warm %s container %d/%d: %w", r, i+1, size, err)
			}
			m.push(r, id)
		}
		logging.Op().Info("warm pool initialized", "runtime", r, "size", size)
	}
	return nil
}

// Acquire implements §4.F's checkout algorithm: pop a paused id under
// the runtime's lock (creating a fresh container outside the lock on a
// miss), then unpause it. An unpause failure discards the container and
// retries once with a replacement.
func (m *Manager) Acquire(ctx context.Context, rt domain.Runtime) (string, error) {
	id, ok := m.pop(rt)
	if !ok {
		created, err := m.createAndPause(ctx, rt)
		if err != nil {
			return "", &ContainerError{Op: "create", Runtime: rt, Err: err}
		}
		id = created
	}

	if err := m.rt.ContainerUnpause(ctx, id); err != nil {
		logging.Op().Warn("unpause failed, discarding and retrying", "runtime", rt, "container_id", id, "error", err)
		m.discard(ctx, id)

		replacement, cerr := m.createAndPause(ctx, rt)
		if cerr != nil {
			return "", &ContainerError{Op: "unpause-retry-create", Runtime: rt, Err: cerr}
		}
		if err := m.rt.ContainerUnpause(ctx, replacement); err != nil {
			m.discard(ctx, replacement)
			return "", &ContainerError{Op: "unpause-retry", Runtime: rt, Err: err}
		}
		return replacement, nil
	}

	return id, nil
}

// Release implements §4.F's return algorithm: if the container is no
// longer running it is discarded; otherwise it is paused and pushed
// back onto its pool. Any failure along the way discards the container.
func (m *Manager) Release(ctx context.Context, rt domain.Runtime, id string) {
	running, err := m.rt.ContainerIsRunning(ctx, id)
	if err != nil || !running {
		if err != nil {
			logging.Op().Warn("release: status check failed, discarding", "container_id", id, "error", err)
		}
		m.discard(ctx, id)
		return
	}

	if err := m.rt.ContainerPause(ctx, id); err != nil {
		logging.Op().Warn("release: pause failed, discarding", "container_id", id, "error", err)
		m.discard(ctx, id)
		return
	}

	m.push(rt, id)
}

// Discard is the exported form of discard, for callers that must drop a
// container outside the normal release path. The executor does not call
// it: it hands every checked-out container to Release, which discards
// containers that are no longer running.
func (m *Manager) Discard(ctx context.Context, id string) {
	m.discard(ctx, id)
}

// Shutdown drains every pool and discards each entry. Called once by
// process wiring during graceful shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	for rt, mu := range m.mus {
		mu.Lock()
		ids := m.pools[rt]
		m.pools[rt] = nil
		mu.Unlock()

		for _, id := range ids {
			m.discard(ctx, id)
		}
	}
}

// Depth reports the current number of paused containers for a runtime,
// for the ambient pool-depth gauge.
func (m *Manager) Depth(rt domain.Runtime) int {
	mu := m.mus[rt]
	mu.Lock()
	defer mu.Unlock()
	return len(m.pools[rt])
}

func (m *Manager) pop(rt domain.Runtime) (string, bool) {
	mu := m.mus[rt]
	mu.Lock()
	defer mu.Unlock()

	pool := m.pools[rt]
	if len(pool) == 0 {
		return "", false
	}
	id := pool[0]
	m.pools[rt] = pool[1:]
	return id, true
}

func (m *Manager) push(rt domain.Runtime, id string) {
	mu := m.mus[rt]
	mu.Lock()
	defer mu.Unlock()
	m.pools[rt] = append(m.pools[rt], id)
}

func (m *Manager) createAndPause(ctx context.Context, rt domain.Runtime) (string, error) {
	name := fmt.Sprintf("nanogrid-warmpool-%s-%s", rt, uuid.NewString())
	image := m.images.ImageFor(rt)

	cfg := &container.Config{
		Image: image,
		Cmd:   []string{"sleep", "infinity"},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{m.hostRoot + ":" + m.workRoot + ":rw"},
	}

	id, err := m.rt.ContainerCreate(ctx, cfg, hostCfg, image, name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := m.rt.ContainerStart(ctx, id); err != nil {
		m.discard(ctx, id)
		return "", fmt.Errorf("start container: %w", err)
	}
	if err := m.rt.ContainerPause(ctx, id); err != nil {
		m.discard(ctx, id)
		return "", fmt.Errorf("pause container: %w", err)
	}
	return id, nil
}

func (m *Manager) discard(ctx context.Context, id string) {
	if err := m.rt.ContainerStop(ctx, id, 5*time.Second); err != nil {
		logging.Op().Warn("discard: stop failed, continuing to remove", "container_id", id, "error", err)
	}
	if err := m.rt.ContainerRemove(ctx, id); err != nil {
		logging.Op().Warn("discard: remove failed", "container_id", id, "error", err)
	}
}

// ContainerError wraps any pool-originated container failure. The
// dispatcher's ack policy treats this as the DOCKER error class.
type ContainerError struct {
	Op      string
	Runtime domain.Runtime
	Err     error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("container pool %s (%s): %v", e.Op, e.Runtime, e.Err)
}

func (e *ContainerError) Unwrap() error { return e.Err }

func (e *ContainerError) ErrorClass() string { return "DOCKER" }
