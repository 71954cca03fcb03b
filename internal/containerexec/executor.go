// Package containerexec implements the staged container execution
// pipeline described in §4.G: reconcile the workspace inside a pooled
// container, run the task's command with optional stdin, demultiplex
// its output byte-exact, probe peak memory, and compute a sizing tip.
package containerexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/softbank-final/nanogrid-agent/internal/domain"
	"github.com/softbank-final/nanogrid-agent/internal/logging"
)

// ExecHandle is the narrow duplex-stream handle ContainerExecAttach
// returns: a reader for the multiplexed output and a writer (plus
// close) for stdin.
type ExecHandle interface {
	io.Reader
	io.Writer
	CloseWrite() error
	Close()
}

// DockerAPI is the container-runtime surface this package depends on.
// It is implemented by internal/dockerclient against the real Docker
// Engine SDK; tests implement it with a scripted fake.
type DockerAPI interface {
	PathExists(ctx context.Context, containerID, path string) (bool, error)
	MkdirAll(ctx context.Context, containerID, path string) error
	CopyDirToContainer(ctx context.Context, containerID, hostDir, containerDir string) error

	ExecStart(ctx context.Context, containerID string, cmd []string, workdir string, attachStdin bool) (ExecHandle, string, error)
	ExecExitCode(ctx context.Context, execID string) (int, error)

	StatsPeakMemory(ctx context.Context, containerID string) (int64, error)

	CopyDirFromContainer(ctx context.Context, containerID, containerDir, hostDir string) (bool, error)
}

// Pool is the subset of the warm-pool manager the executor drives.
type Pool interface {
	Acquire(ctx context.Context, rt domain.Runtime) (string, error)
	Release(ctx context.Context, rt domain.Runtime, containerID string)
	Discard(ctx context.Context, containerID string)
}

// OutputUploader uploads a task's output directory (component H). It
// must run before the container is released back to the pool, since a
// released container can be unpaused and reused by the next task at
// any time. A nil Uploader (output binding disabled) yields no files.
type OutputUploader interface {
	Upload(ctx context.Context, requestID, containerID string) []string
}

// Executor implements §4.G's run(task, workspace) -> ExecutionResult.
type Executor struct {
	docker      DockerAPI
	pool        Pool
	uploader    OutputUploader
	workDirRoot string
}

// NewExecutor constructs an Executor. workDirRoot is the in-container
// bind target (<work_root> in §3/§6). uploader may be nil.
func NewExecutor(docker DockerAPI, pool Pool, uploader OutputUploader, workDirRoot string) *Executor {
	return &Executor{docker: docker, pool: pool, uploader: uploader, workDirRoot: workDirRoot}
}

// Run executes one task inside a pooled container and always either
// returns a result or releases/discards the container — it never leaks
// a checked-out container, per §4.G's invariant.
func (e *Executor) Run(ctx context.Context, task *domain.Task, hostWorkspace string) (*domain.ExecutionResult, error) {
	runtime, err := domain.ResolveRuntime(task.RuntimeRaw)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	containerID, err := e.pool.Acquire(ctx, runtime)
	if err != nil {
		return nil, err
	}

	result, execErr := e.runInContainer(ctx, task, runtime, containerID, hostWorkspace, start)

	e.pool.Release(ctx, runtime, containerID)

	if execErr != nil {
		return &domain.ExecutionResult{
			RequestID:      task.RequestID,
			FunctionID:     task.FunctionID,
			ExitCode:       -1,
			Stderr:         fmt.Sprintf("execution failed: %v", execErr),
			DurationMillis: time.Since(start).Milliseconds(),
			OutputFiles:    []string{},
		}, nil
	}

	return result, nil
}

func (e *Executor) runInContainer(ctx context.Context, task *domain.Task, runtime domain.Runtime, containerID, hostWorkspace string, start time.Time) (*domain.ExecutionResult, error) {
	containerWorkDir := e.workDirRoot + "/" + task.RequestID

	if err := e.reconcileWorkspace(ctx, containerID, hostWorkspace, containerWorkDir); err != nil {
		return nil, fmt.Errorf("reconcile workspace: %w", err)
	}

	cmd := runtime.Command()
	if cmd == nil {
		return nil, &domain.ErrRuntimeUnsupported{Raw: task.RuntimeRaw}
	}

	var stdin io.Reader
	var hasStdin bool
	if len(task.Input) > 0 {
		stdin = bytes.NewReader(task.Input)
		hasStdin = true
	}

	stdout, stderr, exitCode, err := e.execute(ctx, containerID, cmd, containerWorkDir, stdin, hasStdin)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}

	peakBytes, err := e.docker.StatsPeakMemory(ctx, containerID)
	var peakPtr *int64
	if err != nil {
		logging.Op().Warn("stats probe failed", "container_id", containerID, "error", err)
	} else {
		peakPtr = &peakBytes
	}

	tip := optimizationTip(peakPtr, task.EffectiveMemoryMB())

	var outputFiles []string
	if e.uploader != nil {
		// Must run before the caller releases containerID back to the
		// pool: once released it can be unpaused for another task.
		outputFiles = e.uploader.Upload(ctx, task.RequestID, containerID)
	} else {
		outputFiles = []string{}
	}

	return &domain.ExecutionResult{
		RequestID:       task.RequestID,
		FunctionID:      task.FunctionID,
		ExitCode:        exitCode,
		Stdout:          sanitizeUTF8(stdout),
		Stderr:          sanitizeUTF8(stderr),
		DurationMillis:  time.Since(start).Milliseconds(),
		PeakMemoryBytes: peakPtr,
		OptimizationTip: tip,
		OutputFiles:     outputFiles,
	}, nil
}

// reconcileWorkspace implements §4.G step 3: probe for the per-task
// directory inside the container; if absent, create it and copy the
// host workspace in via an archive-stream copy. Bind-mount propagation
// for directories created after container start is not reliable on
// every kernel, so the probe runs for every task; the copy runs only
// when the directory is missing.
func (e *Executor) reconcileWorkspace(ctx context.Context, containerID, hostWorkspace, containerWorkDir string) error {
	exists, err := e.docker.PathExists(ctx, containerID, containerWorkDir)
	if err != nil {
		return fmt.Errorf("probe workspace: %w", err)
	}
	if exists {
		return nil
	}

	if err := e.docker.MkdirAll(ctx, containerID, containerWorkDir); err != nil {
		return fmt.Errorf("mkdir workspace: %w", err)
	}
	if err := e.docker.CopyDirToContainer(ctx, containerID, hostWorkspace, containerWorkDir); err != nil {
		return fmt.Errorf("copy workspace: %w", err)
	}
	return nil
}

// execute implements §4.G step 6. When stdin is present it uses the
// raw-exec duplex socket: write the payload, half-close the write side,
// then demultiplex the response stream until EOF. When stdin is absent
// it still goes through the same exec path with attachStdin=false,
// matching the "simpler demultiplexed helper" the spec describes as an
// equivalent when there is nothing to write.
func (e *Executor) execute(ctx context.Context, containerID string, cmd []string, workdir string, stdin io.Reader, hasStdin bool) (stdout, stderr []byte, exitCode int, err error) {
	handle, execID, err := e.docker.ExecStart(ctx, containerID, cmd, workdir, hasStdin)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("start exec: %w", err)
	}
	defer handle.Close()

	if hasStdin {
		if _, err := io.Copy(handle, stdin); err != nil {
			return nil, nil, 0, fmt.Errorf("write stdin: %w", err)
		}
		if err := handle.CloseWrite(); err != nil {
			return nil, nil, 0, fmt.Errorf("close stdin: %w", err)
		}
	}

	stdout, stderr, err = demux(handle)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("demultiplex output: %w", err)
	}

	exitCode, err = e.docker.ExecExitCode(ctx, execID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("inspect exec: %w", err)
	}

	return stdout, stderr, exitCode, nil
}

// SerializeInput re-encodes a task's input as a single JSON document,
// rejecting input that is not valid JSON. Run does not call it: it
// writes task.Input to the exec's stdin as received.
func SerializeInput(input json.RawMessage) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return nil, fmt.Errorf("invalid input payload: %w", err)
	}
	return json.Marshal(v)
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode
// replacement character, per §3's ExecutionResult invariant.
func sanitizeUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
