// Package dockerclient adapts the Docker Engine SDK to the narrow
// interfaces internal/pool and internal/containerexec depend on. It is
// the one place in this repository that speaks the raw client API;
// everything else codes against pool.ContainerRuntime and
// containerexec.DockerAPI.
package dockerclient

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"

	"github.com/softbank-final/nanogrid-agent/internal/containerexec"
)

// Client wraps *dockerclient.Client, implementing both
// pool.ContainerRuntime and containerexec.DockerAPI.
type Client struct {
	cli *dockerclient.Client
}

// New connects to the Docker Engine using the standard environment
// variables (DOCKER_HOST, DOCKER_CERT_PATH, DOCKER_TLS_VERIFY) and
// negotiates the API version with the daemon.
func New() (*Client, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("connect docker daemon: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error { return c.cli.Close() }

// --- pool.ContainerRuntime -------------------------------------------------

func (c *Client) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, _ string, name string) (string, error) {
	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) ContainerStart(ctx context.Context, id string) error {
	return c.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (c *Client) ContainerPause(ctx context.Context, id string) error {
	return c.cli.ContainerPause(ctx, id)
}

func (c *Client) ContainerUnpause(ctx context.Context, id string) error {
	return c.cli.ContainerUnpause(ctx, id)
}

func (c *Client) ContainerStop(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace.Seconds())
	return c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
}

func (c *Client) ContainerRemove(ctx context.Context, id string) error {
	return c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

func (c *Client) ContainerIsRunning(ctx context.Context, id string) (bool, error) {
	info, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		return false, err
	}
	return info.State != nil && info.State.Running, nil
}

// --- containerexec.DockerAPI -----------------------------------------------

func (c *Client) PathExists(ctx context.Context, containerID, path string) (bool, error) {
	_, err := c.cli.ContainerStatPath(ctx, containerID, path)
	if err == nil {
		return true, nil
	}
	if dockerclient.IsErrNotFound(err) {
		return false, nil
	}
	return false, err
}

func (c *Client) MkdirAll(ctx context.Context, containerID, path string) error {
	handle, execID, err := c.ExecStart(ctx, containerID, []string{"mkdir", "-p", path}, "", false)
	if err != nil {
		return err
	}
	defer handle.Close()
	if _, err := io.Copy(io.Discard, handle); err != nil {
		return err
	}
	code, err := c.ExecExitCode(ctx, execID)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("mkdir -p %s exited %d", path, code)
	}
	return nil
}

func (c *Client) CopyDirToContainer(ctx context.Context, containerID, hostDir, containerDir string) error {
	buf := &bytes.Buffer{}
	if err := tarDir(buf, hostDir); err != nil {
		return fmt.Errorf("tar workspace: %w", err)
	}
	return c.cli.CopyToContainer(ctx, containerID, containerDir, buf, types.CopyToContainerOptions{})
}

func (c *Client) CopyDirFromContainer(ctx context.Context, containerID, containerDir, hostDir string) (bool, error) {
	exists, err := c.PathExists(ctx, containerID, containerDir)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	reader, _, err := c.cli.CopyFromContainer(ctx, containerID, containerDir)
	if err != nil {
		return false, fmt.Errorf("copy from container: %w", err)
	}
	defer reader.Close()

	if err := untar(reader, hostDir); err != nil {
		return false, fmt.Errorf("untar output: %w", err)
	}
	return true, nil
}

func (c *Client) ExecStart(ctx context.Context, containerID string, cmd []string, workdir string, attachStdin bool) (containerexec.ExecHandle, string, error) {
	execCfg := container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workdir,
		AttachStdin:  attachStdin,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := c.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, "", fmt.Errorf("exec create: %w", err)
	}

	hijacked, err := c.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("exec attach: %w", err)
	}

	return &hijackedHandle{HijackedResponse: hijacked}, created.ID, nil
}

func (c *Client) ExecExitCode(ctx context.Context, execID string) (int, error) {
	info, err := c.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return 0, err
	}
	return info.ExitCode, nil
}

func (c *Client) StatsPeakMemory(ctx context.Context, containerID string) (int64, error) {
	stats, err := c.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return 0, err
	}
	defer stats.Body.Close()
	return parsePeakMemory(stats.Body)
}

// parsePeakMemory decodes a one-shot stats body per spec.md §4.G step 7:
// memory_stats.usage is the recorded peak, not the cgroup-v1-only
// memory_stats.max_usage field (zero/absent under cgroup v2).
func parsePeakMemory(r io.Reader) (int64, error) {
	var v types.StatsJSON
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return 0, fmt.Errorf("decode stats: %w", err)
	}
	return int64(v.MemoryStats.Usage), nil
}

// hijackedHandle adapts types.HijackedResponse to containerexec.ExecHandle.
type hijackedHandle struct {
	types.HijackedResponse
}

func (h *hijackedHandle) Read(p []byte) (int, error)  { return h.Reader.Read(p) }
func (h *hijackedHandle) Write(p []byte) (int, error) { return h.Conn.Write(p) }
func (h *hijackedHandle) Close()                      { h.HijackedResponse.Close() }

// CloseWrite half-closes the write side of the underlying connection,
// signalling EOF on stdin without tearing down the read side.
func (h *hijackedHandle) CloseWrite() error {
	type halfCloser interface{ CloseWrite() error }
	if hc, ok := h.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return nil
}

// tarDir archives a host directory's contents (not the directory entry
// itself) into w, for CopyToContainer's "content lands inside dstPath"
// semantics.
func tarDir(w io.Writer, root string) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// untar extracts r into destDir, rejecting any entry that would escape
// it via ".." or an absolute path, matching the same path-safety
// discipline codefetch applies to zip extraction.
func untar(r io.Reader, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(root, header.Name)
		rel, err := filepath.Rel(root, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode)|0o600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}
