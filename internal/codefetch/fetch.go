// Package codefetch downloads a task's code bundle from the object
// store and safely extracts it into a per-task workspace on the host.
package codefetch

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/softbank-final/nanogrid-agent/internal/domain"
	"github.com/softbank-final/nanogrid-agent/internal/logging"
)

// FetchError wraps any failure to prepare a task's workspace: the
// object is missing, unreadable, or the archive is malformed. The
// dispatcher classifies this as the S3 error class when the underlying
// message names "NoSuchKey" or "Not Found" (matching §4.I's table),
// and as UNKNOWN otherwise (e.g. a corrupt archive).
type FetchError struct {
	RequestID string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("prepare working directory for %s: %v", e.RequestID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrorClass implements the dispatcher's classifier interface. It
// defers to substring sniffing on the wrapped error's message, exactly
// as §4.I's table specifies for S3-originated failures.
func (e *FetchError) ErrorClass() string {
	msg := e.Err.Error()
	if strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "Not Found") {
		return "S3"
	}
	return "UNKNOWN"
}

// S3API is the narrow subset of the AWS S3 client this package needs,
// seamed out for testing with a fake.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher prepares per-task workspaces from zip archives in an S3-like
// object store.
type Fetcher struct {
	client   S3API
	bucket   string
	baseDir  string
}

// NewFetcher constructs a Fetcher rooted at baseDir (the host directory
// bind-mounted into every pool container).
func NewFetcher(client S3API, bucket, baseDir string) *Fetcher {
	return &Fetcher{client: client, bucket: bucket, baseDir: baseDir}
}

// PrepareWorkingDirectory implements §4.C: it clears and recreates
// <task_base>/<request_id>/, downloads the task's code object to a
// sibling zip file, and extracts it path-safely into the workspace. It
// returns the workspace path.
func (f *Fetcher) PrepareWorkingDirectory(ctx context.Context, task *domain.Task) (string, error) {
	workDir := filepath.Join(f.baseDir, task.RequestID)

	if err := os.RemoveAll(workDir); err != nil {
		return "", &FetchError{RequestID: task.RequestID, Err: fmt.Errorf("clear workspace: %w", err)}
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", &FetchError{RequestID: task.RequestID, Err: fmt.Errorf("create workspace: %w", err)}
	}

	bucket := task.S3Bucket
	if bucket == "" {
		bucket = f.bucket
	}

	zipPath := filepath.Join(workDir, "code.zip")
	if err := f.download(ctx, bucket, task.S3Key, zipPath); err != nil {
		return "", &FetchError{RequestID: task.RequestID, Err: err}
	}

	if err := extractZip(zipPath, workDir); err != nil {
		return "", &FetchError{RequestID: task.RequestID, Err: fmt.Errorf("extract archive: %w", err)}
	}

	if err := os.Remove(zipPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Op().Warn("failed to remove downloaded archive", "path", zipPath, "error", err)
	}

	return workDir, nil
}

func (f *Fetcher) download(ctx context.Context, bucket, key, dest string) error {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("get object s3://%s/%s: %s: %s", bucket, key, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, out.Body); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}
	return nil
}

// extractZip extracts src into destDir, rejecting any entry whose
// resolved path escapes destDir (invariant 4 of §8: every extracted
// entry is a descendant of the workspace root).
func extractZip(src, destDir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}

	for _, entry := range r.File {
		target := filepath.Join(root, entry.Name)
		if !isDescendant(root, target) {
			logging.Op().Warn("skipping archive entry escaping workspace root", "entry", entry.Name)
			continue
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeEntry(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(entry *zip.File, target string) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode().Perm()|0o600)
	if err != nil {
		return fmt.Errorf("write archive entry %s: %w", entry.Name, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("copy archive entry %s: %w", entry.Name, err)
	}
	return nil
}

func isDescendant(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
