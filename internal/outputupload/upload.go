// Package outputupload implements the output binding described in
// §4.H: after a task finishes, any files the function wrote under its
// container workspace's output/ directory are copied out and pushed to
// S3 so a function can return artifacts larger than its JSON result.
package outputupload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/softbank-final/nanogrid-agent/internal/logging"
)

// ContainerCopier is the subset of the container runtime this package
// needs: pull a directory tree out of a container onto the host.
type ContainerCopier interface {
	CopyDirFromContainer(ctx context.Context, containerID, containerDir, hostDir string) (bool, error)
}

// S3API is the narrow client surface this package needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader implements §4.H. Every step is best-effort: a failure at any
// stage is logged and results in an empty file list rather than an
// error, since a missing output binding must never fail the task.
type Uploader struct {
	docker      ContainerCopier
	s3          S3API
	enabled     bool
	bucket      string
	s3Prefix    string
	stagingRoot string
	workDirRoot string
}

// Config bundles the output-binding settings from §6's output group.
type Config struct {
	Enabled     bool
	Bucket      string
	S3Prefix    string
	StagingRoot string
	WorkDirRoot string
}

// NewUploader constructs an Uploader.
func NewUploader(docker ContainerCopier, s3Client S3API, cfg Config) *Uploader {
	return &Uploader{
		docker:      docker,
		s3:          s3Client,
		enabled:     cfg.Enabled,
		bucket:      cfg.Bucket,
		s3Prefix:    cfg.S3Prefix,
		stagingRoot: cfg.StagingRoot,
		workDirRoot: cfg.WorkDirRoot,
	}
}

// Upload pulls <work_dir_root>/<requestID>/output from the container,
// uploads every regular file under it to
// s3://bucket/<prefix>/<requestID>/<relative path>, and returns the
// resulting object URIs. Returns an empty, non-nil slice whenever the
// binding is disabled, unconfigured, or any step fails.
func (u *Uploader) Upload(ctx context.Context, requestID, containerID string) []string {
	if !u.enabled {
		logging.Op().Debug("output upload disabled", "request_id", requestID)
		return []string{}
	}
	if u.bucket == "" {
		logging.Op().Warn("output upload skipped: no bucket configured", "request_id", requestID)
		return []string{}
	}

	containerOutputPath := fmt.Sprintf("%s/%s/output", u.workDirRoot, requestID)
	hostStaging := filepath.Join(u.stagingRoot, requestID)
	defer os.RemoveAll(hostStaging)

	copied, err := u.docker.CopyDirFromContainer(ctx, containerID, containerOutputPath, hostStaging)
	if err != nil {
		logging.Op().Warn("output copy from container failed", "request_id", requestID, "error", err)
		return []string{}
	}
	if !copied {
		logging.Op().Debug("no output directory found in container", "request_id", requestID)
		return []string{}
	}

	outputDir := filepath.Join(hostStaging, "output")
	if _, err := os.Stat(outputDir); err != nil {
		outputDir = hostStaging
	}

	urls, err := u.uploadTree(ctx, requestID, outputDir)
	if err != nil {
		logging.Op().Error("output upload to s3 failed", "request_id", requestID, "error", err)
		return []string{}
	}

	if len(urls) > 0 {
		logging.Op().Info("uploaded output files", "request_id", requestID, "count", len(urls))
	}
	return urls
}

func (u *Uploader) uploadTree(ctx context.Context, requestID, root string) ([]string, error) {
	var urls []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%s/%s/%s", u.s3Prefix, requestID, filepath.ToSlash(rel))

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()

		_, err = u.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		if err != nil {
			return fmt.Errorf("put object %s: %w", key, err)
		}

		urls = append(urls, fmt.Sprintf("s3://%s/%s", u.bucket, key))
		return nil
	})

	if urls == nil {
		urls = []string{}
	}
	return urls, err
}
