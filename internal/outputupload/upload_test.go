package outputupload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeContainerCopier struct {
	copied    bool
	err       error
	populate  map[string]string // relative path -> content, written under hostDir/output
}

func (f *fakeContainerCopier) CopyDirFromContainer(_ context.Context, _, _, hostDir string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if !f.copied {
		return false, nil
	}
	outputDir := filepath.Join(hostDir, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return false, err
	}
	for rel, content := range f.populate {
		path := filepath.Join(outputDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return false, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return false, err
		}
	}
	return true, nil
}

type fakeS3Uploader struct {
	puts []string
}

func (f *fakeS3Uploader) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, *params.Key)
	return &s3.PutObjectOutput{}, nil
}

func TestUpload_Disabled(t *testing.T) {
	u := NewUploader(&fakeContainerCopier{}, &fakeS3Uploader{}, Config{Enabled: false})
	urls := u.Upload(context.Background(), "req1", "container1")
	if len(urls) != 0 {
		t.Fatalf("expected empty slice, got %v", urls)
	}
}

func TestUpload_NoBucketConfigured(t *testing.T) {
	u := NewUploader(&fakeContainerCopier{}, &fakeS3Uploader{}, Config{Enabled: true, Bucket: ""})
	urls := u.Upload(context.Background(), "req1", "container1")
	if len(urls) != 0 {
		t.Fatalf("expected empty slice, got %v", urls)
	}
}

func TestUpload_NoOutputDirectory(t *testing.T) {
	copier := &fakeContainerCopier{copied: false}
	u := NewUploader(copier, &fakeS3Uploader{}, Config{
		Enabled: true, Bucket: "out-bucket", S3Prefix: "output", StagingRoot: t.TempDir(), WorkDirRoot: "/workspace",
	})
	urls := u.Upload(context.Background(), "req1", "container1")
	if len(urls) != 0 {
		t.Fatalf("expected empty slice, got %v", urls)
	}
}

func TestUpload_UploadsEveryFile(t *testing.T) {
	copier := &fakeContainerCopier{copied: true, populate: map[string]string{
		"result.json":         `{"ok":true}`,
		"nested/artifact.bin": "binary-data",
	}}
	s3fake := &fakeS3Uploader{}
	u := NewUploader(copier, s3fake, Config{
		Enabled: true, Bucket: "out-bucket", S3Prefix: "output", StagingRoot: t.TempDir(), WorkDirRoot: "/workspace",
	})

	urls := u.Upload(context.Background(), "req1", "container1")
	if len(urls) != 2 {
		t.Fatalf("expected 2 uploaded files, got %v", urls)
	}
	if len(s3fake.puts) != 2 {
		t.Fatalf("expected 2 PutObject calls, got %d", len(s3fake.puts))
	}
	for _, key := range s3fake.puts {
		if filepath.Dir(key) == "." {
			t.Fatalf("expected key to be namespaced under prefix/requestID, got %s", key)
		}
	}
}

func TestUpload_CopyFailureReturnsEmpty(t *testing.T) {
	copier := &fakeContainerCopier{err: os.ErrPermission}
	u := NewUploader(copier, &fakeS3Uploader{}, Config{
		Enabled: true, Bucket: "out-bucket", StagingRoot: t.TempDir(), WorkDirRoot: "/workspace",
	})
	urls := u.Upload(context.Background(), "req1", "container1")
	if len(urls) != 0 {
		t.Fatalf("expected empty slice on copy failure, got %v", urls)
	}
}
