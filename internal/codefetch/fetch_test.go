package codefetch

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/softbank-final/nanogrid-agent/internal/domain"
)

type fakeS3 struct {
	objects map[string][]byte
	err     error
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := *params.Key
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", key)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

func TestPrepareWorkingDirectory(t *testing.T) {
	baseDir := t.TempDir()
	zipBytes := buildZip(t, map[string]string{"main.py": "print('hi')"})
	fake := &fakeS3{objects: map[string][]byte{"code/task1.zip": zipBytes}}
	fetcher := NewFetcher(fake, "code-bucket", baseDir)

	task := &domain.Task{RequestID: "task1", S3Key: "code/task1.zip"}
	workDir, err := fetcher.PrepareWorkingDirectory(context.Background(), task)
	if err != nil {
		t.Fatalf("PrepareWorkingDirectory: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(workDir, "main.py"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(content) != "print('hi')" {
		t.Fatalf("unexpected content: %s", content)
	}
	if _, err := os.Stat(filepath.Join(workDir, "code.zip")); !os.IsNotExist(err) {
		t.Fatal("expected downloaded archive to be removed after extraction")
	}
}

func TestPrepareWorkingDirectory_MissingObjectClassifiesAsS3(t *testing.T) {
	baseDir := t.TempDir()
	fake := &fakeS3{objects: map[string][]byte{}}
	fetcher := NewFetcher(fake, "code-bucket", baseDir)

	task := &domain.Task{RequestID: "task1", S3Key: "missing.zip"}
	_, err := fetcher.PrepareWorkingDirectory(context.Background(), task)
	if err == nil {
		t.Fatal("expected error")
	}
	fetchErr, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fetchErr.ErrorClass() != "S3" {
		t.Fatalf("expected S3 class, got %s", fetchErr.ErrorClass())
	}
}

func TestExtractZip_RejectsPathEscape(t *testing.T) {
	destDir := t.TempDir()
	srcDir := t.TempDir()
	zipPath := filepath.Join(srcDir, "evil.zip")

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	f, err := w.Create("../escape.txt")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := f.Write([]byte("pwned")); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := os.WriteFile(zipPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}

	if err := extractZip(zipPath, destDir); err != nil {
		t.Fatalf("extractZip: %v", err)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(destDir), "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("expected escaping entry to be skipped, not written outside destDir")
	}
}
