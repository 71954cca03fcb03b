package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/softbank-final/nanogrid-agent/internal/domain"
)

func TestDockerConfigImageFor(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		runtime domain.Runtime
		want    string
	}{
		{domain.RuntimePython, cfg.Docker.PythonImage},
		{domain.RuntimeCPP, cfg.Docker.CPPImage},
		{domain.RuntimeNodeJS, cfg.Docker.NodeJSImage},
		{domain.RuntimeGo, cfg.Docker.GoImage},
	}
	for _, tt := range tests {
		if got := cfg.ImageFor(tt.runtime); got != tt.want {
			t.Fatalf("ImageFor(%q) = %q, want %q", tt.runtime, got, tt.want)
		}
	}
}

func TestWarmPoolConfigSizeFor(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.SizeFor(domain.RuntimePython); got != cfg.WarmPool.PythonSize {
		t.Fatalf("SizeFor(python) = %d, want %d", got, cfg.WarmPool.PythonSize)
	}
	if got := cfg.SizeFor(domain.Runtime("unknown")); got != 0 {
		t.Fatalf("SizeFor(unknown) = %d, want 0", got)
	}
}

func TestRedisConfigAddr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	if got := r.Addr(); got != "cache:6380" {
		t.Fatalf("Addr() = %q, want %q", got, "cache:6380")
	}
}

func TestLoadFromFile_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := []byte("sqs:\n  queue_url: https://example.com/queue\n" +
		"docker:\n  python_image: custom-python:latest\n")
	if err := os.WriteFile(path, yamlBody, 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.SQS.QueueURL != "https://example.com/queue" {
		t.Fatalf("unexpected queue url: %s", cfg.SQS.QueueURL)
	}
	if cfg.Docker.PythonImage != "custom-python:latest" {
		t.Fatalf("unexpected python image: %s", cfg.Docker.PythonImage)
	}
	// Untouched defaults should survive the overlay.
	if cfg.Docker.NodeJSImage != DefaultConfig().Docker.NodeJSImage {
		t.Fatalf("expected default nodejs image to survive, got %s", cfg.Docker.NodeJSImage)
	}
}

func TestLoad_FallsBackToEnvWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	defer os.Chdir(cwd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	t.Setenv("NANOGRID_CONFIG", "")
	t.Setenv("SQS_QUEUE_URL", "https://example.com/env-queue")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SQS.QueueURL != "https://example.com/env-queue" {
		t.Fatalf("unexpected queue url: %s", cfg.SQS.QueueURL)
	}
}

func TestApplySelectedOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SQS.QueueURL = "from-file"
	t.Setenv("SQS_QUEUE_URL", "from-env")
	t.Setenv("REDIS_HOST", "redis-env")

	applySelectedOverrides(cfg)

	if cfg.SQS.QueueURL != "from-env" {
		t.Fatalf("expected env override to win, got %s", cfg.SQS.QueueURL)
	}
	if cfg.Redis.Host != "redis-env" {
		t.Fatalf("expected env override to win, got %s", cfg.Redis.Host)
	}
}
