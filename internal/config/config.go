// Package config loads the agent's layered configuration: a typed
// defaults struct, optionally overlaid by a YAML file, optionally
// overlaid again by a narrow set of environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/softbank-final/nanogrid-agent/internal/domain"
)

// AWSConfig holds the region used to resolve AWS SDK clients (SQS, S3,
// CloudWatch all share one region setting in this agent).
type AWSConfig struct {
	Region string `yaml:"region"`
}

// SQSConfig holds task-queue long-poll settings.
type SQSConfig struct {
	QueueURL             string `yaml:"queue_url"`
	WaitTimeSeconds      int32  `yaml:"wait_time_seconds"`
	MaxNumberOfMessages  int32  `yaml:"max_number_of_messages"`
}

// S3Config holds the object-store bucket names used for code fetch and
// output upload.
type S3Config struct {
	CodeBucket     string `yaml:"code_bucket"`
	UserDataBucket string `yaml:"user_data_bucket"`
}

// DockerConfig holds per-runtime image names and container-runtime
// defaults. All four runtimes in the closed set get their own image
// field; spec.md's closed runtime set is {python, cpp, nodejs, go}.
type DockerConfig struct {
	PythonImage      string        `yaml:"python_image"`
	CPPImage         string        `yaml:"cpp_image"`
	NodeJSImage      string        `yaml:"nodejs_image"`
	GoImage          string        `yaml:"go_image"`
	WorkDirRoot      string        `yaml:"work_dir_root"`
	DefaultTimeoutMs int           `yaml:"default_timeout_ms"`
	StopGrace        time.Duration `yaml:"-"`
}

// ImageFor returns the configured image name for a resolved runtime.
func (d DockerConfig) ImageFor(runtime domain.Runtime) string {
	switch runtime {
	case domain.RuntimePython:
		return d.PythonImage
	case domain.RuntimeCPP:
		return d.CPPImage
	case domain.RuntimeNodeJS:
		return d.NodeJSImage
	case domain.RuntimeGo:
		return d.GoImage
	default:
		return ""
	}
}

// WarmPoolConfig holds the per-runtime pre-created container counts.
type WarmPoolConfig struct {
	Enabled    bool `yaml:"enabled"`
	PythonSize int  `yaml:"python_size"`
	CPPSize    int  `yaml:"cpp_size"`
	NodeJSSize int  `yaml:"nodejs_size"`
	GoSize     int  `yaml:"go_size"`
}

// SizeFor returns the configured warm-pool size for a resolved runtime.
func (w WarmPoolConfig) SizeFor(runtime domain.Runtime) int {
	switch runtime {
	case domain.RuntimePython:
		return w.PythonSize
	case domain.RuntimeCPP:
		return w.CPPSize
	case domain.RuntimeNodeJS:
		return w.NodeJSSize
	case domain.RuntimeGo:
		return w.GoSize
	default:
		return 0
	}
}

// PollingConfig holds dispatcher loop cadence settings.
type PollingConfig struct {
	Enabled           bool `yaml:"enabled"`
	FixedDelaySeconds int  `yaml:"fixed_delay_seconds"`
}

// RedisConfig holds the notification-bus client settings.
type RedisConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	ResultPrefix string `yaml:"result_prefix"`
}

// Addr returns the host:port pair go-redis expects.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// OutputConfig holds the output-uploader settings.
type OutputConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseDir  string `yaml:"base_dir"`
	S3Prefix string `yaml:"s3_prefix"`
}

// TracingConfig mirrors the ambient OpenTelemetry settings the teacher
// codebase carries, adapted for this agent.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MetricsConfig holds the ambient Prometheus settings (separate from
// the CloudWatch domain sink, which has no config beyond AWS region).
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Addr      string `yaml:"addr"`
}

// LoggingConfig holds structured-logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the agent's complete set of typed options.
type Config struct {
	AWS         AWSConfig      `yaml:"aws"`
	SQS         SQSConfig      `yaml:"sqs"`
	S3          S3Config       `yaml:"s3"`
	Docker      DockerConfig   `yaml:"docker"`
	WarmPool    WarmPoolConfig `yaml:"warm_pool"`
	Polling     PollingConfig  `yaml:"polling"`
	Redis       RedisConfig    `yaml:"redis"`
	Output      OutputConfig   `yaml:"output"`
	Tracing     TracingConfig  `yaml:"tracing"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Logging     LoggingConfig  `yaml:"logging"`
	TaskBaseDir string         `yaml:"task_base_dir"`
}

// DefaultConfig returns a Config populated with the defaults §6 names.
func DefaultConfig() *Config {
	return &Config{
		AWS: AWSConfig{Region: "us-east-1"},
		SQS: SQSConfig{
			WaitTimeSeconds:     20,
			MaxNumberOfMessages: 10,
		},
		Docker: DockerConfig{
			PythonImage:      "nanogrid-runtime-python:latest",
			CPPImage:         "nanogrid-runtime-cpp:latest",
			NodeJSImage:      "nanogrid-runtime-nodejs:latest",
			GoImage:          "nanogrid-runtime-go:latest",
			WorkDirRoot:      "/workspace-root",
			DefaultTimeoutMs: domainDefaultTimeoutMs,
			StopGrace:        5 * time.Second,
		},
		WarmPool: WarmPoolConfig{
			Enabled:    true,
			PythonSize: 2,
			CPPSize:    1,
			NodeJSSize: 2,
			GoSize:     1,
		},
		Polling: PollingConfig{
			Enabled:           true,
			FixedDelaySeconds: 5,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			ResultPrefix: "result:",
		},
		Output: OutputConfig{
			Enabled:  true,
			BaseDir:  "/tmp/nanogrid-output",
			S3Prefix: "output",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "nanogrid-agent",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "nanogrid_agent",
			Addr:      ":9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		TaskBaseDir: "/tmp/task",
	}
}

// ImageFor and SizeFor let *Config satisfy pool.RuntimeImages directly,
// so process wiring can hand the loaded config straight to the pool
// manager instead of writing an adapter.
func (c *Config) ImageFor(runtime domain.Runtime) string { return c.Docker.ImageFor(runtime) }
func (c *Config) SizeFor(runtime domain.Runtime) int     { return c.WarmPool.SizeFor(runtime) }

// domainDefaultTimeoutMs is the default per-task timeout; it holds the
// same value as domain.DefaultTimeoutMs.
const domainDefaultTimeoutMs = 10000

// LoadFromFile loads configuration from a YAML file, applied on top of
// DefaultConfig so any field the file omits keeps its default.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load implements the precedence order §4.B specifies: an explicit path
// wins, then the NANOGRID_CONFIG-pointed path, then the default
// ./config.yaml in the working directory, then pure environment. After
// any file-based load, a narrow set of environment variables (queue
// URL, notification-bus host) still overrides specific fields.
func Load(explicitPath string) (*Config, error) {
	candidate := explicitPath
	if candidate == "" {
		candidate = os.Getenv("NANOGRID_CONFIG")
	}
	if candidate == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			candidate = "config.yaml"
		}
	}

	if candidate == "" {
		return FromEnv(), nil
	}

	cfg, err := LoadFromFile(candidate)
	if err != nil {
		return nil, err
	}
	applySelectedOverrides(cfg)
	return cfg, nil
}

// FromEnv builds a complete Config purely from environment variables,
// starting from DefaultConfig and overriding every field that has a
// corresponding variable set. This is the "pure environment" leg of the
// load-precedence chain, used when no config file is found anywhere.
func FromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}

	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		cfg.SQS.QueueURL = v
	}
	if v := os.Getenv("SQS_WAIT_TIME_SECONDS"); v != "" {
		cfg.SQS.WaitTimeSeconds = int32(atoiOr(v, int(cfg.SQS.WaitTimeSeconds)))
	}
	if v := os.Getenv("SQS_MAX_MESSAGES"); v != "" {
		cfg.SQS.MaxNumberOfMessages = int32(atoiOr(v, int(cfg.SQS.MaxNumberOfMessages)))
	}

	if v := os.Getenv("S3_CODE_BUCKET"); v != "" {
		cfg.S3.CodeBucket = v
	}
	if v := os.Getenv("S3_USER_DATA_BUCKET"); v != "" {
		cfg.S3.UserDataBucket = v
	}

	if v := os.Getenv("DOCKER_PYTHON_IMAGE"); v != "" {
		cfg.Docker.PythonImage = v
	}
	if v := os.Getenv("DOCKER_CPP_IMAGE"); v != "" {
		cfg.Docker.CPPImage = v
	}
	if v := os.Getenv("DOCKER_NODEJS_IMAGE"); v != "" {
		cfg.Docker.NodeJSImage = v
	}
	if v := os.Getenv("DOCKER_GO_IMAGE"); v != "" {
		cfg.Docker.GoImage = v
	}
	if v := os.Getenv("DOCKER_WORK_DIR_ROOT"); v != "" {
		cfg.Docker.WorkDirRoot = v
	}
	if v := os.Getenv("DOCKER_DEFAULT_TIMEOUT_MS"); v != "" {
		cfg.Docker.DefaultTimeoutMs = atoiOr(v, cfg.Docker.DefaultTimeoutMs)
	}

	if v := os.Getenv("WARM_POOL_ENABLED"); v != "" {
		cfg.WarmPool.Enabled = parseBool(v)
	}
	if v := os.Getenv("WARM_POOL_PYTHON_SIZE"); v != "" {
		cfg.WarmPool.PythonSize = atoiOr(v, cfg.WarmPool.PythonSize)
	}
	if v := os.Getenv("WARM_POOL_CPP_SIZE"); v != "" {
		cfg.WarmPool.CPPSize = atoiOr(v, cfg.WarmPool.CPPSize)
	}
	if v := os.Getenv("WARM_POOL_NODEJS_SIZE"); v != "" {
		cfg.WarmPool.NodeJSSize = atoiOr(v, cfg.WarmPool.NodeJSSize)
	}
	if v := os.Getenv("WARM_POOL_GO_SIZE"); v != "" {
		cfg.WarmPool.GoSize = atoiOr(v, cfg.WarmPool.GoSize)
	}

	if v := os.Getenv("POLLING_ENABLED"); v != "" {
		cfg.Polling.Enabled = parseBool(v)
	}
	if v := os.Getenv("POLLING_FIXED_DELAY_SECONDS"); v != "" {
		cfg.Polling.FixedDelaySeconds = atoiOr(v, cfg.Polling.FixedDelaySeconds)
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		cfg.Redis.Port = atoiOr(v, cfg.Redis.Port)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_RESULT_PREFIX"); v != "" {
		cfg.Redis.ResultPrefix = v
	}

	if v := os.Getenv("OUTPUT_ENABLED"); v != "" {
		cfg.Output.Enabled = parseBool(v)
	}
	if v := os.Getenv("OUTPUT_BASE_DIR"); v != "" {
		cfg.Output.BaseDir = v
	}
	if v := os.Getenv("OUTPUT_S3_PREFIX"); v != "" {
		cfg.Output.S3Prefix = v
	}

	if v := os.Getenv("TASK_BASE_DIR"); v != "" {
		cfg.TaskBaseDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}

// applySelectedOverrides applies the narrow set of environment variables
// §4.B names as overriding specific fields after a file-based load: the
// queue URL and the notification-bus host.
func applySelectedOverrides(cfg *Config) {
	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		cfg.SQS.QueueURL = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
}

// parseBool parses a config boolean case-insensitively, matching the
// loader shape this agent's layering is grounded on.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

// atoiOr parses s as a decimal integer, returning fallback on failure.
func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
