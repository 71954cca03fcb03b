package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/softbank-final/nanogrid-agent/internal/codefetch"
	"github.com/softbank-final/nanogrid-agent/internal/config"
	"github.com/softbank-final/nanogrid-agent/internal/containerexec"
	"github.com/softbank-final/nanogrid-agent/internal/dispatcher"
	"github.com/softbank-final/nanogrid-agent/internal/dockerclient"
	"github.com/softbank-final/nanogrid-agent/internal/logging"
	"github.com/softbank-final/nanogrid-agent/internal/metrics"
	"github.com/softbank-final/nanogrid-agent/internal/notifier"
	"github.com/softbank-final/nanogrid-agent/internal/observability"
	"github.com/softbank-final/nanogrid-agent/internal/outputupload"
	"github.com/softbank-final/nanogrid-agent/internal/pool"
)

// run constructs every component in dependency order, per §4.J, and
// blocks on the dispatcher's long-poll loop until a termination signal
// or context cancellation unwinds it.
func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := observability.Shutdown(context.Background()); err != nil {
			logging.Op().Warn("telemetry shutdown failed", "error", err)
		}
	}()

	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus(cfg.Metrics.Namespace)
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Op().Error("metrics server stopped", "error", err)
			}
		}()
		defer server.Close()
	}

	docker, err := dockerclient.New()
	if err != nil {
		return fmt.Errorf("connect docker: %w", err)
	}
	defer docker.Close()

	poolManager := pool.NewManager(docker, cfg, cfg.TaskBaseDir, cfg.Docker.WorkDirRoot)
	if cfg.WarmPool.Enabled {
		if err := poolManager.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize warm pool: %w", err)
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	fetcher := codefetch.NewFetcher(s3Client, cfg.S3.CodeBucket, cfg.TaskBaseDir)
	resultPublisher := notifier.NewPublisher(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ResultPrefix)
	defer func() {
		if err := resultPublisher.Close(); err != nil {
			logging.Op().Warn("result publisher close failed", "error", err)
		}
	}()
	cwPublisher := metrics.NewCloudWatchPublisher(cwClient)

	uploader := outputupload.NewUploader(docker, s3Client, outputupload.Config{
		Enabled:     cfg.Output.Enabled,
		Bucket:      cfg.S3.UserDataBucket,
		S3Prefix:    cfg.Output.S3Prefix,
		StagingRoot: cfg.Output.BaseDir,
		WorkDirRoot: cfg.Docker.WorkDirRoot,
	})

	executor := containerexec.NewExecutor(docker, poolManager, uploader, cfg.Docker.WorkDirRoot)

	disp := dispatcher.New(sqsClient, fetcher, executor, resultPublisher, cwPublisher, prom, dispatcher.Config{
		QueueURL:          cfg.SQS.QueueURL,
		WaitTimeSeconds:   cfg.SQS.WaitTimeSeconds,
		MaxMessages:       cfg.SQS.MaxNumberOfMessages,
		FixedDelaySeconds: cfg.Polling.FixedDelaySeconds,
		PollingEnabled:    cfg.Polling.Enabled,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Op().Info("shutdown signal received")
		disp.Stop()
		cancel()
	}()

	disp.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Docker.StopGrace)
	defer shutdownCancel()
	poolManager.Shutdown(shutdownCtx)

	return nil
}
