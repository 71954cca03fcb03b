// Package dispatcher runs the single-threaded long-polling loop that
// pulls task messages off the queue, drives them through code fetch,
// container execution, output upload, and result publish, and decides
// the queue ack outcome from the classified error that stage returns.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/softbank-final/nanogrid-agent/internal/containerexec"
	"github.com/softbank-final/nanogrid-agent/internal/domain"
	"github.com/softbank-final/nanogrid-agent/internal/logging"
	"github.com/softbank-final/nanogrid-agent/internal/metrics"
	"github.com/softbank-final/nanogrid-agent/internal/notifier"
)

// ensure notifier.Publisher satisfies ResultPublisher at compile time.
var _ ResultPublisher = (*notifier.Publisher)(nil)

// SQSAPI is the narrow queue client surface this package needs.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// CodeFetcher prepares a task's host workspace (component C).
type CodeFetcher interface {
	PrepareWorkingDirectory(ctx context.Context, task *domain.Task) (string, error)
}

// Executor runs a task in a pooled container (component G).
type Executor interface {
	Run(ctx context.Context, task *domain.Task, hostWorkspace string) (*domain.ExecutionResult, error)
}

// ResultPublisher emits a task's result to the notification bus
// (component D).
type ResultPublisher interface {
	Publish(ctx context.Context, result *domain.ExecutionResult) error
}

// MemoryMetricsPublisher emits the domain peak-memory metric
// (component E).
type MemoryMetricsPublisher interface {
	PublishPeakMemory(ctx context.Context, functionID, runtime string, bytes *int64)
}

// classifiable is implemented by the classified error types this agent
// defines (ErrInvalidTask, ErrRuntimeUnsupported, FetchError,
// pool.ContainerError). Errors that don't implement it are treated as
// the UNKNOWN class, matching §4.I's ack table.
type classifiable interface {
	ErrorClass() string
}

// Config bundles the dispatcher's own settings (the rest of §4.I's
// inputs are its collaborators above).
type Config struct {
	QueueURL          string
	WaitTimeSeconds   int32
	MaxMessages       int32
	FixedDelaySeconds int
	PollingEnabled    bool
}

// Dispatcher implements §4.I's long-poll loop and per-message pipeline.
type Dispatcher struct {
	sqs     SQSAPI
	fetcher CodeFetcher
	exec    Executor
	results ResultPublisher
	cw      MemoryMetricsPublisher
	prom    *metrics.Prometheus

	cfg Config

	running atomic.Bool
}

// New constructs a Dispatcher. prom may be nil (a no-op receiver).
func New(sqsClient SQSAPI, fetcher CodeFetcher, exec Executor, results ResultPublisher, cw MemoryMetricsPublisher, prom *metrics.Prometheus, cfg Config) *Dispatcher {
	return &Dispatcher{
		sqs:     sqsClient,
		fetcher: fetcher,
		exec:    exec,
		results: results,
		cw:      cw,
		prom:    prom,
		cfg:     cfg,
	}
}

// Start runs the blocking long-poll loop until Stop is called or ctx is
// cancelled. It implements §4.I steps 1-3.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.cfg.PollingEnabled {
		logging.Op().Info("polling disabled, dispatcher not starting")
		return
	}
	if d.cfg.QueueURL == "" {
		logging.Op().Error("no queue url configured, dispatcher not starting")
		return
	}

	logging.Op().Info("dispatcher starting", "queue_url", d.cfg.QueueURL)
	d.running.Store(true)

	for d.running.Load() {
		if ctx.Err() != nil {
			return
		}
		if err := d.pollOnce(ctx); err != nil {
			logging.Op().Error("polling error, agent continues", "error", err)
			time.Sleep(time.Duration(d.cfg.FixedDelaySeconds) * time.Second)
		}
	}
}

// Stop clears the running flag. The in-flight long-poll receive returns
// naturally at its own deadline, per §5's cooperative-shutdown model.
func (d *Dispatcher) Stop() {
	logging.Op().Info("dispatcher stopping")
	d.running.Store(false)
}

func (d *Dispatcher) pollOnce(ctx context.Context) error {
	out, err := d.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(d.cfg.QueueURL),
		MaxNumberOfMessages: d.cfg.MaxMessages,
		WaitTimeSeconds:     d.cfg.WaitTimeSeconds,
	})
	if err != nil {
		return fmt.Errorf("receive message: %w", err)
	}

	if len(out.Messages) == 0 {
		return nil
	}
	logging.Op().Info("received messages", "count", len(out.Messages))

	for _, msg := range out.Messages {
		d.process(ctx, msg)
	}
	return nil
}

// process implements §4.I's per-message pipeline and ack table.
func (d *Dispatcher) process(ctx context.Context, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	receipt := aws.ToString(msg.ReceiptHandle)

	var task domain.Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		logging.Op().Error("message parsing failed, dropping", "error", err)
		d.ack(ctx, receipt)
		d.recordOutcome("unknown", "error", "JSON_PARSE")
		return
	}

	if err := task.Normalize(); err != nil {
		logging.Op().Error("invalid task message, dropping", "error", err)
		d.ack(ctx, receipt)
		d.recordOutcome(task.RuntimeRaw, "error", classOf(err))
		return
	}

	logging.Op().Info("task received", "request_id", task.RequestID, "function_id", task.FunctionID, "runtime", task.RuntimeRaw)

	result, err := d.runPipeline(ctx, &task)
	if err != nil {
		class := classOf(err)
		logging.Op().Error("task execution failed", "request_id", task.RequestID, "error_class", class, "error", err)
		d.recordOutcome(task.RuntimeRaw, "error", class)

		if class == "JSON_PARSE" {
			d.ack(ctx, receipt)
		}
		return
	}

	logging.Op().Info("task completed",
		"request_id", result.RequestID,
		"exit_code", result.ExitCode,
		"duration_millis", result.DurationMillis,
		"success", result.Success(),
	)

	// Metrics publish and result publish are independent best-effort side
	// effects: neither's outcome affects the other or the ack decision,
	// so they run concurrently rather than back to back.
	var g errgroup.Group
	g.Go(func() error {
		d.cw.PublishPeakMemory(ctx, task.FunctionID, task.RuntimeRaw, result.PeakMemoryBytes)
		return nil
	})
	g.Go(func() error {
		if err := d.results.Publish(ctx, result); err != nil {
			logging.Op().Error("result publish failed", "request_id", task.RequestID, "error", err)
		}
		return nil
	})
	g.Wait()

	d.ack(ctx, receipt)
	d.recordOutcome(task.RuntimeRaw, outcomeOf(result), "")
	if d.prom != nil {
		d.prom.ObserveExecDuration(task.RuntimeRaw, result.DurationMillis)
	}
}

// runPipeline implements §4.I step 3: fetch, then exec. Output upload
// runs inside the executor, before it releases the container, so it is
// not a separate stage here.
func (d *Dispatcher) runPipeline(ctx context.Context, task *domain.Task) (*domain.ExecutionResult, error) {
	workspace, err := d.fetcher.PrepareWorkingDirectory(ctx, task)
	if err != nil {
		return nil, err
	}
	return d.exec.Run(ctx, task, workspace)
}

func (d *Dispatcher) ack(ctx context.Context, receipt string) {
	if receipt == "" {
		return
	}
	_, err := d.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(d.cfg.QueueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		logging.Op().Error("failed to delete message", "error", err)
	}
}

func (d *Dispatcher) recordOutcome(runtime, outcome, errorClass string) {
	if d.prom != nil {
		d.prom.RecordTask(runtime, outcome, errorClass)
	}
}

func outcomeOf(result *domain.ExecutionResult) string {
	if result.Success() {
		return "success"
	}
	return "failure"
}

// classOf implements §4.I's ack-policy classifier: errors that
// implement classifiable report their own class; everything else is
// UNKNOWN.
func classOf(err error) string {
	var c classifiable
	if errors.As(err, &c) {
		return c.ErrorClass()
	}
	return "UNKNOWN"
}

// ensure containerexec.Executor satisfies this package's Executor
// interface at compile time.
var _ Executor = (*containerexec.Executor)(nil)
