package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/softbank-final/nanogrid-agent/internal/logging"
)

const (
	namespace      = "NanoGrid/FunctionRunner"
	metricPeakMem  = "PeakMemoryBytes"
)

// CloudWatchAPI is the narrow client surface this package needs.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher implements §4.E: a single gauge sample per
// completed task, skipped silently when peak memory is unknown.
type CloudWatchPublisher struct {
	client CloudWatchAPI
}

// NewCloudWatchPublisher constructs a publisher over an existing client.
func NewCloudWatchPublisher(client CloudWatchAPI) *CloudWatchPublisher {
	return &CloudWatchPublisher{client: client}
}

// PublishPeakMemory emits one PeakMemoryBytes gauge sample dimensioned
// by FunctionId and Runtime. bytes == nil means the stats probe failed;
// per §4.E this is skipped silently rather than reported as zero.
func (p *CloudWatchPublisher) PublishPeakMemory(ctx context.Context, functionID, runtime string, bytes *int64) {
	if bytes == nil {
		logging.Op().Debug("skipping peak memory publish: no measurement", "function_id", functionID)
		return
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(metricPeakMem),
				Dimensions: []types.Dimension{
					{Name: aws.String("FunctionId"), Value: aws.String(functionID)},
					{Name: aws.String("Runtime"), Value: aws.String(runtime)},
				},
				Timestamp: aws.Time(time.Now().UTC()),
				Value:     aws.Float64(float64(*bytes)),
				Unit:      types.StandardUnitBytes,
			},
		},
	})
	if err != nil {
		logging.Op().Warn("cloudwatch publish failed", "function_id", functionID, "error", fmt.Errorf("put metric data: %w", err))
	}
}
