package metrics

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

type fakeCloudWatch struct {
	calls []*cloudwatch.PutMetricDataInput
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.calls = append(f.calls, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestPublishPeakMemory_SkipsOnNilBytes(t *testing.T) {
	fake := &fakeCloudWatch{}
	p := NewCloudWatchPublisher(fake)

	p.PublishPeakMemory(context.Background(), "fn1", "python", nil)

	if len(fake.calls) != 0 {
		t.Fatalf("expected no metric calls, got %d", len(fake.calls))
	}
}

func TestPublishPeakMemory_EmitsGauge(t *testing.T) {
	fake := &fakeCloudWatch{}
	p := NewCloudWatchPublisher(fake)

	bytes := int64(1048576)
	p.PublishPeakMemory(context.Background(), "fn1", "python", &bytes)

	if len(fake.calls) != 1 {
		t.Fatalf("expected one metric call, got %d", len(fake.calls))
	}
	if *fake.calls[0].Namespace != namespace {
		t.Fatalf("unexpected namespace: %s", *fake.calls[0].Namespace)
	}
	data := fake.calls[0].MetricData
	if len(data) != 1 || *data[0].MetricName != metricPeakMem {
		t.Fatalf("unexpected metric data: %+v", data)
	}
	if *data[0].Value != float64(bytes) {
		t.Fatalf("expected value %f, got %f", float64(bytes), *data[0].Value)
	}
}
