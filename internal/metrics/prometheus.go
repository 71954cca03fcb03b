// Package metrics hosts two independent sinks that both exist in this
// agent for different audiences:
//
//   - prometheus.go (this file): ambient operational metrics — queue
//     throughput, exec latency, pool depth — scraped by the operator's
//     own monitoring stack. This is infrastructure texture, not part of
//     the domain's external interfaces.
//   - cloudwatch.go: the domain metrics sink named in §4.E and §6,
//     publishing one gauge sample (PeakMemoryBytes) per completed task
//     to the control plane's metrics system.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus wraps the ambient operational collectors.
type Prometheus struct {
	registry *prometheus.Registry

	tasksProcessed *prometheus.CounterVec
	execDuration   *prometheus.HistogramVec
	poolDepth      *prometheus.GaugeVec
}

var startTime = time.Now()

// NewPrometheus builds and registers the operational collectors under
// the given namespace.
func NewPrometheus(namespace string) *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	p := &Prometheus{
		registry: registry,
		tasksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_processed_total",
				Help:      "Total tasks processed by outcome and error class",
			},
			[]string{"runtime", "outcome", "error_class"},
		),
		execDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "exec_duration_milliseconds",
				Help:      "Wall time from container checkout to exec return",
				Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"runtime"},
		),
		poolDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "warm_pool_depth",
				Help:      "Current number of paused containers in the warm pool",
			},
			[]string{"runtime"},
		),
	}

	registry.MustRegister(p.tasksProcessed, p.execDuration, p.poolDepth)
	return p
}

// RecordTask records the outcome of one dispatcher pipeline execution.
func (p *Prometheus) RecordTask(runtime, outcome, errorClass string) {
	if p == nil {
		return
	}
	p.tasksProcessed.WithLabelValues(runtime, outcome, errorClass).Inc()
}

// ObserveExecDuration records §5's checkout-to-exec-return wall time.
func (p *Prometheus) ObserveExecDuration(runtime string, millis int64) {
	if p == nil {
		return
	}
	p.execDuration.WithLabelValues(runtime).Observe(float64(millis))
}

// SetPoolDepth publishes the current warm-pool depth for a runtime.
func (p *Prometheus) SetPoolDepth(runtime string, depth int) {
	if p == nil {
		return
	}
	p.poolDepth.WithLabelValues(runtime).Set(float64(depth))
}

// Handler returns the HTTP handler for Prometheus scraping.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Uptime reports how long this collector has been alive.
func Uptime() time.Duration { return time.Since(startTime) }
