// Package metrics exposes gateway and audit counters on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricOperationsTotal     = "gateway_operations_total"
	MetricOperationDuration   = "gateway_operation_duration_seconds"
	MetricAppendRetriesTotal  = "audit_append_retries_total"
	MetricVerifyFailuresTotal = "audit_verify_failures_total"
)

// Recorder implements the gateway and audit metric hooks.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Recorder struct {
	registry *prometheus.Registry

	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	appendRetries  prometheus.Counter
	verifyFailures prometheus.Counter
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricOperationsTotal,
			Help: "Mediated write operations by outcome.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricOperationDuration,
			Help:    "Latency of mediated write operations, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		appendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAppendRetriesTotal,
			Help: "Transactions retried after losing a chain append race.",
		}),
		verifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricVerifyFailuresTotal,
			Help: "Chain verifications that found a break.",
		}),
	}
	r.registry.MustRegister(
		r.operations,
		r.duration,
		r.appendRetries,
		r.verifyFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe records one finished operation. result is "ok" or an error class.
func (r *Recorder) Observe(op, result string, elapsed time.Duration) {
	r.operations.WithLabelValues(op, result).Inc()
	r.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (r *Recorder) AppendRetried() { r.appendRetries.Inc() }

func (r *Recorder) VerifyFailed() { r.verifyFailures.Inc() }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
