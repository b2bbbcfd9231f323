// Package metrics exposes Prometheus metrics for the check-in pipeline. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkin"

type Metrics struct {
	registry *prometheus.Registry

	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	columnsCreated     *prometheus.CounterVec
	stepFailures       *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
}

// New creates the metrics and registers them, along with the Go and process
// collectors, on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of inspection submissions by result",
		},
		[]string{"result"}, // ok, invalid, error
	)

	m.submissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Time taken to record a submission",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"result"},
	)

	m.columnsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_columns_created_total",
			Help:      "Total number of columns appended to a table's header row",
		},
		[]string{"table"},
	)

	m.stepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Total number of best-effort pipeline steps that failed",
		},
		[]string{"step"},
	)

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.submissionsTotal.Describe(ch)
	m.submissionDuration.Describe(ch)
	m.columnsCreated.Describe(ch)
	m.stepFailures.Describe(ch)
	m.httpRequests.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.submissionsTotal.Collect(ch)
	m.submissionDuration.Collect(ch)
	m.columnsCreated.Collect(ch)
	m.stepFailures.Collect(ch)
	m.httpRequests.Collect(ch)
}

func (m *Metrics) SubmissionDone(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(result).Inc()
	m.submissionDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ColumnCreated matches schema.WithColumnCreated.
func (m *Metrics) ColumnCreated(table, _ string) {
	if m == nil {
		return
	}
	m.columnsCreated.WithLabelValues(table).Inc()
}

func (m *Metrics) StepFailed(step string) {
	if m == nil {
		return
	}
	m.stepFailures.WithLabelValues(step).Inc()
}

func (m *Metrics) HTTPRequest(method, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
