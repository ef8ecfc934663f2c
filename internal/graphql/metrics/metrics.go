// Package metrics provides Prometheus metrics for GraphQL operation
// instrumentation.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation statuses recorded on the operations counter.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusFiltered = "filtered"
)

// Metrics contains Prometheus metrics for GraphQL operations.
type Metrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	queryDepth         *prometheus.HistogramVec
	fieldCount         *prometheus.HistogramVec
	introspectionTotal prometheus.Counter
	nPlusOneTotal      prometheus.Counter
	truncatedTotal     prometheus.Counter
	sampledTraces      prometheus.Counter
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// InitMetrics initializes the singleton operation metrics instance with the
// given Prometheus registerer. If registerer is nil, metrics are registered
// with the default registerer. Must be called before GetMetrics; subsequent
// calls are no-ops.
func InitMetrics(registerer prometheus.Registerer) {
	defaultMetricsOnce.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		defaultMetrics = NewMetrics(registerer)
	})
}

// GetMetrics returns the singleton operation metrics instance.
// If InitMetrics has not been called, metrics are lazily initialized
// with the default registerer.
func GetMetrics() *Metrics {
	InitMetrics(nil)
	return defaultMetrics
}

// NewMetrics creates operation metrics registered with the given registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gqlscope",
				Subsystem: "operation",
				Name:      "operations_total",
				Help:      "Total number of instrumented GraphQL operations",
			},
			[]string{"operation_type", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gqlscope",
				Subsystem: "operation",
				Name:      "duration_seconds",
				Help:      "GraphQL operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation_type"},
		),
		queryDepth: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gqlscope",
				Subsystem: "operation",
				Name:      "query_depth",
				Help:      "Distribution of GraphQL query depths",
				Buckets:   []float64{1, 2, 3, 5, 7, 10, 15, 20, 30, 50},
			},
			[]string{"operation_type"},
		),
		fieldCount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gqlscope",
				Subsystem: "operation",
				Name:      "field_count",
				Help:      "Distribution of requested field counts per operation",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"operation_type"},
		),
		introspectionTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gqlscope",
				Subsystem: "operation",
				Name:      "introspection_total",
				Help:      "Total number of introspection queries observed",
			},
		),
		nPlusOneTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gqlscope",
				Subsystem: "operation",
				Name:      "n_plus_one_warnings_total",
				Help:      "Total number of N+1 resolver warnings detected",
			},
		),
		truncatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gqlscope",
				Subsystem: "operation",
				Name:      "truncated_queries_total",
				Help:      "Total number of queries truncated at the size cap",
			},
		),
		sampledTraces: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gqlscope",
				Subsystem: "operation",
				Name:      "sampled_traces_total",
				Help:      "Total number of operations selected for field tracing",
			},
		),
	}
}

// InitVecMetrics pre-populates all vector metrics with common label
// combinations so they appear on /metrics immediately with zero values.
func InitVecMetrics() {
	m := GetMetrics()

	operationTypes := []string{"query", "mutation", "subscription"}
	statuses := []string{StatusOK, StatusError, StatusFiltered}

	for _, op := range operationTypes {
		for _, status := range statuses {
			m.operationsTotal.WithLabelValues(op, status)
		}
		m.operationDuration.WithLabelValues(op)
		m.queryDepth.WithLabelValues(op)
		m.fieldCount.WithLabelValues(op)
	}
}

// RecordOperation records one completed operation.
func (m *Metrics) RecordOperation(operationType, status string, duration time.Duration) {
	m.operationsTotal.WithLabelValues(operationType, status).Inc()
	m.operationDuration.WithLabelValues(operationType).Observe(duration.Seconds())
}

// RecordAnalysis records the analyzer's shape measurements for an operation.
func (m *Metrics) RecordAnalysis(operationType string, depth, fieldCount int) {
	m.queryDepth.WithLabelValues(operationType).Observe(float64(depth))
	m.fieldCount.WithLabelValues(operationType).Observe(float64(fieldCount))
}

// RecordIntrospection records an observed introspection query.
func (m *Metrics) RecordIntrospection() {
	m.introspectionTotal.Inc()
}

// RecordNPlusOneWarnings records detected N+1 warnings.
func (m *Metrics) RecordNPlusOneWarnings(count int) {
	m.nPlusOneTotal.Add(float64(count))
}

// RecordTruncatedQuery records a query cut at the size cap.
func (m *Metrics) RecordTruncatedQuery() {
	m.truncatedTotal.Inc()
}

// RecordSampledTrace records an operation selected for field tracing.
func (m *Metrics) RecordSampledTrace() {
	m.sampledTraces.Inc()
}
