package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics for the collection pipeline.
type Metrics struct {
	entriesTotal *prometheus.CounterVec
	droppedTotal *prometheus.CounterVec
}

// Drop reasons.
const (
	DropReasonBufferFull  = "buffer_full"
	DropReasonRateLimited = "rate_limited"
	DropReasonBreakerOpen = "breaker_open"
	DropReasonExportError = "export_error"
)

// NewMetrics creates collector metrics registered with the given registerer.
// A nil registerer falls back to the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		entriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gqlscope",
				Subsystem: "collector",
				Name:      "entries_total",
				Help:      "Total number of collected observability records",
			},
			[]string{"kind", "mode"},
		),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gqlscope",
				Subsystem: "collector",
				Name:      "dropped_total",
				Help:      "Total number of records dropped before export",
			},
			[]string{"reason"},
		),
	}

	// Duplicate registration is tolerated; descriptors are identical.
	_ = registerer.Register(m.entriesTotal)
	_ = registerer.Register(m.droppedTotal)

	m.init()

	return m
}

// init pre-populates common label combinations so the Vec metrics appear on
// /metrics immediately with zero values.
func (m *Metrics) init() {
	kinds := []string{
		KindOperation, KindSubscription, KindNPlusOne,
		KindFieldTrace, KindOperationError, KindSubscriptionMsg,
	}
	for _, kind := range kinds {
		m.entriesTotal.WithLabelValues(kind, "buffered")
		m.entriesTotal.WithLabelValues(kind, "immediate")
	}
	for _, reason := range []string{
		DropReasonBufferFull, DropReasonRateLimited,
		DropReasonBreakerOpen, DropReasonExportError,
	} {
		m.droppedTotal.WithLabelValues(reason)
	}
}

// RecordEntry counts one collected record.
func (m *Metrics) RecordEntry(kind, mode string) {
	if m == nil {
		return
	}
	m.entriesTotal.WithLabelValues(kind, mode).Inc()
}

// RecordDrop counts one dropped record.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}
