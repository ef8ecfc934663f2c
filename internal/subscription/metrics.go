package subscription

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Protocol identifies the subscription wire protocol variant.
type Protocol string

// Subscription wire protocols.
const (
	// ProtocolGraphQLWS is the legacy subscriptions-transport-ws protocol.
	ProtocolGraphQLWS Protocol = "graphql-ws"

	// ProtocolGraphQLTransportWS is the newer graphql-transport-ws protocol.
	ProtocolGraphQLTransportWS Protocol = "graphql-transport-ws"
)

// ParseProtocol maps a negotiated subprotocol name to a Protocol. Unknown
// names fall back to the legacy protocol, which is what servers negotiate
// when the client offers nothing recognizable.
func ParseProtocol(name string) Protocol {
	if name == string(ProtocolGraphQLTransportWS) {
		return ProtocolGraphQLTransportWS
	}
	return ProtocolGraphQLWS
}

// Transport identifies where subscription events were captured.
type Transport string

// Transport capture modes.
const (
	// TransportGateway observes events via framework-level gateway hooks.
	TransportGateway Transport = "gateway"

	// TransportEngine observes events via adapter hooks into the
	// execution engine.
	TransportEngine Transport = "engine"
)

// MetricsSnapshot is a read-only view of cumulative lifecycle counters.
// Counters are monotonically increasing for the life of a coordinator.
type MetricsSnapshot struct {
	Connections    int64                       `json:"connections"`
	Disconnections int64                       `json:"disconnections"`
	Subscriptions  int64                       `json:"subscriptions"`
	Messages       int64                       `json:"messages"`
	Errors         int64                       `json:"errors"`
	Completions    int64                       `json:"completions"`
	ByProtocol     map[Protocol]ProtocolTotals `json:"byProtocol"`
	ByTransport    map[Transport]int64         `json:"byTransport"`
}

// ProtocolTotals breaks counters down for one protocol variant.
type ProtocolTotals struct {
	Connections   int64 `json:"connections"`
	Subscriptions int64 `json:"subscriptions"`
	Messages      int64 `json:"messages"`
}

// lifecycleMetrics accumulates coordinator counters and mirrors them into
// Prometheus. The snapshot maps are rebuilt on read, never exposed live.
type lifecycleMetrics struct {
	mu          sync.Mutex
	snapshot    MetricsSnapshot
	byProtocol  map[Protocol]*ProtocolTotals
	byTransport map[Transport]int64

	eventsTotal         *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	activeSubscriptions prometheus.Gauge
}

// newLifecycleMetrics creates coordinator metrics registered with the given
// registerer; nil falls back to the default registerer.
func newLifecycleMetrics(registerer prometheus.Registerer) *lifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &lifecycleMetrics{
		byProtocol:  make(map[Protocol]*ProtocolTotals),
		byTransport: make(map[Transport]int64),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gqlscope",
				Subsystem: "subscription",
				Name:      "events_total",
				Help:      "Total number of subscription lifecycle events",
			},
			[]string{"event", "protocol", "transport"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gqlscope",
				Subsystem: "subscription",
				Name:      "active_connections",
				Help:      "Number of live tracked connections",
			},
		),
		activeSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gqlscope",
				Subsystem: "subscription",
				Name:      "active_subscriptions",
				Help:      "Number of live tracked subscriptions",
			},
		),
	}

	// Duplicate registration is tolerated; descriptors are identical.
	_ = registerer.Register(m.eventsTotal)
	_ = registerer.Register(m.activeConnections)
	_ = registerer.Register(m.activeSubscriptions)

	for _, protocol := range []Protocol{ProtocolGraphQLWS, ProtocolGraphQLTransportWS} {
		for _, transport := range []Transport{TransportGateway, TransportEngine} {
			for _, event := range []string{"connect", "disconnect", "start", "data", "error", "complete"} {
				m.eventsTotal.WithLabelValues(event, string(protocol), string(transport))
			}
		}
	}

	return m
}

func (m *lifecycleMetrics) protocolTotalsLocked(protocol Protocol) *ProtocolTotals {
	t, ok := m.byProtocol[protocol]
	if !ok {
		t = &ProtocolTotals{}
		m.byProtocol[protocol] = t
	}
	return t
}

func (m *lifecycleMetrics) recordEvent(event string, protocol Protocol, transport Transport) {
	m.eventsTotal.WithLabelValues(event, string(protocol), string(transport)).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byTransport[transport]++
	totals := m.protocolTotalsLocked(protocol)

	switch event {
	case "connect":
		m.snapshot.Connections++
		totals.Connections++
	case "disconnect":
		m.snapshot.Disconnections++
	case "start":
		m.snapshot.Subscriptions++
		totals.Subscriptions++
	case "data":
		m.snapshot.Messages++
		totals.Messages++
	case "error":
		m.snapshot.Errors++
	case "complete":
		m.snapshot.Completions++
	}
}

// Snapshot returns a copy of the cumulative counters.
func (m *lifecycleMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.snapshot
	out.ByProtocol = make(map[Protocol]ProtocolTotals, len(m.byProtocol))
	for protocol, totals := range m.byProtocol {
		out.ByProtocol[protocol] = *totals
	}
	out.ByTransport = make(map[Transport]int64, len(m.byTransport))
	for transport, n := range m.byTransport {
		out.ByTransport[transport] = n
	}
	return out
}
