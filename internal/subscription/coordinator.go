package subscription

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avolkov/gqlscope/internal/collector"
	"github.com/avolkov/gqlscope/internal/graphql/fingerprint"
	"github.com/avolkov/gqlscope/internal/observability"
	"github.com/avolkov/gqlscope/internal/sanitize"
)

// Coordinator defaults.
const (
	// DefaultMaxTrackedMessages caps per-subscription message records.
	// Past the cap the message counter keeps incrementing but messages
	// are no longer individually emitted.
	DefaultMaxTrackedMessages = 100

	// DefaultMaxQuerySize truncates stored subscription query text.
	DefaultMaxQuerySize = 4096
)

// Config configures the lifecycle coordinator.
type Config struct {
	// TrackConnectionEvents registers connections on connect. When false,
	// connects only feed aggregate metrics and later subscription events
	// for the connection are dropped.
	TrackConnectionEvents bool `yaml:"trackConnectionEvents"`

	// TrackMessages emits a record per subscription message.
	TrackMessages bool `yaml:"trackMessages"`

	// BufferMessagePayloads keeps a sanitized copy of emitted message
	// payloads, up to MaxTrackedMessages, until the subscription ends.
	BufferMessagePayloads bool `yaml:"bufferMessagePayloads"`

	// MaxTrackedMessages caps individually emitted messages.
	MaxTrackedMessages int `yaml:"maxTrackedMessages"`

	// MaxQuerySize truncates stored query text.
	MaxQuerySize int `yaml:"maxQuerySize"`

	// SensitivePatterns are the key patterns masked in variables and
	// message payloads. Empty uses the sanitizer defaults.
	SensitivePatterns []string `yaml:"sensitivePatterns"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		TrackConnectionEvents: true,
		TrackMessages:         true,
		MaxTrackedMessages:    DefaultMaxTrackedMessages,
		MaxQuerySize:          DefaultMaxQuerySize,
	}
}

// Coordinator orchestrates the registry and emits observability records for
// subscription lifecycle events. The registry and the cumulative metrics are
// the only state shared across connections; both are mutex-guarded.
type Coordinator struct {
	cfg      Config
	registry *Registry
	sink     collector.Collector
	logger   observability.Logger
	metrics  *lifecycleMetrics

	bufMu   sync.Mutex
	buffers map[string][]any
}

// CoordinatorOption is a functional option for the coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger observability.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithCoordinatorRegisterer sets the Prometheus registerer for the
// coordinator's metrics.
func WithCoordinatorRegisterer(registerer prometheus.Registerer) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = newLifecycleMetrics(registerer)
	}
}

// NewCoordinator creates a coordinator around an explicitly owned registry.
func NewCoordinator(
	cfg Config,
	registry *Registry,
	sink collector.Collector,
	opts ...CoordinatorOption,
) *Coordinator {
	if cfg.MaxTrackedMessages <= 0 {
		cfg.MaxTrackedMessages = DefaultMaxTrackedMessages
	}
	if cfg.MaxQuerySize <= 0 {
		cfg.MaxQuerySize = DefaultMaxQuerySize
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if sink == nil {
		sink = collector.NewNopCollector()
	}

	c := &Coordinator{
		cfg:      cfg,
		registry: registry,
		sink:     sink,
		logger:   observability.NopLogger(),
		buffers:  make(map[string][]any),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = newLifecycleMetrics(nil)
	}

	return c
}

// Registry returns the coordinator's registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Metrics returns a read-only snapshot of the cumulative counters.
func (c *Coordinator) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// HandleConnection records a new persistent connection.
func (c *Coordinator) HandleConnection(
	connectionID, ip, userAgent string,
	protocol Protocol, transport Transport,
) {
	c.metrics.recordEvent("connect", protocol, transport)

	if !c.cfg.TrackConnectionEvents {
		return
	}

	c.registry.AddConnection(connectionID, ip, userAgent)
	c.metrics.activeConnections.Inc()

	c.logger.Debug("subscription connection opened",
		observability.String("connection_id", connectionID),
		observability.String("protocol", string(protocol)),
	)
}

// HandleDisconnection removes a connection. Every subscription still open
// under it is finalized with a synthesized complete before the connection
// record is discarded; abandoned subscriptions are never silently dropped.
func (c *Coordinator) HandleDisconnection(
	connectionID string,
	protocol Protocol, transport Transport,
) {
	c.metrics.recordEvent("disconnect", protocol, transport)

	conn := c.registry.RemoveConnection(connectionID)
	if conn == nil {
		return
	}
	c.metrics.activeConnections.Dec()

	for _, sub := range conn.Subscriptions {
		c.finalize(sub, protocol, transport)
	}

	c.logger.Debug("subscription connection closed",
		observability.String("connection_id", connectionID),
		observability.Int("abandoned_subscriptions", len(conn.Subscriptions)),
	)
}

// HandleSubscriptionStart registers a subscription and emits its start
// record. The returned correlation id threads all records of this
// subscription; it is empty when the subscription was not registered
// (unknown connection, or per-connection cap reached).
func (c *Coordinator) HandleSubscriptionStart(
	connectionID, subscriptionID, query, operationName string,
	variables map[string]any,
	protocol Protocol, transport Transport,
) string {
	correlationID := uuid.NewString()

	sub := c.registry.AddSubscription(
		connectionID, subscriptionID,
		fingerprint.Truncate(query, c.cfg.MaxQuerySize),
		operationName, variables, correlationID,
	)
	if sub == nil {
		return ""
	}

	c.metrics.recordEvent("start", protocol, transport)
	c.metrics.activeSubscriptions.Inc()

	c.sink.Collect(collector.KindSubscription, map[string]any{
		"event":          "subscription_started",
		"connectionId":   connectionID,
		"subscriptionId": subscriptionID,
		"query":          sub.Query,
		"operationName":  operationName,
		"variables":      sanitize.Sanitize(variables, c.cfg.SensitivePatterns, 0),
		"durationMs":     int64(0),
		"protocol":       protocol,
		"transport":      transport,
	}, correlationID)

	return correlationID
}

// HandleSubscriptionData records one streamed message. Past the tracked
// message cap the counter keeps incrementing but nothing more is emitted.
func (c *Coordinator) HandleSubscriptionData(
	connectionID, subscriptionID string,
	payload any,
	protocol Protocol, transport Transport,
) {
	if !c.cfg.TrackMessages {
		return
	}

	count, ok := c.registry.IncrementMessageCount(connectionID, subscriptionID)
	if !ok {
		return
	}
	if count > c.cfg.MaxTrackedMessages {
		return
	}

	sub := c.registry.GetSubscription(connectionID, subscriptionID)
	if sub == nil {
		return
	}

	c.metrics.recordEvent("data", protocol, transport)

	masked := sanitize.Sanitize(payload, c.cfg.SensitivePatterns, 0)
	if c.cfg.BufferMessagePayloads {
		c.bufferMessage(connectionID, subscriptionID, masked)
	}

	c.sink.Collect(collector.KindSubscriptionMsg, map[string]any{
		"event":          "subscription_message",
		"connectionId":   connectionID,
		"subscriptionId": subscriptionID,
		"messageCount":   count,
		"durationMs":     time.Since(sub.StartedAt).Milliseconds(),
		"payload":        masked,
		"protocol":       protocol,
		"transport":      transport,
	}, sub.CorrelationID)
}

// HandleSubscriptionError emits an immediately-flushed record and
// terminates the subscription. An error always ends the subscription.
func (c *Coordinator) HandleSubscriptionError(
	connectionID, subscriptionID, message string,
	protocol Protocol, transport Transport,
) {
	sub := c.registry.RemoveSubscription(connectionID, subscriptionID)
	if sub == nil {
		return
	}
	c.metrics.recordEvent("error", protocol, transport)
	c.metrics.activeSubscriptions.Dec()

	c.sink.CollectImmediate(collector.KindSubscription, map[string]any{
		"event":          "subscription_error",
		"connectionId":   connectionID,
		"subscriptionId": subscriptionID,
		"error":          message,
		"messageCount":   sub.MessageCount,
		"durationMs":     time.Since(sub.StartedAt).Milliseconds(),
		"protocol":       protocol,
		"transport":      transport,
	}, sub.CorrelationID)

	c.discardBuffer(connectionID, subscriptionID)
}

// HandleSubscriptionComplete finalizes a subscription. Finalization is
// at-most-once: completing an already-removed subscription is a no-op.
func (c *Coordinator) HandleSubscriptionComplete(
	connectionID, subscriptionID string,
	protocol Protocol, transport Transport,
) {
	sub := c.registry.RemoveSubscription(connectionID, subscriptionID)
	if sub == nil {
		return
	}
	c.finalize(sub, protocol, transport)
}

// finalize emits the terminal record for a subscription that has already
// been detached from the registry.
func (c *Coordinator) finalize(sub *ActiveSubscription, protocol Protocol, transport Transport) {
	c.metrics.recordEvent("complete", protocol, transport)
	c.metrics.activeSubscriptions.Dec()

	c.sink.Collect(collector.KindSubscription, map[string]any{
		"event":          "subscription_completed",
		"connectionId":   sub.ConnectionID,
		"subscriptionId": sub.ID,
		"operationName":  sub.OperationName,
		"messageCount":   sub.MessageCount,
		"durationMs":     time.Since(sub.StartedAt).Milliseconds(),
		"protocol":       protocol,
		"transport":      transport,
	}, sub.CorrelationID)

	c.discardBuffer(sub.ConnectionID, sub.ID)
}

// bufferMessage keeps a sanitized message copy until the subscription ends.
func (c *Coordinator) bufferMessage(connectionID, subscriptionID string, payload any) {
	key := connectionID + "/" + subscriptionID
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if len(c.buffers[key]) < c.cfg.MaxTrackedMessages {
		c.buffers[key] = append(c.buffers[key], payload)
	}
}

// BufferedMessages returns the sanitized messages buffered for one live
// subscription.
func (c *Coordinator) BufferedMessages(connectionID, subscriptionID string) []any {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return append([]any(nil), c.buffers[connectionID+"/"+subscriptionID]...)
}

func (c *Coordinator) discardBuffer(connectionID, subscriptionID string) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	delete(c.buffers, connectionID+"/"+subscriptionID)
}
