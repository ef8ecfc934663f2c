package subscription

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/gqlscope/internal/collector"
)

// captureSink records which collection path each record took.
type captureSink struct {
	mu        sync.Mutex
	buffered  []collector.Entry
	immediate []collector.Entry
}

func (s *captureSink) Collect(kind string, payload any, correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered = append(s.buffered, collector.Entry{Kind: kind, Payload: payload, CorrelationID: correlationID})
}

func (s *captureSink) CollectImmediate(kind string, payload any, correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.immediate = append(s.immediate, collector.Entry{Kind: kind, Payload: payload, CorrelationID: correlationID})
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) bufferedOfKind(kind string) []collector.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []collector.Entry
	for _, e := range s.buffered {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	coord := NewCoordinator(cfg, NewRegistry(), sink,
		WithCoordinatorRegisterer(prometheus.NewRegistry()),
	)
	return coord, sink
}

func TestCoordinatorSubscriptionStart(t *testing.T) {
	t.Parallel()

	coord, sink := newTestCoordinator(t, DefaultConfig())
	coord.HandleConnection("conn-1", "10.0.0.1", "agent", ProtocolGraphQLWS, TransportGateway)

	corrID := coord.HandleSubscriptionStart("conn-1", "sub-1",
		"subscription { ticks }", "Ticks",
		map[string]any{"password": "hunter22", "limit": 10},
		ProtocolGraphQLWS, TransportGateway)
	require.NotEmpty(t, corrID)

	entries := sink.bufferedOfKind(collector.KindSubscription)
	require.Len(t, entries, 1)
	assert.Equal(t, corrID, entries[0].CorrelationID)

	payload, ok := entries[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "subscription_started", payload["event"])

	vars, ok := payload["variables"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "***", vars["password"], "sensitive variables should be masked")
	assert.Equal(t, 10, vars["limit"])
}

func TestCoordinatorStartUnknownConnection(t *testing.T) {
	t.Parallel()

	coord, sink := newTestCoordinator(t, DefaultConfig())

	corrID := coord.HandleSubscriptionStart("never-connected", "sub-1",
		"subscription { ticks }", "", nil, ProtocolGraphQLWS, TransportGateway)
	assert.Empty(t, corrID)
	assert.Empty(t, sink.buffered)
}

func TestCoordinatorStopsEmittingPastMessageCap(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxTrackedMessages = 3
	coord, sink := newTestCoordinator(t, cfg)

	coord.HandleConnection("conn-1", "10.0.0.1", "", ProtocolGraphQLWS, TransportGateway)
	coord.HandleSubscriptionStart("conn-1", "sub-1", "subscription { ticks }", "",
		nil, ProtocolGraphQLWS, TransportGateway)

	for i := 0; i < 10; i++ {
		coord.HandleSubscriptionData("conn-1", "sub-1",
			map[string]any{"tick": i}, ProtocolGraphQLWS, TransportGateway)
	}

	assert.Len(t, sink.bufferedOfKind(collector.KindSubscriptionMsg), 3,
		"only the first maxTrackedMessages messages should be emitted")

	sub := coord.Registry().GetSubscription("conn-1", "sub-1")
	require.NotNil(t, sub)
	assert.Equal(t, 10, sub.MessageCount, "the counter keeps incrementing past the cap")
}

func TestCoordinatorMessageTrackingDisabled(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TrackMessages = false
	coord, sink := newTestCoordinator(t, cfg)

	coord.HandleConnection("conn-1", "10.0.0.1", "", ProtocolGraphQLWS, TransportGateway)
	coord.HandleSubscriptionStart("conn-1", "sub-1", "subscription { ticks }", "",
		nil, ProtocolGraphQLWS, TransportGateway)
	coord.HandleSubscriptionData("conn-1", "sub-1", map[string]any{"tick": 1},
		ProtocolGraphQLWS, TransportGateway)

	assert.Empty(t, sink.bufferedOfKind(collector.KindSubscriptionMsg))
}

func TestCoordinatorErrorCollectsImmediately(t *testing.T) {
	t.Parallel()

	coord, sink := newTestCoordinator(t, DefaultConfig())

	coord.HandleConnection("conn-1", "10.0.0.1", "", ProtocolGraphQLTransportWS, TransportEngine)
	coord.HandleSubscriptionStart("conn-1", "sub-1", "subscription { ticks }", "",
		nil, ProtocolGraphQLTransportWS, TransportEngine)

	coord.HandleSubscriptionError("conn-1", "sub-1", "boom",
		ProtocolGraphQLTransportWS, TransportEngine)

	require.Len(t, sink.immediate, 1)
	payload := sink.immediate[0].Payload.(map[string]any)
	assert.Equal(t, "subscription_error", payload["event"])
	assert.Equal(t, "boom", payload["error"])

	// An error terminates the subscription; a later complete is a no-op.
	coord.HandleSubscriptionComplete("conn-1", "sub-1",
		ProtocolGraphQLTransportWS, TransportEngine)
	for _, e := range sink.bufferedOfKind(collector.KindSubscription) {
		p := e.Payload.(map[string]any)
		assert.NotEqual(t, "subscription_completed", p["event"])
	}
}

func TestCoordinatorDisconnectSynthesizesCompletes(t *testing.T) {
	t.Parallel()

	coord, sink := newTestCoordinator(t, DefaultConfig())

	coord.HandleConnection("conn-1", "10.0.0.1", "", ProtocolGraphQLWS, TransportGateway)
	coord.HandleSubscriptionStart("conn-1", "sub-1", "subscription { a }", "",
		nil, ProtocolGraphQLWS, TransportGateway)
	coord.HandleSubscriptionStart("conn-1", "sub-2", "subscription { b }", "",
		nil, ProtocolGraphQLWS, TransportGateway)

	coord.HandleDisconnection("conn-1", ProtocolGraphQLWS, TransportGateway)

	var completes int
	for _, e := range sink.bufferedOfKind(collector.KindSubscription) {
		p := e.Payload.(map[string]any)
		if p["event"] == "subscription_completed" {
			completes++
		}
	}
	assert.Equal(t, 2, completes, "every open subscription gets exactly one synthesized complete")

	// Finalization is at-most-once: replaying a complete after the
	// disconnect must not produce another record.
	coord.HandleSubscriptionComplete("conn-1", "sub-1", ProtocolGraphQLWS, TransportGateway)

	completes = 0
	for _, e := range sink.bufferedOfKind(collector.KindSubscription) {
		p := e.Payload.(map[string]any)
		if p["event"] == "subscription_completed" {
			completes++
		}
	}
	assert.Equal(t, 2, completes)
}

func TestCoordinatorMessageBuffering(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.BufferMessagePayloads = true
	cfg.MaxTrackedMessages = 2
	coord, _ := newTestCoordinator(t, cfg)

	coord.HandleConnection("conn-1", "10.0.0.1", "", ProtocolGraphQLWS, TransportGateway)
	coord.HandleSubscriptionStart("conn-1", "sub-1", "subscription { ticks }", "",
		nil, ProtocolGraphQLWS, TransportGateway)

	for i := 0; i < 5; i++ {
		coord.HandleSubscriptionData("conn-1", "sub-1",
			map[string]any{"token": "secret-value", "tick": i},
			ProtocolGraphQLWS, TransportGateway)
	}

	buffered := coord.BufferedMessages("conn-1", "sub-1")
	require.Len(t, buffered, 2)
	first := buffered[0].(map[string]any)
	assert.Equal(t, "***", first["token"], "buffered payloads are stored sanitized")

	coord.HandleSubscriptionComplete("conn-1", "sub-1", ProtocolGraphQLWS, TransportGateway)
	assert.Empty(t, coord.BufferedMessages("conn-1", "sub-1"),
		"terminal events discard the buffer")
}

func TestCoordinatorUntrackedConnections(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TrackConnectionEvents = false
	coord, sink := newTestCoordinator(t, cfg)

	coord.HandleConnection("conn-1", "10.0.0.1", "", ProtocolGraphQLWS, TransportGateway)
	assert.Nil(t, coord.Registry().GetConnection("conn-1"))

	// Metrics still count the connect even though nothing was registered.
	assert.Equal(t, int64(1), coord.Metrics().Connections)

	corrID := coord.HandleSubscriptionStart("conn-1", "sub-1", "subscription { a }", "",
		nil, ProtocolGraphQLWS, TransportGateway)
	assert.Empty(t, corrID)
	assert.Empty(t, sink.buffered)
}

func TestCoordinatorMetricsSnapshot(t *testing.T) {
	t.Parallel()

	coord, _ := newTestCoordinator(t, DefaultConfig())

	coord.HandleConnection("gw-conn", "10.0.0.1", "", ProtocolGraphQLWS, TransportGateway)
	coord.HandleSubscriptionStart("gw-conn", "sub-1", "subscription { a }", "",
		nil, ProtocolGraphQLWS, TransportGateway)
	coord.HandleSubscriptionData("gw-conn", "sub-1", map[string]any{"a": 1},
		ProtocolGraphQLWS, TransportGateway)

	coord.HandleConnection("eng-conn", "10.0.0.2", "", ProtocolGraphQLTransportWS, TransportEngine)
	coord.HandleSubscriptionStart("eng-conn", "sub-2", "subscription { b }", "",
		nil, ProtocolGraphQLTransportWS, TransportEngine)
	coord.HandleSubscriptionError("eng-conn", "sub-2", "boom",
		ProtocolGraphQLTransportWS, TransportEngine)

	coord.HandleDisconnection("gw-conn", ProtocolGraphQLWS, TransportGateway)

	snap := coord.Metrics()
	assert.Equal(t, int64(2), snap.Connections)
	assert.Equal(t, int64(1), snap.Disconnections)
	assert.Equal(t, int64(2), snap.Subscriptions)
	assert.Equal(t, int64(1), snap.Messages)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(1), snap.Completions, "disconnect synthesized one complete")

	legacy := snap.ByProtocol[ProtocolGraphQLWS]
	assert.Equal(t, int64(1), legacy.Connections)
	assert.Equal(t, int64(1), legacy.Subscriptions)
	assert.Equal(t, int64(1), legacy.Messages)

	assert.Positive(t, snap.ByTransport[TransportGateway])
	assert.Positive(t, snap.ByTransport[TransportEngine])
}
