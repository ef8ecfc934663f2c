package subscription

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/gqlscope/internal/collector"
)

func newTestObserver(t *testing.T, transport Transport) (*Observer, *Coordinator, *captureSink) {
	t.Helper()
	coord, sink := newTestCoordinator(t, DefaultConfig())
	return NewObserver(coord, transport), coord, sink
}

func mustFrame(t *testing.T, frameType, id string, payload any) []byte {
	t.Helper()
	f := map[string]any{"type": frameType}
	if id != "" {
		f["id"] = id
	}
	if payload != nil {
		f["payload"] = payload
	}
	raw, err := json.Marshal(f)
	require.NoError(t, err)
	return raw
}

func TestObserverLegacyProtocolMapping(t *testing.T) {
	t.Parallel()

	obs, coord, sink := newTestObserver(t, TransportGateway)
	coord.HandleConnection("conn-1", "10.0.0.1", "", ProtocolGraphQLWS, TransportGateway)

	obs.ObserveFrame("conn-1", ProtocolGraphQLWS, mustFrame(t, "start", "sub-1", map[string]any{
		"query":         "subscription { ticks }",
		"operationName": "Ticks",
	}))
	require.NotNil(t, coord.Registry().GetSubscription("conn-1", "sub-1"))

	obs.ObserveFrame("conn-1", ProtocolGraphQLWS, mustFrame(t, "data", "sub-1", map[string]any{
		"data": map[string]any{"ticks": 1},
	}))
	assert.Len(t, sink.bufferedOfKind(collector.KindSubscriptionMsg), 1)

	obs.ObserveFrame("conn-1", ProtocolGraphQLWS, mustFrame(t, "stop", "sub-1", nil))
	assert.Nil(t, coord.Registry().GetSubscription("conn-1", "sub-1"),
		"legacy stop should complete the subscription")
}

func TestObserverTransportWSProtocolMapping(t *testing.T) {
	t.Parallel()

	obs, coord, sink := newTestObserver(t, TransportEngine)
	coord.HandleConnection("conn-1", "10.0.0.1", "", ProtocolGraphQLTransportWS, TransportEngine)

	obs.ObserveFrame("conn-1", ProtocolGraphQLTransportWS, mustFrame(t, "subscribe", "sub-1", map[string]any{
		"query": "subscription { ticks }",
	}))
	require.NotNil(t, coord.Registry().GetSubscription("conn-1", "sub-1"))

	obs.ObserveFrame("conn-1", ProtocolGraphQLTransportWS, mustFrame(t, "next", "sub-1", map[string]any{
		"data": map[string]any{"ticks": 1},
	}))
	assert.Len(t, sink.bufferedOfKind(collector.KindSubscriptionMsg), 1)

	obs.ObserveFrame("conn-1", ProtocolGraphQLTransportWS, mustFrame(t, "error", "sub-1",
		[]map[string]any{{"message": "resolver blew up"}}))

	require.Len(t, sink.immediate, 1)
	payload := sink.immediate[0].Payload.(map[string]any)
	assert.Equal(t, "resolver blew up", payload["error"])
	assert.Nil(t, coord.Registry().GetSubscription("conn-1", "sub-1"))
}

func TestObserverIgnoresUnknownFrameTypes(t *testing.T) {
	t.Parallel()

	obs, coord, sink := newTestObserver(t, TransportGateway)
	coord.HandleConnection("conn-1", "10.0.0.1", "", ProtocolGraphQLWS, TransportGateway)
	before := coord.Metrics()

	for _, frameType := range []string{"connection_ack", "ka", "ping", "pong", "made_up"} {
		obs.ObserveFrame("conn-1", ProtocolGraphQLWS, mustFrame(t, frameType, "", nil))
	}
	// A transport-ws-only type arriving on a legacy connection is unknown too.
	obs.ObserveFrame("conn-1", ProtocolGraphQLWS, mustFrame(t, "subscribe", "sub-1", nil))

	assert.Empty(t, sink.buffered)
	assert.Empty(t, sink.immediate)
	assert.Equal(t, before, coord.Metrics())
	assert.Nil(t, coord.Registry().GetSubscription("conn-1", "sub-1"))
}

func TestObserverDispatchLifecycle(t *testing.T) {
	t.Parallel()

	obs, coord, _ := newTestObserver(t, TransportGateway)
	protocols := make(map[string]Protocol)

	obs.dispatch(captureEnvelope{
		Event:        captureEventOpen,
		ConnectionID: "conn-1",
		Protocol:     "graphql-transport-ws",
		RemoteAddr:   "10.0.0.1",
	}, protocols)
	require.NotNil(t, coord.Registry().GetConnection("conn-1"))
	assert.Equal(t, ProtocolGraphQLTransportWS, protocols["conn-1"])

	obs.dispatch(captureEnvelope{
		Event:        captureEventFrame,
		ConnectionID: "conn-1",
		Frame:        mustFrame(t, "subscribe", "sub-1", map[string]any{"query": "subscription { a }"}),
	}, protocols)
	require.NotNil(t, coord.Registry().GetSubscription("conn-1", "sub-1"))

	obs.dispatch(captureEnvelope{
		Event:        captureEventClose,
		ConnectionID: "conn-1",
	}, protocols)
	assert.Nil(t, coord.Registry().GetConnection("conn-1"))
	assert.NotContains(t, protocols, "conn-1")

	// Frames for connections never opened on this feed are dropped.
	obs.dispatch(captureEnvelope{
		Event:        captureEventFrame,
		ConnectionID: "conn-ghost",
		Frame:        mustFrame(t, "subscribe", "sub-9", nil),
	}, protocols)
	assert.Nil(t, coord.Registry().GetConnection("conn-ghost"))
}

func TestParseProtocol(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ProtocolGraphQLTransportWS, ParseProtocol("graphql-transport-ws"))
	assert.Equal(t, ProtocolGraphQLWS, ParseProtocol("graphql-ws"))
	assert.Equal(t, ProtocolGraphQLWS, ParseProtocol(""))
	assert.Equal(t, ProtocolGraphQLWS, ParseProtocol("unknown"))
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "single object", payload: `{"message":"bad field"}`, want: "bad field"},
		{name: "error list", payload: `[{"message":"first"},{"message":"second"}]`, want: "first"},
		{name: "unrecognized shape", payload: `"just a string"`, want: `"just a string"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, errorMessage([]byte(tt.payload)))
		})
	}
}
