package subscription

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/avolkov/gqlscope/internal/observability"
)

// Capture envelope events.
const (
	captureEventOpen  = "open"
	captureEventFrame = "frame"
	captureEventClose = "close"
)

// captureEnvelope is one observation pushed by a capture feed. A feed wraps
// every websocket frame it sees on a monitored connection, tagged with the
// connection identity and the negotiated subprotocol.
type captureEnvelope struct {
	Event        string          `json:"event"`
	ConnectionID string          `json:"connectionId"`
	Direction    string          `json:"direction,omitempty"`
	Protocol     string          `json:"protocol,omitempty"`
	RemoteAddr   string          `json:"remoteAddr,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	Frame        json.RawMessage `json:"frame,omitempty"`
}

// wsFrame is the wire shape shared by both GraphQL websocket subprotocols.
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// startPayload is the payload of a start/subscribe frame.
type startPayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Observer translates raw subscription-protocol frames into coordinator
// lifecycle events. It understands both the legacy graphql-ws and the
// graphql-transport-ws subprotocols; frame types outside either protocol
// are ignored without side effects.
type Observer struct {
	coordinator *Coordinator
	transport   Transport
	upgrader    websocket.Upgrader
	logger      observability.Logger
}

// ObserverOption is a functional option for the observer.
type ObserverOption func(*Observer)

// WithObserverLogger sets the logger.
func WithObserverLogger(logger observability.Logger) ObserverOption {
	return func(o *Observer) {
		o.logger = logger
	}
}

// NewObserver creates a protocol observer feeding the given coordinator.
// The transport tags every event with the capture mode the feed runs in.
func NewObserver(coordinator *Coordinator, transport Transport, opts ...ObserverOption) *Observer {
	o := &Observer{
		coordinator: coordinator,
		transport:   transport,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Origin checking should be done at the middleware level
				return true
			},
		},
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// HandleCapture upgrades an HTTP connection to WebSocket and consumes
// capture envelopes from it until the feed closes. Connections opened on
// the feed and still live when it drops are disconnected, so a dying feed
// never leaks registry entries.
func (o *Observer) HandleCapture(w http.ResponseWriter, r *http.Request) error {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	// Protocols negotiated per connection on this feed.
	protocols := make(map[string]Protocol)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var env captureEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			o.logger.Warn("malformed capture envelope", observability.Error(err))
			continue
		}

		o.dispatch(env, protocols)
	}

	for connID, protocol := range protocols {
		o.coordinator.HandleDisconnection(connID, protocol, o.transport)
	}

	return nil
}

func (o *Observer) dispatch(env captureEnvelope, protocols map[string]Protocol) {
	switch env.Event {
	case captureEventOpen:
		protocol := ParseProtocol(env.Protocol)
		protocols[env.ConnectionID] = protocol
		o.coordinator.HandleConnection(
			env.ConnectionID, env.RemoteAddr, env.UserAgent,
			protocol, o.transport,
		)

	case captureEventFrame:
		protocol, ok := protocols[env.ConnectionID]
		if !ok {
			return
		}
		o.ObserveFrame(env.ConnectionID, protocol, env.Frame)

	case captureEventClose:
		protocol, ok := protocols[env.ConnectionID]
		if !ok {
			return
		}
		delete(protocols, env.ConnectionID)
		o.coordinator.HandleDisconnection(env.ConnectionID, protocol, o.transport)
	}
}

// ObserveFrame maps one protocol frame onto a coordinator event. Frame
// types that carry no lifecycle meaning (acks, keepalives, pings) and
// types unknown to either protocol are ignored.
func (o *Observer) ObserveFrame(connectionID string, protocol Protocol, raw []byte) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		o.logger.Warn("malformed subscription frame",
			observability.String("connection_id", connectionID),
			observability.Error(err),
		)
		return
	}

	switch frameEvent(protocol, frame.Type) {
	case "start":
		var sp startPayload
		_ = json.Unmarshal(frame.Payload, &sp)
		o.coordinator.HandleSubscriptionStart(
			connectionID, frame.ID,
			sp.Query, sp.OperationName, sp.Variables,
			protocol, o.transport,
		)

	case "data":
		var payload any
		_ = json.Unmarshal(frame.Payload, &payload)
		o.coordinator.HandleSubscriptionData(connectionID, frame.ID, payload, protocol, o.transport)

	case "error":
		o.coordinator.HandleSubscriptionError(
			connectionID, frame.ID,
			errorMessage(frame.Payload),
			protocol, o.transport,
		)

	case "complete":
		o.coordinator.HandleSubscriptionComplete(connectionID, frame.ID, protocol, o.transport)

	case "terminate":
		o.coordinator.HandleDisconnection(connectionID, protocol, o.transport)
	}
}

// frameEvent normalizes a protocol frame type to a lifecycle event name,
// or "" for frames without one.
func frameEvent(protocol Protocol, frameType string) string {
	switch protocol {
	case ProtocolGraphQLWS:
		switch frameType {
		case "start":
			return "start"
		case "data":
			return "data"
		case "error":
			return "error"
		case "stop", "complete":
			return "complete"
		case "connection_terminate":
			return "terminate"
		}
	case ProtocolGraphQLTransportWS:
		switch frameType {
		case "subscribe":
			return "start"
		case "next":
			return "data"
		case "error":
			return "error"
		case "complete":
			return "complete"
		}
	}
	return ""
}

// errorMessage extracts a human-readable message from an error payload,
// which may be a single GraphQL error object or a list of them.
func errorMessage(raw []byte) string {
	var single struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Message != "" {
		return single.Message
	}

	var list []struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0].Message
	}

	return string(raw)
}
