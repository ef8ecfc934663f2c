// Package subscription tracks the lifecycle of streamed GraphQL
// subscriptions over persistent connections: a bounded registry of live
// connections, a lifecycle coordinator that turns protocol events into
// observability records, and a WebSocket observer for the two wire
// protocols in common use.
package subscription

import (
	"sync"
	"time"

	"github.com/avolkov/gqlscope/internal/observability"
)

// Registry capacity defaults.
const (
	DefaultMaxConnections          = 1000
	DefaultMaxSubscriptionsPerConn = 100
)

// Connection is one live persistent connection and its subscriptions.
type Connection struct {
	ID            string
	IP            string
	UserAgent     string
	ConnectedAt   time.Time
	Subscriptions map[string]*ActiveSubscription
}

// ActiveSubscription is one streaming subscription owned by a connection.
type ActiveSubscription struct {
	ID            string
	ConnectionID  string
	Query         string
	OperationName string
	Variables     map[string]any
	StartedAt     time.Time
	MessageCount  int
	CorrelationID string
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Connections       int
	Subscriptions     int
	OldestConnectedAt time.Time
	NewestConnectedAt time.Time
}

// Registry is a bounded, mutex-guarded store of live connections. Capacity
// caps silently bound growth: the oldest connection is evicted to admit a
// new one, and subscriptions past the per-connection cap are rejected.
type Registry struct {
	mu             sync.Mutex
	connections    map[string]*Connection
	maxConnections int
	maxSubsPerConn int
	logger         observability.Logger
}

// RegistryOption is a functional option for the registry.
type RegistryOption func(*Registry)

// WithMaxConnections caps the number of live connections.
func WithMaxConnections(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxConnections = n
		}
	}
}

// WithMaxSubscriptionsPerConnection caps subscriptions per connection.
func WithMaxSubscriptionsPerConnection(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxSubsPerConn = n
		}
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		connections:    make(map[string]*Connection),
		maxConnections: DefaultMaxConnections,
		maxSubsPerConn: DefaultMaxSubscriptionsPerConn,
		logger:         observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddConnection registers a connection. At capacity the connection with the
// oldest ConnectedAt is evicted first; the registry never errors on growth.
func (r *Registry) AddConnection(id, ip, userAgent string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.connections) >= r.maxConnections {
		r.evictOldestLocked()
	}

	conn := &Connection{
		ID:            id,
		IP:            ip,
		UserAgent:     userAgent,
		ConnectedAt:   time.Now(),
		Subscriptions: make(map[string]*ActiveSubscription),
	}
	r.connections[id] = conn
	return conn
}

// evictOldestLocked removes the connection with the oldest ConnectedAt.
// Linear scan; acceptable given the bounded size.
func (r *Registry) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, conn := range r.connections {
		if oldestID == "" || conn.ConnectedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = conn.ConnectedAt
		}
	}
	if oldestID != "" {
		delete(r.connections, oldestID)
		r.logger.Debug("evicted oldest connection",
			observability.String("connection_id", oldestID),
		)
	}
}

// AddSubscription registers a subscription under an existing connection.
// Returns nil when the connection does not exist or is already at its
// per-connection cap.
func (r *Registry) AddSubscription(
	connectionID, subscriptionID, query, operationName string,
	variables map[string]any,
	correlationID string,
) *ActiveSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return nil
	}
	if len(conn.Subscriptions) >= r.maxSubsPerConn {
		return nil
	}

	sub := &ActiveSubscription{
		ID:            subscriptionID,
		ConnectionID:  connectionID,
		Query:         query,
		OperationName: operationName,
		Variables:     variables,
		StartedAt:     time.Now(),
		CorrelationID: correlationID,
	}
	conn.Subscriptions[subscriptionID] = sub
	return sub
}

// GetConnection returns a live connection, or nil.
func (r *Registry) GetConnection(id string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections[id]
}

// GetSubscription returns a subscription by its composite key, or nil.
func (r *Registry) GetSubscription(connectionID, subscriptionID string) *ActiveSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return nil
	}
	return conn.Subscriptions[subscriptionID]
}

// RemoveConnection removes a connection, cascading over its subscriptions.
// The removed record is returned so the caller can finalize them.
func (r *Registry) RemoveConnection(id string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[id]
	if !ok {
		return nil
	}
	delete(r.connections, id)
	return conn
}

// RemoveSubscription removes one subscription, returning the removed record
// or nil when either side of the key is unknown.
func (r *Registry) RemoveSubscription(connectionID, subscriptionID string) *ActiveSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return nil
	}
	sub, ok := conn.Subscriptions[subscriptionID]
	if !ok {
		return nil
	}
	delete(conn.Subscriptions, subscriptionID)
	return sub
}

// IncrementMessageCount bumps a subscription's message counter and returns
// the new count. The second return is false when the subscription is not
// registered.
func (r *Registry) IncrementMessageCount(connectionID, subscriptionID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return 0, false
	}
	sub, ok := conn.Subscriptions[subscriptionID]
	if !ok {
		return 0, false
	}
	sub.MessageCount++
	return sub.MessageCount, true
}

// FindByCorrelationID scans all connections for a subscription with the
// given correlation id.
func (r *Registry) FindByCorrelationID(correlationID string) *ActiveSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, conn := range r.connections {
		for _, sub := range conn.Subscriptions {
			if sub.CorrelationID == correlationID {
				return sub
			}
		}
	}
	return nil
}

// GetStats summarizes the registry.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Connections: len(r.connections)}
	for _, conn := range r.connections {
		s.Subscriptions += len(conn.Subscriptions)
		if s.OldestConnectedAt.IsZero() || conn.ConnectedAt.Before(s.OldestConnectedAt) {
			s.OldestConnectedAt = conn.ConnectedAt
		}
		if conn.ConnectedAt.After(s.NewestConnectedAt) {
			s.NewestConnectedAt = conn.ConnectedAt
		}
	}
	return s
}

// Clear removes every connection and subscription.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = make(map[string]*Connection)
}
