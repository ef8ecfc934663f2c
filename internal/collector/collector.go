// Package collector provides the entry-collection sink that every
// instrumentation component emits observability records to. Ordinary
// telemetry goes through the buffered Collect path; error and terminal
// events use CollectImmediate, which is flushed synchronously.
package collector

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry kinds emitted by the engine.
const (
	KindOperation       = "graphql_operation"
	KindSubscription    = "graphql_subscription"
	KindNPlusOne        = "graphql_n_plus_one"
	KindFieldTrace      = "graphql_field_trace"
	KindOperationError  = "graphql_operation_error"
	KindSubscriptionMsg = "graphql_subscription_message"
)

// Entry is one collected observability record.
type Entry struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Payload       any       `json:"payload"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// Collector is the outbound sink contract.
type Collector interface {
	// Collect buffers an ordinary telemetry record.
	Collect(kind string, payload any, correlationID string)

	// CollectImmediate records an error or terminal event, bypassing
	// buffering so the record survives an imminent teardown.
	CollectImmediate(kind string, payload any, correlationID string)

	// Close flushes buffered records and releases resources.
	Close() error
}

// newEntry stamps a record with identity and time.
func newEntry(kind string, payload any, correlationID string) Entry {
	return Entry{
		ID:            uuid.NewString(),
		Kind:          kind,
		CorrelationID: correlationID,
		Payload:       payload,
		RecordedAt:    time.Now(),
	}
}

// nopCollector discards everything.
type nopCollector struct{}

// NewNopCollector returns a collector that discards all records.
func NewNopCollector() Collector {
	return &nopCollector{}
}

func (nopCollector) Collect(_ string, _ any, _ string)          {}
func (nopCollector) CollectImmediate(_ string, _ any, _ string) {}
func (nopCollector) Close() error                               { return nil }

// Memory is a bounded in-memory collector, used by tests and as a staging
// sink when no exporter is configured.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// NewMemory creates a memory collector holding at most capacity entries;
// older entries are discarded first. capacity <= 0 means unbounded.
func NewMemory(capacity int) *Memory {
	return &Memory{cap: capacity}
}

// Collect appends a record, evicting the oldest past capacity.
func (m *Memory) Collect(kind string, payload any, correlationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, newEntry(kind, payload, correlationID))
	if m.cap > 0 && len(m.entries) > m.cap {
		m.entries = m.entries[len(m.entries)-m.cap:]
	}
}

// CollectImmediate behaves like Collect; memory writes are already synchronous.
func (m *Memory) CollectImmediate(kind string, payload any, correlationID string) {
	m.Collect(kind, payload, correlationID)
}

// Entries returns a snapshot of collected records.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// ByKind returns collected records of one kind.
func (m *Memory) ByKind(kind string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Close implements Collector.
func (m *Memory) Close() error { return nil }

var (
	_ Collector = (*nopCollector)(nil)
	_ Collector = (*Memory)(nil)
)
