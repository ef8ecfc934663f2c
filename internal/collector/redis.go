package collector

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/avolkov/gqlscope/internal/observability"
)

// Redis exporter defaults.
const (
	// DefaultStream is the Redis stream records are appended to.
	DefaultStream = "gqlscope:entries"

	// DefaultStreamMaxLen caps the stream length (approximate trimming).
	DefaultStreamMaxLen = 100_000

	// DefaultExportTimeout bounds one XADD round trip.
	DefaultExportTimeout = 2 * time.Second

	// breakerThreshold is the request count before the failure ratio is
	// evaluated, and the request allowance in half-open state.
	breakerThreshold = 5
)

// RedisExporter ships records to a Redis stream. Buffered records are
// drained by a background goroutine; a circuit breaker around XADD keeps a
// failing Redis from blocking or delaying the instrumentation hot path.
type RedisExporter struct {
	client    redis.UniversalClient
	stream    string
	maxLen    int64
	timeout   time.Duration
	logger    observability.Logger
	metrics   *Metrics
	breaker   *gobreaker.CircuitBreaker
	entries   chan Entry
	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// RedisOption is a functional option for the Redis exporter.
type RedisOption func(*RedisExporter)

// WithRedisStream sets the destination stream key.
func WithRedisStream(stream string) RedisOption {
	return func(e *RedisExporter) {
		if stream != "" {
			e.stream = stream
		}
	}
}

// WithRedisStreamMaxLen sets the approximate stream length cap.
func WithRedisStreamMaxLen(maxLen int64) RedisOption {
	return func(e *RedisExporter) {
		if maxLen > 0 {
			e.maxLen = maxLen
		}
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(e *RedisExporter) {
		e.logger = logger
	}
}

// WithRedisMetrics sets the pipeline metrics.
func WithRedisMetrics(metrics *Metrics) RedisOption {
	return func(e *RedisExporter) {
		e.metrics = metrics
	}
}

// WithRedisBufferSize sets the buffered channel capacity.
func WithRedisBufferSize(size int) RedisOption {
	return func(e *RedisExporter) {
		if size > 0 {
			e.entries = make(chan Entry, size)
		}
	}
}

// NewRedisExporter creates a Redis stream exporter and starts its drain
// goroutine.
func NewRedisExporter(client redis.UniversalClient, opts ...RedisOption) *RedisExporter {
	e := &RedisExporter{
		client:  client,
		stream:  DefaultStream,
		maxLen:  DefaultStreamMaxLen,
		timeout: DefaultExportTimeout,
		logger:  observability.NopLogger(),
		entries: make(chan Entry, DefaultBufferSize),
		closed:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "collector-redis",
		MaxRequests: breakerThreshold,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerThreshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("collector breaker state change",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	e.wg.Add(1)
	go e.drain()

	return e
}

// Collect buffers a record for asynchronous export. A full buffer drops the
// record silently.
func (e *RedisExporter) Collect(kind string, payload any, correlationID string) {
	select {
	case e.entries <- newEntry(kind, payload, correlationID):
		e.metrics.RecordEntry(kind, "buffered")
	default:
		e.metrics.RecordDrop(DropReasonBufferFull)
	}
}

// CollectImmediate exports a record synchronously through the breaker.
func (e *RedisExporter) CollectImmediate(kind string, payload any, correlationID string) {
	e.metrics.RecordEntry(kind, "immediate")
	e.export(newEntry(kind, payload, correlationID))
}

func (e *RedisExporter) drain() {
	defer e.wg.Done()
	for {
		select {
		case entry := <-e.entries:
			e.export(entry)
		case <-e.closed:
			for {
				select {
				case entry := <-e.entries:
					e.export(entry)
				default:
					return
				}
			}
		}
	}
}

// export appends one entry to the stream, guarded by the circuit breaker.
func (e *RedisExporter) export(entry Entry) {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		e.metrics.RecordDrop(DropReasonExportError)
		return
	}

	_, err = e.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		return nil, e.client.XAdd(ctx, &redis.XAddArgs{
			Stream: e.stream,
			MaxLen: e.maxLen,
			Approx: true,
			Values: map[string]any{
				"id":             entry.ID,
				"kind":           entry.Kind,
				"correlation_id": entry.CorrelationID,
				"recorded_at":    entry.RecordedAt.UnixNano(),
				"payload":        string(payload),
			},
		}).Err()
	})

	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		e.metrics.RecordDrop(DropReasonBreakerOpen)
	default:
		e.metrics.RecordDrop(DropReasonExportError)
		e.logger.Debug("failed to export record",
			observability.String("kind", entry.Kind),
			observability.Error(err),
		)
	}
}

// Close drains queued records and stops the exporter. The Redis client is
// owned by the caller and is not closed.
func (e *RedisExporter) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
	e.wg.Wait()
	return nil
}

var _ Collector = (*RedisExporter)(nil)
