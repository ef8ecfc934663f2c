package collector

import (
	"encoding/json"
	"io"
	"sync"

	"golang.org/x/time/rate"

	"github.com/avolkov/gqlscope/internal/observability"
)

// Writer collector defaults.
const (
	// DefaultBufferSize is the default size of the buffered entry channel.
	DefaultBufferSize = 1024

	// DefaultRateLimit is the default sustained records-per-second budget
	// for the buffered path. Immediate records are never rate limited.
	DefaultRateLimit = 500

	// DefaultRateBurst is the default burst allowance.
	DefaultRateBurst = 100
)

// Writer streams records as JSON lines to an io.Writer. Buffered records
// flow through a bounded channel drained by a background goroutine; when
// the channel is full or the rate budget is exhausted the record is dropped
// silently and counted, keeping the hot path non-blocking.
type Writer struct {
	w       io.Writer
	logger  observability.Logger
	metrics *Metrics
	limiter *rate.Limiter

	entries chan Entry

	mu     sync.Mutex // guards w for immediate writes and flush
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// WriterOption is a functional option for the writer collector.
type WriterOption func(*Writer)

// WithWriterLogger sets the logger.
func WithWriterLogger(logger observability.Logger) WriterOption {
	return func(c *Writer) {
		c.logger = logger
	}
}

// WithWriterMetrics sets the pipeline metrics.
func WithWriterMetrics(metrics *Metrics) WriterOption {
	return func(c *Writer) {
		c.metrics = metrics
	}
}

// WithWriterBufferSize sets the buffered channel capacity.
func WithWriterBufferSize(size int) WriterOption {
	return func(c *Writer) {
		if size > 0 {
			c.entries = make(chan Entry, size)
		}
	}
}

// WithWriterRateLimit sets the sustained and burst record budget for the
// buffered path. rps <= 0 disables rate limiting.
func WithWriterRateLimit(rps, burst int) WriterOption {
	return func(c *Writer) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = rps
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewWriter creates a writer collector and starts its flush goroutine.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	c := &Writer{
		w:       w,
		logger:  observability.NopLogger(),
		entries: make(chan Entry, DefaultBufferSize),
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateBurst),
		closed:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.drain()

	return c
}

// Collect buffers a record for asynchronous export.
func (c *Writer) Collect(kind string, payload any, correlationID string) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.metrics.RecordDrop(DropReasonRateLimited)
		return
	}

	select {
	case c.entries <- newEntry(kind, payload, correlationID):
		c.metrics.RecordEntry(kind, "buffered")
	default:
		c.metrics.RecordDrop(DropReasonBufferFull)
	}
}

// CollectImmediate writes a record synchronously, bypassing the buffer and
// the rate limiter.
func (c *Writer) CollectImmediate(kind string, payload any, correlationID string) {
	c.metrics.RecordEntry(kind, "immediate")
	c.write(newEntry(kind, payload, correlationID))
}

// drain moves buffered entries to the writer until Close.
func (c *Writer) drain() {
	defer c.wg.Done()
	for {
		select {
		case entry := <-c.entries:
			c.write(entry)
		case <-c.closed:
			// Flush whatever is still queued.
			for {
				select {
				case entry := <-c.entries:
					c.write(entry)
				default:
					return
				}
			}
		}
	}
}

// write encodes one entry as a JSON line.
func (c *Writer) write(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.metrics.RecordDrop(DropReasonExportError)
		c.logger.Error("failed to marshal record",
			observability.String("kind", entry.Kind),
			observability.Error(err),
		)
		return
	}
	data = append(data, '\n')

	c.mu.Lock()
	_, err = c.w.Write(data)
	c.mu.Unlock()

	if err != nil {
		c.metrics.RecordDrop(DropReasonExportError)
		c.logger.Error("failed to write record",
			observability.String("kind", entry.Kind),
			observability.Error(err),
		)
	}
}

// Close stops the flush goroutine after draining queued records.
func (c *Writer) Close() error {
	c.once.Do(func() {
		close(c.closed)
	})
	c.wg.Wait()
	return nil
}

var _ Collector = (*Writer)(nil)
