package collector

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	t.Parallel()

	t.Run("records entries with identity and kind", func(t *testing.T) {
		t.Parallel()

		m := NewMemory(0)
		m.Collect(KindOperation, map[string]any{"hash": "abcd1234"}, "corr-1")
		m.CollectImmediate(KindOperationError, map[string]any{"message": "boom"}, "corr-1")

		entries := m.Entries()
		require.Len(t, entries, 2)
		assert.NotEmpty(t, entries[0].ID)
		assert.Equal(t, KindOperation, entries[0].Kind)
		assert.Equal(t, "corr-1", entries[0].CorrelationID)
		assert.False(t, entries[0].RecordedAt.IsZero())

		require.Len(t, m.ByKind(KindOperationError), 1)
	})

	t.Run("capacity evicts the oldest entries", func(t *testing.T) {
		t.Parallel()

		m := NewMemory(3)
		for i := 0; i < 5; i++ {
			m.Collect(KindOperation, i, "")
		}

		entries := m.Entries()
		require.Len(t, entries, 3)
		assert.Equal(t, 2, entries[0].Payload)
		assert.Equal(t, 4, entries[2].Payload)
	})
}

func TestWriter(t *testing.T) {
	t.Parallel()

	t.Run("immediate records are written synchronously", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewWriter(&buf, WithWriterMetrics(NewMetrics(prometheus.NewRegistry())))

		w.CollectImmediate(KindOperationError, map[string]any{"message": "boom"}, "corr-9")

		var entry Entry
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, KindOperationError, entry.Kind)
		assert.Equal(t, "corr-9", entry.CorrelationID)

		require.NoError(t, w.Close())
	})

	t.Run("buffered records are flushed on close", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewWriter(&buf,
			WithWriterMetrics(NewMetrics(prometheus.NewRegistry())),
			WithWriterRateLimit(0, 0),
		)

		for i := 0; i < 10; i++ {
			w.Collect(KindOperation, map[string]any{"n": i}, fmt.Sprintf("corr-%d", i))
		}
		require.NoError(t, w.Close())

		lines := 0
		scanner := bufio.NewScanner(&buf)
		for scanner.Scan() {
			var entry Entry
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
			assert.Equal(t, KindOperation, entry.Kind)
			lines++
		}
		assert.Equal(t, 10, lines)
	})

	t.Run("full buffer drops records without blocking", func(t *testing.T) {
		t.Parallel()

		w := NewWriter(blockingWriter{},
			WithWriterMetrics(NewMetrics(prometheus.NewRegistry())),
			WithWriterBufferSize(1),
			WithWriterRateLimit(0, 0),
		)
		defer func() { _ = w.Close() }()

		// Must return promptly even though nothing is being drained fast.
		for i := 0; i < 100; i++ {
			w.Collect(KindOperation, i, "")
		}
	})

	t.Run("rate limiter drops past the burst", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewWriter(&buf,
			WithWriterMetrics(NewMetrics(prometheus.NewRegistry())),
			WithWriterRateLimit(1, 2),
		)

		for i := 0; i < 50; i++ {
			w.Collect(KindOperation, i, "")
		}
		require.NoError(t, w.Close())

		lines := bytes.Count(buf.Bytes(), []byte("\n"))
		assert.LessOrEqual(t, lines, 3)
	})
}

// blockingWriter simulates a slow sink.
type blockingWriter struct{}

func (blockingWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func TestNopCollector(t *testing.T) {
	t.Parallel()

	c := NewNopCollector()
	c.Collect(KindOperation, "x", "")
	c.CollectImmediate(KindOperationError, "y", "")
	assert.NoError(t, c.Close())
}
