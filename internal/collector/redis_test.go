package collector

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisExporter(t *testing.T) {
	t.Parallel()

	t.Run("immediate records land on the stream", func(t *testing.T) {
		t.Parallel()

		_, client := newTestRedis(t)
		e := NewRedisExporter(client,
			WithRedisMetrics(NewMetrics(prometheus.NewRegistry())),
			WithRedisStream("test:entries"),
		)

		e.CollectImmediate(KindOperationError, map[string]any{"message": "boom"}, "corr-1")
		require.NoError(t, e.Close())

		ctx := context.Background()
		msgs, err := client.XRange(ctx, "test:entries", "-", "+").Result()
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, KindOperationError, msgs[0].Values["kind"])
		assert.Equal(t, "corr-1", msgs[0].Values["correlation_id"])
		assert.Contains(t, msgs[0].Values["payload"], "boom")
	})

	t.Run("buffered records are drained to the stream", func(t *testing.T) {
		t.Parallel()

		_, client := newTestRedis(t)
		e := NewRedisExporter(client,
			WithRedisMetrics(NewMetrics(prometheus.NewRegistry())),
			WithRedisStream("test:buffered"),
		)

		for i := 0; i < 5; i++ {
			e.Collect(KindOperation, map[string]any{"n": i}, "")
		}
		require.NoError(t, e.Close())

		msgs, err := client.XRange(context.Background(), "test:buffered", "-", "+").Result()
		require.NoError(t, err)
		assert.Len(t, msgs, 5)
	})

	t.Run("unreachable redis never blocks the caller", func(t *testing.T) {
		t.Parallel()

		mr, client := newTestRedis(t)
		mr.Close()

		e := NewRedisExporter(client,
			WithRedisMetrics(NewMetrics(prometheus.NewRegistry())),
		)
		defer func() { _ = e.Close() }()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 20; i++ {
				e.CollectImmediate(KindOperationError, i, "")
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * DefaultExportTimeout * 20):
			t.Fatal("collector blocked on unreachable redis")
		}
	})
}
