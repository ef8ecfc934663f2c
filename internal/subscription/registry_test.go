package subscription

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddConnection(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	conn := r.AddConnection("conn-1", "10.0.0.1", "test-agent")
	require.NotNil(t, conn)
	assert.Equal(t, "conn-1", conn.ID)
	assert.Equal(t, "10.0.0.1", conn.IP)
	assert.False(t, conn.ConnectedAt.IsZero())
	assert.Empty(t, conn.Subscriptions)

	assert.NotNil(t, r.GetConnection("conn-1"))
	assert.Nil(t, r.GetConnection("missing"))
}

func TestRegistryEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	r := NewRegistry(WithMaxConnections(2))

	r.AddConnection("a", "10.0.0.1", "")
	time.Sleep(2 * time.Millisecond)
	r.AddConnection("b", "10.0.0.2", "")
	time.Sleep(2 * time.Millisecond)
	r.AddConnection("c", "10.0.0.3", "")

	assert.Nil(t, r.GetConnection("a"), "oldest connection should be evicted")
	assert.NotNil(t, r.GetConnection("b"))
	assert.NotNil(t, r.GetConnection("c"))
	assert.Equal(t, 2, r.GetStats().Connections)
}

func TestRegistryAddSubscription(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddConnection("conn-1", "10.0.0.1", "")

	sub := r.AddSubscription("conn-1", "sub-1", "subscription { ticks }",
		"Ticks", map[string]any{"n": 1}, "corr-1")
	require.NotNil(t, sub)
	assert.Equal(t, "conn-1", sub.ConnectionID)
	assert.Equal(t, "corr-1", sub.CorrelationID)
	assert.Zero(t, sub.MessageCount)

	assert.Nil(t, r.AddSubscription("missing", "sub-2", "", "", nil, "corr-2"),
		"unknown connection should reject the subscription")
}

func TestRegistryPerConnectionCap(t *testing.T) {
	t.Parallel()

	r := NewRegistry(WithMaxSubscriptionsPerConnection(2))
	r.AddConnection("conn-1", "10.0.0.1", "")

	for i := range 2 {
		require.NotNil(t, r.AddSubscription("conn-1", fmt.Sprintf("sub-%d", i), "", "", nil, ""))
	}
	assert.Nil(t, r.AddSubscription("conn-1", "sub-over", "", "", nil, ""),
		"subscription past the per-connection cap should be rejected")
	assert.Equal(t, 2, r.GetStats().Subscriptions)
}

func TestRegistryRemoveConnectionCascades(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddConnection("conn-1", "10.0.0.1", "")
	r.AddSubscription("conn-1", "sub-1", "", "", nil, "")
	r.AddSubscription("conn-1", "sub-2", "", "", nil, "")

	removed := r.RemoveConnection("conn-1")
	require.NotNil(t, removed)
	assert.Len(t, removed.Subscriptions, 2)

	assert.Nil(t, r.RemoveConnection("conn-1"), "second removal should be a no-op")
	assert.Zero(t, r.GetStats().Subscriptions)
}

func TestRegistryRemoveSubscription(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddConnection("conn-1", "10.0.0.1", "")
	r.AddSubscription("conn-1", "sub-1", "", "", nil, "")

	require.NotNil(t, r.RemoveSubscription("conn-1", "sub-1"))
	assert.Nil(t, r.RemoveSubscription("conn-1", "sub-1"))
	assert.Nil(t, r.RemoveSubscription("missing", "sub-1"))
}

func TestRegistryIncrementMessageCount(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddConnection("conn-1", "10.0.0.1", "")
	r.AddSubscription("conn-1", "sub-1", "", "", nil, "")

	for want := 1; want <= 3; want++ {
		count, ok := r.IncrementMessageCount("conn-1", "sub-1")
		require.True(t, ok)
		assert.Equal(t, want, count)
	}

	_, ok := r.IncrementMessageCount("conn-1", "missing")
	assert.False(t, ok)
}

func TestRegistryFindByCorrelationID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddConnection("conn-1", "10.0.0.1", "")
	r.AddSubscription("conn-1", "sub-1", "", "", nil, "corr-42")

	sub := r.FindByCorrelationID("corr-42")
	require.NotNil(t, sub)
	assert.Equal(t, "sub-1", sub.ID)

	assert.Nil(t, r.FindByCorrelationID("nope"))
}

func TestRegistryClear(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddConnection("conn-1", "10.0.0.1", "")
	r.AddSubscription("conn-1", "sub-1", "", "", nil, "")

	r.Clear()

	stats := r.GetStats()
	assert.Zero(t, stats.Connections)
	assert.Zero(t, stats.Subscriptions)
}
