package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// startRedis spins up a throwaway Redis container for the test.
func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opt, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opt)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestRedisStore_RoundTripAndInvalidate(t *testing.T) {
	client := startRedis(t)
	store := NewRedisStore(client, "ordersync-test")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "orders", []byte(`[{"id":"o-1"}]`), time.Minute))

	value, ok, err := store.Get(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`[{"id":"o-1"}]`), value)

	require.NoError(t, store.Invalidate(ctx, "orders"))
	_, ok, err = store.Get(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	// Invalidating an already-absent key is a no-op, not an error.
	require.NoError(t, store.Invalidate(ctx, "orders"))
}

func TestRedisStore_MissingKey(t *testing.T) {
	client := startRedis(t)
	store := NewRedisStore(client, "ordersync-test")

	_, ok, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}
