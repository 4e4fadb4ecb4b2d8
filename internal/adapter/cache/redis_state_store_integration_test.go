//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fluid-project/personal-data-server/internal/domain/sso"
)

func setupRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStateStore_ConsumeOnce(t *testing.T) {
	client := setupRedis(t)
	store := NewRedisStateStore(client)
	ctx := context.Background()
	state := "it-" + time.Now().Format("150405.000000000")

	require.NoError(t, store.Track(ctx, sso.StateRecord{
		State:         state,
		Provider:      "google",
		RefererOrigin: "https://external.site.com",
		RefererURL:    "https://external.site.com/page.html",
	}, time.Minute))

	ttl, err := client.TTL(ctx, stateKey(state)).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	record, err := store.Consume(ctx, state)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "google", record.Provider)
	require.False(t, record.CreatedAt.IsZero())

	record, err = store.Consume(ctx, state)
	require.NoError(t, err)
	require.Nil(t, record)
}
