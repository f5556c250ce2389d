//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestRedisStore(t *testing.T, client *goredis.Client, opts ...KVOption) *KVStore {
	t.Helper()
	prefix := "test:" + t.Name() + ":"
	s := NewKVStore(NewRedisKV(client), append([]KVOption{WithKeyPrefix(prefix)}, opts...)...)
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return s
}

func TestRedisStore_Contract(t *testing.T) {
	storeContract(t, newTestRedisStore(t, newTestRedisClient(t)))
}

func TestRedisStore_TTLAndIdentities(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t)
	s := newTestRedisStore(t, client, WithTTL(time.Minute))

	require.NoError(t, s.Save(ctx, "user-1", sampleLedger()))
	require.NoError(t, s.Save(ctx, "user-2", sampleLedger()))

	ttl, err := client.TTL(ctx, s.key("user-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	ids, err := s.Identities(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, ids)
}
