package idempotency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	redis "github.com/redis/go-redis/v9"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	resource, err := pool.Run("redis", "7-alpine", nil)
	if err != nil {
		t.Skipf("cannot start redis: %v", err)
	}
	t.Cleanup(func() { pool.Purge(resource) })

	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("localhost:%s", resource.GetPort("6379/tcp")),
	})
	t.Cleanup(func() { client.Close() })

	pool.MaxWait = time.Minute
	if err := pool.Retry(func() error {
		return client.Ping(context.Background()).Err()
	}); err != nil {
		t.Fatalf("connecting to redis: %v", err)
	}
	return client
}

func TestRedisClaim(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	r := NewRedis(client, time.Minute)

	first, err := r.Claim(ctx, "checkout:cs_1")
	if err != nil || !first {
		t.Fatalf("expected first claim, got %v %v", first, err)
	}

	again, err := r.Claim(ctx, "checkout:cs_1")
	if err != nil || again {
		t.Fatalf("expected duplicate claim to be refused, got %v %v", again, err)
	}

	ttl, err := client.TTL(ctx, redisPrefix+"checkout:cs_1").Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected the claim to expire within a minute, got %v %v", ttl, err)
	}

	if err := r.Release(ctx, "checkout:cs_1"); err != nil {
		t.Fatal(err)
	}
	if ok, err := r.Claim(ctx, "checkout:cs_1"); err != nil || !ok {
		t.Fatalf("expected claim after release, got %v %v", ok, err)
	}

	if _, err := r.Claim(ctx, ""); err == nil {
		t.Fatalf("expected an empty key to be refused")
	}
}
