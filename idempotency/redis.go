package idempotency

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisPrefix = "checkout:processed:"

// Redis shares the ledger between instances through SET NX with a ttl.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Claim(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("ledger key is empty")
	}
	return r.client.SetNX(ctx, redisPrefix+key, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
}

func (r *Redis) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisPrefix+key).Err()
}
