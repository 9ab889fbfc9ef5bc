package sequence

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisAllocator allocates ride ids with INCR, which is atomic on the
// server, so ids stay unique across every process sharing the key.
type RedisAllocator struct {
	client *redis.Client
	key    string
}

func NewRedisAllocator(addr, password, key string) *RedisAllocator {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisAllocator{client: c, key: key}
}

func (r *RedisAllocator) NextRideID(ctx context.Context) (int64, error) {
	return r.client.Incr(ctx, r.key).Result()
}

func (r *RedisAllocator) Close() error { return r.client.Close() }
