package identity

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool/internal/models"
)

// RedisProvider reads profiles from user:meta:<id> hashes maintained by the
// account service.
type RedisProvider struct {
	client *redis.Client
}

func NewRedisProvider(addr, password string) *RedisProvider {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisProvider{client: c}
}

func (r *RedisProvider) GenderOf(ctx context.Context, userID string) (models.Gender, error) {
	v, err := r.client.HGet(ctx, metaKey(userID), "gender").Result()
	if errors.Is(err, redis.Nil) {
		return models.GenderAny, nil
	}
	if err != nil {
		return "", err
	}
	switch g := models.Gender(v); g {
	case models.GenderMale, models.GenderFemale:
		return g, nil
	default:
		return models.GenderAny, nil
	}
}

func (r *RedisProvider) Close() error { return r.client.Close() }

func metaKey(id string) string { return "user:meta:" + id }
