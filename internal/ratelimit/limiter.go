package ratelimit

import (
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// DefaultPrefix namespaces limiter counters in a shared Redis.
const DefaultPrefix = "pricing:ratelimit"

// NewRedis builds a fixed-window limiter allowing max events per window, with
// counters kept in Redis so every API replica shares them.
func NewRedis(client *redis.Client, prefix string, max int64, window time.Duration) (*limiter.Limiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client not configured")
	}
	if max <= 0 || window <= 0 {
		return nil, errors.New("ratelimit: max and window must be positive")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return limiter.New(store, limiter.Rate{Period: window, Limit: max}), nil
}
