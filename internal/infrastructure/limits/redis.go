package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter shares counters between instances. Keys expire at the end of
// the day they count.
type RedisCounter struct {
	client redis.UniversalClient
}

func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Count(ctx context.Context, configurationID string, day time.Time) (int, error) {
	n, err := c.client.Get(ctx, key(configurationID, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis.Get: %w", err)
	}
	return n, nil
}

func (c *RedisCounter) Increment(ctx context.Context, configurationID string, day time.Time) (int, error) {
	k := key(configurationID, day)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireAt(ctx, k, endOfDay(day))

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis.TxPipeline.Exec: %w", err)
	}

	return int(incr.Val()), nil
}
