package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const defaultRateLimitPrefix = "aquasentinel:ratelimit:"

// RedisRateLimitStore keeps send timestamps in one sorted set per user and
// channel so counters are shared between replicas and survive restarts.
type RedisRateLimitStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimitStore creates a store. An empty prefix selects the default.
func NewRedisRateLimitStore(client *redis.Client, prefix string) *RedisRateLimitStore {
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisRateLimitStore{client: client, prefix: prefix}
}

func (s *RedisRateLimitStore) key(userID string, ch Channel) string {
	return fmt.Sprintf("%s%s:%s", s.prefix, userID, ch)
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Usage implements RateLimitStore.
func (s *RedisRateLimitStore) Usage(ctx context.Context, userID string, ch Channel, now time.Time) (Usage, error) {
	key := s.key(userID, ch)
	var hour, day *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", score(now.Add(-dayWindow)))
		hour = pipe.ZCount(ctx, key, "("+score(now.Add(-hourWindow)), "+inf")
		day = pipe.ZCount(ctx, key, "-inf", "+inf")
		return nil
	})
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read rate limit usage: %w", err)
	}
	return Usage{LastHour: int(hour.Val()), LastDay: int(day.Val())}, nil
}

// Record implements RateLimitStore.
func (s *RedisRateLimitStore) Record(ctx context.Context, userID string, ch Channel, now time.Time) error {
	key := s.key(userID, ch)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.Expire(ctx, key, dayWindow+time.Hour)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record rate limit usage: %w", err)
	}
	return nil
}

// Reset implements RateLimitStore.
func (s *RedisRateLimitStore) Reset(ctx context.Context, userID string) error {
	keys := make([]string, 0, len(AllChannels))
	for _, ch := range AllChannels {
		keys = append(keys, s.key(userID, ch))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limits for %s: %w", userID, err)
	}
	return nil
}
