package notification

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisRateLimitStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRateLimitStore(client, "test:rl:"), mr
}

func TestRateLimitStores(t *testing.T) {
	t.Parallel()

	stores := map[string]func(t *testing.T) RateLimitStore{
		"memory": func(*testing.T) RateLimitStore { return NewMemoryRateLimitStore() },
		"redis": func(t *testing.T) RateLimitStore {
			s, _ := newRedisStore(t)
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := newStore(t)
			base := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

			require.NoError(t, s.Record(ctx, "u1", ChannelSMS, base))
			require.NoError(t, s.Record(ctx, "u1", ChannelSMS, base.Add(30*time.Minute)))
			require.NoError(t, s.Record(ctx, "u1", ChannelEmail, base))
			require.NoError(t, s.Record(ctx, "u2", ChannelSMS, base))

			u, err := s.Usage(ctx, "u1", ChannelSMS, base.Add(45*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, Usage{LastHour: 2, LastDay: 2}, u)

			u, err = s.Usage(ctx, "u1", ChannelSMS, base.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, Usage{LastHour: 1, LastDay: 2}, u, "send exactly one hour old leaves the hourly window")

			u, err = s.Usage(ctx, "u1", ChannelSMS, base.Add(24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, Usage{LastHour: 0, LastDay: 1}, u, "send exactly one day old is pruned")

			require.NoError(t, s.Reset(ctx, "u1"))
			u, err = s.Usage(ctx, "u1", ChannelEmail, base)
			require.NoError(t, err)
			assert.Zero(t, u)

			u, err = s.Usage(ctx, "u2", ChannelSMS, base)
			require.NoError(t, err)
			assert.Equal(t, 1, u.LastDay, "reset is per user")
		})
	}
}

func TestRedisRateLimitStore_KeysExpire(t *testing.T) {
	t.Parallel()
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "u1", ChannelPush, time.Now()))
	key := "test:rl:u1:PUSH"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 25*time.Hour, mr.TTL(key))

	mr.FastForward(26 * time.Hour)
	assert.False(t, mr.Exists(key))
}

func TestRedisRateLimitStore_Unavailable(t *testing.T) {
	t.Parallel()
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.Usage(context.Background(), "u1", ChannelSMS, time.Now())
	assert.Error(t, err)
	assert.Error(t, s.Record(context.Background(), "u1", ChannelSMS, time.Now()))
}
