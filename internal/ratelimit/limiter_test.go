package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaflow/sensorhub/internal/ratelimit"
)

func newTestLimiter(t *testing.T) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return ratelimit.NewLimiter(client, "test-salt"), mr
}

func TestLimiter_AllowsWithinWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	cfg := ratelimit.LimitConfig{Rate: 3, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		decision, err := limiter.Check(context.Background(), "rl:test:a", cfg)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 3, decision.Limit)
		assert.Equal(t, 3-i, decision.Remaining)
	}
}

func TestLimiter_BlocksOverLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	cfg := ratelimit.LimitConfig{Rate: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		_, err := limiter.Check(context.Background(), "rl:test:b", cfg)
		require.NoError(t, err)
	}

	decision, err := limiter.Check(context.Background(), "rl:test:b", cfg)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, 60, decision.RetryAfter)
}

func TestLimiter_WindowReset(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	cfg := ratelimit.LimitConfig{Rate: 1, Window: time.Second}

	decision, err := limiter.Check(context.Background(), "rl:test:c", cfg)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = limiter.Check(context.Background(), "rl:test:c", cfg)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	mr.FastForward(time.Second + time.Millisecond)

	decision, err = limiter.Check(context.Background(), "rl:test:c", cfg)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "a fresh window starts after expiry")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	cfg := ratelimit.LimitConfig{Rate: 1, Window: time.Minute}

	_, err := limiter.Check(context.Background(), "rl:test:one", cfg)
	require.NoError(t, err)

	decision, err := limiter.Check(context.Background(), "rl:test:two", cfg)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestLimiter_RedisDown(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	mr.Close()

	_, err := limiter.Check(context.Background(), "rl:test:d", ratelimit.LimitConfig{Rate: 1, Window: time.Minute})
	assert.ErrorIs(t, err, ratelimit.ErrRedisUnavailable)
}

func TestLimiter_HashSource(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	a := limiter.HashSource("192.0.2.1")
	b := limiter.HashSource("192.0.2.1")
	c := limiter.HashSource("192.0.2.2")

	assert.Equal(t, a, b, "hashing is stable")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "192.0.2.1", "raw source never appears in keys")
}
