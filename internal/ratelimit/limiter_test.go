package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisFixedWindow(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	limiter := NewRedis(client, Rule{Name: "auth", Limit: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.ResetAfter, time.Duration(0))

	other, err := limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	srv.FastForward(time.Minute + time.Second)
	d, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "window resets after expiry")
}

func TestRedisBackendFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	defer client.Close()
	srv.Close()

	_, err := NewRedis(client, Rule{Name: "auth", Limit: 1, Window: time.Minute}).Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestMemoryTokenBucket(t *testing.T) {
	limiter := NewMemory(Rule{Name: "strict", Limit: 2, Window: time.Hour}, time.Minute)
	defer limiter.Stop()
	ctx := context.Background()

	d, _ := limiter.Allow(ctx, "a")
	assert.True(t, d.Allowed)
	d, _ = limiter.Allow(ctx, "a")
	assert.True(t, d.Allowed)
	d, _ = limiter.Allow(ctx, "a")
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Minute, d.ResetAfter)

	d, _ = limiter.Allow(ctx, "b")
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, limiter.size())
}

func TestMemoryCleanupDropsIdleKeys(t *testing.T) {
	limiter := NewMemory(Rule{Name: "general", Limit: 10, Window: time.Minute}, time.Minute)
	defer limiter.Stop()

	_, _ = limiter.Allow(context.Background(), "idle")
	limiter.cleanup(time.Now().Add(time.Hour))
	assert.Equal(t, 0, limiter.size())
}
