package ratelimit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketNonBlocking(t *testing.T) {
	fl := NewFeatureLimiter(map[Feature]BucketConfig{
		FeatureEmbedding: {PerSecond: 1, Burst: 2},
	})

	assert.True(t, fl.Acquire(FeatureEmbedding))
	assert.True(t, fl.Acquire(FeatureEmbedding))
	assert.False(t, fl.Acquire(FeatureEmbedding), "bucket must be empty after burst")
}

func TestTokenBucketRefills(t *testing.T) {
	fl := NewFeatureLimiter(map[Feature]BucketConfig{
		FeatureChat: {PerSecond: 100, Burst: 1},
	})

	require.True(t, fl.Acquire(FeatureChat))
	require.False(t, fl.Acquire(FeatureChat))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, fl.Acquire(FeatureChat), "bucket should refill at rate/second")
}

func TestUnknownFeatureDenied(t *testing.T) {
	fl := DefaultFeatureLimiter()
	assert.False(t, fl.Acquire(Feature("backtest")))
}

func slidingWindow(t *testing.T, max int, window time.Duration) *SlidingWindow {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSlidingWindow(rdb, zerolog.New(io.Discard), max, window)
}

func TestSlidingWindowAllowsUpToLimit(t *testing.T) {
	w := slidingWindow(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, remaining, _, err := w.Allow(ctx, "1.2.3.4:/v1/news")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3-i-1, remaining)
	}

	ok, remaining, retryAfter, err := w.Allow(ctx, "1.2.3.4:/v1/news")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute+time.Second)
}

func TestSlidingWindowIsolatesIdentifiers(t *testing.T) {
	w := slidingWindow(t, 1, time.Minute)
	ctx := context.Background()

	ok, _, _, err := w.Allow(ctx, "1.2.3.4:/v1/news")
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, _, err = w.Allow(ctx, "5.6.7.8:/v1/news")
	require.NoError(t, err)
	assert.True(t, ok, "another client must have its own window")

	ok, _, _, err = w.Allow(ctx, "1.2.3.4:/v1/search")
	require.NoError(t, err)
	assert.True(t, ok, "another route must have its own window")
}
