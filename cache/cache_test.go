package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	log := zerolog.New(io.Discard)
	return New(rdb, log), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	err := s.Set(ctx, PrefixQuote, "AAPL", map[string]any{"price": 123.45}, TTLRealtimeQuote, true)
	require.NoError(t, err)

	data, ok := s.Get(ctx, PrefixQuote, "AAPL", false)
	require.True(t, ok)

	var out map[string]float64
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 123.45, out["price"])
}

func TestStaleFallback(t *testing.T) {
	s, mr := testService(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, PrefixInfo, "MSFT", "cached-info", TTLCompanyInfo, true))

	// Expire the main entry but keep the 5x stale copy alive
	mr.Del(string(PrefixInfo) + "MSFT")

	_, ok := s.Get(ctx, PrefixInfo, "MSFT", false)
	assert.False(t, ok, "main entry should be gone")

	data, ok := s.Get(ctx, PrefixInfo, "MSFT", true)
	require.True(t, ok, "stale copy should survive")
	assert.Equal(t, `"cached-info"`, string(data))
}

func TestTTLJitterWithinRange(t *testing.T) {
	ttl := TTL{Base: 30 * time.Second, Jitter: 30 * time.Second}
	for i := 0; i < 100; i++ {
		d := ttl.Duration()
		assert.GreaterOrEqual(t, d, 30*time.Second)
		assert.LessOrEqual(t, d, 60*time.Second)
	}
}

func TestLockRoundTrip(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	token, ok := s.AcquireLock(ctx, "stock:quote:AAPL", 0)
	require.True(t, ok)
	require.NotEmpty(t, token)

	// Second acquisition must fail while held
	_, ok = s.AcquireLock(ctx, "stock:quote:AAPL", 0)
	assert.False(t, ok)

	// Wrong token leaves the lock held
	assert.False(t, s.ReleaseLock(ctx, "stock:quote:AAPL", "not-the-token"))
	_, ok = s.AcquireLock(ctx, "stock:quote:AAPL", 0)
	assert.False(t, ok, "lock must still be held after bad release")

	// Correct token releases
	assert.True(t, s.ReleaseLock(ctx, "stock:quote:AAPL", token))
	_, ok = s.AcquireLock(ctx, "stock:quote:AAPL", 0)
	assert.True(t, ok)
}

func TestGetWithLockFetchesOnce(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return map[string]string{"v": "fresh"}, nil
	}

	data, err := s.GetWithLock(ctx, PrefixSearch, "acme", TTLStockSearch, fetch)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fresh")
	assert.Equal(t, 1, calls)

	// Second call is a cache hit
	_, err = s.GetWithLock(ctx, PrefixSearch, "acme", TTLStockSearch, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetWithLockStaleOnError(t *testing.T) {
	s, mr := testService(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, PrefixQuote, "TSLA", "old-quote", TTLRealtimeQuote, true))
	mr.Del(string(PrefixQuote) + "TSLA")

	fetch := func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream down")
	}

	data, err := s.GetWithLock(ctx, PrefixQuote, "TSLA", TTLRealtimeQuote, fetch)
	require.NoError(t, err, "stale copy should mask the fetch error")
	assert.Equal(t, `"old-quote"`, string(data))
}

func TestGetWithLockErrorWithoutStale(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	fetch := func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream down")
	}

	_, err := s.GetWithLock(ctx, PrefixQuote, "NVDA", TTLRealtimeQuote, fetch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestInvalidatePattern(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, PrefixQuote, "A", 1, TTLRealtimeQuote, false))
	require.NoError(t, s.Set(ctx, PrefixQuote, "B", 2, TTLRealtimeQuote, false))
	require.NoError(t, s.Set(ctx, PrefixInfo, "A", 3, TTLCompanyInfo, false))

	n, err := s.InvalidatePattern(ctx, "stock:quote:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := s.Get(ctx, PrefixInfo, "A", false)
	assert.True(t, ok, "other prefixes must be untouched")
}
