/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Two-mode rate limiting: per-feature token buckets
             for LLM call classes (embedding, analysis, chat) and
             a Redis sliding window per (client, route) for the
             HTTP surface, with retry-after derivation.
Root Cause:  Sprint task N015 — rate limiting.
Context:     Token buckets guard upstream spend before business
             logic runs; the sliding window guards the API.
Suitability: L3 model for distributed rate limiting logic.
──────────────────────────────────────────────────────────────
*/

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrLimited is returned when a token bucket is empty.
var ErrLimited = errors.New("rate limit exceeded")

// ─── Per-feature token buckets ──────────────────────────────

// Feature identifies a global call class with its own bucket.
type Feature string

const (
	FeatureEmbedding Feature = "embedding"
	FeatureAnalysis  Feature = "analysis"
	FeatureChat      Feature = "chat"
)

// BucketConfig defines a bucket's refill rate and burst capacity.
type BucketConfig struct {
	PerSecond float64
	Burst     int
}

// FeatureLimiter holds one token bucket per feature. Acquire is
// non-blocking: callers that are denied back off and retry on their
// own schedule.
type FeatureLimiter struct {
	mu      sync.Mutex
	buckets map[Feature]*rate.Limiter
}

// NewFeatureLimiter creates buckets from the given configs.
func NewFeatureLimiter(configs map[Feature]BucketConfig) *FeatureLimiter {
	fl := &FeatureLimiter{buckets: make(map[Feature]*rate.Limiter, len(configs))}
	for f, c := range configs {
		fl.buckets[f] = rate.NewLimiter(rate.Limit(c.PerSecond), c.Burst)
	}
	return fl
}

// DefaultFeatureLimiter returns the production bucket set.
func DefaultFeatureLimiter() *FeatureLimiter {
	return NewFeatureLimiter(map[Feature]BucketConfig{
		FeatureEmbedding: {PerSecond: 10, Burst: 20},
		FeatureAnalysis:  {PerSecond: 2, Burst: 5},
		FeatureChat:      {PerSecond: 5, Burst: 10},
	})
}

// Acquire takes one token from the feature's bucket. Returns false
// when the bucket is empty or the feature is unknown.
func (fl *FeatureLimiter) Acquire(f Feature) bool {
	fl.mu.Lock()
	b, ok := fl.buckets[f]
	fl.mu.Unlock()
	if !ok {
		return false
	}
	return b.Allow()
}

// ─── Per-client sliding window ──────────────────────────────

// SlidingWindow limits requests per identifier over a rolling window
// using a Redis sorted set per key.
type SlidingWindow struct {
	rdb         *redis.Client
	log         zerolog.Logger
	maxRequests int
	window      time.Duration
	keyPrefix   string
}

// NewSlidingWindow creates a limiter allowing maxRequests per window.
func NewSlidingWindow(rdb *redis.Client, log zerolog.Logger, maxRequests int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		rdb:         rdb,
		log:         log.With().Str("component", "ratelimit").Logger(),
		maxRequests: maxRequests,
		window:      window,
		keyPrefix:   "rate_limit",
	}
}

// Allow checks and records one request for the identifier. Returns
// whether it is allowed, how many requests remain in the window, and a
// retry-after hint derived from the oldest surviving entry when denied.
func (w *SlidingWindow) Allow(ctx context.Context, identifier string) (bool, int, time.Duration, error) {
	key := fmt.Sprintf("%s:%s", w.keyPrefix, identifier)
	now := time.Now()
	windowStart := now.Add(-w.window)

	pipe := w.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMicro(), 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, err
	}

	count := int(countCmd.Val())
	if count >= w.maxRequests {
		// Oldest surviving entry decides when a slot frees up
		retryAfter := w.window
		oldest, err := w.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestAt := time.UnixMicro(int64(oldest[0].Score))
			retryAfter = oldestAt.Add(w.window).Sub(now) + time.Second
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
		}
		return false, 0, retryAfter, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe = w.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	pipe.Expire(ctx, key, w.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, err
	}

	return true, w.maxRequests - count - 1, 0, nil
}

// Limit returns the configured request ceiling.
func (w *SlidingWindow) Limit() int {
	return w.maxRequests
}
