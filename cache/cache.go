/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Redis cache service with TTL randomization, stale
             fallback copies, and distributed locking. Implements
             cache-aside with stampede protection (get-with-lock).
Root Cause:  Sprint task N014 — shared cache service.
Context:     Market data reads and pipeline lookups share this
             layer. Lock release uses an atomic compare-and-delete
             script keyed on a per-acquisition fencing token.
Suitability: L3 — distributed locking and cache coherency logic.
──────────────────────────────────────────────────────────────
*/

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ─── Key prefixes ───────────────────────────────────────────

// Prefix namespaces cache keys by data type.
type Prefix string

const (
	PrefixQuote     Prefix = "stock:quote:"
	PrefixHistory   Prefix = "stock:history:"
	PrefixInfo      Prefix = "stock:info:"
	PrefixFinancial Prefix = "stock:financial:"
	PrefixSearch    Prefix = "stock:search:"
	PrefixNews      Prefix = "news:feed:"

	lockPrefix  = "lock:"
	stalePrefix = "stale:"
)

// ─── TTL classes ────────────────────────────────────────────

// TTL is a cache lifetime with a randomization range. The effective
// TTL is Base + uniform(0, Jitter) so that entries written together
// do not expire together.
type TTL struct {
	Base   time.Duration
	Jitter time.Duration
}

var (
	TTLRealtimeQuote = TTL{Base: 30 * time.Second, Jitter: 30 * time.Second}
	TTLCompanyInfo   = TTL{Base: time.Hour, Jitter: 10 * time.Minute}
	TTLFinancialData = TTL{Base: 24 * time.Hour, Jitter: time.Hour}
	TTLStockSearch   = TTL{Base: 10 * time.Minute, Jitter: time.Minute}
	TTLNewsFeed      = TTL{Base: 5 * time.Minute, Jitter: time.Minute}
)

// Duration returns the jittered TTL for one write.
func (t TTL) Duration() time.Duration {
	if t.Jitter <= 0 {
		return t.Base
	}
	return t.Base + time.Duration(rand.Int63n(int64(t.Jitter)+1))
}

// ErrFetchFailed wraps a fetch function error when no stale copy exists.
var ErrFetchFailed = errors.New("cache: fetch failed and no stale copy available")

// Atomic compare-and-delete: release the lock only if the stored token
// still matches the one handed out at acquisition.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// ─── Service ────────────────────────────────────────────────

// Service is the Redis-backed cache with stale fallback and
// distributed locks.
type Service struct {
	rdb           *redis.Client
	log           zerolog.Logger
	lockTimeout   time.Duration
	lockRetryBase time.Duration
}

// New creates a cache service on the given Redis client.
func New(rdb *redis.Client, log zerolog.Logger) *Service {
	return &Service{
		rdb:           rdb,
		log:           log.With().Str("component", "cache").Logger(),
		lockTimeout:   10 * time.Second,
		lockRetryBase: 100 * time.Millisecond,
	}
}

func buildKey(p Prefix, key string) string {
	return string(p) + key
}

// Get returns the cached value for (prefix, key). When allowStale is set
// and the main entry is gone, the stale copy is consulted before giving up.
func (s *Service) Get(ctx context.Context, p Prefix, key string, allowStale bool) ([]byte, bool) {
	cacheKey := buildKey(p, key)

	data, err := s.rdb.Get(ctx, cacheKey).Bytes()
	if err == nil {
		return data, true
	}
	if err != redis.Nil {
		s.log.Error().Err(err).Str("key", cacheKey).Msg("cache get error")
		return nil, false
	}

	if allowStale {
		stale, err := s.rdb.Get(ctx, stalePrefix+cacheKey).Bytes()
		if err == nil {
			s.log.Info().Str("key", cacheKey).Msg("returning stale data")
			return stale, true
		}
	}
	return nil, false
}

// Set stores a value with a jittered TTL. A stale copy with 5x the TTL
// is written alongside for degraded-mode reads.
func (s *Service) Set(ctx context.Context, p Prefix, key string, value any, ttl TTL, storeStale bool) error {
	cacheKey := buildKey(p, key)

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	actual := ttl.Duration()

	if err := s.rdb.Set(ctx, cacheKey, data, actual).Err(); err != nil {
		s.log.Error().Err(err).Str("key", cacheKey).Msg("cache set error")
		return err
	}
	if storeStale {
		if err := s.rdb.Set(ctx, stalePrefix+cacheKey, data, actual*5).Err(); err != nil {
			s.log.Warn().Err(err).Str("key", cacheKey).Msg("stale copy write failed")
		}
	}
	s.log.Debug().Str("key", cacheKey).Dur("ttl", actual).Msg("cache set")
	return nil
}

// Delete removes a value and its stale copy.
func (s *Service) Delete(ctx context.Context, p Prefix, key string) error {
	cacheKey := buildKey(p, key)
	if err := s.rdb.Del(ctx, cacheKey, stalePrefix+cacheKey).Err(); err != nil {
		return err
	}
	return nil
}

// GetMany returns the subset of keys that are cached.
func (s *Service) GetMany(ctx context.Context, p Prefix, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	cacheKeys := make([]string, len(keys))
	for i, k := range keys {
		cacheKeys[i] = buildKey(p, k)
	}
	values, err := s.rdb.MGet(ctx, cacheKeys...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			out[keys[i]] = []byte(str)
		}
	}
	return out, nil
}

// InvalidatePattern deletes all keys matching a Redis glob pattern.
// Returns the number of keys removed.
func (s *Service) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return count, err
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return count, err
			}
			count += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	s.log.Info().Int("count", count).Str("pattern", pattern).Msg("invalidated keys")
	return count, nil
}

// ─── Distributed locks ──────────────────────────────────────

// AcquireLock takes a key-scoped lock via SET NX with a fencing token.
// Returns the token and true when acquired. The token must be presented
// to ReleaseLock for the release to take effect.
func (s *Service) AcquireLock(ctx context.Context, key string, timeout time.Duration) (string, bool) {
	if timeout <= 0 {
		timeout = s.lockTimeout
	}
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, lockPrefix+key, token, timeout).Result()
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("lock acquire error")
		return "", false
	}
	if !ok {
		return "", false
	}
	return token, true
}

// ReleaseLock releases a lock if the stored token still matches.
// Returns false when the lock expired or was taken over by another holder.
func (s *Service) ReleaseLock(ctx context.Context, key, token string) bool {
	res, err := releaseScript.Run(ctx, s.rdb, []string{lockPrefix + key}, token).Int()
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("lock release error")
		return false
	}
	if res == 0 {
		s.log.Warn().Str("key", key).Msg("lock already expired or stolen")
		return false
	}
	return true
}

// ─── Cache-aside with stampede protection ───────────────────

// GetWithLock implements the cache-aside pattern guarded by a
// distributed lock:
//
//  1. Return on cache hit.
//  2. Try the lock; the winner double-checks the cache, runs fetch,
//     and stores the result.
//  3. Losers back off linearly and re-check the cache for up to
//     maxRetries rounds.
//  4. On fetch error or contention timeout, fall back to the stale copy.
func (s *Service) GetWithLock(
	ctx context.Context,
	p Prefix,
	key string,
	ttl TTL,
	fetch func(ctx context.Context) (any, error),
) ([]byte, error) {
	if data, ok := s.Get(ctx, p, key, false); ok {
		return data, nil
	}

	lockKey := buildKey(p, key)
	const maxRetries = 5

	for attempt := 0; attempt < maxRetries; attempt++ {
		token, acquired := s.AcquireLock(ctx, lockKey, 0)
		if acquired {
			result, err := func() ([]byte, error) {
				defer s.ReleaseLock(ctx, lockKey, token)

				// Double-check after winning the lock
				if data, ok := s.Get(ctx, p, key, false); ok {
					return data, nil
				}

				value, err := fetch(ctx)
				if err != nil {
					s.log.Error().Err(err).Str("key", key).Msg("fetch error")
					if stale, ok := s.Get(ctx, p, key, true); ok {
						return stale, nil
					}
					return nil, errors.Join(ErrFetchFailed, err)
				}
				if value != nil {
					if err := s.Set(ctx, p, key, value, ttl, true); err != nil {
						s.log.Warn().Err(err).Str("key", key).Msg("store after fetch failed")
					}
				}
				return json.Marshal(value)
			}()
			return result, err
		}

		// Wait for the lock holder to populate the cache
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.lockRetryBase * time.Duration(attempt+1)):
		}

		if data, ok := s.Get(ctx, p, key, false); ok {
			return data, nil
		}
	}

	s.log.Warn().Str("key", key).Msg("lock contention timeout, returning stale data")
	if stale, ok := s.Get(ctx, p, key, true); ok {
		return stale, nil
	}
	return nil, ErrFetchFailed
}
