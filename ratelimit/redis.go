package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// incrFixedScript bumps the window counter and arms the TTL on the
// first hit, re-arming if the key somehow lost it. Returns the count
// and the remaining window in milliseconds.
const incrFixedScript = `
local count = redis.call("INCRBY", KEYS[1], ARGV[1])
if count == tonumber(ARGV[1]) then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {count, ttl}
`

var incrFixedLua = redis.NewScript(incrFixedScript)

// incrSlidingScript is the atomic evict+insert+count unit: drop
// timestamps outside the window, add the new entries, count, refresh
// the key TTL, and report the oldest surviving timestamp so the caller
// can compute the reset time. Milliseconds throughout.
const incrSlidingScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local cost = tonumber(ARGV[4])
for i = 1, cost do
  redis.call("ZADD", KEYS[1], ARGV[2], ARGV[2] .. "-" .. ARGV[5] .. "-" .. i)
end
local count = redis.call("ZCARD", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
return {count, oldest[2] or ARGV[2]}
`

var incrSlidingLua = redis.NewScript(incrSlidingScript)

const peekSlidingScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
return {count, oldest[2] or "0"}
`

var peekSlidingLua = redis.NewScript(peekSlidingScript)

// RedisCounterStore is the shared [CounterStore] for multi-node
// deployments. Fixed windows are plain counters with a TTL; sliding
// windows are sorted sets of timestamps. Every operation is one script
// or command, so concurrent checks never observe partial state.
type RedisCounterStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounterStore creates a [RedisCounterStore]. prefix namespaces
// all keys; pass "" for the default "gw:rl".
func NewRedisCounterStore(client redis.UniversalClient, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "gw:rl"
	}
	return &RedisCounterStore{redis: client, prefix: prefix}
}

func (s *RedisCounterStore) key(key string) string {
	return s.prefix + ":" + key
}

// IncrFixed implements [CounterStore].
func (s *RedisCounterStore) IncrFixed(ctx context.Context, key string, window time.Duration, cost int64) (int64, time.Duration, error) {
	result, err := incrFixedLua.Run(ctx, s.redis, []string{s.key(key)}, cost, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	if len(result) != 2 {
		return 0, 0, fmt.Errorf("%w: invalid fixed window script response", ErrCounterUnavailable)
	}
	return result[0], time.Duration(result[1]) * time.Millisecond, nil
}

// PeekFixed implements [CounterStore].
func (s *RedisCounterStore) PeekFixed(ctx context.Context, key string) (int64, time.Duration, error) {
	storeKey := s.key(key)

	count, err := s.redis.Get(ctx, storeKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}

	ttl, err := s.redis.PTTL(ctx, storeKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return count, ttl, nil
}

// IncrSliding implements [CounterStore]. The random member suffix keeps
// same-millisecond entries from colliding in the sorted set.
func (s *RedisCounterStore) IncrSliding(ctx context.Context, key string, window time.Duration, cost int64, now time.Time) (int64, time.Time, error) {
	nowMs := now.UnixMilli()
	result, err := incrSlidingLua.Run(
		ctx,
		s.redis,
		[]string{s.key(key)},
		nowMs-window.Milliseconds(),
		nowMs,
		window.Milliseconds(),
		cost,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}

	count, oldest, err := parseSlidingReply(result)
	if err != nil {
		return 0, time.Time{}, err
	}
	return count, oldest, nil
}

// PeekSliding implements [CounterStore].
func (s *RedisCounterStore) PeekSliding(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	result, err := peekSlidingLua.Run(
		ctx,
		s.redis,
		[]string{s.key(key)},
		now.UnixMilli()-window.Milliseconds(),
	).Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return parseSlidingReplyAllowZero(result)
}

// Reset implements [CounterStore].
func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return nil
}

func parseSlidingReply(result []interface{}) (int64, time.Time, error) {
	count, oldestMs, err := slidingReplyParts(result)
	if err != nil {
		return 0, time.Time{}, err
	}
	return count, time.UnixMilli(oldestMs), nil
}

func parseSlidingReplyAllowZero(result []interface{}) (int64, time.Time, error) {
	count, oldestMs, err := slidingReplyParts(result)
	if err != nil {
		return 0, time.Time{}, err
	}
	if oldestMs == 0 {
		return count, time.Time{}, nil
	}
	return count, time.UnixMilli(oldestMs), nil
}

func slidingReplyParts(result []interface{}) (int64, int64, error) {
	if len(result) != 2 {
		return 0, 0, fmt.Errorf("%w: invalid sliding window script response", ErrCounterUnavailable)
	}

	count, ok := result[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("%w: invalid sliding window count", ErrCounterUnavailable)
	}

	var oldestMs int64
	switch v := result[1].(type) {
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: invalid sliding window timestamp", ErrCounterUnavailable)
		}
		oldestMs = parsed
	case int64:
		oldestMs = v
	default:
		return 0, 0, fmt.Errorf("%w: invalid sliding window timestamp", ErrCounterUnavailable)
	}

	return count, oldestMs, nil
}
