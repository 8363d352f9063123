package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowCheckScript prunes, counts, and conditionally inserts in one atomic
// step. ARGV: cutoff ms, limit, now ms, ttl ms, member. Returns
// {allowed, count, oldest score as string}.
var windowCheckScript = redis.NewScript(`
local cutoff = ARGV[1]
local limit = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. cutoff)
local count = redis.call("ZCARD", KEYS[1])
if limit <= 0 or count >= limit then
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  local score = "0"
  if oldest[2] then
    score = oldest[2]
  end
  return {0, count, score}
end
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {1, count + 1, ARGV[3]}
`)

// counterIncrScript increments a counter and sets its TTL on first use.
var counterIncrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisStore implements Store on a Redis client.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore with the given key prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// EvalWindowCheck runs the atomic sliding-window script.
func (s *RedisStore) EvalWindowCheck(ctx context.Context, key string, limit int64, window time.Duration, member string, now time.Time) (WindowResult, error) {
	if s == nil || s.client == nil {
		return WindowResult{}, errors.New("redis store: not initialized")
	}
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()
	ttl := window.Milliseconds() * 2
	if ttl <= 0 {
		ttl = 1
	}
	res, errEval := windowCheckScript.Run(ctx, s.client, []string{s.buildKey(key)},
		strconv.FormatInt(cutoff, 10),
		limit,
		strconv.FormatInt(nowMs, 10),
		ttl,
		member,
	).Result()
	if errEval != nil {
		return WindowResult{}, errEval
	}
	values, ok := res.([]interface{})
	if !ok || len(values) < 3 {
		return WindowResult{}, errors.New("redis store: unexpected window check response")
	}
	allowed, errAllowed := toInt64(values[0])
	if errAllowed != nil {
		return WindowResult{}, errAllowed
	}
	count, errCount := toInt64(values[1])
	if errCount != nil {
		return WindowResult{}, errCount
	}
	oldest, errOldest := toFloat64(values[2])
	if errOldest != nil {
		return WindowResult{}, errOldest
	}
	return WindowResult{Allowed: allowed == 1, Count: count, OldestScore: oldest}, nil
}

// AtomicIncrement increments a counter, setting the TTL on first use.
func (s *RedisStore) AtomicIncrement(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("redis store: not initialized")
	}
	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = 1
	}
	res, errEval := counterIncrScript.Run(ctx, s.client, []string{s.buildKey(key)}, ttlMs).Result()
	if errEval != nil {
		return 0, errEval
	}
	return toInt64(res)
}

// SortedSetAdd adds a member and refreshes the key TTL.
func (s *RedisStore) SortedSetAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error {
	redisKey := s.buildKey(key)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: score, Member: member})
	if ttl > 0 {
		pipe.PExpire(ctx, redisKey, ttl)
	}
	_, errExec := pipe.Exec(ctx)
	return errExec
}

// SortedSetRemoveBelow removes members with score strictly below cutoff.
func (s *RedisStore) SortedSetRemoveBelow(ctx context.Context, key string, cutoff float64) error {
	max := "(" + strconv.FormatFloat(cutoff, 'f', -1, 64)
	return s.client.ZRemRangeByScore(ctx, s.buildKey(key), "-inf", max).Err()
}

// SortedSetTail returns up to limit newest entries in ascending score order.
func (s *RedisStore) SortedSetTail(ctx context.Context, key string, limit int64) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	values, errRange := s.client.ZRangeWithScores(ctx, s.buildKey(key), -limit, -1).Result()
	if errRange != nil {
		return nil, errRange
	}
	entries := make([]Entry, 0, len(values))
	for _, z := range values {
		member, _ := z.Member.(string)
		entries = append(entries, Entry{Member: member, Score: z.Score})
	}
	return entries, nil
}

// SortedSetCardinality returns the member count of a sorted set.
func (s *RedisStore) SortedSetCardinality(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, s.buildKey(key)).Result()
}

// SortedSetCountFrom counts members with score >= min.
func (s *RedisStore) SortedSetCountFrom(ctx context.Context, key string, min float64) (int64, error) {
	return s.client.ZCount(ctx, s.buildKey(key), strconv.FormatFloat(min, 'f', -1, 64), "+inf").Result()
}

// Get reads a string value; the bool reports presence.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, errGet := s.client.Get(ctx, s.buildKey(key)).Result()
	if errors.Is(errGet, redis.Nil) {
		return "", false, nil
	}
	if errGet != nil {
		return "", false, errGet
	}
	return value, true, nil
}

// Set writes a string value with a TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.buildKey(key), value, ttl).Err()
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.buildKey(key)).Err()
}

// Exists reports whether a key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, errExists := s.client.Exists(ctx, s.buildKey(key)).Result()
	if errExists != nil {
		return false, errExists
	}
	return n > 0, nil
}

// SetAdd adds a member to a plain set.
func (s *RedisStore) SetAdd(ctx context.Context, key, member string) error {
	return s.client.SAdd(ctx, s.buildKey(key), member).Err()
}

// SetRemove removes a member from a plain set.
func (s *RedisStore) SetRemove(ctx context.Context, key, member string) error {
	return s.client.SRem(ctx, s.buildKey(key), member).Err()
}

// SetContains reports set membership.
func (s *RedisStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	return s.client.SIsMember(ctx, s.buildKey(key), member).Result()
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redis store: not initialized")
	}
	return s.client.Ping(ctx).Err()
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, errors.New("redis store: unexpected integer type")
	}
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, errors.New("redis store: unexpected score type")
	}
}
