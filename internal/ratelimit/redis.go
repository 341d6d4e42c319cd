package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Скрипт выполняет check-and-increment атомарно на стороне Redis:
// при достигнутом лимите счетчик не инкрементируется, окно задается
// PEXPIRE при первом запросе ключа.
var incrScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if current >= max then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current, redis.call('PTTL', KEYS[1])}
`)

// RedisStore — внешний бэкенд счетчиков для multi-instance деплоя.
// Все инстансы видят одно окно, атомарность обеспечивает Lua-скрипт.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "esm:ratelimit:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration, max int) (Result, error) {
	raw, err := incrScript.Run(ctx, s.rdb, []string{s.prefix + key}, max, window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit script: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return Result{}, fmt.Errorf("ratelimit script: unexpected reply %v", raw)
	}

	allowed := vals[0].(int64) == 1
	count := int(vals[1].(int64))
	ttl := time.Duration(vals[2].(int64)) * time.Millisecond
	if ttl < 0 {
		ttl = window
	}

	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}, nil
}
