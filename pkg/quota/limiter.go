package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces the per-minute RPM ceiling (spec.md §4.5).
type RateLimiter interface {
	// Allow records one request for userID and reports whether it falls
	// within limit requests per 60s.
	Allow(ctx context.Context, userID kernel.UserID, limit int) (bool, error)
}

func rpmKey(userID kernel.UserID) string {
	return fmt.Sprintf("quota:rpm:%s", userID.String())
}

// slidingWindowScript adds the current timestamp to a per-user sorted set,
// trims entries older than the 60s window, and returns the resulting
// cardinality, all atomically so concurrent requests can't race past the
// limit between the trim and the count.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, window)
return redis.call('ZCARD', key)
`)

// RedisLimiter implements RateLimiter with a Redis sorted-set sliding
// window, the same primitive the reference job queue uses for its
// scheduled-set promotion.
type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func (l *RedisLimiter) Allow(ctx context.Context, userID kernel.UserID, limit int) (bool, error) {
	now := time.Now().UTC()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), userID.String())

	count, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{rpmKey(userID)},
		now.Unix(), 60, member,
	).Int64()
	if err != nil {
		return false, err
	}

	return count <= int64(limit), nil
}
