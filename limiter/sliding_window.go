package limiter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, start)
local count = redis.call('ZCARD', key)

if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, (now - start) * 2)
	return 1
end
return 0
`)

// SlidingWindowLimiter 基于 Redis ZSet 的分布式滑动窗口限流器，多实例共享窗口计数。
type SlidingWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
	limit  int64
	seq    atomicCounter
}

func NewSlidingWindowLimiter(client redis.UniversalClient, prefix string, window time.Duration, limit int64) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client: client,
		prefix: prefix,
		window: window,
		limit:  limit,
	}
}

func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	nowMs := now.UnixMilli()
	startMs := now.Add(-l.window).UnixMilli()
	// 同一毫秒内的多个请求需要不同成员
	member := now.UnixNano() + l.seq.next()

	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.prefix + ":" + key},
		nowMs, startMs, l.limit, member).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

type atomicCounter struct{ n atomic.Int64 }

func (c *atomicCounter) next() int64 { return c.n.Add(1) }
