// Package cache 提供了缓存抽象和多种缓存实现，包括 Redis 分布式缓存、BigCache 本地缓存与二者组合的多级缓存.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/filebroker/breaker"
	"github.com/wyfcoding/filebroker/metrics"
)

// ErrCacheMiss 键不存在或已过期。
var ErrCacheMiss = errors.New("cache: miss")

// Cache 定义缓存接口，值以 JSON 编码存储。
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

type collectors struct {
	hits     *prometheus.CounterVec
	misses   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newCollectors(m *metrics.Metrics) *collectors {
	if m == nil {
		return nil
	}
	return &collectors{
		hits: m.SharedCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "The total number of cache hits",
		}, []string{"prefix"}),
		misses: m.SharedCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "The total number of cache misses",
		}, []string{"prefix"}),
		duration: m.SharedHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "The duration of cache operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"prefix", "operation"}),
	}
}

// RedisCache 基于 Redis 的 Cache 实现，所有命令经熔断器保护。
// 客户端由调用方持有并负责关闭。
type RedisCache struct {
	client  redis.UniversalClient
	prefix  string
	cb      *breaker.Breaker
	metrics *collectors
}

// NewRedisCache 创建 RedisCache，cb 与 m 均可为 nil。
func NewRedisCache(client redis.UniversalClient, prefix string, cb *breaker.Breaker, m *metrics.Metrics) *RedisCache {
	return &RedisCache{
		client:  client,
		prefix:  prefix,
		cb:      cb,
		metrics: newCollectors(m),
	}
}

// IsMiss 供熔断器判定：未命中不算失败。
func IsMiss(err error) bool {
	return err == nil || errors.Is(err, ErrCacheMiss)
}

func (c *RedisCache) buildKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

func (c *RedisCache) observe(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.duration.WithLabelValues(c.prefix, op).Observe(time.Since(start).Seconds())
	}
}

func (c *RedisCache) hit(ok bool) {
	if c.metrics == nil {
		return
	}
	if ok {
		c.metrics.hits.WithLabelValues(c.prefix).Inc()
	} else {
		c.metrics.misses.WithLabelValues(c.prefix).Inc()
	}
}

// Get 读取并反序列化到 value（必须为指针），不存在时返回 ErrCacheMiss。
func (c *RedisCache) Get(ctx context.Context, key string, value any) error {
	defer c.observe("get", time.Now())

	data, err := breaker.ExecuteTyped(c.cb, func() ([]byte, error) {
		b, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return b, err
	})
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			c.hit(false)
		}
		return err
	}
	c.hit(true)
	return json.Unmarshal(data, value)
}

// Set 序列化并写入，expiration 为 0 表示不过期。
func (c *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	defer c.observe("set", time.Now())

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return breaker.Do(c.cb, func() error {
		return c.client.Set(ctx, c.buildKey(key), data, expiration).Err()
	})
}

// Delete 删除一个或多个键，键不存在不视为错误。
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	defer c.observe("delete", time.Now())

	if len(keys) == 0 {
		return nil
	}
	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = c.buildKey(key)
	}
	return breaker.Do(c.cb, func() error {
		return c.client.Del(ctx, fullKeys...).Err()
	})
}

// Close 客户端由外部持有，此处不做任何事。
func (c *RedisCache) Close() error {
	return nil
}
