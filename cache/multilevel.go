package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/wyfcoding/filebroker/logging"
)

// MultiLevelCache 实现多级缓存 (L1: 本地, L2: 分布式)，回源时以 singleflight 合并并发请求。
type MultiLevelCache struct {
	l1     Cache
	l2     Cache
	tracer trace.Tracer
	logger *logging.Logger
	group  singleflight.Group
}

func NewMultiLevelCache(l1, l2 Cache, logger *logging.Logger) *MultiLevelCache {
	return &MultiLevelCache{
		l1:     l1,
		l2:     l2,
		tracer: otel.Tracer("github.com/wyfcoding/filebroker/cache"),
		logger: logger,
	}
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, value any) error {
	ctx, span := c.tracer.Start(ctx, "MultiLevelCache.Get", trace.WithAttributes(
		attribute.String("cache.key", key),
	))
	defer span.End()

	if err := c.l1.Get(ctx, key, value); err == nil {
		span.SetAttributes(attribute.String("cache.hit", "L1"))
		return nil
	}

	err := c.l2.Get(ctx, key, value)
	if err == nil {
		span.SetAttributes(attribute.String("cache.hit", "L2"))
		if err := c.l1.Set(ctx, key, value, 0); err != nil {
			c.logger.ErrorContext(ctx, "failed to backfill L1 cache", "key", key, "error", err)
		}
		return nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.WarnContext(ctx, "L2 cache read failed", "key", key, "error", err)
	}

	span.SetAttributes(attribute.String("cache.hit", "miss"))
	return ErrCacheMiss
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "MultiLevelCache.Set", trace.WithAttributes(
		attribute.String("cache.key", key),
	))
	defer span.End()

	if err := c.l2.Set(ctx, key, value, expiration); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set L2")
		return fmt.Errorf("failed to set L2: %w", err)
	}

	if err := c.l1.Set(ctx, key, value, expiration); err != nil {
		c.logger.ErrorContext(ctx, "failed to set L1 cache", "key", key, "error", err)
	}
	return nil
}

// GetOrLoad 未命中时调用 load 回源并写回两级缓存。
// 同一进程内相同 key 的并发回源只执行一次；缓存写回失败只记录日志。
// value 必须为指针，load 返回的结果以 JSON 往返后写入 value。
func (c *MultiLevelCache) GetOrLoad(ctx context.Context, key string, value any, expiration time.Duration, load func(ctx context.Context) (any, error)) error {
	if err := c.Get(ctx, key, value); err == nil {
		return nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, v, expiration); err != nil {
			c.logger.WarnContext(ctx, "failed to populate cache", "key", key, "error", err)
		}
		return v, nil
	})
	if err != nil {
		return err
	}
	return assign(value, res)
}

func (c *MultiLevelCache) Delete(ctx context.Context, keys ...string) error {
	if err := c.l1.Delete(ctx, keys...); err != nil {
		c.logger.ErrorContext(ctx, "failed to delete from L1 cache", "keys", keys, "error", err)
	}
	return c.l2.Delete(ctx, keys...)
}

func (c *MultiLevelCache) Close() error {
	return errors.Join(c.l1.Close(), c.l2.Close())
}
