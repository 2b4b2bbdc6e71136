package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/wyfcoding/filebroker/config"
)

// BigCache 使用 `allegro/bigcache` 的进程内缓存。
// BigCache 只支持全局 TTL，Set 的 expiration 参数被忽略。
type BigCache struct {
	cache *bigcache.BigCache
}

// NewBigCache 按配置创建本地缓存，ttl 为全局过期时间。
func NewBigCache(ttl time.Duration, cfg config.BigCacheConfig) (*BigCache, error) {
	bc := bigcache.DefaultConfig(ttl)
	bc.HardMaxCacheSize = cfg.HardMaxCacheSize
	bc.Verbose = false
	if cfg.CleanWindow > 0 {
		bc.CleanWindow = cfg.CleanWindow
	} else {
		bc.CleanWindow = max(ttl/2, time.Second)
	}

	c, err := bigcache.New(context.Background(), bc)
	if err != nil {
		return nil, fmt.Errorf("初始化 bigcache 失败: %w", err)
	}
	return &BigCache{cache: c}, nil
}

func (c *BigCache) Get(_ context.Context, key string, value any) error {
	data, err := c.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, value)
}

func (c *BigCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.cache.Set(key, data)
}

func (c *BigCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
			return err
		}
	}
	return nil
}

func (c *BigCache) Close() error {
	return c.cache.Close()
}
