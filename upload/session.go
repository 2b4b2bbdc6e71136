// Package upload 实现秒传检查、分片上传会话的创建与续传以及合并收尾.
package upload

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/filebroker/cache"
	"github.com/wyfcoding/filebroker/model"
)

// ErrSessionNotFound 会话不存在或已过期。
var ErrSessionNotFound = errors.New("upload: session not found")

// SessionStore 上传会话存储，键为文件指纹。
type SessionStore interface {
	Get(ctx context.Context, fingerprint string) (*model.UploadSession, error)
	// Save 写入会话并重置过期时间。
	Save(ctx context.Context, s *model.UploadSession, ttl time.Duration) error
	Delete(ctx context.Context, fingerprint string) error
}

// SessionKeyPrefix 会话键前缀，完整键为 upload:session:<指纹>。
const SessionKeyPrefix = "upload:session"

// RedisSessionStore 基于 Redis 的 SessionStore。
type RedisSessionStore struct {
	cache *cache.RedisCache
}

// NewRedisSessionStore c 的前缀应为 SessionKeyPrefix。
func NewRedisSessionStore(c *cache.RedisCache) *RedisSessionStore {
	return &RedisSessionStore{cache: c}
}

func (s *RedisSessionStore) Get(ctx context.Context, fingerprint string) (*model.UploadSession, error) {
	var sess model.UploadSession
	if err := s.cache.Get(ctx, fingerprint, &sess); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, sess *model.UploadSession, ttl time.Duration) error {
	return s.cache.Set(ctx, sess.Fingerprint, sess, ttl)
}

func (s *RedisSessionStore) Delete(ctx context.Context, fingerprint string) error {
	return s.cache.Delete(ctx, fingerprint)
}
