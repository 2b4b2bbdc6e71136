package filestore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/model"
)

// RecordCache 下载侧记录缓存，MultiLevelCache 满足该接口。
type RecordCache interface {
	GetOrLoad(ctx context.Context, key string, value any, expiration time.Duration, load func(ctx context.Context) (any, error)) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedResolver 按 id 解析文件记录，短 TTL 缓存避免同一文件的多次区间请求反复查库。
// 不存在的记录不缓存。
type CachedResolver struct {
	repo   Repository
	cache  RecordCache
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedResolver(repo Repository, cache RecordCache, ttl time.Duration, logger *logging.Logger) *CachedResolver {
	return &CachedResolver{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

func recordKey(id int64) string {
	return "file:" + strconv.FormatInt(id, 10)
}

// Resolve 返回未删除的记录，不存在时返回 ErrNotFound。
func (r *CachedResolver) Resolve(ctx context.Context, id int64) (*model.FileRecord, error) {
	if r.cache == nil {
		return r.repo.FindByID(ctx, id)
	}

	var rec model.FileRecord
	err := r.cache.GetOrLoad(ctx, recordKey(id), &rec, r.ttl, func(ctx context.Context) (any, error) {
		return r.repo.FindByID(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Invalidate 删除缓存条目，失败只记录日志，条目最终随 TTL 过期。
func (r *CachedResolver) Invalidate(ctx context.Context, id int64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, recordKey(id)); err != nil {
		r.logger.WarnContext(ctx, "failed to invalidate file record cache", "id", id, "error", err)
	}
}
