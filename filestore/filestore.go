// Package filestore 负责文件记录的持久化与下载侧的记录缓存.
package filestore

import (
	"context"
	"errors"

	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/pagination"
)

var (
	// ErrNotFound 记录不存在或已软删除。
	ErrNotFound = errors.New("filestore: record not found")
	// ErrDuplicate 指纹已有记录。
	ErrDuplicate = errors.New("filestore: duplicate fingerprint")
)

// Repository 文件记录仓储。
type Repository interface {
	// Create 写入新记录；同指纹已存在时返回 ErrDuplicate。
	Create(ctx context.Context, rec *model.FileRecord) error
	FindByFingerprint(ctx context.Context, fingerprint string) (*model.FileRecord, error)
	FindByID(ctx context.Context, id int64) (*model.FileRecord, error)
	// List 按创建时间倒序分页，page 为 nil 时返回全部。
	List(ctx context.Context, page *pagination.Page) ([]model.FileRecord, int64, error)
	// SoftDelete 标记删除，记录不存在时返回 ErrNotFound。
	SoftDelete(ctx context.Context, id int64) (*model.FileRecord, error)
}
