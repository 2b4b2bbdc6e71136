package filestore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/wyfcoding/filebroker/database"
	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/pagination"
)

// GormRepository 基于关系型数据库的 Repository 实现，fingerprint 唯一索引兜底并发写入。
type GormRepository struct {
	db   *database.DB
	repo *database.GormRepository[model.FileRecord]
}

func NewGormRepository(db *database.DB) *GormRepository {
	return &GormRepository{db: db, repo: database.NewGormRepository[model.FileRecord](db)}
}

// AutoMigrate 建表与索引。
func (r *GormRepository) AutoMigrate(ctx context.Context) error {
	return r.db.Execute(ctx, func(tx *gorm.DB) error {
		return tx.AutoMigrate(&model.FileRecord{})
	})
}

// Create 写入记录。若同指纹记录曾被软删除，则以新内容恢复该行。
func (r *GormRepository) Create(ctx context.Context, rec *model.FileRecord) error {
	err := r.repo.Create(ctx, rec)
	if err == nil {
		return nil
	}
	if !database.IsDuplicate(err) {
		return fmt.Errorf("insert file record: %w", err)
	}

	var restored bool
	err = r.db.Transaction(ctx, func(tx *gorm.DB) error {
		var existing model.FileRecord
		if err := tx.Unscoped().Where("fingerprint = ?", rec.Fingerprint).First(&existing).Error; err != nil {
			return err
		}
		if !existing.DeletedAt.Valid {
			return nil
		}
		rec.ID = existing.ID
		restored = true
		return tx.Unscoped().Model(&existing).Select("*").Updates(rec).Error
	})
	if err != nil {
		return fmt.Errorf("restore file record: %w", err)
	}
	if !restored {
		return ErrDuplicate
	}
	return nil
}

func (r *GormRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*model.FileRecord, error) {
	rec, err := r.repo.First(ctx, "fingerprint = ?", fingerprint)
	return rec, translate(err)
}

func (r *GormRepository) FindByID(ctx context.Context, id int64) (*model.FileRecord, error) {
	rec, err := r.repo.FindByID(ctx, id)
	return rec, translate(err)
}

func (r *GormRepository) List(ctx context.Context, page *pagination.Page) ([]model.FileRecord, int64, error) {
	offset, limit := 0, 0
	if page != nil {
		offset, limit = page.Offset(), page.Limit()
	}
	return r.repo.List(ctx, "created_at DESC, id DESC", offset, limit)
}

func (r *GormRepository) SoftDelete(ctx context.Context, id int64) (*model.FileRecord, error) {
	rec, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	deleted, err := r.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrNotFound
	}
	return rec, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if database.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}
