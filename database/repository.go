package database

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// GormRepository 是基于 GORM 的泛型仓储，所有操作经 DB 的熔断器执行.
type GormRepository[T any] struct {
	db *DB
}

// NewGormRepository 创建一个新的 GORM 泛型仓储实例.
func NewGormRepository[T any](db *DB) *GormRepository[T] {
	return &GormRepository[T]{db: db}
}

// Create 插入实体，唯一冲突返回 gorm.ErrDuplicatedKey。
func (r *GormRepository[T]) Create(ctx context.Context, entity *T) error {
	return r.db.Execute(ctx, func(tx *gorm.DB) error {
		return tx.Create(entity).Error
	})
}

// First 按条件取第一条，未找到返回 gorm.ErrRecordNotFound。
func (r *GormRepository[T]) First(ctx context.Context, query any, args ...any) (*T, error) {
	var entity T
	err := r.db.Execute(ctx, func(tx *gorm.DB) error {
		return tx.Where(query, args...).First(&entity).Error
	})
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// FindByID 按主键查询。
func (r *GormRepository[T]) FindByID(ctx context.Context, id any) (*T, error) {
	var entity T
	err := r.db.Execute(ctx, func(tx *gorm.DB) error {
		return tx.First(&entity, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// List 按 order 排序返回一页数据与总数，limit <= 0 时返回全部。
func (r *GormRepository[T]) List(ctx context.Context, order string, offset, limit int) ([]T, int64, error) {
	var (
		entities []T
		total    int64
	)
	err := r.db.Execute(ctx, func(tx *gorm.DB) error {
		var zero T
		if err := tx.Model(&zero).Count(&total).Error; err != nil {
			return err
		}
		q := tx.Order(order)
		if limit > 0 {
			q = q.Offset(offset).Limit(limit)
		}
		return q.Find(&entities).Error
	})
	if err != nil {
		return nil, 0, err
	}
	return entities, total, nil
}

// Delete 按主键删除，模型含 gorm.DeletedAt 时为软删除。返回是否有记录被删除。
func (r *GormRepository[T]) Delete(ctx context.Context, id any) (bool, error) {
	var affected int64
	err := r.db.Execute(ctx, func(tx *gorm.DB) error {
		var zero T
		res := tx.Delete(&zero, id)
		affected = res.RowsAffected
		return res.Error
	})
	return affected > 0, err
}

// IsNotFound 判断是否为记录不存在.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicate 判断是否为唯一约束冲突.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
