// Package filestoretest 提供内存版文件记录仓储，供测试使用.
package filestoretest

import (
	"context"
	"sort"
	"sync"

	"github.com/wyfcoding/filebroker/filestore"
	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/pagination"
)

// Repository 内存仓储，fingerprint 唯一。
type Repository struct {
	mu      sync.Mutex
	byID    map[int64]model.FileRecord
	deleted map[int64]bool

	// CreateErr 非空时 Create 直接返回该错误。
	CreateErr error
	// FindErr 非空时查询直接返回该错误。
	FindErr error

	CreateCalls int
	FindCalls   int
}

var _ filestore.Repository = (*Repository)(nil)

func New() *Repository {
	return &Repository{byID: make(map[int64]model.FileRecord), deleted: make(map[int64]bool)}
}

// Put 直接写入一条记录。
func (r *Repository) Put(rec model.FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.ID] = rec
}

// Len 返回未删除记录数。
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID) - len(r.deleted)
}

func (r *Repository) Create(_ context.Context, rec *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CreateCalls++
	if r.CreateErr != nil {
		return r.CreateErr
	}
	for id, existing := range r.byID {
		if existing.Fingerprint == rec.Fingerprint {
			if !r.deleted[id] {
				return filestore.ErrDuplicate
			}
			delete(r.byID, id)
			delete(r.deleted, id)
			rec.ID = id
		}
	}
	r.byID[rec.ID] = *rec
	return nil
}

func (r *Repository) FindByFingerprint(_ context.Context, fingerprint string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FindCalls++
	if r.FindErr != nil {
		return nil, r.FindErr
	}
	for id, rec := range r.byID {
		if rec.Fingerprint == fingerprint && !r.deleted[id] {
			return &rec, nil
		}
	}
	return nil, filestore.ErrNotFound
}

func (r *Repository) FindByID(_ context.Context, id int64) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FindCalls++
	if r.FindErr != nil {
		return nil, r.FindErr
	}
	rec, ok := r.byID[id]
	if !ok || r.deleted[id] {
		return nil, filestore.ErrNotFound
	}
	return &rec, nil
}

func (r *Repository) List(_ context.Context, page *pagination.Page) ([]model.FileRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.FileRecord, 0, len(r.byID))
	for id, rec := range r.byID {
		if !r.deleted[id] {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := int64(len(out))
	if page != nil {
		start := min(page.Offset(), len(out))
		end := min(start+page.Limit(), len(out))
		out = out[start:end]
	}
	return out, total, nil
}

func (r *Repository) SoftDelete(_ context.Context, id int64) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok || r.deleted[id] {
		return nil, filestore.ErrNotFound
	}
	r.deleted[id] = true
	return &rec, nil
}
