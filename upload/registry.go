package upload

import (
	"context"
	"errors"

	"github.com/wyfcoding/filebroker/filestore"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/storage"
	"github.com/wyfcoding/filebroker/xerrors"
)

// CheckResult 指纹检查结果，Session 与 Record 按状态二选一。
type CheckResult struct {
	Status         model.Status
	Session        *model.UploadSession
	ConfirmedParts []int
	Record         *model.FileRecord
}

// Registry 根据指纹判断文件处于未上传、上传中还是已存储，不产生任何写操作。
type Registry struct {
	sessions SessionStore
	records  filestore.Repository
	store    storage.ObjectStore
	pageSize int
	logger   *logging.Logger
}

func NewRegistry(sessions SessionStore, records filestore.Repository, store storage.ObjectStore, pageSize int, logger *logging.Logger) *Registry {
	return &Registry{sessions: sessions, records: records, store: store, pageSize: pageSize, logger: logger}
}

// Check 先查会话，再查文件记录。
// 上传中状态的已确认分片以对象存储为准：分片上传取完整分片列表，单次上传则看对象是否已存在。
func (r *Registry) Check(ctx context.Context, fingerprint string) (*CheckResult, error) {
	fp, err := checkFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}

	sess, err := r.sessions.Get(ctx, fp)
	switch {
	case err == nil:
		parts, err := confirmedParts(ctx, r.store, sess, r.pageSize)
		if err != nil {
			return nil, err
		}
		return &CheckResult{Status: model.StatusInProgress, Session: sess, ConfirmedParts: parts}, nil
	case !errors.Is(err, ErrSessionNotFound):
		return nil, xerrors.Unavailable("session cache unavailable", err)
	}

	rec, err := r.records.FindByFingerprint(ctx, fp)
	switch {
	case err == nil:
		return &CheckResult{Status: model.StatusAlreadyStored, Record: rec}, nil
	case errors.Is(err, filestore.ErrNotFound):
		return &CheckResult{Status: model.StatusNotUploaded}, nil
	default:
		return nil, xerrors.Unavailable("metadata store unavailable", err)
	}
}

// confirmedParts 返回升序的已上传分片号。后端已不存在该分片上传时返回空列表。
func confirmedParts(ctx context.Context, store storage.ObjectStore, sess *model.UploadSession, pageSize int) ([]int, error) {
	if sess.SingleShot() {
		if _, err := store.Stat(ctx, sess.ObjectKey); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return []int{}, nil
			}
			return nil, xerrors.Unavailable("object store unavailable", err)
		}
		return []int{1}, nil
	}

	if sess.UploadID == "" {
		return []int{}, nil
	}
	parts, err := storage.CollectParts(ctx, store, sess.ObjectKey, sess.UploadID, pageSize)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return []int{}, nil
		}
		return nil, xerrors.Unavailable("object store unavailable", err)
	}
	return storage.PartNumbers(parts), nil
}
