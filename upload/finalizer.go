package upload

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/wyfcoding/filebroker/filestore"
	"github.com/wyfcoding/filebroker/idgen"
	"github.com/wyfcoding/filebroker/lock"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/metrics"
	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/retry"
	"github.com/wyfcoding/filebroker/storage"
	"github.com/wyfcoding/filebroker/tracing"
	"github.com/wyfcoding/filebroker/xerrors"
)

// FinalizerConfig 合并参数。
type FinalizerConfig struct {
	PublicEndpoint string
	PartPageSize   int
	EvictRetry     retry.Config
	// LockTTL/LockWait 与 Init 共用同一把指纹锁。
	LockTTL  time.Duration
	LockWait time.Duration
	Now      func() time.Time
}

// Invalidator 清除下载侧的记录缓存。
type Invalidator interface {
	Invalidate(ctx context.Context, id int64)
}

// Finalizer 校验分片完整性、完成对象合并并写入文件记录。
type Finalizer struct {
	sessions    SessionStore
	records     filestore.Repository
	store       storage.ObjectStore
	locker      lock.Locker
	ids         idgen.Generator
	invalidator Invalidator
	notifier    Notifier
	cfg         FinalizerConfig
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

func NewFinalizer(sessions SessionStore, records filestore.Repository, store storage.ObjectStore, locker lock.Locker,
	ids idgen.Generator, invalidator Invalidator, notifier Notifier, cfg FinalizerConfig, logger *logging.Logger, m *metrics.Metrics,
) *Finalizer {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Finalizer{
		sessions:    sessions,
		records:     records,
		store:       store,
		locker:      locker,
		ids:         ids,
		invalidator: invalidator,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
	}
}

// Merge 完成上传并返回文件访问地址。
// 记录写入成功后才清理会话；任一步失败都保留会话，客户端可以补传后重试。
// 与 Init 持有同一指纹锁，恢复中的会话不会在清理之后被重新写回。
func (f *Finalizer) Merge(ctx context.Context, fingerprint string) (fileURL string, err error) {
	ctx, span := tracing.StartSpan(ctx, "upload.Merge")
	defer func() {
		tracing.SetError(ctx, err)
		span.End()
		f.metrics.ObserveUpload("merge", resultLabel(err))
	}()

	fp, err := checkFingerprint(fingerprint)
	if err != nil {
		return "", err
	}

	release, err := f.locker.Acquire(ctx, fp, f.cfg.LockTTL, f.cfg.LockWait)
	if err != nil {
		return "", lockFailure(err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			f.logger.WarnContext(ctx, "failed to release upload lock", "fingerprint", fp, "error", rerr)
		}
	}()

	sess, err := f.sessions.Get(ctx, fp)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			return "", xerrors.Unavailable("session cache unavailable", err)
		}
		return f.existingURL(ctx, fp)
	}

	done := logging.LogDuration(ctx, "upload assemble", "fingerprint", fp, "chunks", sess.ChunkCount)
	size, err := f.assemble(ctx, sess)
	done()
	if err != nil {
		return "", err
	}

	rec, err := f.persist(ctx, sess, size)
	if err != nil {
		return "", err
	}

	f.evict(ctx, fp)
	if f.invalidator != nil {
		f.invalidator.Invalidate(ctx, rec.ID)
	}
	f.notifier.FileStored(ctx, rec)

	f.logger.InfoContext(ctx, "upload merged", "fingerprint", fp, "id", rec.ID, "object_key", rec.ObjectKey, "size", rec.Size)
	return rec.URL, nil
}

// existingURL 会话已清理时，已入库的文件直接返回地址，保证重复合并幂等。
func (f *Finalizer) existingURL(ctx context.Context, fp string) (string, error) {
	rec, err := f.records.FindByFingerprint(ctx, fp)
	switch {
	case err == nil:
		return rec.URL, nil
	case errors.Is(err, filestore.ErrNotFound):
		return "", xerrors.NotFound("upload session not found")
	default:
		return "", xerrors.Unavailable("metadata store unavailable", err)
	}
}

// assemble 确认对象已完整落盘，返回对象大小。
func (f *Finalizer) assemble(ctx context.Context, sess *model.UploadSession) (int64, error) {
	if sess.SingleShot() {
		return f.statUploaded(ctx, sess)
	}

	parts, err := storage.CollectParts(ctx, f.store, sess.ObjectKey, sess.UploadID, f.cfg.PartPageSize)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			// 分片上传已不存在：可能上次已合并成功但记录写入失败。
			return f.statUploaded(ctx, sess)
		}
		return 0, xerrors.Unavailable("object store unavailable", err)
	}

	if err := requireComplete(parts, sess.ChunkCount); err != nil {
		return 0, xerrors.UploadMergeFailed("upload is incomplete", err).WithDetail("%v", err)
	}

	if err := f.store.CompleteMultipart(ctx, sess.ObjectKey, sess.UploadID, parts); err != nil {
		return 0, xerrors.UploadMergeFailed("failed to complete multipart upload", err)
	}

	var size int64
	for _, p := range parts {
		size += p.Size
	}
	return size, nil
}

func (f *Finalizer) statUploaded(ctx context.Context, sess *model.UploadSession) (int64, error) {
	info, err := f.store.Stat(ctx, sess.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return 0, xerrors.UploadMergeFailed("object has not been uploaded", err)
		}
		return 0, xerrors.Unavailable("object store unavailable", err)
	}
	return info.Size, nil
}

// requireComplete 要求分片号恰好为 1..n。
func requireComplete(parts []storage.Part, n int) error {
	if len(parts) != n {
		return fmt.Errorf("expected %d parts, found %d", n, len(parts))
	}
	for i, p := range parts {
		if p.PartNumber != i+1 {
			return fmt.Errorf("part %d is missing", i+1)
		}
	}
	return nil
}

func (f *Finalizer) persist(ctx context.Context, sess *model.UploadSession, size int64) (*model.FileRecord, error) {
	fileURL, err := url.JoinPath(f.cfg.PublicEndpoint, f.store.Bucket(), sess.ObjectKey)
	if err != nil {
		return nil, xerrors.Internal("failed to build file url", err)
	}

	rec := &model.FileRecord{
		ID:               f.ids.Generate(),
		Fingerprint:      sess.Fingerprint,
		UploadID:         sess.UploadID,
		ObjectKey:        sess.ObjectKey,
		Bucket:           f.store.Bucket(),
		URL:              fileURL,
		OriginalFileName: sess.OriginalFileName,
		Size:             size,
		Type:             sess.Type,
		ContentType:      sess.ContentType,
		ChunkSize:        sess.ChunkSize,
		ChunkCount:       sess.ChunkCount,
		CreatedAt:        f.cfg.Now(),
	}

	err = f.records.Create(ctx, rec)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, filestore.ErrDuplicate) {
		return nil, xerrors.Unavailable("failed to save file record", err)
	}

	existing, ferr := f.records.FindByFingerprint(ctx, sess.Fingerprint)
	if ferr != nil {
		return nil, xerrors.Unavailable("failed to load existing file record", ferr)
	}
	f.logger.InfoContext(ctx, "file record already written by a concurrent merge", "fingerprint", sess.Fingerprint, "id", existing.ID)
	return existing, nil
}

// evict 以退避重试删除会话，最终失败只记录日志，会话随 TTL 过期。
func (f *Finalizer) evict(ctx context.Context, fp string) {
	err := retry.Do(context.WithoutCancel(ctx), f.cfg.EvictRetry, func(ctx context.Context) error {
		return f.sessions.Delete(ctx, fp)
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to evict upload session", "fingerprint", fp, "error", err)
	}
}
