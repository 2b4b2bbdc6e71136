package upload

import (
	"context"
	"errors"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/wyfcoding/filebroker/filestore"
	"github.com/wyfcoding/filebroker/lock"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/metrics"
	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/storage"
	"github.com/wyfcoding/filebroker/tracing"
	"github.com/wyfcoding/filebroker/xerrors"
)

const (
	defaultContentType = "application/octet-stream"
	presignConcurrency = 16
)

// CoordinatorConfig 会话协调参数。
type CoordinatorConfig struct {
	BreakpointWindow time.Duration // 会话 TTL，每次 Init 重置
	PresignExpiry    time.Duration
	LockTTL          time.Duration
	LockWait         time.Duration
	// Now 生成对象路径日期，为空时使用 UTC 当前时间。
	Now func() time.Time
}

// InitResult 上传地址。单次上传时 UploadID 为空且只有一个地址；
// 分片上传时 URLs[i] 对应分片号 i+1。
type InitResult struct {
	UploadID string   `json:"uploadId"`
	URLs     []string `json:"urls"`
}

// Coordinator 创建或恢复上传会话并签发上传地址。
type Coordinator struct {
	sessions SessionStore
	records  filestore.Repository
	store    storage.ObjectStore
	locker   lock.Locker
	cfg      CoordinatorConfig
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

func NewCoordinator(sessions SessionStore, records filestore.Repository, store storage.ObjectStore,
	locker lock.Locker, cfg CoordinatorConfig, logger *logging.Logger, m *metrics.Metrics,
) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		sessions: sessions,
		records:  records,
		store:    store,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Init 同一指纹的会话创建在分布式锁内串行执行，重复调用返回同一 uploadId 与同样数量的地址。
func (c *Coordinator) Init(ctx context.Context, req InitRequest) (res *InitResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "upload.Init")
	defer func() {
		tracing.SetError(ctx, err)
		span.End()
		c.metrics.ObserveUpload("init", resultLabel(err))
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}
	fp := req.Fingerprint
	tracing.AddTag(ctx, "upload.fingerprint", fp)

	release, err := c.locker.Acquire(ctx, fp, c.cfg.LockTTL, c.cfg.LockWait)
	if err != nil {
		return nil, lockFailure(err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			c.logger.WarnContext(ctx, "failed to release upload lock", "fingerprint", fp, "error", rerr)
		}
	}()

	switch _, err := c.records.FindByFingerprint(ctx, fp); {
	case err == nil:
		return nil, xerrors.AlreadyStored("file already stored")
	case !errors.Is(err, filestore.ErrNotFound):
		return nil, xerrors.Unavailable("metadata store unavailable", err)
	}

	resumed := false
	sess, err := c.sessions.Get(ctx, fp)
	switch {
	case err == nil:
		resumed = true
		c.logResumeDrift(ctx, sess, &req)
	case errors.Is(err, ErrSessionNotFound):
		if req.UploadID != "" {
			c.logger.WarnContext(ctx, "ignoring client upload id without session", "fingerprint", fp, "upload_id", req.UploadID)
		}
		sess = c.newSession(&req)
	default:
		return nil, xerrors.Unavailable("session cache unavailable", err)
	}

	initiated := false
	if !sess.SingleShot() && sess.UploadID == "" {
		id, err := c.store.InitiateMultipart(ctx, sess.ObjectKey, sess.ContentType)
		if err != nil {
			return nil, xerrors.UploadInitFailed("failed to initiate multipart upload", err)
		}
		sess.UploadID = id
		initiated = true
	}

	urls, err := c.presign(ctx, sess)
	if err != nil {
		if initiated {
			c.abort(ctx, sess)
		}
		return nil, xerrors.UploadInitFailed("failed to presign upload urls", err)
	}

	if err := c.sessions.Save(ctx, sess, c.cfg.BreakpointWindow); err != nil {
		if initiated {
			c.abort(ctx, sess)
		}
		return nil, xerrors.Unavailable("failed to save upload session", err)
	}

	c.logger.InfoContext(ctx, "upload session ready",
		"fingerprint", fp, "object_key", sess.ObjectKey, "chunks", sess.ChunkCount, "resumed", resumed)
	return &InitResult{UploadID: sess.UploadID, URLs: urls}, nil
}

func (c *Coordinator) newSession(req *InitRequest) *model.UploadSession {
	now := c.cfg.Now()
	key, ext := ObjectKey(req.Fingerprint, req.OriginalFileName, now)
	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	return &model.UploadSession{
		Fingerprint:      req.Fingerprint,
		OriginalFileName: req.OriginalFileName,
		Size:             req.Size,
		ChunkSize:        req.ChunkSize,
		ChunkCount:       req.ChunkCount,
		ContentType:      contentType,
		ObjectKey:        key,
		Type:             ext,
		CreatedAt:        now,
	}
}

// logResumeDrift 续传时以会话为准，请求中不一致的字段只记录日志。
func (c *Coordinator) logResumeDrift(ctx context.Context, sess *model.UploadSession, req *InitRequest) {
	if sess.ChunkCount != req.ChunkCount || sess.ChunkSize != req.ChunkSize || sess.Size != req.Size ||
		sess.OriginalFileName != req.OriginalFileName {
		c.logger.WarnContext(ctx, "resume request differs from session, keeping session plan",
			"fingerprint", sess.Fingerprint,
			"session_chunks", sess.ChunkCount, "request_chunks", req.ChunkCount,
			"session_size", sess.Size, "request_size", req.Size)
	}
	if req.UploadID != "" && req.UploadID != sess.UploadID {
		c.logger.WarnContext(ctx, "client upload id does not match session", "fingerprint", sess.Fingerprint, "upload_id", req.UploadID)
	}
}

func (c *Coordinator) presign(ctx context.Context, sess *model.UploadSession) ([]string, error) {
	if sess.SingleShot() {
		u, err := c.store.PresignPut(ctx, sess.ObjectKey, sess.ContentType, c.cfg.PresignExpiry)
		if err != nil {
			return nil, err
		}
		return []string{u}, nil
	}

	parts := make([]int, sess.ChunkCount)
	for i := range parts {
		parts[i] = i + 1
	}
	mapper := iter.Mapper[int, string]{MaxGoroutines: presignConcurrency}
	return mapper.MapErr(parts, func(n *int) (string, error) {
		return c.store.PresignPart(ctx, sess.ObjectKey, sess.UploadID, *n, c.cfg.PresignExpiry)
	})
}

func (c *Coordinator) abort(ctx context.Context, sess *model.UploadSession) {
	if err := c.store.AbortMultipart(context.WithoutCancel(ctx), sess.ObjectKey, sess.UploadID); err != nil {
		c.logger.WarnContext(ctx, "failed to abort orphaned multipart upload",
			"fingerprint", sess.Fingerprint, "upload_id", sess.UploadID, "error", err)
	}
}

// lockFailure 映射加锁失败：锁被占用为冲突，请求自身取消或超时不归咎于锁服务。
func lockFailure(err error) error {
	switch {
	case errors.Is(err, lock.ErrLockTimeout):
		return xerrors.Conflict("upload is being processed by another request", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return xerrors.DeadlineExceeded("request ended while waiting for upload lock", err)
	default:
		return xerrors.Unavailable("lock service unavailable", err)
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := xerrors.FromError(err); ok {
		return e.Type.String()
	}
	return "error"
}
