package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/filebroker/cache"
	"github.com/wyfcoding/filebroker/filestore/filestoretest"
	"github.com/wyfcoding/filebroker/lock"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/metrics"
	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/retry"
	"github.com/wyfcoding/filebroker/storage/storagetest"
	"github.com/wyfcoding/filebroker/xerrors"
)

const (
	testFP   = "9e107d9d372bb6826bd81d3542a419d6"
	window   = 24 * time.Hour
	endpoint = "http://files.example.com"
)

var fixedNow = time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)

type seqIDs struct {
	mu sync.Mutex
	n  int64
}

func (g *seqIDs) Generate() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return 1000 + g.n
}

type recordingInvalidator struct{ ids []int64 }

func (r *recordingInvalidator) Invalidate(_ context.Context, id int64) { r.ids = append(r.ids, id) }

type recordingNotifier struct{ recs []model.FileRecord }

func (r *recordingNotifier) FileStored(_ context.Context, rec *model.FileRecord) {
	r.recs = append(r.recs, *rec)
}

type harness struct {
	mr          *miniredis.Miniredis
	sessions    *RedisSessionStore
	records     *filestoretest.Repository
	store       *storagetest.Store
	locker      lock.Locker
	logger      *logging.Logger
	metrics     *metrics.Metrics
	coordinator *Coordinator
	registry    *Registry
	finalizer   *Finalizer
	invalidated *recordingInvalidator
	notified    *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logging.NewLogger("filebroker-test", "upload", "error")
	m := metrics.NewMetrics("filebroker-test")

	h := &harness{
		mr:          mr,
		sessions:    NewRedisSessionStore(cache.NewRedisCache(client, SessionKeyPrefix, nil, m)),
		records:     filestoretest.New(),
		store:       storagetest.New("files"),
		invalidated: &recordingInvalidator{},
		notified:    &recordingNotifier{},
		locker:      lock.NewRedisLock(client, "upload:lock"),
		logger:      logger,
		metrics:     m,
	}

	h.coordinator = h.newCoordinator(h.sessions)
	h.registry = NewRegistry(h.sessions, h.records, h.store, 1000, logger)
	h.finalizer = h.newFinalizer(1000)
	return h
}

// newCoordinator 与 harness 共享存储和锁，sessions 可替换为带注入行为的实现。
func (h *harness) newCoordinator(sessions SessionStore) *Coordinator {
	return NewCoordinator(sessions, h.records, h.store, h.locker, CoordinatorConfig{
		BreakpointWindow: window,
		PresignExpiry:    time.Hour,
		LockTTL:          30 * time.Second,
		LockWait:         50 * time.Millisecond,
		Now:              func() time.Time { return fixedNow },
	}, h.logger, h.metrics)
}

func (h *harness) newFinalizer(pageSize int) *Finalizer {
	return NewFinalizer(h.sessions, h.records, h.store, h.locker, &seqIDs{}, h.invalidated, h.notified, FinalizerConfig{
		PublicEndpoint: endpoint,
		PartPageSize:   pageSize,
		EvictRetry:     retry.Config{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1, MaxRetries: 2},
		LockTTL:        30 * time.Second,
		LockWait:       50 * time.Millisecond,
		Now:            func() time.Time { return fixedNow },
	}, h.logger, h.metrics)
}

func (h *harness) sessionKey(fp string) string {
	return SessionKeyPrefix + ":" + fp
}

func multipartRequest(fp string, chunks int) InitRequest {
	return InitRequest{
		Fingerprint:      fp,
		OriginalFileName: "report.final.pdf",
		Size:             int64(chunks) * 5,
		ChunkSize:        5,
		ChunkCount:       chunks,
		ContentType:      "application/pdf",
	}
}

// uploadAll 模拟客户端按分片地址上传全部分片。
func (h *harness) uploadAll(t *testing.T, uploadID string, chunks int) {
	t.Helper()
	for n := 1; n <= chunks; n++ {
		if err := h.store.UploadPart(uploadID, n, []byte{byte('a' + n - 1), 'b', 'c', 'd', 'e'}); err != nil {
			t.Fatalf("upload part %d: %v", n, err)
		}
	}
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	e, ok := xerrors.FromError(err)
	if !ok {
		t.Fatalf("expected *xerrors.Error with code %d, got %v", code, err)
	}
	if e.Code != code {
		t.Fatalf("expected code %d, got %d (%v)", code, e.Code, err)
	}
}

func expectType(t *testing.T, err error, typ xerrors.ErrorType) {
	t.Helper()
	if !xerrors.IsType(err, typ) {
		t.Fatalf("expected error type %s, got %v", typ, err)
	}
}

var errBoom = errors.New("boom")
