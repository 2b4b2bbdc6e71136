package upload

import (
	"context"
	"testing"
	"time"

	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/xerrors"
)

func TestMergeMultipart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	started, err := h.coordinator.Init(ctx, multipartRequest(testFP, 3))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	h.uploadAll(t, started.UploadID, 3)

	url, err := h.finalizer.Merge(ctx, testFP)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	want := endpoint + "/files/2024/03/09/report.final_" + testFP + ".pdf"
	if url != want {
		t.Errorf("url = %s, want %s", url, want)
	}

	rec, err := h.records.FindByFingerprint(ctx, testFP)
	if err != nil {
		t.Fatalf("record not written: %v", err)
	}
	if rec.Size != 15 || rec.ChunkCount != 3 || rec.Type != "pdf" || rec.Bucket != "files" || rec.UploadID != started.UploadID {
		t.Errorf("unexpected record: %+v", rec)
	}
	data, ok := h.store.Object(rec.ObjectKey)
	if !ok || string(data) != "abcdebbcdecbcde" {
		t.Errorf("unexpected merged object: %q", data)
	}

	if h.mr.Exists(h.sessionKey(testFP)) {
		t.Error("session should be evicted after the record is written")
	}
	if len(h.invalidated.ids) != 1 || h.invalidated.ids[0] != rec.ID {
		t.Errorf("expected cache invalidation for %d, got %v", rec.ID, h.invalidated.ids)
	}
	if len(h.notified.recs) != 1 || h.notified.recs[0].Fingerprint != testFP {
		t.Errorf("expected one file.stored notification, got %v", h.notified.recs)
	}

	again, err := h.finalizer.Merge(ctx, testFP)
	if err != nil || again != url {
		t.Errorf("repeated merge = (%s, %v), want %s", again, err, url)
	}
	if h.records.Len() != 1 {
		t.Errorf("expected a single record, got %d", h.records.Len())
	}
}

func TestMergeIncompleteKeepsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	started, err := h.coordinator.Init(ctx, multipartRequest(testFP, 3))
	if err != nil {
		t.Fatal(err)
	}
	h.uploadAll(t, started.UploadID, 2)

	_, err = h.finalizer.Merge(ctx, testFP)
	expectCode(t, err, xerrors.CodeMergeFileFailed)
	if !h.mr.Exists(h.sessionKey(testFP)) {
		t.Error("session must survive a failed merge")
	}
	if h.store.CompleteCalls != 0 || h.records.Len() != 0 {
		t.Error("incomplete upload must not be completed")
	}
}

func TestMergeRecordFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	started, err := h.coordinator.Init(ctx, multipartRequest(testFP, 2))
	if err != nil {
		t.Fatal(err)
	}
	h.uploadAll(t, started.UploadID, 2)

	h.records.CreateErr = errBoom
	_, err = h.finalizer.Merge(ctx, testFP)
	expectType(t, err, xerrors.ErrUnavailable)
	if !h.mr.Exists(h.sessionKey(testFP)) {
		t.Fatal("session must survive a failed record write")
	}

	// 对象已合并，重试时分片上传已不存在，按对象状态继续写记录。
	h.records.CreateErr = nil
	if _, err := h.finalizer.Merge(ctx, testFP); err != nil {
		t.Fatalf("retry merge: %v", err)
	}
	rec, err := h.records.FindByFingerprint(ctx, testFP)
	if err != nil || rec.Size != 10 {
		t.Errorf("unexpected record after retry: %+v, %v", rec, err)
	}
	if h.mr.Exists(h.sessionKey(testFP)) {
		t.Error("session should be evicted after retry")
	}
}

func TestMergeSingleShot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if _, err := h.coordinator.Init(ctx, InitRequest{Fingerprint: testFP, OriginalFileName: "Makefile", ChunkCount: 1}); err != nil {
		t.Fatal(err)
	}
	_, err := h.finalizer.Merge(ctx, testFP)
	expectCode(t, err, xerrors.CodeMergeFileFailed)

	sess, err := h.sessions.Get(ctx, testFP)
	if err != nil {
		t.Fatal(err)
	}
	h.store.PutObject(sess.ObjectKey, []byte("all: build"))
	url, err := h.finalizer.Merge(ctx, testFP)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if url != endpoint+"/files/2024/03/09/Makefile_"+testFP {
		t.Errorf("unexpected url %s", url)
	}
	rec, _ := h.records.FindByFingerprint(ctx, testFP)
	if rec.Size != 10 || rec.Type != "" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestMergeConcurrentWriterWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if _, err := h.coordinator.Init(ctx, InitRequest{Fingerprint: testFP, OriginalFileName: "a.txt", ChunkCount: 1}); err != nil {
		t.Fatal(err)
	}
	sess, _ := h.sessions.Get(ctx, testFP)
	h.store.PutObject(sess.ObjectKey, []byte("abc"))
	h.records.Put(model.FileRecord{ID: 42, Fingerprint: testFP, URL: "http://winner/a.txt"})

	url, err := h.finalizer.Merge(ctx, testFP)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if url != "http://winner/a.txt" {
		t.Errorf("expected existing record url, got %s", url)
	}
	if h.records.Len() != 1 {
		t.Errorf("expected one record, got %d", h.records.Len())
	}
	if h.mr.Exists(h.sessionKey(testFP)) {
		t.Error("session should be evicted")
	}
}

func TestMergeWithoutSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.finalizer.Merge(ctx, testFP)
	expectType(t, err, xerrors.ErrNotFound)

	_, err = h.finalizer.Merge(ctx, "not-hex")
	expectType(t, err, xerrors.ErrInvalidArg)
}

func TestMergeCompleteFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	started, err := h.coordinator.Init(ctx, multipartRequest(testFP, 2))
	if err != nil {
		t.Fatal(err)
	}
	h.uploadAll(t, started.UploadID, 2)
	h.store.CompleteErr = errBoom

	_, err = h.finalizer.Merge(ctx, testFP)
	expectCode(t, err, xerrors.CodeMergeFileFailed)
	if !h.mr.Exists(h.sessionKey(testFP)) || h.records.Len() != 0 {
		t.Error("failed completion must leave session and records untouched")
	}
}

func TestMergeAcrossPartPages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	finalizer := h.newFinalizer(1)

	started, err := h.coordinator.Init(ctx, multipartRequest(testFP, 3))
	if err != nil {
		t.Fatal(err)
	}
	h.uploadAll(t, started.UploadID, 3)

	if _, err := finalizer.Merge(ctx, testFP); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if h.store.ListCalls != 3 {
		t.Errorf("expected one ListParts call per part, got %d", h.store.ListCalls)
	}
	rec, err := h.records.FindByFingerprint(ctx, testFP)
	if err != nil || rec.Size != 15 || rec.ChunkCount != 3 {
		t.Fatalf("unexpected record: %+v, %v", rec, err)
	}
	if data, _ := h.store.Object(rec.ObjectKey); string(data) != "abcdebbcdecbcde" {
		t.Errorf("unexpected merged object: %q", data)
	}
}

func TestMergeAcrossPartPagesDetectsGap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	finalizer := h.newFinalizer(1)

	started, err := h.coordinator.Init(ctx, multipartRequest(testFP, 3))
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{1, 3} {
		if err := h.store.UploadPart(started.UploadID, n, []byte("abcde")); err != nil {
			t.Fatal(err)
		}
	}

	_, err = finalizer.Merge(ctx, testFP)
	expectCode(t, err, xerrors.CodeMergeFileFailed)
	if h.store.CompleteCalls != 0 || h.records.Len() != 0 {
		t.Error("a missing middle part must block completion")
	}
}

// blockingSaves 让 Save 在写入前挂起，直到 release 关闭。
type blockingSaves struct {
	SessionStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSaves) Save(ctx context.Context, sess *model.UploadSession, ttl time.Duration) error {
	close(b.entered)
	<-b.release
	return b.SessionStore.Save(ctx, sess, ttl)
}

func TestMergeWaitsForResumedInit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	started, err := h.coordinator.Init(ctx, multipartRequest(testFP, 2))
	if err != nil {
		t.Fatal(err)
	}
	h.uploadAll(t, started.UploadID, 2)

	gated := &blockingSaves{SessionStore: h.sessions, entered: make(chan struct{}), release: make(chan struct{})}
	resumer := h.newCoordinator(gated)
	done := make(chan error, 1)
	go func() {
		_, err := resumer.Init(ctx, multipartRequest(testFP, 2))
		done <- err
	}()
	<-gated.entered

	// 恢复中的 Init 持有指纹锁，合并不能在其写回会话前完成。
	_, err = h.finalizer.Merge(ctx, testFP)
	expectType(t, err, xerrors.ErrConflict)
	if h.records.Len() != 0 {
		t.Fatal("merge must not persist while init holds the lock")
	}

	close(gated.release)
	if err := <-done; err != nil {
		t.Fatalf("resumed init: %v", err)
	}

	if _, err := h.finalizer.Merge(ctx, testFP); err != nil {
		t.Fatalf("merge after init: %v", err)
	}
	res, err := h.registry.Check(ctx, testFP)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != model.StatusAlreadyStored {
		t.Errorf("status = %v, want already stored", res.Status)
	}
	if h.mr.Exists(h.sessionKey(testFP)) {
		t.Error("no session may survive a completed merge")
	}
}

func TestMergeLockWaitCanceled(t *testing.T) {
	h := newHarness(t)
	if err := h.mr.Set("upload:lock:"+testFP, "someone-else"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.finalizer.Merge(ctx, testFP)
	expectType(t, err, xerrors.ErrDeadlineExceeded)
	if h.store.ListCalls != 0 {
		t.Error("merge must not touch storage without the lock")
	}
}
