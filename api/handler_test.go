package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/filebroker/cache"
	"github.com/wyfcoding/filebroker/download"
	"github.com/wyfcoding/filebroker/filestore"
	"github.com/wyfcoding/filebroker/filestore/filestoretest"
	"github.com/wyfcoding/filebroker/limiter"
	"github.com/wyfcoding/filebroker/lock"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/middleware"
	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/retry"
	"github.com/wyfcoding/filebroker/storage/storagetest"
	"github.com/wyfcoding/filebroker/upload"
	"github.com/wyfcoding/filebroker/xerrors"
)

const (
	fp       = "d41d8cd98f00b204e9800998ecf8427e"
	endpoint = "http://files.example.com"
)

type counterIDs struct{ n int64 }

func (g *counterIDs) Generate() int64 {
	g.n++
	return 500 + g.n
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type fixture struct {
	engine    *gin.Engine
	records   *filestoretest.Repository
	store     *storagetest.Store
	downloads *limiter.SemaphoreLimiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logging.NewLogger("filebroker-test", "api", "error")
	now := func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }

	sessions := upload.NewRedisSessionStore(cache.NewRedisCache(client, upload.SessionKeyPrefix, nil, nil))
	records := filestoretest.New()
	store := storagetest.New("files")
	resolver := filestore.NewCachedResolver(records, nil, 0, logger)

	locker := lock.NewRedisLock(client, "upload:lock")
	coordinator := upload.NewCoordinator(sessions, records, store, locker,
		upload.CoordinatorConfig{
			BreakpointWindow: time.Hour,
			PresignExpiry:    time.Hour,
			LockTTL:          time.Second,
			LockWait:         50 * time.Millisecond,
			Now:              now,
		}, logger, nil)
	finalizer := upload.NewFinalizer(sessions, records, store, locker, &counterIDs{}, resolver, upload.NopNotifier{},
		upload.FinalizerConfig{
			PublicEndpoint: endpoint,
			PartPageSize:   100,
			EvictRetry:     retry.Config{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1, MaxRetries: 1},
			LockTTL:        time.Second,
			LockWait:       50 * time.Millisecond,
			Now:            now,
		}, logger, nil)

	f := &fixture{records: records, store: store, downloads: limiter.NewSemaphoreLimiter(2)}
	h := NewHandler(Deps{
		Registry:    upload.NewRegistry(sessions, records, store, 100, logger),
		Coordinator: coordinator,
		Finalizer:   finalizer,
		Streamer:    download.NewStreamer(resolver, store, 16, logger, nil),
		Files:       records,
		Invalidator: resolver,
		Downloads:   f.downloads,
		Logger:      logger,
	})

	f.engine = gin.New()
	f.engine.Use(middleware.HTTPErrorHandler(logger.Logger))
	h.Register(f.engine)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		req.Header[k] = vs
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return env
}

func TestUploadFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/files/check/"+fp, nil, nil)
	if env := decode(t, w); w.Code != http.StatusOK || env.Code != xerrors.CodeNotUploaded {
		t.Fatalf("expected 2003, got %d %+v", w.Code, env)
	}

	initReq := upload.InitRequest{
		Fingerprint:      fp,
		OriginalFileName: "video.mp4",
		Size:             12,
		ChunkSize:        4,
		ChunkCount:       3,
		ContentType:      "video/mp4",
	}
	w = f.do(t, http.MethodPost, "/files/init", initReq, nil)
	env := decode(t, w)
	if env.Code != xerrors.CodeSuccess {
		t.Fatalf("init failed: %s", w.Body.String())
	}
	var res upload.InitResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode init result: %v", err)
	}
	if res.UploadID == "" || len(res.URLs) != 3 {
		t.Fatalf("unexpected init result: %+v", res)
	}

	if err := f.store.UploadPart(res.UploadID, 1, []byte("abcd")); err != nil {
		t.Fatalf("upload part: %v", err)
	}

	w = f.do(t, http.MethodGet, "/files/multipart/check/"+fp, nil, nil)
	env = decode(t, w)
	if env.Code != xerrors.CodeUploading {
		t.Fatalf("expected 2002, got %s", w.Body.String())
	}
	var progress struct {
		UploadID  string `json:"uploadId"`
		ObjectKey string `json:"objectKey"`
		ListParts []int  `json:"listParts"`
	}
	if err := json.Unmarshal(env.Data, &progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.UploadID != res.UploadID || len(progress.ListParts) != 1 || progress.ListParts[0] != 1 {
		t.Errorf("unexpected progress: %+v", progress)
	}

	for n, chunk := range []string{"efgh", "ij"} {
		if err := f.store.UploadPart(res.UploadID, n+2, []byte(chunk)); err != nil {
			t.Fatalf("upload part: %v", err)
		}
	}

	w = f.do(t, http.MethodPost, "/files/merge/"+fp, nil, nil)
	env = decode(t, w)
	if env.Code != xerrors.CodeSuccess {
		t.Fatalf("merge failed: %s", w.Body.String())
	}
	var merged struct {
		URL string `json:"url"`
	}
	_ = json.Unmarshal(env.Data, &merged)
	if want := endpoint + "/files/2024/05/01/video_" + fp + ".mp4"; merged.URL != want {
		t.Errorf("expected url %s, got %s", want, merged.URL)
	}

	w = f.do(t, http.MethodGet, "/files/check/"+fp, nil, nil)
	env = decode(t, w)
	if env.Code != xerrors.CodeUploadSuccess {
		t.Fatalf("expected 2001, got %s", w.Body.String())
	}
	var rec model.FileRecord
	_ = json.Unmarshal(env.Data, &rec)
	if rec.ID != 501 || rec.Size != 10 {
		t.Errorf("unexpected record: %+v", rec)
	}

	w = f.do(t, http.MethodPost, "/files/multipart/init", initReq, nil)
	if env := decode(t, w); env.Code != xerrors.CodeUploadSuccess {
		t.Errorf("re-init of stored file should report 2001, got %s", w.Body.String())
	}
}

func TestInitRejectsBadBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/files/init", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/files/init", upload.InitRequest{Fingerprint: "xyz", OriginalFileName: "a", ChunkCount: 1}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad fingerprint, got %d", w.Code)
	}
}

func TestMergeWithoutSession(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/files/merge/"+fp, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func seedFile(f *fixture, id int64, data []byte) {
	key := "2024/05/01/doc_" + strconv.FormatInt(id, 10) + ".txt"
	f.store.PutObject(key, data)
	f.records.Put(model.FileRecord{
		ID:               id,
		Fingerprint:      "fp" + strconv.FormatInt(id, 10),
		ObjectKey:        key,
		Bucket:           "files",
		OriginalFileName: "doc.txt",
		Size:             int64(len(data)),
		CreatedAt:        time.Unix(id, 0),
	})
}

func TestDownload(t *testing.T) {
	f := newFixture(t)
	seedFile(f, 7, []byte("0123456789"))

	w := f.do(t, http.MethodGet, "/files/download/7", nil, http.Header{"Range": {"bytes=2-5"}})
	if w.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", w.Code)
	}
	if got := w.Body.String(); got != "2345" {
		t.Errorf("expected body 2345, got %q", got)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("unexpected Content-Range %q", got)
	}

	w = f.do(t, http.MethodGet, "/files/download/7", nil, nil)
	if w.Code != http.StatusOK || w.Body.String() != "0123456789" {
		t.Errorf("full download: %d %q", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/files/download/7", nil, http.Header{"Range": {"bytes=50-"}})
	if w.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("unexpected Content-Range on 416: %q", got)
	}

	for _, path := range []string{"/files/download/99", "/files/download/abc"} {
		w = f.do(t, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusNotFound && w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected client error, got %d", path, w.Code)
		}
	}
}

func TestDownloadConcurrencyLimit(t *testing.T) {
	f := newFixture(t)
	seedFile(f, 7, []byte("0123456789"))

	f.downloads.TryAcquire()
	f.downloads.TryAcquire()
	w := f.do(t, http.MethodGet, "/files/download/7", nil, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}

	f.downloads.Release()
	w = f.do(t, http.MethodGet, "/files/download/7", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 after release, got %d", w.Code)
	}
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t)
	for id := int64(1); id <= 3; id++ {
		seedFile(f, id, []byte("x"))
	}

	w := f.do(t, http.MethodGet, "/files/list", nil, nil)
	var all []model.FileRecord
	if err := json.Unmarshal(decode(t, w).Data, &all); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(all) != 3 || all[0].ID != 3 {
		t.Fatalf("expected newest first, got %+v", all)
	}

	w = f.do(t, http.MethodGet, "/files/list?page_num=2&page_size=2", nil, nil)
	var page struct {
		Total int64              `json:"total"`
		Data  []model.FileRecord `json:"data"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 3 || len(page.Data) != 1 || page.Data[0].ID != 1 {
		t.Errorf("unexpected page: %+v", page)
	}

	w = f.do(t, http.MethodDelete, "/files/2", nil, nil)
	if env := decode(t, w); env.Code != xerrors.CodeSuccess {
		t.Fatalf("delete failed: %s", w.Body.String())
	}
	w = f.do(t, http.MethodDelete, "/files/2", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/files/download/2", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted file should not download, got %d", w.Code)
	}

	if _, err := f.records.FindByID(context.Background(), 2); err == nil {
		t.Error("record should be soft deleted")
	}
}
