package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"

	"github.com/wyfcoding/filebroker/filestore"
	"github.com/wyfcoding/filebroker/filestore/filestoretest"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/storage/storagetest"
	"github.com/wyfcoding/filebroker/xerrors"
)

func newStreamer(t *testing.T, bufSize int) (*Streamer, *storagetest.Store, []byte) {
	t.Helper()
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	store := storagetest.New("files")
	store.PutObject("2024/01/01/a_fp.bin", data)
	store.PutObject("2024/01/01/empty_fp", nil)

	repo := filestoretest.New()
	repo.Put(model.FileRecord{ID: 1, Fingerprint: "fp1", ObjectKey: "2024/01/01/a_fp.bin", OriginalFileName: "a.bin"})
	repo.Put(model.FileRecord{ID: 2, Fingerprint: "fp2", ObjectKey: "2024/01/01/empty_fp", OriginalFileName: "empty"})
	repo.Put(model.FileRecord{ID: 3, Fingerprint: "fp3", ObjectKey: "2024/01/01/gone", OriginalFileName: "gone"})

	logger := logging.NewLogger("filebroker-test", "download", "error")
	resolver := filestore.NewCachedResolver(repo, nil, 0, logger)
	return NewStreamer(resolver, store, bufSize, logger, nil), store, data
}

func TestStreamRanges(t *testing.T) {
	ctx := context.Background()
	s, store, data := newStreamer(t, 64)

	tests := []struct {
		header       string
		status       int
		start, end   int
		contentRange string
	}{
		{"", http.StatusOK, 0, 999, ""},
		{"bytes=0-99", http.StatusPartialContent, 0, 99, "bytes 0-99/1000"},
		{"bytes=-50", http.StatusPartialContent, 950, 999, "bytes 950-999/1000"},
		{"bytes=990-", http.StatusPartialContent, 990, 999, "bytes 990-999/1000"},
		{"bytes=0-2000", http.StatusPartialContent, 0, 999, "bytes 0-999/1000"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			d, err := s.Open(ctx, 1, tt.header)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if d.Status != tt.status {
				t.Errorf("status = %d, want %d", d.Status, tt.status)
			}
			if got := d.Header.Get("Content-Range"); got != tt.contentRange {
				t.Errorf("Content-Range = %q, want %q", got, tt.contentRange)
			}
			if d.Header.Get("Accept-Ranges") != "bytes" || d.Header.Get("ETag") == "" || d.Header.Get("Last-Modified") == "" {
				t.Errorf("missing headers: %v", d.Header)
			}

			closed := store.Closes()
			var buf bytes.Buffer
			n, err := s.Relay(ctx, &buf, d)
			if err != nil {
				t.Fatalf("relay: %v", err)
			}
			_ = d.Close()
			if got := store.Closes() - closed; got != 1 {
				t.Errorf("backend stream closed %d times, want 1", got)
			}
			want := data[tt.start : tt.end+1]
			if n != int64(len(want)) || !bytes.Equal(buf.Bytes(), want) {
				t.Errorf("relayed %d bytes, want %d", n, len(want))
			}
			if d.Header.Get("Content-Length") != strconv.Itoa(len(want)) {
				t.Errorf("Content-Length = %s, want %d", d.Header.Get("Content-Length"), len(want))
			}
		})
	}
}

func TestStreamUnsatisfiable(t *testing.T) {
	s, store, _ := newStreamer(t, 64)

	d, err := s.Open(context.Background(), 1, "bytes=1000-")
	if !xerrors.IsType(err, xerrors.ErrRangeNotSatisfiable) {
		t.Fatalf("expected range error, got %v", err)
	}
	if d == nil || d.Status != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416 download, got %+v", d)
	}
	if got := d.Header.Get("Content-Range"); got != "bytes */1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if store.GetRangeCalls != 0 {
		t.Error("unsatisfiable range must not read the backend")
	}
}

func TestStreamEmptyObject(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newStreamer(t, 64)

	d, err := s.Open(ctx, 2, "bytes=0-10")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if d.Status != http.StatusOK || d.Header.Get("Content-Length") != "0" {
		t.Errorf("unexpected empty download: %d %v", d.Status, d.Header)
	}
	var buf bytes.Buffer
	if n, err := s.Relay(ctx, &buf, d); n != 0 || err != nil {
		t.Errorf("relay = (%d, %v)", n, err)
	}
	if store.GetRangeCalls != 0 {
		t.Error("empty object must not read the backend")
	}
}

func TestStreamNotFound(t *testing.T) {
	s, _, _ := newStreamer(t, 64)

	for _, id := range []int64{99, 3} {
		if _, err := s.Open(context.Background(), id, ""); !xerrors.IsType(err, xerrors.ErrNotFound) {
			t.Errorf("id %d: expected not found, got %v", id, err)
		}
	}
}

func TestStreamContentDisposition(t *testing.T) {
	if got := contentDisposition("report.pdf"); got != "attachment; filename=report.pdf" {
		t.Errorf("ascii: %s", got)
	}
	if got := contentDisposition("报告.pdf"); got != "attachment; filename*=utf-8''%E6%8A%A5%E5%91%8A.pdf" {
		t.Errorf("non-ascii: %s", got)
	}
}

func TestRelayShortStream(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newStreamer(t, 64)
	store.ShortBy = 10

	d, err := s.Open(ctx, 1, "bytes=0-99")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := s.Relay(ctx, &buf, d)
	if !errors.Is(err, ErrShortStream) {
		t.Fatalf("expected ErrShortStream, got %v", err)
	}
	if n != 90 {
		t.Errorf("expected 90 bytes relayed, got %d", n)
	}
	if store.Closes() != 1 {
		t.Errorf("backend stream closed %d times, want 1", store.Closes())
	}
}

func TestRelayStopsOnCancel(t *testing.T) {
	s, store, _ := newStreamer(t, 64)
	ctx, cancel := context.WithCancel(context.Background())

	d, err := s.Open(ctx, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	var buf bytes.Buffer
	n, err := s.Relay(ctx, &buf, d)
	if !errors.Is(err, context.Canceled) || n != 0 {
		t.Errorf("relay after cancel = (%d, %v)", n, err)
	}
	if store.Closes() != 1 {
		t.Errorf("backend stream closed %d times, want 1", store.Closes())
	}
}

// brokenWriter 接收 limit 字节后报错，模拟客户端断开。
type brokenWriter struct {
	limit int
	n     int
}

var errClientGone = errors.New("client gone")

func (w *brokenWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		k := w.limit - w.n
		w.n = w.limit
		return k, errClientGone
	}
	w.n += len(p)
	return len(p), nil
}

func TestRelayWriterFailure(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newStreamer(t, 64)

	d, err := s.Open(ctx, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	n, err := s.Relay(ctx, &brokenWriter{limit: 100}, d)
	if !errors.Is(err, errClientGone) {
		t.Fatalf("expected writer error, got %v", err)
	}
	if n != 100 {
		t.Errorf("expected 100 bytes relayed, got %d", n)
	}
	if store.Closes() != 1 {
		t.Errorf("backend stream closed %d times, want 1", store.Closes())
	}
}
