// Package download 实现按 id 的区间流式下载.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"sync"

	"github.com/wyfcoding/filebroker/filestore"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/metrics"
	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/storage"
	"github.com/wyfcoding/filebroker/tracing"
	"github.com/wyfcoding/filebroker/xerrors"
)

const defaultBufferSize = 64 << 10

// ErrShortStream 后端数据少于声明的长度，此时响应头已经发出。
var ErrShortStream = errors.New("download: backend stream ended early")

// Resolver 按 id 查找未删除的文件记录。
type Resolver interface {
	Resolve(ctx context.Context, id int64) (*model.FileRecord, error)
}

// ObjectReader 下载所需的对象存储能力。
type ObjectReader interface {
	Stat(ctx context.Context, key string) (storage.ObjectInfo, error)
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
}

// Download 一次已打开的下载，调用方须调用 Relay 或 Close。
type Download struct {
	Status int
	Header http.Header
	Range  RangeSpec
	Record *model.FileRecord

	body      io.ReadCloser
	closeOnce sync.Once
}

// Close 关闭后端数据流，可重复调用。
func (d *Download) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.body != nil {
			err = d.body.Close()
		}
	})
	return err
}

// Streamer 解析记录、计算区间并从对象存储转发数据。
type Streamer struct {
	resolver Resolver
	store    ObjectReader
	bufSize  int
	pool     sync.Pool
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

func NewStreamer(resolver Resolver, store ObjectReader, bufferSize int, logger *logging.Logger, m *metrics.Metrics) *Streamer {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	s := &Streamer{
		resolver: resolver,
		store:    store,
		bufSize:  bufferSize,
		logger:   logger,
		metrics:  m,
	}
	s.pool.New = func() any {
		b := make([]byte, s.bufSize)
		return &b
	}
	return s
}

// Open 准备响应状态与响应头并打开后端区间流。
// 区间不可满足时同时返回带 Content-Range: bytes */size 的 Download 与 416 错误。
func (s *Streamer) Open(ctx context.Context, id int64, rangeHeader string) (*Download, error) {
	ctx, span := tracing.StartSpan(ctx, "download.Open")
	defer span.End()
	tracing.AddTag(ctx, "file.id", id)

	d, err := s.open(ctx, id, rangeHeader)
	if err != nil {
		tracing.SetError(ctx, err)
		status := http.StatusInternalServerError
		if e, ok := xerrors.FromError(err); ok {
			status = e.HTTPStatus()
		}
		s.metrics.ObserveDownload(strconv.Itoa(status), 0)
	}
	return d, err
}

func (s *Streamer) open(ctx context.Context, id int64, rangeHeader string) (*Download, error) {
	rec, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, xerrors.NotFound("file not found")
		}
		return nil, xerrors.Unavailable("metadata store unavailable", err)
	}

	// 大小与校验值以对象存储为准。
	info, err := s.store.Stat(ctx, rec.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.ErrorContext(ctx, "file record points to a missing object", "id", id, "object_key", rec.ObjectKey)
			return nil, xerrors.NotFound("file content not found")
		}
		return nil, xerrors.Unavailable("object store unavailable", err)
	}

	header := http.Header{}
	header.Set("Accept-Ranges", "bytes")

	rs, err := ParseRange(rangeHeader, info.Size)
	if err != nil {
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
		d := &Download{Status: http.StatusRequestedRangeNotSatisfiable, Header: header, Record: rec}
		return d, xerrors.RangeNotSatisfiable("requested range not satisfiable").WithDetail("range %q, size %d", rangeHeader, info.Size)
	}

	header.Set("Content-Type", "application/octet-stream")
	header.Set("Content-Length", strconv.FormatInt(rs.Length, 10))
	header.Set("Content-Disposition", contentDisposition(rec.OriginalFileName))
	if info.ETag != "" {
		header.Set("ETag", `"`+info.ETag+`"`)
	}
	if !info.LastModified.IsZero() {
		header.Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}

	d := &Download{Status: http.StatusOK, Header: header, Range: rs, Record: rec}
	if rs.Partial {
		d.Status = http.StatusPartialContent
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rs.Start, rs.End, info.Size))
	}
	if rs.Length == 0 {
		return d, nil
	}

	body, err := s.store.GetRange(ctx, rec.ObjectKey, rs.Start, rs.Length)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, xerrors.NotFound("file content not found")
		}
		return nil, xerrors.Unavailable("object store unavailable", err)
	}
	d.body = body
	return d, nil
}

// contentDisposition 非 ASCII 文件名按 RFC 2231 编码。
func contentDisposition(name string) string {
	if name == "" {
		return "attachment"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

// Relay 将恰好 Range.Length 字节写入 w，返回实际写入的字节数。
// 上下文取消时立即停止；后端提前结束返回 ErrShortStream。
func (s *Streamer) Relay(ctx context.Context, w io.Writer, d *Download) (written int64, err error) {
	defer func() {
		_ = d.Close()
		status := strconv.Itoa(d.Status)
		if err != nil {
			status = "aborted"
		}
		s.metrics.ObserveDownload(status, written)
	}()

	if d.body == nil {
		return 0, nil
	}

	bp := s.pool.Get().(*[]byte)
	defer s.pool.Put(bp)
	buf := *bp

	remaining := d.Range.Length
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		chunk := buf[:min(int64(len(buf)), remaining)]
		n, rerr := d.body.Read(chunk)
		if n > 0 {
			wn, werr := w.Write(chunk[:n])
			written += int64(wn)
			remaining -= int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				if remaining > 0 {
					return written, ErrShortStream
				}
				break
			}
			return written, rerr
		}
	}
	return written, nil
}
