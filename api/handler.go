// Package api 暴露文件上传与下载的 HTTP 接口.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/download"
	"github.com/wyfcoding/filebroker/filestore"
	"github.com/wyfcoding/filebroker/limiter"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/model"
	"github.com/wyfcoding/filebroker/pagination"
	"github.com/wyfcoding/filebroker/response"
	"github.com/wyfcoding/filebroker/upload"
	"github.com/wyfcoding/filebroker/xerrors"
)

type Checker interface {
	Check(ctx context.Context, fingerprint string) (*upload.CheckResult, error)
}

type Initializer interface {
	Init(ctx context.Context, req upload.InitRequest) (*upload.InitResult, error)
}

type Merger interface {
	Merge(ctx context.Context, fingerprint string) (string, error)
}

type Streamer interface {
	Open(ctx context.Context, id int64, rangeHeader string) (*download.Download, error)
	Relay(ctx context.Context, w io.Writer, d *download.Download) (int64, error)
}

// Deps 处理器依赖。Downloads 为空时不限制并发下载。
type Deps struct {
	Registry    Checker
	Coordinator Initializer
	Finalizer   Merger
	Streamer    Streamer
	Files       filestore.Repository
	Invalidator upload.Invalidator
	Downloads   *limiter.SemaphoreLimiter
	Logger      *logging.Logger
}

type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// progressView 上传中状态的响应数据，listParts 为已确认的分片号。
type progressView struct {
	*model.UploadSession
	ListParts []int `json:"listParts"`
}

// Check GET /files/check/:fingerprint
func (h *Handler) Check(c *gin.Context) {
	res, err := h.deps.Registry.Check(c.Request.Context(), c.Param("fingerprint"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	switch res.Status {
	case model.StatusAlreadyStored:
		response.SuccessWithCode(c, xerrors.CodeUploadSuccess, "file already uploaded", res.Record)
	case model.StatusInProgress:
		response.SuccessWithCode(c, xerrors.CodeUploading, "file is uploading", progressView{
			UploadSession: res.Session,
			ListParts:     res.ConfirmedParts,
		})
	default:
		response.SuccessWithCode(c, xerrors.CodeNotUploaded, "file not uploaded", nil)
	}
}

// Init POST /files/init
func (h *Handler) Init(c *gin.Context) {
	var req upload.InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(xerrors.InvalidArg("invalid request body").WithDetail("%v", err))
		return
	}

	res, err := h.deps.Coordinator.Init(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.Success(c, res)
}

// Merge POST /files/merge/:fingerprint
func (h *Handler) Merge(c *gin.Context) {
	url, err := h.deps.Finalizer.Merge(c.Request.Context(), c.Param("fingerprint"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.Success(c, gin.H{"url": url})
}

// Download GET /files/download/:id
func (h *Handler) Download(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if !h.deps.Downloads.TryAcquire() {
		_ = c.Error(xerrors.LimitExceeded("too many concurrent downloads"))
		return
	}
	defer h.deps.Downloads.Release()

	ctx := c.Request.Context()
	d, err := h.deps.Streamer.Open(ctx, id, c.GetHeader("Range"))
	if err != nil {
		if d != nil {
			copyHeader(c.Writer.Header(), d.Header)
		}
		_ = c.Error(err)
		return
	}

	copyHeader(c.Writer.Header(), d.Header)
	c.Status(d.Status)
	c.Writer.WriteHeaderNow()

	if _, err := h.deps.Streamer.Relay(ctx, c.Writer, d); err != nil {
		// 响应头已发出，只能记录并中断
		if !errors.Is(err, context.Canceled) {
			h.deps.Logger.WarnContext(ctx, "download relay aborted", "id", id, "error", err)
		}
		c.Abort()
	}
}

// List GET /files/list，携带 page_num 或 page_size 时返回分页结果。
func (h *Handler) List(c *gin.Context) {
	ctx := c.Request.Context()
	_, hasNum := c.GetQuery("page_num")
	_, hasSize := c.GetQuery("page_size")
	if !hasNum && !hasSize {
		records, _, err := h.deps.Files.List(ctx, nil)
		if err != nil {
			_ = c.Error(xerrors.Unavailable("metadata store unavailable", err))
			return
		}
		if records == nil {
			records = []model.FileRecord{}
		}
		response.Success(c, records)
		return
	}

	var page pagination.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(xerrors.InvalidArg("invalid pagination").WithDetail("%v", err))
		return
	}
	page.Validate()

	records, total, err := h.deps.Files.List(ctx, &page)
	if err != nil {
		_ = c.Error(xerrors.Unavailable("metadata store unavailable", err))
		return
	}
	response.Success(c, pagination.NewPageResult(total, page, records))
}

// Delete DELETE /files/:id 软删除记录，对象本身保留。
func (h *Handler) Delete(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	ctx := c.Request.Context()
	rec, err := h.deps.Files.SoftDelete(ctx, id)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			_ = c.Error(xerrors.NotFound("file not found"))
			return
		}
		_ = c.Error(xerrors.Unavailable("metadata store unavailable", err))
		return
	}
	if h.deps.Invalidator != nil {
		h.deps.Invalidator.Invalidate(ctx, id)
	}

	h.deps.Logger.InfoContext(ctx, "file record deleted", "id", id, "fingerprint", rec.Fingerprint)
	response.Success(c, nil)
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, xerrors.InvalidArg("invalid file id")
	}
	return id, nil
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = append(dst[k][:0], vs...)
	}
}
