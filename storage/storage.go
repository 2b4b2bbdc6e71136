// Package storage 定义了面向上传会话与区间下载的对象存储接口，以及基于 MinIO 的实现.
package storage

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"
)

// ErrObjectNotFound 对象或分片上传不存在。
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStore 是上传/下载核心依赖的对象存储能力集合。
// 所有方法都是无状态调用，调用方负责传入请求上下文。
type ObjectStore interface {
	PartLister

	// Bucket 返回当前绑定的存储桶。
	Bucket() string

	// PresignPut 生成单次 PUT 上传地址，并将 Content-Type 绑定进签名。
	PresignPut(ctx context.Context, objectKey, contentType string, expiry time.Duration) (string, error)

	InitiateMultipart(ctx context.Context, objectKey, contentType string) (uploadID string, err error)
	PresignPart(ctx context.Context, objectKey, uploadID string, partNumber int, expiry time.Duration) (string, error)
	// CompleteMultipart 要求 parts 按分片号升序。
	CompleteMultipart(ctx context.Context, objectKey, uploadID string, parts []Part) error
	AbortMultipart(ctx context.Context, objectKey, uploadID string) error

	// Stat 返回对象元信息，对象不存在时返回 ErrObjectNotFound。
	Stat(ctx context.Context, objectKey string) (ObjectInfo, error)
	// GetRange 打开 [offset, offset+length) 的字节流，调用方负责关闭。
	GetRange(ctx context.Context, objectKey string, offset, length int64) (io.ReadCloser, error)
}

// PartLister 列出分片上传中已确认的分片，单次返回一页。
type PartLister interface {
	ListParts(ctx context.Context, objectKey, uploadID string, marker, maxParts int) (PartPage, error)
}

// Part 定义分片信息
type Part struct {
	PartNumber int
	ETag       string
	Size       int64
}

// PartPage 分片列表的一页。IsTruncated 为 true 时以 NextMarker 继续查询。
type PartPage struct {
	Parts       []Part
	NextMarker  int
	IsTruncated bool
}

// ObjectInfo 对象元信息，ETag 不含引号。
type ObjectInfo struct {
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// CollectParts 沿分页标记取回全部已上传分片，按分片号升序返回。
func CollectParts(ctx context.Context, lister PartLister, objectKey, uploadID string, pageSize int) ([]Part, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	var (
		parts  []Part
		marker int
	)
	for {
		page, err := lister.ListParts(ctx, objectKey, uploadID, marker, pageSize)
		if err != nil {
			return nil, err
		}
		parts = append(parts, page.Parts...)
		// 标记未前进时终止，避免后端返回异常分页导致死循环。
		if !page.IsTruncated || page.NextMarker <= marker {
			break
		}
		marker = page.NextMarker
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

// PartNumbers 提取分片号。
func PartNumbers(parts []Part) []int {
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		nums = append(nums, p.PartNumber)
	}
	return nums
}
