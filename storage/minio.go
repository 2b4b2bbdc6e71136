package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wyfcoding/filebroker/breaker"
	"github.com/wyfcoding/filebroker/config"
)

const defaultContentType = "application/octet-stream"

// MinIOClient 实现了 ObjectStore 接口，对接 MinIO 或 S3 兼容存储系统。
// client 负责预签名与元信息，core 负责分片上传的底层接口。
type MinIOClient struct {
	mu      sync.RWMutex
	client  *minio.Client
	core    *minio.Core
	bucket  string
	breaker *breaker.Breaker
}

// NewMinIOClient 按配置构造 MinIO 驱动，进程启动时创建一次后注入各组件。
func NewMinIOClient(cfg config.MinioConfig, cb *breaker.Breaker) (*MinIOClient, error) {
	client, core, err := newMinioClients(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("minio_client initialized", "endpoint", cfg.Endpoint, "bucket", cfg.BucketName)

	return &MinIOClient{
		client:  client,
		core:    core,
		bucket:  cfg.BucketName,
		breaker: cb,
	}, nil
}

// IsNotFound 判断错误是否为对象不存在，熔断器据此不把它计为失败。
func IsNotFound(err error) bool {
	return err == nil || errors.Is(err, ErrObjectNotFound)
}

func (c *MinIOClient) snapshot() (*minio.Client, *minio.Core, string, error) {
	if c == nil {
		return nil, nil, "", errors.New("minio client is nil")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil || c.core == nil {
		return nil, nil, "", errors.New("minio client not initialized")
	}
	return c.client, c.core, c.bucket, nil
}

// Bucket 返回当前绑定的存储桶。
func (c *MinIOClient) Bucket() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bucket
}

func (c *MinIOClient) PresignPut(ctx context.Context, objectKey, contentType string, expiry time.Duration) (string, error) {
	client, _, bucket, err := c.snapshot()
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = defaultContentType
	}
	headers := http.Header{}
	headers.Set("Content-Type", contentType)

	u, err := breaker.ExecuteTyped(c.breaker, func() (*url.URL, error) {
		return client.PresignHeader(ctx, http.MethodPut, bucket, objectKey, expiry, nil, headers)
	})
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", objectKey, err)
	}
	return u.String(), nil
}

func (c *MinIOClient) InitiateMultipart(ctx context.Context, objectKey, contentType string) (string, error) {
	_, core, bucket, err := c.snapshot()
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = defaultContentType
	}
	uploadID, err := breaker.ExecuteTyped(c.breaker, func() (string, error) {
		return core.NewMultipartUpload(ctx, bucket, objectKey, minio.PutObjectOptions{ContentType: contentType})
	})
	if err != nil {
		return "", fmt.Errorf("initiate multipart upload %s: %w", objectKey, err)
	}
	return uploadID, nil
}

func (c *MinIOClient) PresignPart(ctx context.Context, objectKey, uploadID string, partNumber int, expiry time.Duration) (string, error) {
	client, _, bucket, err := c.snapshot()
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("uploadId", uploadID)
	params.Set("partNumber", strconv.Itoa(partNumber))

	u, err := breaker.ExecuteTyped(c.breaker, func() (*url.URL, error) {
		return client.Presign(ctx, http.MethodPut, bucket, objectKey, expiry, params)
	})
	if err != nil {
		return "", fmt.Errorf("presign part %d of %s: %w", partNumber, objectKey, err)
	}
	return u.String(), nil
}

func (c *MinIOClient) ListParts(ctx context.Context, objectKey, uploadID string, marker, maxParts int) (PartPage, error) {
	_, core, bucket, err := c.snapshot()
	if err != nil {
		return PartPage{}, err
	}
	res, err := breaker.ExecuteTyped(c.breaker, func() (minio.ListObjectPartsResult, error) {
		r, err := core.ListObjectParts(ctx, bucket, objectKey, uploadID, marker, maxParts)
		return r, translate(err)
	})
	if err != nil {
		return PartPage{}, fmt.Errorf("list parts of %s: %w", objectKey, err)
	}

	page := PartPage{
		Parts:       make([]Part, 0, len(res.ObjectParts)),
		NextMarker:  res.NextPartNumberMarker,
		IsTruncated: res.IsTruncated,
	}
	for _, p := range res.ObjectParts {
		page.Parts = append(page.Parts, Part{PartNumber: p.PartNumber, ETag: p.ETag, Size: p.Size})
	}
	return page, nil
}

func (c *MinIOClient) CompleteMultipart(ctx context.Context, objectKey, uploadID string, parts []Part) error {
	_, core, bucket, err := c.snapshot()
	if err != nil {
		return err
	}
	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completeParts = append(completeParts, minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	err = breaker.Do(c.breaker, func() error {
		_, err := core.CompleteMultipartUpload(ctx, bucket, objectKey, uploadID, completeParts, minio.PutObjectOptions{})
		return translate(err)
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload %s: %w", objectKey, err)
	}
	return nil
}

func (c *MinIOClient) AbortMultipart(ctx context.Context, objectKey, uploadID string) error {
	_, core, bucket, err := c.snapshot()
	if err != nil {
		return err
	}
	return breaker.Do(c.breaker, func() error {
		return translate(core.AbortMultipartUpload(ctx, bucket, objectKey, uploadID))
	})
}

func (c *MinIOClient) Stat(ctx context.Context, objectKey string) (ObjectInfo, error) {
	client, _, bucket, err := c.snapshot()
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := breaker.ExecuteTyped(c.breaker, func() (minio.ObjectInfo, error) {
		oi, err := client.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
		return oi, translate(err)
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{
		Size:         info.Size,
		ETag:         strings.Trim(info.ETag, `"`),
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
	}, nil
}

func (c *MinIOClient) GetRange(ctx context.Context, objectKey string, offset, length int64) (io.ReadCloser, error) {
	_, core, bucket, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, err
	}
	body, err := breaker.ExecuteTyped(c.breaker, func() (io.ReadCloser, error) {
		rc, _, _, err := core.GetObject(ctx, bucket, objectKey, opts)
		return rc, translate(err)
	})
	if err != nil {
		return nil, fmt.Errorf("open range %d+%d of %s: %w", offset, length, objectKey, err)
	}
	return body, nil
}

// Ping 探测存储桶是否可访问，供就绪检查使用。
func (c *MinIOClient) Ping(ctx context.Context) error {
	client, _, bucket, err := c.snapshot()
	if err != nil {
		return err
	}
	ok, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	return nil
}

// UpdateConfig 使用最新配置刷新 MinIO 客户端。
func (c *MinIOClient) UpdateConfig(cfg config.MinioConfig) error {
	if c == nil {
		return errors.New("minio client is nil")
	}
	client, core, err := newMinioClients(cfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.core = core
	c.bucket = cfg.BucketName
	c.mu.Unlock()

	slog.Info("minio client updated", "endpoint", cfg.Endpoint, "bucket", cfg.BucketName)
	return nil
}

// RegisterReloadHook 注册 MinIO 客户端热更新回调。
func RegisterReloadHook(client *MinIOClient) {
	if client == nil {
		return
	}
	config.RegisterReloadHook(func(updated *config.Config) {
		if updated == nil {
			return
		}
		if err := client.UpdateConfig(updated.Minio); err != nil {
			slog.Error("minio client reload failed", "error", err)
		}
	})
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchUpload":
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}

func newMinioClients(cfg config.MinioConfig) (*minio.Client, *minio.Core, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		slog.Error("failed to create minio client", "endpoint", cfg.Endpoint, "error", err)
		return nil, nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	core, err := minio.NewCore(cfg.Endpoint, opts)
	if err != nil {
		slog.Error("failed to create minio core client", "endpoint", cfg.Endpoint, "error", err)
		return nil, nil, fmt.Errorf("failed to create minio core client: %w", err)
	}

	return client, core, nil
}
