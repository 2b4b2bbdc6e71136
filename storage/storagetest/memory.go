// Package storagetest 提供内存版 ObjectStore，供上传与下载组件的测试使用.
package storagetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/filebroker/storage"
)

type object struct {
	data        []byte
	contentType string
	modTime     time.Time
}

type upload struct {
	key         string
	contentType string
	parts       map[int][]byte
}

// Store 内存对象存储。错误注入字段在调用前设置即可，非并发安全地修改它们。
type Store struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]object
	uploads map[string]*upload
	seq     int

	// MaxPageSize 限制 ListParts 单页返回数量，用于验证分页聚合。
	MaxPageSize int
	// ShortBy 使 GetRange 返回的数据比请求少若干字节。
	ShortBy int64

	InitErr     error
	PresignErr  error
	CompleteErr error
	ListErr     error
	StatErr     error

	InitCalls     int
	CompleteCalls int
	AbortCalls    int
	ListCalls     int
	GetRangeCalls int

	closes int
}

var _ storage.ObjectStore = (*Store)(nil)

// New 创建绑定到 bucket 的内存存储。
func New(bucket string) *Store {
	return &Store{
		bucket:  bucket,
		objects: make(map[string]object),
		uploads: make(map[string]*upload),
	}
}

func etag(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// PutObject 模拟客户端通过单次上传地址写入对象。
func (s *Store) PutObject(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: data, contentType: "application/octet-stream", modTime: time.Now().UTC()}
}

// UploadPart 模拟客户端通过分片地址写入一个分片。
func (s *Store) UploadPart(uploadID string, partNumber int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok {
		return storage.ErrObjectNotFound
	}
	u.parts[partNumber] = data
	return nil
}

// HasUpload 判断分片上传是否仍在进行。
func (s *Store) HasUpload(uploadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.uploads[uploadID]
	return ok
}

// Object 返回已存储对象的内容。
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	return o.data, ok
}

func (s *Store) Bucket() string { return s.bucket }

func (s *Store) PresignPut(_ context.Context, key, contentType string, expiry time.Duration) (string, error) {
	if s.PresignErr != nil {
		return "", s.PresignErr
	}
	return fmt.Sprintf("memory://%s/%s?content-type=%s&expires=%d", s.bucket, key, contentType, int(expiry.Seconds())), nil
}

func (s *Store) InitiateMultipart(_ context.Context, key, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InitCalls++
	if s.InitErr != nil {
		return "", s.InitErr
	}
	s.seq++
	id := fmt.Sprintf("upload-%d", s.seq)
	s.uploads[id] = &upload{key: key, contentType: contentType, parts: make(map[int][]byte)}
	return id, nil
}

func (s *Store) PresignPart(_ context.Context, key, uploadID string, partNumber int, expiry time.Duration) (string, error) {
	if s.PresignErr != nil {
		return "", s.PresignErr
	}
	return fmt.Sprintf("memory://%s/%s?uploadId=%s&partNumber=%d&expires=%d",
		s.bucket, key, uploadID, partNumber, int(expiry.Seconds())), nil
}

func (s *Store) ListParts(_ context.Context, key, uploadID string, marker, maxParts int) (storage.PartPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++
	if s.ListErr != nil {
		return storage.PartPage{}, s.ListErr
	}
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return storage.PartPage{}, storage.ErrObjectNotFound
	}
	if s.MaxPageSize > 0 && s.MaxPageSize < maxParts {
		maxParts = s.MaxPageSize
	}

	nums := make([]int, 0, len(u.parts))
	for n := range u.parts {
		if n > marker {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	page := storage.PartPage{}
	for i, n := range nums {
		if i == maxParts {
			page.IsTruncated = true
			break
		}
		page.Parts = append(page.Parts, storage.Part{PartNumber: n, ETag: etag(u.parts[n]), Size: int64(len(u.parts[n]))})
		page.NextMarker = n
	}
	return page, nil
}

func (s *Store) CompleteMultipart(_ context.Context, key, uploadID string, parts []storage.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CompleteCalls++
	if s.CompleteErr != nil {
		return s.CompleteErr
	}
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return storage.ErrObjectNotFound
	}

	var buf bytes.Buffer
	for i, p := range parts {
		if p.PartNumber != i+1 {
			return fmt.Errorf("invalid part order: %d at %d", p.PartNumber, i)
		}
		data, ok := u.parts[p.PartNumber]
		if !ok || etag(data) != p.ETag {
			return fmt.Errorf("invalid part %d", p.PartNumber)
		}
		buf.Write(data)
	}
	s.objects[key] = object{data: buf.Bytes(), contentType: u.contentType, modTime: time.Now().UTC()}
	delete(s.uploads, uploadID)
	return nil
}

func (s *Store) AbortMultipart(_ context.Context, _, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AbortCalls++
	delete(s.uploads, uploadID)
	return nil
}

func (s *Store) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatErr != nil {
		return storage.ObjectInfo{}, s.StatErr
	}
	o, ok := s.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{
		Size:         int64(len(o.data)),
		ETag:         etag(o.data),
		LastModified: o.modTime,
		ContentType:  o.contentType,
	}, nil
}

func (s *Store) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetRangeCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	end := min(offset+length, int64(len(o.data)))
	if offset > end {
		offset = end
	}
	end = max(offset, end-s.ShortBy)
	return &rangeBody{Reader: bytes.NewReader(o.data[offset:end]), store: s}, nil
}

// Closes 返回 GetRange 打开的数据流被关闭的次数。
func (s *Store) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type rangeBody struct {
	*bytes.Reader
	store *Store
}

func (b *rangeBody) Close() error {
	b.store.mu.Lock()
	b.store.closes++
	b.store.mu.Unlock()
	return nil
}
