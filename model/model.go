// Package model 定义文件记录与上传会话的数据结构.
package model

import (
	"time"

	"gorm.io/gorm"
)

// FileRecord 已完成上传的文件元数据，合并成功时写入一次，之后只允许软删除。
type FileRecord struct {
	ID               int64          `gorm:"primaryKey;autoIncrement:false"     json:"id,string"`
	Fingerprint      string         `gorm:"size:128;not null;uniqueIndex"      json:"fingerprint"`
	UploadID         string         `gorm:"size:255"                           json:"uploadId"`
	ObjectKey        string         `gorm:"size:768;not null"                  json:"objectKey"`
	Bucket           string         `gorm:"size:64;not null"                   json:"bucket"`
	URL              string         `gorm:"column:url;size:1024;not null"      json:"url"`
	OriginalFileName string         `gorm:"size:512;not null"                  json:"originalFileName"`
	Size             int64          `gorm:"not null"                           json:"size"`
	Type             string         `gorm:"size:32"                            json:"type"`
	ContentType      string         `gorm:"size:128"                           json:"contentType"`
	ChunkSize        int64          `json:"chunkSize"`
	ChunkCount       int            `json:"chunkCount"`
	DeletedAt        gorm.DeletedAt `gorm:"index"                              json:"-"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// TableName 表名为 files。
func (FileRecord) TableName() string {
	return "files"
}

// UploadSession 进行中的上传会话，保存在缓存中，过期即失效。
// 已上传的分片不在会话里记录，每次都以对象存储返回的分片列表为准。
type UploadSession struct {
	Fingerprint      string    `json:"fingerprint"`
	OriginalFileName string    `json:"originalFileName"`
	Size             int64     `json:"size"`
	ChunkSize        int64     `json:"chunkSize"`
	ChunkCount       int       `json:"chunkCount"`
	ContentType      string    `json:"contentType"`
	ObjectKey        string    `json:"objectKey"`
	Type             string    `json:"type"`
	UploadID         string    `json:"uploadId"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SingleShot 单分片会话走一次 PUT 上传，不创建分片上传。
func (s *UploadSession) SingleShot() bool {
	return s.ChunkCount <= 1
}

// Status 指纹检查结果。
type Status int

const (
	StatusNotUploaded Status = iota
	StatusInProgress
	StatusAlreadyStored
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusAlreadyStored:
		return "ALREADY_STORED"
	default:
		return "NOT_UPLOADED"
	}
}
