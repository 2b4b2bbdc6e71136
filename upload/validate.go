package upload

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wyfcoding/filebroker/xerrors"
)

var fingerprintPattern = regexp.MustCompile(`^[0-9a-fA-F]{16,128}$`)

// InitRequest 初始化上传的请求参数。
type InitRequest struct {
	Fingerprint      string `json:"fingerprint"      validate:"required,fingerprint"`
	OriginalFileName string `json:"originalFileName" validate:"required,max=255"`
	Size             int64  `json:"size"             validate:"gte=0"`
	ChunkSize        int64  `json:"chunkSize"        validate:"gte=0"`
	ChunkCount       int    `json:"chunkCount"       validate:"gte=1,lte=10000"` // 上限与 S3 分片数上限一致
	ContentType      string `json:"contentType"      validate:"max=128"`
	// UploadID 客户端回传的分片上传标识，仅用于日志比对，以会话中的值为准。
	UploadID string `json:"uploadId"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("fingerprint", func(fl validator.FieldLevel) bool {
		return fingerprintPattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidFingerprint 校验指纹格式。
func ValidFingerprint(fp string) bool {
	return fingerprintPattern.MatchString(fp)
}

// NormalizeFingerprint 统一转为小写，避免大小写不同的同一摘要被视为两个文件。
func NormalizeFingerprint(fp string) string {
	return strings.ToLower(strings.TrimSpace(fp))
}

func (r *InitRequest) validate() error {
	r.Fingerprint = NormalizeFingerprint(r.Fingerprint)
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return xerrors.InvalidArg("invalid init request").WithDetail("field %s failed on %s", fe.Field(), fe.Tag())
		}
		return xerrors.InvalidArg("invalid init request").WithDetail("%v", err)
	}
	if r.ChunkCount > 1 && r.ChunkSize <= 0 {
		return xerrors.InvalidArg("chunkSize is required for multipart uploads")
	}
	return nil
}

func checkFingerprint(fp string) (string, error) {
	fp = NormalizeFingerprint(fp)
	if !ValidFingerprint(fp) {
		return "", xerrors.InvalidArg("invalid fingerprint")
	}
	return fp, nil
}
