package xerrors

// 业务码，沿用文件服务对外约定的编号。
const (
	CodeSuccess             = 200
	CodeFail                = 500
	CodeUploadSuccess       = 2001 // 已存在，可秒传
	CodeUploading           = 2002 // 上传中，可断点续传
	CodeNotUploaded         = 2003
	CodeUploadFileFailed    = 5001
	CodeMergeFileFailed     = 5002
	CodeInvalidArg          = 400
	CodeNotFound            = 404
	CodeConflict            = 409
	CodeRangeNotSatisfiable = 416
	CodeTooManyRequests     = 429
)

// DefaultCode 返回错误大类对应的默认业务码。
func DefaultCode(t ErrorType) int {
	switch t {
	case ErrInvalidArg:
		return CodeInvalidArg
	case ErrNotFound:
		return CodeNotFound
	case ErrAlreadyExists:
		return CodeUploadSuccess
	case ErrConflict:
		return CodeConflict
	case ErrLimitExceeded:
		return CodeTooManyRequests
	case ErrUploadInit:
		return CodeUploadFileFailed
	case ErrUploadMerge:
		return CodeMergeFileFailed
	case ErrRangeNotSatisfiable:
		return CodeRangeNotSatisfiable
	default:
		return CodeFail
	}
}

// --- 快捷构造工具 ---

func Internal(msg string, cause error) *Error {
	return New(ErrInternal, CodeFail, msg, "", cause)
}

func InvalidArg(msg string) *Error {
	return New(ErrInvalidArg, CodeInvalidArg, msg, "", nil)
}

func NotFound(msg string) *Error {
	return New(ErrNotFound, CodeNotFound, msg, "", nil)
}

// AlreadyStored 文件已完整存储，调用方应走秒传。
func AlreadyStored(msg string) *Error {
	return New(ErrAlreadyExists, CodeUploadSuccess, msg, "", nil)
}

func Conflict(msg string, cause error) *Error {
	return New(ErrConflict, CodeConflict, msg, "", cause)
}

// Unavailable 依赖组件（缓存、数据库、对象存储）不可用。
func Unavailable(msg string, cause error) *Error {
	return New(ErrUnavailable, CodeFail, msg, "", cause)
}

// DeadlineExceeded 请求在等待依赖时被取消或超时。
func DeadlineExceeded(msg string, cause error) *Error {
	return New(ErrDeadlineExceeded, CodeFail, msg, "", cause)
}

func UploadInitFailed(msg string, cause error) *Error {
	return New(ErrUploadInit, CodeUploadFileFailed, msg, "", cause)
}

func UploadMergeFailed(msg string, cause error) *Error {
	return New(ErrUploadMerge, CodeMergeFileFailed, msg, "", cause)
}

func RangeNotSatisfiable(msg string) *Error {
	return New(ErrRangeNotSatisfiable, CodeRangeNotSatisfiable, msg, "", nil)
}

func LimitExceeded(msg string) *Error {
	return New(ErrLimitExceeded, CodeTooManyRequests, msg, "", nil)
}
