// Package xerrors 提供带类型、业务码与调用栈的增强型错误，并负责映射到 HTTP 状态码.
package xerrors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType 错误的大类
type ErrorType uint

const (
	ErrUnknown ErrorType = iota
	ErrInternal
	ErrInvalidArg
	ErrNotFound
	ErrAlreadyExists
	ErrConflict
	ErrDeadlineExceeded
	ErrUnavailable
	ErrLimitExceeded
	ErrUploadInit
	ErrUploadMerge
	ErrRangeNotSatisfiable
)

// Error 增强型错误结构
type Error struct {
	Type    ErrorType      `json:"type"`
	Code    int            `json:"code"`    // 业务自定义错误码
	Message string         `json:"message"` // 对外展示的友好消息
	Detail  string         `json:"detail"`  // 对内调试的详细信息
	Cause   error          `json:"-"`       // 原始错误
	Stack   []string       `json:"stack"`
	Context map[string]any `json:"context"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %d: %s (Cause: %v)", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %d: %s", e.Type, e.Code, e.Message)
}

// Unwrap 实现 Go 1.13 解包接口
func (e *Error) Unwrap() error {
	return e.Cause
}

var typeNames = [...]string{
	"Unknown", "Internal", "InvalidArg", "NotFound", "AlreadyExists", "Conflict",
	"DeadlineExceeded", "Unavailable", "LimitExceeded", "UploadInit", "UploadMerge",
	"RangeNotSatisfiable",
}

func (t ErrorType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// --- 核心构造函数 ---

// New 创建新错误并自动捕获堆栈
func New(errType ErrorType, code int, message string, detail string, cause error) *Error {
	e := &Error{
		Type:    errType,
		Code:    code,
		Message: message,
		Detail:  detail,
		Cause:   cause,
		Context: make(map[string]any),
	}
	e.captureStack()
	return e
}

// captureStack 捕获当前调用栈 (深度限制 10 层)
func (e *Error) captureStack() {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		e.Stack = append(e.Stack, fmt.Sprintf("%s:%d (%s)", frame.File, frame.Line, frame.Function))
		if !more || len(e.Stack) >= depth {
			break
		}
	}
}

// --- 链式 API ---

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap 包装现有错误并捕获堆栈。
// 若 err 链上已有 *Error，则保留其类型与业务码，只补充消息。
func Wrap(err error, errType ErrorType, msg string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := FromError(err); ok {
		return New(e.Type, e.Code, msg, e.Message, err)
	}
	return New(errType, DefaultCode(errType), msg, "", err)
}

// WrapInternal 快速包装内部服务器错误
func WrapInternal(err error, msg string) *Error {
	return Wrap(err, ErrInternal, msg)
}

// --- 协议转换 ---

// HTTPStatus 自动映射 HTTP 状态码
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case ErrInvalidArg:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyExists, ErrConflict:
		return http.StatusConflict
	case ErrLimitExceeded:
		return http.StatusTooManyRequests
	case ErrDeadlineExceeded:
		return http.StatusGatewayTimeout
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	case ErrUploadInit, ErrUploadMerge:
		return http.StatusBadGateway
	case ErrRangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}

// FromError 沿错误链查找 *Error。
func FromError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsType 判断错误链上是否存在指定类型的 *Error。
func IsType(err error, t ErrorType) bool {
	e, ok := FromError(err)
	return ok && e.Type == t
}
