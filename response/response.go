// Package response 提供了统一的 HTTP 响应封装 `{code, msg, data}`，支持业务码与错误类型映射.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/xerrors"
)

// HTTPStatusProvider 定义了能够提供 HTTP 状态码的错误接口。
type HTTPStatusProvider interface {
	HTTPStatus() int
}

// Body 统一响应体。
type Body struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// Success 发送一个标准的成功响应：HTTP 200，业务码 200。
func Success(c *gin.Context, data any) {
	SuccessWithCode(c, xerrors.CodeSuccess, "success", data)
}

// SuccessWithCode 发送带业务码的成功响应，HTTP 状态码固定为 200。
// 秒传检查通过业务码 2001/2002/2003 区分状态。
func SuccessWithCode(c *gin.Context, code int, msg string, data any) {
	c.JSON(http.StatusOK, Body{Code: code, Msg: msg, Data: data})
}

// SuccessWithRawData 发送原始数据的成功响应 (不包装 code 和 msg)。
func SuccessWithRawData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Error 发送错误响应。
// *xerrors.Error 使用其 HTTP 映射与业务码；无法识别的错误兜底为 500，且不向外暴露原始信息。
func Error(c *gin.Context, err error) {
	if err == nil {
		Success(c, nil)
		return
	}

	if e, ok := xerrors.FromError(err); ok {
		c.JSON(e.HTTPStatus(), Body{Code: e.Code, Msg: e.Message})
		return
	}

	if p, ok := err.(HTTPStatusProvider); ok {
		status := p.HTTPStatus()
		c.JSON(status, Body{Code: status, Msg: http.StatusText(status)})
		return
	}

	c.JSON(http.StatusInternalServerError, Body{Code: xerrors.CodeFail, Msg: "internal server error"})
}

// ErrorWithStatus 发送一个带有指定 HTTP 状态码与消息的错误响应。
func ErrorWithStatus(c *gin.Context, status int, msg string) {
	c.JSON(status, Body{Code: status, Msg: msg})
}
