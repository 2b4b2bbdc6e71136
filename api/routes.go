package api

import (
	"github.com/gin-gonic/gin"
)

// DownloadPathPrefix 下载路由前缀，超时中间件据此跳过长连接。
const DownloadPathPrefix = "/files/download/"

// Register 注册文件接口，/files/multipart/* 为旧客户端保留的路径。
func (h *Handler) Register(r gin.IRouter) {
	files := r.Group("/files")

	files.GET("/check/:fingerprint", h.Check)
	files.POST("/init", h.Init)
	files.POST("/merge/:fingerprint", h.Merge)
	files.GET("/download/:id", h.Download)
	files.GET("/list", h.List)
	files.DELETE("/:id", h.Delete)

	legacy := files.Group("/multipart")
	legacy.GET("/check/:fingerprint", h.Check)
	legacy.POST("/init", h.Init)
	legacy.POST("/merge/:fingerprint", h.Merge)
}
