package server

import (
	"github.com/gin-gonic/gin"
)

// NewDefaultGinEngine 创建一个不带默认中间件的 Gin 引擎，由调用方决定中间件顺序。
// trustedProxies 为空时不信任任何代理头，ClientIP 取连接对端地址。
func NewDefaultGinEngine(trustedProxies []string, middlewares ...gin.HandlerFunc) (*gin.Engine, error) {
	engine := gin.New()
	if err := engine.SetTrustedProxies(trustedProxies); err != nil {
		return nil, err
	}
	engine.Use(middlewares...)
	return engine, nil
}
