package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/fleetgate/pkg/middleware"
)

// forwardedMethods はバックエンドへ転送するメソッド。
var forwardedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// Gin は Dispatcher をGinのハンドラとして返す。
// 利用者ヘッダーはクライアントの値を捨て、認証済みの場合のみ検証済みの値で転送する。
func (d *Dispatcher) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := c.Request.Clone(c.Request.Context())
		req.Header.Del("X-User-ID")
		req.Header.Del("X-User-Role")
		if id, ok := middleware.GetIdentity(c); ok {
			req.Header.Set("X-User-ID", id.UserID)
			req.Header.Set("X-User-Role", id.Role)
		}
		resp := d.Handle(c.Request.Method, req)
		resp.Write(c.Writer)
		c.Abort()
	}
}

// Register は "/proxy/<name>/*path" にDispatcherを登録する。
// guardsは転送するメソッドにだけ適用し、OPTIONSには適用しない。
func Register(r gin.IRouter, d *Dispatcher, guards ...gin.HandlerFunc) {
	path := d.route.PathPrefix + "/*path"
	handler := d.Gin()

	r.OPTIONS(path, handler)
	handlers := make([]gin.HandlerFunc, 0, len(guards)+1)
	handlers = append(handlers, guards...)
	handlers = append(handlers, handler)
	r.Match(forwardedMethods, path, handlers...)
}
