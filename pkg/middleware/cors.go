package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods = "GET,POST,PUT,DELETE,OPTIONS,PATCH"
	corsAllowHeaders = "Content-Type,Authorization,X-Requested-With"
	corsMaxAge       = "86400"
)

// CORSPolicy はOriginの許可リストと、それに基づくCORSヘッダーの計算を保持する。
//
// 許可リストの要素は完全一致（"https://app.example.com"）か、
// サブドメインのワイルドカード（"https://*.example.com"）のいずれか。
// ポートを含まないワイルドカードは任意のポートに一致し、
// ポートを含むワイルドカード（"https://*.example.com:8443"）はそのポートにのみ一致する。
type CORSPolicy struct {
	exact         map[string]struct{}
	wildcards     []wildcardOrigin
	defaultOrigin string
}

// wildcardOrigin は "scheme://*.domain" 形式の許可パターン。
type wildcardOrigin struct {
	scheme string
	suffix string // ".example.com" または ".example.com:8443"
	port   bool
}

// NewCORSPolicy は許可リストとデフォルトOriginからCORSPolicyを生成する。
// 許可リストに一致しないOriginには defaultOrigin を返す。
func NewCORSPolicy(allowedOrigins []string, defaultOrigin string) *CORSPolicy {
	p := &CORSPolicy{
		exact:         make(map[string]struct{}, len(allowedOrigins)),
		defaultOrigin: defaultOrigin,
	}
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		scheme, host, ok := strings.Cut(o, "://")
		if ok && strings.HasPrefix(host, "*.") {
			p.wildcards = append(p.wildcards, wildcardOrigin{
				scheme: scheme,
				suffix: strings.TrimPrefix(host, "*"),
				port:   strings.Contains(host, ":"),
			})
			continue
		}
		p.exact[o] = struct{}{}
	}
	return p
}

// Allowed はOriginが許可リストに一致するかどうかを返す。
func (p *CORSPolicy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if _, ok := p.exact[origin]; ok {
		return true
	}
	if len(p.wildcards) == 0 {
		return false
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	for _, w := range p.wildcards {
		if u.Scheme != w.scheme {
			continue
		}
		host := u.Hostname()
		if w.port {
			host = u.Host
		}
		// "*.example.com" は "example.com" 自体には一致しない
		if strings.HasSuffix(host, w.suffix) && len(host) > len(w.suffix) {
			return true
		}
	}
	return false
}

// AllowOrigin はレスポンスの Access-Control-Allow-Origin に設定する値を返す。
func (p *CORSPolicy) AllowOrigin(origin string) string {
	if p.Allowed(origin) {
		return origin
	}
	return p.defaultOrigin
}

// Apply はリクエストのOriginから計算したCORSヘッダーをhに設定する。
func (p *CORSPolicy) Apply(h http.Header, origin string) {
	if allow := p.AllowOrigin(origin); allow != "" {
		h.Set("Access-Control-Allow-Origin", allow)
	} else {
		h.Del("Access-Control-Allow-Origin")
	}
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Max-Age", corsMaxAge)
	h.Add("Vary", "Origin")
}

// CORS はすべてのレスポンスにCORSヘッダーを付与するGinミドルウェアを返す。
// OPTIONSリクエストには後続のハンドラを呼ばずに200で応答する。
func CORS(policy *CORSPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		policy.Apply(c.Writer.Header(), c.GetHeader("Origin"))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}
