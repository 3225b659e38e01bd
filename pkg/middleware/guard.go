package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/fleetgate/pkg/ratelimit"
)

// contextKeyIdentity はGinコンテキストに検証済みの利用者を格納するキー。
const contextKeyIdentity = "identity"

// headerKeyUserID は検証済みの利用者IDを示すレスポンスヘッダーキー。
const headerKeyUserID = "X-User-ID"

// 401応答の reason。
const (
	ReasonMissing = "missing"
	ReasonInvalid = "invalid"
	ReasonExpired = "expired"
)

// RateLimitOptions はルート単位のレート制限設定。
type RateLimitOptions struct {
	// Window はカウンタのウィンドウ長。
	Window time.Duration
	// Max はウィンドウ内で受け付ける最大リクエスト数。
	Max int
}

// GuardOptions は Guard が適用する制御の設定。
type GuardOptions struct {
	// RequireAuth がtrueの場合、検証済みのセッショントークンを必須とする。
	RequireAuth bool
	// RateLimit がnilでない場合、利用者（またはIP）×ルート単位でレート制限する。
	RateLimit *RateLimitOptions
}

// Guard は認証とレート制限をまとめて適用するGinミドルウェアを返す。
//
// 認証に失敗した場合は401、レート制限を超えた場合は429で応答し、
// いずれの場合も後続のハンドラは呼ばれない。
// RequireAuthがfalseでもトークンがあれば利用者を解決し、レート制限のキーに使う。
func Guard(sessions *SessionManager, limiter *ratelimit.Limiter, opts GuardOptions, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if opts.RequireAuth {
			if !authenticate(c, sessions) {
				return
			}
		} else if sessions.Configured() {
			if id, err := sessions.Verify(tokenFromRequest(c)); err == nil {
				setIdentity(c, id)
			}
		}

		if opts.RateLimit != nil && limiter != nil {
			if !allowRequest(c, limiter, *opts.RateLimit, logger) {
				return
			}
		}

		c.Next()
	}
}

// RequireAuth は認証のみを適用するGinミドルウェアを返す。
func RequireAuth(sessions *SessionManager) gin.HandlerFunc {
	return Guard(sessions, nil, GuardOptions{RequireAuth: true}, nil)
}

// RequireRole は検証済みの利用者が指定ロールを持つ場合のみ後続を実行する。
// RequireAuth（または Guard）の後に適用する。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok || id.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// authenticate はトークンを検証し、成功した場合は利用者をコンテキストに設定する。
// 失敗した場合は応答を書き込み false を返す。
func authenticate(c *gin.Context, sessions *SessionManager) bool {
	if !sessions.Configured() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": ErrNotConfigured.Error(),
		})
		return false
	}

	id, err := sessions.Verify(tokenFromRequest(c))
	if err != nil {
		reason := ReasonInvalid
		switch {
		case errors.Is(err, ErrTokenMissing):
			reason = ReasonMissing
		case errors.Is(err, ErrTokenExpired):
			reason = ReasonExpired
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":  "認証が必要です",
			"reason": reason,
		})
		return false
	}

	setIdentity(c, id)
	return true
}

// allowRequest はレート制限の枠を消費する。
// 超過した場合は429を書き込み false を返す。ストア障害時は制限せずに通す。
func allowRequest(c *gin.Context, limiter *ratelimit.Limiter, opts RateLimitOptions, logger *zap.Logger) bool {
	key := rateLimitKey(c)
	d, err := limiter.Allow(c.Request.Context(), key, opts.Max, opts.Window)
	if err != nil {
		logger.Warn("レート制限の判定に失敗したため通過させます", zap.String("key", key), zap.Error(err))
		return true
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(opts.Max))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(max(opts.Max-d.Entry.Count, 0)))

	if !d.Allowed {
		retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       ratelimit.ErrLimitExceeded.Error(),
			"retry_after": retryAfter,
		})
		return false
	}
	return true
}

// rateLimitKey は（利用者IDまたはクライアントIP）×ルートのキーを返す。
func rateLimitKey(c *gin.Context) string {
	subject := "ip:" + c.ClientIP()
	if id, ok := GetIdentity(c); ok {
		subject = "user:" + id.UserID
	}
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return subject + "|" + route
}

// tokenFromRequest はセッションCookie、無ければBearerヘッダーからトークンを取り出す。
func tokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie != "" {
		return cookie
	}
	if token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); found {
		return strings.TrimSpace(token)
	}
	return ""
}

func setIdentity(c *gin.Context, id Identity) {
	c.Set(contextKeyIdentity, id)
	c.Header(headerKeyUserID, id.UserID)
}

// GetIdentity はGinコンテキストから検証済みの利用者を取得する。
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// 認証されていない場合は空文字列を返す。
func GetUserID(c *gin.Context) string {
	id, _ := GetIdentity(c)
	return id.UserID
}
