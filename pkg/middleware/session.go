package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName はセッショントークンを保持するCookie名。
const SessionCookieName = "fleetgate_session"

// sessionIssuer はトークンのiss。
const sessionIssuer = "fleetgate"

var (
	// ErrNotConfigured は署名用シークレットが設定されていないことを表す。
	ErrNotConfigured = errors.New("セッション署名用シークレットが設定されていません")
	// ErrTokenMissing はリクエストにトークンが含まれていないことを表す。
	ErrTokenMissing = errors.New("セッショントークンがありません")
	// ErrTokenInvalid はトークンの形式または署名が不正であることを表す。
	ErrTokenInvalid = errors.New("セッショントークンが無効です")
	// ErrTokenExpired はトークンの有効期限が切れていることを表す。
	ErrTokenExpired = errors.New("セッショントークンの有効期限が切れています")
)

// Identity は検証済みトークンから解決した利用者。
type Identity struct {
	// UserID は利用者の一意識別子。
	UserID string `json:"user_id"`
	// Role は利用者のロール（"admin" 等）。
	Role string `json:"role"`
}

// SessionClaims はセッショントークンのクレーム。
// issuedAt と expiry は RegisteredClaims の iat / exp で表す。
type SessionClaims struct {
	jwt.RegisteredClaims
	// UserID は利用者の一意識別子。
	UserID string `json:"user_id"`
	// Role は利用者のロール。
	Role string `json:"role"`
}

// SessionManager は署名付きセッショントークンの発行・検証・無効化を行う。
// サーバー側にセッションを保持しないため、ログアウト前に発行されたトークンは
// 有効期限まで他の経路からは引き続き有効である。
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessionManager は新しいSessionManagerを生成する。
// secureCookieがtrueの場合、CookieにSecure属性を付与する（本番環境向け）。
func NewSessionManager(secret string, ttl time.Duration, secureCookie bool) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
		secure: secureCookie,
		now:    time.Now,
	}
}

// Configured は署名用シークレットが設定されているかどうかを返す。
func (m *SessionManager) Configured() bool {
	return m != nil && len(m.secret) > 0
}

// Issue はログイン成功時にトークンを発行する。トークン文字列と有効期限を返す。
func (m *SessionManager) Issue(userID, role string) (string, time.Time, error) {
	if !m.Configured() {
		return "", time.Time{}, ErrNotConfigured
	}

	issuedAt := m.now()
	expiry := issuedAt.Add(m.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		UserID: userID,
		Role:   role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("セッショントークンの署名に失敗: %w", err)
	}
	return signed, expiry, nil
}

// Verify はトークンの署名と有効期限を検証し、利用者を返す。
func (m *SessionManager) Verify(token string) (Identity, error) {
	if !m.Configured() {
		return Identity{}, ErrNotConfigured
	}
	if token == "" {
		return Identity{}, ErrTokenMissing
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, ErrTokenExpired
	case err != nil:
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case claims.UserID == "":
		return Identity{}, ErrTokenInvalid
	}

	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// SetCookie はトークンをhttp-onlyのセッションCookieとして設定する。
func (m *SessionManager) SetCookie(c *gin.Context, token string, expiry time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiry,
		MaxAge:   int(expiry.Sub(m.now()).Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie は空の値と過去の有効期限でセッションCookieを上書きする。
func (m *SessionManager) ClearCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
