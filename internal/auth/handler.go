// Package auth はログイン・ログアウト・利用者確認のHTTPハンドラを提供する。
//
// 資格情報はローカルストアの users テーブルにbcryptハッシュで保持し、
// ログインに成功するとセッショントークンを発行してCookieに設定する。
// サーバー側にセッションを保持しないため、ログアウトはCookieの消去のみを行う。
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/fleetgate/internal/store"
	"github.com/nao1215/fleetgate/pkg/middleware"
)

// 利用者のロール。
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// UserStore は利用者の保存先。
type UserStore interface {
	CreateUser(ctx context.Context, u store.User) error
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

// dummyHash は存在しない利用者でもbcryptの比較を行い、応答時間を揃えるためのハッシュ。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("fleetgate-dummy-password"), bcrypt.DefaultCost)

// Handler は認証関連のHTTPハンドラ。
type Handler struct {
	users    UserStore
	sessions *middleware.SessionManager
	logger   *zap.Logger
}

// NewHandler は新しい Handler を生成する。
func NewHandler(users UserStore, sessions *middleware.SessionManager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, sessions: sessions, logger: logger}
}

// loginRequest はログインのリクエストボディ。
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は資格情報を検証し、セッショントークンを発行するハンドラを返す。
// トークンはCookieに設定し、Cookieを使わない呼び出し元のためにボディでも返す。
func (h *Handler) Login() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.sessions.Configured() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": middleware.ErrNotConfigured.Error()})
			return
		}

		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ユーザー名とパスワードを指定してください"})
			return
		}

		user, err := h.users.GetUserByUsername(c.Request.Context(), strings.TrimSpace(req.Username))
		switch {
		case errors.Is(err, store.ErrNotFound):
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			h.rejectLogin(c, req.Username)
			return
		case err != nil:
			h.logger.Error("利用者の取得に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログイン処理に失敗しました"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			h.rejectLogin(c, req.Username)
			return
		}

		token, expiry, err := h.sessions.Issue(user.ID, user.Role)
		if err != nil {
			h.logger.Error("トークンの発行に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}
		h.sessions.SetCookie(c, token, expiry)

		h.logger.Info("ログインしました", zap.String("user_id", user.ID))
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"user_id":    user.ID,
			"username":   user.Username,
			"role":       user.Role,
			"expires_at": expiry.UTC(),
		})
	}
}

func (h *Handler) rejectLogin(c *gin.Context, username string) {
	h.logger.Info("ログインに失敗しました", zap.String("username", username), zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザー名またはパスワードが正しくありません"})
}

// Logout はセッションCookieを消去するハンドラを返す。
// 発行済みのトークン自体は有効期限まで失効しない。
func (h *Handler) Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.sessions.ClearCookie(c)
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
	}
}

// Me は検証済みの利用者を返すハンドラを返す。認証必須のルートに登録する。
func (h *Handler) Me() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です", "reason": middleware.ReasonMissing})
			return
		}

		resp := gin.H{"user_id": id.UserID, "role": id.Role}
		user, err := h.users.GetUserByID(c.Request.Context(), id.UserID)
		switch {
		case err == nil:
			resp["username"] = user.Username
		case !errors.Is(err, store.ErrNotFound):
			h.logger.Warn("利用者の取得に失敗しました", zap.String("user_id", id.UserID), zap.Error(err))
		}
		c.JSON(http.StatusOK, resp)
	}
}
