package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/fleetgate/internal/store"
)

// HashPassword はパスワードのbcryptハッシュを返す。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(hash), nil
}

// EnsureAdmin は管理者アカウントが存在しない場合に作成する。
// usernameかpasswordが空の場合は何もしない。既存アカウントのパスワードは変更しない。
func EnsureAdmin(ctx context.Context, users UserStore, username, password string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if username == "" || password == "" {
		return nil
	}

	_, err := users.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("管理者アカウントの確認に失敗: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := users.CreateUser(ctx, store.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         RoleAdmin,
	}); err != nil {
		return fmt.Errorf("管理者アカウントの作成に失敗: %w", err)
	}
	logger.Info("管理者アカウントを作成しました", zap.String("username", username))
	return nil
}
