package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// User はログイン可能な利用者。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// CreateUser は利用者を作成する。usernameが既に存在する場合は何もしない。
func (s *Store) CreateUser(ctx context.Context, u User) error {
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	query, args, err := s.builder.Insert("users").
		Columns("id", "username", "password_hash", "role", "created_at").
		Values(u.ID, u.Username, u.PasswordHash, u.Role, formatTime(createdAt)).
		Suffix("ON CONFLICT(username) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("利用者作成文の生成に失敗: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("利用者の作成に失敗: %w", err)
	}
	return nil
}

// GetUserByUsername はusernameで利用者を取得する。
func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, sq.Eq{"username": username})
}

// GetUserByID はIDで利用者を取得する。
func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, sq.Eq{"id": id})
}

func (s *Store) getUser(ctx context.Context, where sq.Eq) (User, error) {
	query, args, err := s.builder.
		Select("id", "username", "password_hash", "role", "created_at").
		From("users").
		Where(where).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("利用者取得文の生成に失敗: %w", err)
	}

	var u User
	var createdAt string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("利用者の取得に失敗: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return User{}, fmt.Errorf("作成日時の解析に失敗: %w", err)
	}
	return u, nil
}
