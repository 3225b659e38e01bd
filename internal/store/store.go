// Package store はgatewayが使うローカルのSQLiteストアを提供する。
//
// 外部財務APIから同期した参照データ（外部IDをキーにしたupsert）、
// ログイン用の利用者、同期状態を保持する。
// スキーマは migrations/ 配下のSQLで管理し、Open時に適用する。
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/fleetgate/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound は対象のレコードが存在しないことを表す。
var ErrNotFound = errors.New("レコードが見つかりません")

// timeLayout はTEXTカラムに保存する日時の形式。
const timeLayout = time.RFC3339Nano

// Store はSQLiteデータベースへのアクセスをまとめる。
type Store struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	now     func() time.Time
}

// Open はSQLiteデータベースを開き、未適用のマイグレーションを適用する。
// pathに ":memory:" を指定するとインメモリデータベースになる。
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// 書き込みを直列化し、インメモリDBを単一接続で共有する
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return New(db), nil
}

// New はマイグレーション済みのデータベースからStoreを生成する。
func New(db *sql.DB) *Store {
	return &Store{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:     time.Now,
	}
}

// DB は内部のデータベース接続を返す。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping はデータベースへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
