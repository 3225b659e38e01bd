package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// SyncStatusRow は sync_status テーブルの1行。
type SyncStatusRow struct {
	Entity      string
	Status      string
	LastSyncAt  time.Time
	RecordCount int
	ErrorDetail string
}

// PutSyncStatus はエンティティの同期状態を保存する。
func (s *Store) PutSyncStatus(ctx context.Context, row SyncStatusRow) error {
	query, args, err := s.builder.Insert("sync_status").
		Columns("entity", "status", "last_sync_at", "record_count", "error_detail", "updated_at").
		Values(row.Entity, row.Status, formatTime(row.LastSyncAt), row.RecordCount, row.ErrorDetail, formatTime(s.now())).
		Suffix(`ON CONFLICT(entity) DO UPDATE SET
			status = excluded.status,
			last_sync_at = excluded.last_sync_at,
			record_count = excluded.record_count,
			error_detail = excluded.error_detail,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("同期状態保存文の生成に失敗: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("同期状態の保存に失敗: %w", err)
	}
	return nil
}

// GetSyncStatus はエンティティの同期状態を取得する。
func (s *Store) GetSyncStatus(ctx context.Context, entity string) (SyncStatusRow, error) {
	rows, err := s.querySyncStatus(ctx, sq.Eq{"entity": entity})
	if err != nil {
		return SyncStatusRow{}, err
	}
	if len(rows) == 0 {
		return SyncStatusRow{}, ErrNotFound
	}
	return rows[0], nil
}

// ListSyncStatus はすべての同期状態をエンティティ名順に返す。
func (s *Store) ListSyncStatus(ctx context.Context) ([]SyncStatusRow, error) {
	return s.querySyncStatus(ctx, nil)
}

func (s *Store) querySyncStatus(ctx context.Context, where sq.Sqlizer) ([]SyncStatusRow, error) {
	b := s.builder.
		Select("entity", "status", "last_sync_at", "record_count", "error_detail").
		From("sync_status").
		OrderBy("entity")
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("同期状態取得文の生成に失敗: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("同期状態の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []SyncStatusRow
	for rows.Next() {
		var r SyncStatusRow
		var lastSyncAt string
		if err := rows.Scan(&r.Entity, &r.Status, &lastSyncAt, &r.RecordCount, &r.ErrorDetail); err != nil {
			return nil, fmt.Errorf("同期状態の読み取りに失敗: %w", err)
		}
		if r.LastSyncAt, err = parseTime(lastSyncAt); err != nil {
			return nil, fmt.Errorf("最終同期日時の解析に失敗: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("同期状態の取得に失敗: %w", err)
	}
	return result, nil
}
