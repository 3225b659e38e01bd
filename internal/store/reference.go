package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// 参照データのテーブル名。
const (
	TableProducts  = "products"
	TableCustomers = "customers"
	TableOperators = "operators"
	TableOrders    = "orders"
)

// referenceTables はupsert可能なテーブル。テーブル名をSQLに埋め込む前に必ず照合する。
var referenceTables = map[string]struct{}{
	TableProducts:  {},
	TableCustomers: {},
	TableOperators: {},
	TableOrders:    {},
}

// upsertBatchSize は1つのINSERT文にまとめる最大行数。
const upsertBatchSize = 200

// ErrUnknownTable は参照データのテーブルとして登録されていない名前を表す。
var ErrUnknownTable = errors.New("未知のテーブルです")

// Row は外部IDをキーにした参照データの1行。
type Row struct {
	// ExternalID は外部システムが割り当てた自然キー。
	ExternalID string
	// Payload は外部レコードのJSON表現。
	Payload []byte
}

func checkTable(table string) error {
	if _, ok := referenceTables[table]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return nil
}

// Upsert は外部IDをキーに行を挿入し、既に存在する場合は可変カラムを上書きする。
// 同じ行を何度upsertしても行数は増えない。
func (s *Store) Upsert(ctx context.Context, table string, rows []Row) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	syncedAt := formatTime(s.now())
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(rows))

		insert := s.builder.Insert(table).Columns("external_id", "payload", "synced_at")
		for _, r := range rows[start:end] {
			insert = insert.Values(r.ExternalID, string(r.Payload), syncedAt)
		}
		query, args, err := insert.
			Suffix("ON CONFLICT(external_id) DO UPDATE SET payload = excluded.payload, synced_at = excluded.synced_at").
			ToSql()
		if err != nil {
			return fmt.Errorf("upsert文の生成に失敗: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%sへのupsertに失敗: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// Count はテーブルの行数を返す。
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}

	query, args, err := s.builder.Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("件数取得文の生成に失敗: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%sの件数取得に失敗: %w", table, err)
	}
	return n, nil
}

// GetPayload は外部IDに対応する行のペイロードを返す。
func (s *Store) GetPayload(ctx context.Context, table, externalID string) ([]byte, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	query, args, err := s.builder.Select("payload").From(table).Where("external_id = ?", externalID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("取得文の生成に失敗: %w", err)
	}
	var payload string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%sの取得に失敗: %w", table, err)
	}
	return []byte(payload), nil
}
