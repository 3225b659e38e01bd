package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var testFS = fstest.MapFS{
	"migrations/000002_add_items_name.up.sql": {Data: []byte(`ALTER TABLE items ADD COLUMN name TEXT NOT NULL DEFAULT '';`)},
	"migrations/000001_create_items.up.sql": {Data: []byte(`
CREATE TABLE items (id TEXT PRIMARY KEY);
CREATE INDEX idx_items_id ON items(id);
`)},
	"migrations/000001_create_items.down.sql": {Data: []byte(`DROP TABLE items;`)},
	"migrations/README.md":                    {Data: []byte(`ignored`)},
	"migrations/invalid_name.up.sql":          {Data: []byte(`SELECT 1;`)},
}

// TestCollect はファイルの収集と並び順を検証する。
func TestCollect(t *testing.T) {
	t.Parallel()

	files, err := Collect(testFS, "migrations")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 1, files[0].Version)
	assert.Equal(t, "create_items", files[0].Name)
	assert.Equal(t, 2, files[1].Version)
}

// TestRun はマイグレーションの適用を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("未適用のマイグレーションが順番に適用されること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		ctx := context.Background()

		n, err := Run(ctx, db, testFS, "migrations", nil)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = db.ExecContext(ctx, `INSERT INTO items (id, name) VALUES ('a', 'x')`)
		require.NoError(t, err)
	})

	t.Run("2回目の実行では何も適用されないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		ctx := context.Background()

		_, err := Run(ctx, db, testFS, "migrations", nil)
		require.NoError(t, err)

		n, err := Run(ctx, db, testFS, "migrations", nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("SQLエラーの場合はロールバックされバージョンが記録されないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		ctx := context.Background()
		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte(`CREATE TABLE ok (id TEXT); THIS IS NOT SQL;`)},
		}

		_, err := Run(ctx, db, broken, "m", nil)
		require.Error(t, err)

		var count int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
		assert.Zero(t, count)
	})
}
