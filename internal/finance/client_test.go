package finance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLedger は n 件のレコードを持つテーブルを offset/limit で返すテスト用サーバーを生成する。
func newLedger(t *testing.T, n int, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		page := []map[string]any{}
		for i := offset; i < n && i < offset+limit; i++ {
			page = append(page, map[string]any{"id": i + 1, "name": "item" + strconv.Itoa(i+1)})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestClient_FetchAll はページングの終了条件を検証する。
func TestClient_FetchAll(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		records   int
		pageSize  int
		wantCalls int32
	}{
		{name: "最後のページが短い場合はそこで終了すること", records: 5, pageSize: 2, wantCalls: 3},
		{name: "件数がページサイズの倍数の場合は空ページで終了すること", records: 4, pageSize: 2, wantCalls: 3},
		{name: "レコードがない場合は1回で終了すること", records: 0, pageSize: 2, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := newLedger(t, tt.records, &calls)
			c := New(Config{BaseURL: srv.URL, APIKey: "secret"})

			var ids []string
			total, err := c.FetchAll(context.Background(), "products", nil, tt.pageSize, func(page []Record) error {
				for _, r := range page {
					ids = append(ids, r.ID("id"))
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.records, total)
			assert.Len(t, ids, tt.records)
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.records > 0 {
				assert.Equal(t, "1", ids[0])
			}
		})
	}
}

// TestClient_FetchAll_APIKeyMissing はAPIキー未設定時に一度も呼び出さないことを検証する。
func TestClient_FetchAll_APIKeyMissing(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newLedger(t, 3, &calls)
	c := New(Config{BaseURL: srv.URL})

	_, err := c.FetchAll(context.Background(), "products", nil, 2, func([]Record) error { return nil })
	assert.ErrorIs(t, err, ErrAPIKeyMissing)
	assert.Zero(t, calls.Load())
}

// TestClient_FetchAll_CallbackError はコールバックのエラーで取得を中断することを検証する。
func TestClient_FetchAll_CallbackError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newLedger(t, 10, &calls)
	c := New(Config{BaseURL: srv.URL, APIKey: "secret"})

	boom := errors.New("boom")
	pages := 0
	total, err := c.FetchAll(context.Background(), "orders", nil, 3, func([]Record) error {
		pages++
		if pages == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, total)
	assert.Equal(t, int32(2), calls.Load())
}

// TestClient_FetchPage はリクエストの組み立てを検証する。
func TestClient_FetchPage(t *testing.T) {
	t.Parallel()

	var gotPath, gotFilter, gotLimit, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFilter = r.URL.Query().Get("filter")
		gotLimit = r.URL.Query().Get("limit")
		gotKey = r.Header.Get("X-Ledger-Key")
		_, _ = w.Write([]byte(`[{"code":"A-1"}]`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL + "/api/", APIKey: "k", APIKeyHeader: "X-Ledger-Key"})
	filters := append([]Filter{Eq("status", "open")}, Between("date", "2026-01-01", "2026-12-31")...)
	page, err := c.FetchPage(context.Background(), "orders", Query{Filters: filters, Limit: 50})
	require.NoError(t, err)

	assert.Equal(t, "/api/orders", gotPath)
	assert.Equal(t, "status = open;date >= 2026-01-01;date <= 2026-12-31", gotFilter)
	assert.Equal(t, "50", gotLimit)
	assert.Equal(t, "k", gotKey)
	require.Len(t, page, 1)
	assert.Equal(t, "A-1", page[0].ID("code"))
}

// TestClient_FetchPage_StatusError は2xx以外をエラーとして返すことを検証する。
func TestClient_FetchPage_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.FetchPage(context.Background(), "products", Query{Limit: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
}

// TestRecord_UnmarshalJSON は数値IDの桁と元のJSONが保たれることを検証する。
func TestRecord_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var page []Record
	require.NoError(t, json.Unmarshal([]byte(`[{"id":9007199254740993},{"id":9007199254740992,"code":"B-2"},{"name":"x"}]`), &page))
	require.Len(t, page, 3)

	assert.Equal(t, "9007199254740993", page[0].ID("id"))
	assert.Equal(t, "9007199254740992", page[1].ID("id"))
	assert.Equal(t, "B-2", page[1].ID("code"))
	assert.Empty(t, page[2].ID("id"))
	assert.Equal(t, `{"id":9007199254740993}`, string(page[0].Raw()))
}
