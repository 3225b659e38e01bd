package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nao1215/fleetgate/internal/auth"
	"github.com/nao1215/fleetgate/internal/config"
	"github.com/nao1215/fleetgate/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testAdminUser     = "admin"
	testAdminPassword = "gateway-admin-pw"
	testFinanceKey    = "gateway-finance-key"
)

// newTestServer はインメモリSQLiteを使うServerを Open で生成する。
// environ は既定のテスト設定に上書きで追加される。
func newTestServer(t *testing.T, environ map[string]string) *Server {
	t.Helper()

	base := map[string]string{
		"APP_ENV":        config.EnvTest,
		"DATABASE_PATH":  ":memory:",
		"SESSION_SECRET": "gateway-test-secret",
		"ADMIN_USER":     testAdminUser,
		"ADMIN_PASSWORD": testAdminPassword,
	}
	for k, v := range environ {
		base[k] = v
	}
	cfg, err := config.LoadFrom(base)
	require.NoError(t, err)

	s, err := Open(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newFinanceServer は各テーブルにcount件のレコードを返す財務APIを起動する。
func newFinanceServer(t *testing.T, count int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != testFinanceKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		table := strings.TrimPrefix(r.URL.Path, "/")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		page := []map[string]any{}
		for i := offset; i < count && i < offset+limit; i++ {
			page = append(page, map[string]any{"id": table + "-" + strconv.Itoa(i)})
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(s *Server, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	s.Handler().ServeHTTP(w, req)
	return w
}

// loginToken はログインしてセッショントークンを返す。
func loginToken(t *testing.T, s *Server, username, password string) string {
	t.Helper()

	body := `{"username":"` + username + `","password":"` + password + `"}`
	w := do(s, http.MethodPost, "/auth/login", "", strings.NewReader(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

// TestServer_Health はヘルスチェックを検証する。
func TestServer_Health(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	w := do(s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

// TestServer_Diagnostics は設定不足が警告として報告され、200で応答することを検証する。
func TestServer_Diagnostics(t *testing.T) {
	t.Parallel()

	t.Run("設定不足の場合はdegraded", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, map[string]string{
			"SESSION_SECRET":      "",
			"ORDERS_EXTERNAL_URL": "http://orders.example.com",
		})
		w := do(s, http.MethodGet, "/diagnostics", "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decode(t, w)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, false, body["authAvailable"])
		assert.Equal(t, false, body["syncAvailable"])
		assert.Equal(t, "ok", body["database"])
		assert.Equal(t, "memory", body["rateLimitStore"])
		assert.NotEmpty(t, body["warnings"])
		routes, ok := body["routes"].([]any)
		require.True(t, ok)
		require.Len(t, routes, 1)
		assert.Equal(t, "/proxy/orders", routes[0].(map[string]any)["prefix"])
		sync, ok := body["sync"].([]any)
		require.True(t, ok)
		assert.Len(t, sync, 4)
	})

	t.Run("自己疎通確認に失敗しても200", func(t *testing.T) {
		t.Parallel()

		fin := newFinanceServer(t, 0)
		s := newTestServer(t, map[string]string{
			"FINANCE_BASE_URL": fin.URL,
			"FINANCE_API_KEY":  testFinanceKey,
			"SELF_URL":         "http://127.0.0.1:1",
		})
		w := do(s, http.MethodGet, "/diagnostics", "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decode(t, w)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, true, body["syncAvailable"])
		probe, ok := body["selfProbe"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, false, probe["ok"])
	})

	t.Run("自己疎通確認に成功すればok", func(t *testing.T) {
		t.Parallel()

		fin := newFinanceServer(t, 0)
		s := newTestServer(t, map[string]string{
			"FINANCE_BASE_URL": fin.URL,
			"FINANCE_API_KEY":  testFinanceKey,
		})
		self := httptest.NewServer(s.Handler())
		t.Cleanup(self.Close)
		s.cfg.SelfURL = self.URL

		w := do(s, http.MethodGet, "/diagnostics", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "ok", body["status"], body["warnings"])
		probe, ok := body["selfProbe"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, probe["ok"])
	})
}

// TestServer_Proxy は認証とプロキシの組み合わせを検証する。
func TestServer_Proxy(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var gotPath, gotUser atomic.Value
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotPath.Store(r.URL.RequestURI())
		gotUser.Store(r.Header.Get("X-User-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	t.Cleanup(backend.Close)

	s := newTestServer(t, map[string]string{
		"ORDERS_EXTERNAL_URL": backend.URL,
		"AUTH_EXTERNAL_URL":   backend.URL,
	})

	t.Run("未認証は401で転送しない", func(t *testing.T) {
		w := do(s, http.MethodGet, "/proxy/orders/items", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Zero(t, calls.Load())
	})

	t.Run("OPTIONSは転送せず200", func(t *testing.T) {
		w := do(s, http.MethodOptions, "/proxy/orders/items", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Zero(t, calls.Load())
	})

	t.Run("認証済みなら転送する", func(t *testing.T) {
		token := loginToken(t, s, testAdminUser, testAdminPassword)
		admin, err := s.deps.Store.GetUserByUsername(context.Background(), testAdminUser)
		require.NoError(t, err)

		w := do(s, http.MethodGet, "/proxy/orders/items?page=2", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"items":[]}`, w.Body.String())
		assert.Equal(t, "/items?page=2", gotPath.Load())
		assert.Equal(t, admin.ID, gotUser.Load())
	})

	t.Run("認証バックエンドはトークン不要", func(t *testing.T) {
		before := calls.Load()
		w := do(s, http.MethodPost, "/proxy/auth/register", "", strings.NewReader(`{}`))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, before+1, calls.Load())
	})

	t.Run("メトリクスに転送が記録される", func(t *testing.T) {
		w := do(s, http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `fleetgate_proxy_requests_total{code="200",method="GET",route="orders"}`)
	})
}

// TestServer_Sync は同期エンドポイントを検証する。
func TestServer_Sync(t *testing.T) {
	t.Parallel()

	t.Run("APIキー未設定は503", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, nil)
		token := loginToken(t, s, testAdminUser, testAdminPassword)
		w := do(s, http.MethodPost, "/api/v1/sync", token, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("未認証は401", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, nil)
		w := do(s, http.MethodGet, "/api/v1/sync/status", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("全エンティティを同期して状態を返す", func(t *testing.T) {
		t.Parallel()

		fin := newFinanceServer(t, 3)
		s := newTestServer(t, map[string]string{
			"FINANCE_BASE_URL":  fin.URL,
			"FINANCE_API_KEY":   testFinanceKey,
			"FINANCE_PAGE_SIZE": "2",
		})
		token := loginToken(t, s, testAdminUser, testAdminPassword)

		w := do(s, http.MethodGet, "/api/v1/sync/status", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		for _, e := range decode(t, w)["entities"].([]any) {
			assert.Equal(t, "idle", e.(map[string]any)["status"])
		}

		w = do(s, http.MethodPost, "/api/v1/sync", token, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		report := decode(t, w)
		assert.Equal(t, true, report["success"])
		assert.ElementsMatch(t, []any{"products", "customers", "operators", "orders"}, report["loadedEntities"])

		n, err := s.deps.Store.Count(context.Background(), store.TableCustomers)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		w = do(s, http.MethodGet, "/api/v1/sync/status", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		for _, e := range decode(t, w)["entities"].([]any) {
			st := e.(map[string]any)
			assert.Equal(t, "completed", st["status"])
			assert.EqualValues(t, 3, st["recordCount"])
			assert.NotEmpty(t, st["lastSyncAt"])
		}
	})

	t.Run("エンティティを指定して同期する", func(t *testing.T) {
		t.Parallel()

		fin := newFinanceServer(t, 1)
		s := newTestServer(t, map[string]string{
			"FINANCE_BASE_URL": fin.URL,
			"FINANCE_API_KEY":  testFinanceKey,
		})
		token := loginToken(t, s, testAdminUser, testAdminPassword)

		w := do(s, http.MethodPost, "/api/v1/sync/products", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []any{"products"}, decode(t, w)["loadedEntities"])

		w = do(s, http.MethodPost, "/api/v1/sync/invoices", token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("一部失敗は207", func(t *testing.T) {
		t.Parallel()

		fin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/operators" {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`[{"id":"x-1"}]`))
		}))
		t.Cleanup(fin.Close)
		s := newTestServer(t, map[string]string{
			"FINANCE_BASE_URL": fin.URL,
			"FINANCE_API_KEY":  testFinanceKey,
		})
		token := loginToken(t, s, testAdminUser, testAdminPassword)

		w := do(s, http.MethodPost, "/api/v1/sync", token, nil)
		require.Equal(t, http.StatusMultiStatus, w.Code)
		report := decode(t, w)
		assert.Equal(t, false, report["success"])
		errs := report["errors"].([]any)
		require.Len(t, errs, 1)
		assert.Equal(t, "operators", errs[0].(map[string]any)["entity"])
	})
}

// TestServer_RateLimitReset は管理者によるレート制限リセットを検証する。
func TestServer_RateLimitReset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  string
		want int
	}{
		{name: "開発環境では成功", env: config.EnvDevelopment, want: http.StatusOK},
		{name: "本番環境では拒否", env: config.EnvProduction, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t, map[string]string{"APP_ENV": tt.env})
			token := loginToken(t, s, testAdminUser, testAdminPassword)
			w := do(s, http.MethodPost, "/admin/ratelimit/reset", token, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	t.Run("管理者以外は403", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, nil)
		hash, err := auth.HashPassword("operator-pw")
		require.NoError(t, err)
		require.NoError(t, s.deps.Store.CreateUser(context.Background(), store.User{
			ID:           "op-1",
			Username:     "operator",
			PasswordHash: hash,
			Role:         auth.RoleOperator,
		}))

		token := loginToken(t, s, "operator", "operator-pw")
		w := do(s, http.MethodPost, "/admin/ratelimit/reset", token, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
