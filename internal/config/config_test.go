package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadFrom は環境変数からの設定解決を検証する。
func TestLoadFrom(t *testing.T) {
	t.Parallel()

	t.Run("未設定の項目にデフォルト値が使われること", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadFrom(map[string]string{})
		require.NoError(t, err)

		assert.Equal(t, EnvDevelopment, cfg.Env)
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
		assert.Equal(t, 10*time.Second, cfg.Proxy.Timeout)
		assert.Equal(t, "X-Api-Key", cfg.Finance.APIKeyHeader)
		assert.Equal(t, 500, cfg.Finance.PageSize)
		assert.Equal(t, "memory", cfg.RateLimit.Store)
		assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
		assert.False(t, cfg.IsProduction())
	})

	t.Run("プレフィックス付きの環境変数が各項目に反映されること", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadFrom(map[string]string{
			"APP_ENV":                 "production",
			"SESSION_SECRET":          "s3cret",
			"PROXY_PRIVATE_NETWORK":   "true",
			"PROXY_TIMEOUT":           "3s",
			"ORDERS_INTERNAL_URL":     "http://orders.internal:8080",
			"ORDERS_EXTERNAL_URL":     "https://orders.example.com",
			"CORS_ALLOWED_ORIGINS":    "https://app.example.com,https://*.fleet.example.com",
			"FINANCE_API_KEY":         "key",
			"FINANCE_BASE_URL":        "https://erp.example.com/api",
			"RATE_LIMIT_LOGIN_MAX":    "3",
			"RATE_LIMIT_LOGIN_WINDOW": "1m",
		})
		require.NoError(t, err)

		assert.True(t, cfg.IsProduction())
		assert.Equal(t, "s3cret", cfg.Session.Secret)
		assert.True(t, cfg.Proxy.PrivateNetwork)
		assert.Equal(t, 3*time.Second, cfg.Proxy.Timeout)
		assert.Equal(t, "http://orders.internal:8080", cfg.Backends.Orders.InternalURL)
		assert.Equal(t, "https://orders.example.com", cfg.Backends.Orders.ExternalURL)
		assert.Equal(t, []string{"https://app.example.com", "https://*.fleet.example.com"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, 3, cfg.RateLimit.LoginMax)
		assert.Equal(t, time.Minute, cfg.RateLimit.LoginWindow)
		assert.Empty(t, cfg.Warnings())
	})

	t.Run("不正な値の場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := LoadFrom(map[string]string{"PROXY_TIMEOUT": "soon"})
		assert.Error(t, err)
	})
}

// TestConfig_Warnings は設定不足の警告を検証する。
func TestConfig_Warnings(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFrom(map[string]string{"APP_ENV": "production"})
	require.NoError(t, err)

	warnings := cfg.Warnings()
	assert.Len(t, warnings, 4)
	assert.Contains(t, warnings[0], "SESSION_SECRET")
	assert.Contains(t, warnings[1], "FINANCE_API_KEY")
}
