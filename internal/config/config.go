// Package config は環境変数からgatewayの設定を一度だけ解決する。
//
// 解決した Config は各コンポーネントのコンストラクタに明示的に渡す。
// 実行中に環境変数を読み直すことはない。
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// 実行環境名。
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Backend は1つのバックエンドサービスのアドレス。
type Backend struct {
	// InternalURL はプライベートネットワーク内のアドレス。
	InternalURL string `env:"INTERNAL_URL"`
	// ExternalURL は公開アドレス（フォールバック先）。
	ExternalURL string `env:"EXTERNAL_URL"`
}

// Backends はプロキシ対象のバックエンドサービス群。
type Backends struct {
	Auth      Backend `envPrefix:"AUTH_"`
	Orders    Backend `envPrefix:"ORDERS_"`
	Products  Backend `envPrefix:"PRODUCTS_"`
	Customers Backend `envPrefix:"CUSTOMERS_"`
	Vehicles  Backend `envPrefix:"VEHICLES_"`
	Delivery  Backend `envPrefix:"DELIVERY_"`
}

// Session はセッショントークンの設定。
type Session struct {
	// Secret はトークン署名用のシークレット。未設定の場合、認証は利用できない。
	Secret string `env:"SECRET"`
	// TTL はトークンの有効期間。
	TTL time.Duration `env:"TTL" envDefault:"24h"`
}

// Proxy はリバースプロキシの設定。
type Proxy struct {
	// PrivateNetwork はプライベートネットワーク内で動作しているかどうか。
	PrivateNetwork bool `env:"PRIVATE_NETWORK" envDefault:"false"`
	// Timeout は1回の転送に許す最大時間。
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	// ForwardCookies がtrueの場合、Cookieヘッダーをバックエンドへ転送する。
	ForwardCookies bool `env:"FORWARD_COOKIES" envDefault:"false"`
	// ForwardAuthorization がtrueの場合、Authorizationヘッダーをバックエンドへ転送する。
	ForwardAuthorization bool `env:"FORWARD_AUTHORIZATION" envDefault:"true"`
	// RateLimitMax はプロキシルートごとのウィンドウ内最大リクエスト数。0で無効。
	RateLimitMax int `env:"RATE_LIMIT_MAX" envDefault:"300"`
	// RateLimitWindow はプロキシルートのレート制限ウィンドウ。
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// CORS はCORSの設定。
type CORS struct {
	// AllowedOrigins は許可するOrigin（完全一致または "https://*.example.com" 形式）。
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	// DefaultOrigin は許可リストに一致しない場合に返すOrigin。
	DefaultOrigin string `env:"DEFAULT_ORIGIN" envDefault:"http://localhost:3000"`
}

// Finance は外部財務APIの設定。
type Finance struct {
	// BaseURL はAPIのベースURL。
	BaseURL string `env:"BASE_URL"`
	// APIKey は静的APIキー。未設定の場合、同期は利用できない。
	APIKey string `env:"API_KEY"`
	// APIKeyHeader はAPIキーを載せるヘッダー名。
	APIKeyHeader string `env:"API_KEY_HEADER" envDefault:"X-Api-Key"`
	// PageSize は1ページあたりの取得件数。
	PageSize int `env:"PAGE_SIZE" envDefault:"500"`
	// Timeout は1回の取得に許す最大時間。
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
	// OrdersSince が設定されている場合、注文はこの日付以降のみ同期する（YYYY-MM-DD）。
	OrdersSince string `env:"ORDERS_SINCE"`
}

// RateLimit はレート制限ストアとログインの制限設定。
type RateLimit struct {
	// Store は "memory" または "redis"。
	Store string `env:"STORE" envDefault:"memory"`
	// LoginMax はログインのウィンドウ内最大試行回数。
	LoginMax int `env:"LOGIN_MAX" envDefault:"10"`
	// LoginWindow はログインのレート制限ウィンドウ。
	LoginWindow time.Duration `env:"LOGIN_WINDOW" envDefault:"15m"`
}

// Redis はRedisの接続設定。
type Redis struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"fleetgate:ratelimit:"`
}

// Admin は初期管理者アカウントの設定。両方が設定されている場合のみ作成する。
type Admin struct {
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
}

// Config はgatewayの全設定。
type Config struct {
	// Env は実行環境名（development / test / production）。
	Env string `env:"APP_ENV" envDefault:"development"`
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8080"`
	// DatabasePath はSQLiteデータベースのパス。
	DatabasePath string `env:"DATABASE_PATH" envDefault:"/data/fleetgate.db"`
	// SelfURL は診断エンドポイントが自己疎通確認に使う自身のURL。
	SelfURL string `env:"SELF_URL"`

	Session   Session `envPrefix:"SESSION_"`
	Proxy     Proxy   `envPrefix:"PROXY_"`
	CORS      CORS    `envPrefix:"CORS_"`
	Backends  Backends
	Finance   Finance   `envPrefix:"FINANCE_"`
	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Admin     Admin     `envPrefix:"ADMIN_"`
}

// Load はプロセスの環境変数から設定を解決する。
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom は与えられた環境変数マップから設定を解決する。
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}
	return cfg, nil
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Warnings は設定不足による警告を返す。起動は妨げない。
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Session.Secret == "" {
		warnings = append(warnings, "SESSION_SECRET が未設定のため認証機能は利用できません")
	}
	if c.Finance.APIKey == "" {
		warnings = append(warnings, "FINANCE_API_KEY が未設定のため外部データ同期は利用できません")
	}
	if c.Finance.BaseURL == "" {
		warnings = append(warnings, "FINANCE_BASE_URL が未設定のため外部データ同期は利用できません")
	}
	if c.IsProduction() && !c.Proxy.PrivateNetwork {
		warnings = append(warnings, "PROXY_PRIVATE_NETWORK=false のため本番環境でも公開アドレス経由で転送します")
	}
	return warnings
}
