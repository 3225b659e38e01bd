package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nao1215/fleetgate/internal/auth"
	"github.com/nao1215/fleetgate/internal/config"
	"github.com/nao1215/fleetgate/internal/finance"
	"github.com/nao1215/fleetgate/internal/proxy"
	"github.com/nao1215/fleetgate/internal/store"
	"github.com/nao1215/fleetgate/internal/syncer"
	"github.com/nao1215/fleetgate/pkg/middleware"
	"github.com/nao1215/fleetgate/pkg/ratelimit"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Deps はServerが使う依存関係。Open が設定から組み立てる。
type Deps struct {
	Store        *store.Store
	Sessions     *middleware.SessionManager
	Limiter      *ratelimit.Limiter
	Finance      *finance.Client
	Orchestrator *syncer.Orchestrator
	Statuses     syncer.StatusStore
	Registry     *prometheus.Registry
	// ProxyTransport はテストで転送先のRoundTripperを差し替えるために使う。
	ProxyTransport http.RoundTripper
	// RateLimitStore は診断に表示するレート制限ストアの種類。
	RateLimitStore string
}

// Server はgatewayのHTTPサーバー。
type Server struct {
	cfg     *config.Config
	router  *gin.Engine
	logger  *zap.Logger
	deps    Deps
	cors    *middleware.CORSPolicy
	routes  []proxy.Route
	closers []func() error
}

// Open は設定から依存関係を組み立ててServerを生成する。
// ctxはバックグラウンド処理（レート制限エントリの掃除）の寿命に使う。
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	db, err := store.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	closers := []func() error{db.Close}

	if err := auth.EnsureAdmin(ctx, db, cfg.Admin.User, cfg.Admin.Password, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rlStore, storeName, closeStore := newRateLimitStore(ctx, cfg, logger)
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	sync := newSyncDeps(cfg, db, logger, registry)

	s, err := New(cfg, logger, Deps{
		Store:          db,
		Sessions:       middleware.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL, cfg.IsProduction()),
		Limiter:        ratelimit.NewLimiter(rlStore, cfg.IsProduction(), logger, registry),
		Finance:        sync.finance,
		Orchestrator:   sync.orchestrator,
		Statuses:       sync.statuses,
		Registry:       registry,
		RateLimitStore: storeName,
	})
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	s.closers = closers
	return s, nil
}

// newRateLimitStore は設定に応じたレート制限ストアを返す。
// Redisに接続できない場合はインメモリにフォールバックする。
func newRateLimitStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Store, string, func() error) {
	if cfg.RateLimit.Store == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err := client.Ping(pingCtx).Err()
		if err == nil {
			logger.Info("Redisのレート制限ストアを使用します", zap.String("addr", cfg.Redis.Addr))
			return ratelimit.NewRedisStore(client, cfg.Redis.Prefix), "redis", client.Close
		}
		logger.Warn("Redisに接続できないためインメモリのレート制限ストアを使用します",
			zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = client.Close()
	}

	mem := ratelimit.NewMemoryStore()
	mem.StartJanitor(ctx, time.Minute)
	return mem, "memory", nil
}

// New は依存関係からServerを生成し、ルーティングを設定する。
func New(cfg *config.Config, logger *zap.Logger, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("設定がありません")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Sessions == nil {
		deps.Sessions = middleware.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL, cfg.IsProduction())
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewLimiter(ratelimit.NewMemoryStore(), cfg.IsProduction(), logger, deps.Registry)
		deps.RateLimitStore = "memory"
	}

	router := gin.New()
	cors := middleware.NewCORSPolicy(cfg.CORS.AllowedOrigins, cfg.CORS.DefaultOrigin)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cors))

	s := &Server{
		cfg:    cfg,
		router: router,
		logger: logger,
		deps:   deps,
		cors:   cors,
		routes: proxy.RoutesFromConfig(cfg.Backends),
	}
	s.setupRoutes()
	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルにシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gatewayサービスを起動します", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Gatewayサービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	return nil
}

// Close は保持しているリソースを解放する。
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	sessions := s.deps.Sessions
	limiter := s.deps.Limiter
	requireAuth := middleware.RequireAuth(sessions)

	// ログイン・ログアウト・利用者確認
	if s.deps.Store != nil {
		h := auth.NewHandler(s.deps.Store, sessions, s.logger)
		authGroup := s.router.Group("/auth")
		{
			authGroup.POST("/login", middleware.Guard(sessions, limiter, middleware.GuardOptions{
				RateLimit: &middleware.RateLimitOptions{
					Window: s.cfg.RateLimit.LoginWindow,
					Max:    s.cfg.RateLimit.LoginMax,
				},
			}, s.logger), h.Login())
			authGroup.POST("/logout", h.Logout())
			authGroup.GET("/me", requireAuth, h.Me())
		}
	}

	// 外部データ同期（認証必須）
	api := s.router.Group("/api/v1")
	api.Use(requireAuth)
	{
		api.POST("/sync", s.handleSyncAll())
		api.POST("/sync/:entity", s.handleSyncEntity())
		api.GET("/sync/status", s.handleSyncStatus())
	}

	// 管理操作（管理者のみ）
	admin := s.router.Group("/admin")
	admin.Use(requireAuth, middleware.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/ratelimit/reset", s.handleRateLimitReset())
	}

	// バックエンドサービスへのプロキシ
	metrics := proxy.NewMetrics(s.deps.Registry)
	for _, route := range s.routes {
		d := proxy.NewDispatcher(route, proxy.Options{
			PrivateNetwork:       s.cfg.Proxy.PrivateNetwork,
			Timeout:              s.cfg.Proxy.Timeout,
			ForwardCookies:       s.cfg.Proxy.ForwardCookies,
			ForwardAuthorization: s.cfg.Proxy.ForwardAuthorization,
			CORS:                 s.cors,
			Transport:            s.deps.ProxyTransport,
			Logger:               s.logger,
			Metrics:              metrics,
		})
		proxy.Register(s.router, d, middleware.Guard(sessions, limiter, s.proxyGuardOptions(route), s.logger))
	}

	// ヘルスチェック・診断・メトリクス
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "fleetgate"})
	})
	s.router.GET("/diagnostics", s.handleDiagnostics())
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))
}

// proxyGuardOptions はプロキシルートのGuard設定を返す。
// 認証バックエンドはログイン前に使うため認証を要求しない。
func (s *Server) proxyGuardOptions(route proxy.Route) middleware.GuardOptions {
	opts := middleware.GuardOptions{RequireAuth: route.Name != "auth"}
	if s.cfg.Proxy.RateLimitMax > 0 {
		opts.RateLimit = &middleware.RateLimitOptions{
			Window: s.cfg.Proxy.RateLimitWindow,
			Max:    s.cfg.Proxy.RateLimitMax,
		}
	}
	return opts
}
