package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Limiter は Store に対する判定と管理操作をまとめる。
type Limiter struct {
	store      Store
	production bool
	logger     *zap.Logger
	decisions  *prometheus.CounterVec
}

// NewLimiter は新しい Limiter を生成する。
// productionがtrueの場合、ResetAll は常に ErrResetForbidden を返す。
// regがnilの場合、メトリクスはどのレジストリにも登録されない。
func NewLimiter(store Store, production bool, logger *zap.Logger, reg prometheus.Registerer) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:      store,
		production: production,
		logger:     logger,
		decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fleetgate",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Total number of rate limit decisions",
			},
			[]string{"result"},
		),
	}
}

// Allow はキーに対して1リクエスト分の枠を消費する。
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	d, err := l.store.Take(ctx, key, limit, window)
	if err != nil {
		l.decisions.WithLabelValues("error").Inc()
		return Decision{}, err
	}
	if d.Allowed {
		l.decisions.WithLabelValues("allowed").Inc()
	} else {
		l.decisions.WithLabelValues("rejected").Inc()
	}
	return d, nil
}

// ResetAll はすべてのカウンタを消去する管理操作。
// 本番環境では制御そのものを無効化してしまうため拒否する。
func (l *Limiter) ResetAll(ctx context.Context) error {
	if l.production {
		l.logger.Warn("本番環境でのレート制限リセット要求を拒否しました")
		return ErrResetForbidden
	}
	if err := l.store.Reset(ctx); err != nil {
		return err
	}
	l.logger.Info("レート制限カウンタをリセットしました")
	return nil
}
