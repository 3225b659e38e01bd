package gateway

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nao1215/fleetgate/internal/config"
	"github.com/nao1215/fleetgate/internal/finance"
	"github.com/nao1215/fleetgate/internal/store"
	"github.com/nao1215/fleetgate/internal/syncer"
)

// syncDeps は外部データ同期に必要な部品。
type syncDeps struct {
	finance      *finance.Client
	statuses     syncer.StatusStore
	orchestrator *syncer.Orchestrator
}

func newSyncDeps(cfg *config.Config, db *store.Store, logger *zap.Logger, reg prometheus.Registerer) syncDeps {
	fin := finance.New(finance.Config{
		BaseURL:      cfg.Finance.BaseURL,
		APIKey:       cfg.Finance.APIKey,
		APIKeyHeader: cfg.Finance.APIKeyHeader,
		Timeout:      cfg.Finance.Timeout,
	})
	statuses := syncer.NewSQLStatusStore(db)
	engine := syncer.NewEngine(fin, db, statuses, syncer.EngineOptions{
		PageSize:   cfg.Finance.PageSize,
		Logger:     logger,
		Registerer: reg,
	})
	return syncDeps{
		finance:      fin,
		statuses:     statuses,
		orchestrator: syncer.NewOrchestrator(engine, syncer.DefaultEntities(cfg.Finance.OrdersSince), logger),
	}
}

// RunSync はHTTPサーバーを起動せずに外部データ同期を1回実行する。
// namesが空の場合はすべてのエンティティを同期する。
// 失敗したエンティティがあってもレポートは返し、エラーは report.Err() で判定する。
func RunSync(ctx context.Context, cfg *config.Config, logger *zap.Logger, names ...string) (syncer.Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := store.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return syncer.Report{}, err
	}
	defer db.Close()

	sync := newSyncDeps(cfg, db, logger, nil)
	if err := sync.finance.Ready(); err != nil {
		return syncer.Report{}, err
	}
	var entities []syncer.Entity
	if len(names) > 0 {
		if entities, err = sync.orchestrator.Resolve(names...); err != nil {
			return syncer.Report{}, err
		}
	}
	return sync.orchestrator.RunAll(ctx, entities...), nil
}
