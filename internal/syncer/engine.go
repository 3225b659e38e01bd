package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/nao1215/fleetgate/internal/finance"
	"github.com/nao1215/fleetgate/internal/store"
)

// finalStatusTimeout は実行結果の状態を書き込む際のタイムアウト。
const finalStatusTimeout = 5 * time.Second

// Fetcher は外部APIからレコードをページ単位で取得する。
type Fetcher interface {
	// Ready は取得を開始できない場合にエラーを返す。
	Ready() error
	FetchAll(ctx context.Context, table string, filters []finance.Filter, pageSize int, fn func([]finance.Record) error) (int, error)
}

// Upserter は外部IDをキーに行を保存する。
type Upserter interface {
	Upsert(ctx context.Context, table string, rows []store.Row) error
}

// EngineOptions は Engine の設定。
type EngineOptions struct {
	// PageSize は1ページあたりの取得件数。0の場合は finance.DefaultPageSize。
	PageSize int
	Logger   *zap.Logger
	// Registerer がnilの場合、メトリクスはどのレジストリにも登録されない。
	Registerer prometheus.Registerer
}

// Engine は1エンティティ分の同期を実行する。
// 同じエンティティの同時実行は想定していない。
type Engine struct {
	fetcher  Fetcher
	upserter Upserter
	statuses StatusStore
	pageSize int
	logger   *zap.Logger
	now      func() time.Time

	runs     *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewEngine は新しい Engine を生成する。
func NewEngine(fetcher Fetcher, upserter Upserter, statuses StatusStore, opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = finance.DefaultPageSize
	}
	factory := promauto.With(opts.Registerer)
	return &Engine{
		fetcher:  fetcher,
		upserter: upserter,
		statuses: statuses,
		pageSize: pageSize,
		logger:   logger,
		now:      time.Now,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetgate",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of entity sync runs",
		}, []string{"entity", "result"}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetgate",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Total number of records upserted by sync",
		}, []string{"entity"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetgate",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of entity sync runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"entity"}),
	}
}

// Statuses は同期状態ストアを返す。
func (e *Engine) Statuses() StatusStore {
	return e.statuses
}

// Run はエンティティの全レコードを取得してローカルにupsertし、取り込んだ件数を返す。
//
// 取得前に状態を running にし、成功時は completed、途中で失敗した場合は error を記録する。
// 失敗までに保存したページはロールバックしない。
func (e *Engine) Run(ctx context.Context, ent Entity) (int, error) {
	if err := e.fetcher.Ready(); err != nil {
		return 0, err
	}

	prev, err := e.statuses.Get(ctx, ent.Name)
	if err != nil {
		return 0, fmt.Errorf("同期状態の取得に失敗: %w", err)
	}
	running := prev
	running.Entity = ent.Name
	running.Status = StateRunning
	running.ErrorDetail = ""
	if err := e.statuses.Put(ctx, running); err != nil {
		return 0, fmt.Errorf("同期状態の更新に失敗: %w", err)
	}

	start := e.now()
	e.logger.Info("同期を開始します", zap.String("entity", ent.Name), zap.String("table", ent.Table))

	upserted := 0
	_, err = e.fetcher.FetchAll(ctx, ent.Table, ent.Filters, e.pageSize, func(page []finance.Record) error {
		rows, err := toRows(ent, page)
		if err != nil {
			return err
		}
		if err := e.upserter.Upsert(ctx, ent.LocalTable, rows); err != nil {
			return err
		}
		upserted += len(rows)
		e.records.WithLabelValues(ent.Name).Add(float64(len(rows)))
		return nil
	})
	e.duration.WithLabelValues(ent.Name).Observe(e.now().Sub(start).Seconds())

	if err != nil {
		e.runs.WithLabelValues(ent.Name, string(StateError)).Inc()
		e.logger.Error("同期に失敗しました",
			zap.String("entity", ent.Name),
			zap.Int("upserted", upserted),
			zap.Error(err),
		)
		failed := running
		failed.Status = StateError
		failed.RecordCount = upserted
		failed.ErrorDetail = err.Error()
		if perr := e.putFinal(ctx, failed); perr != nil {
			e.logger.Error("同期状態の更新に失敗しました", zap.String("entity", ent.Name), zap.Error(perr))
		}
		return upserted, err
	}

	e.runs.WithLabelValues(ent.Name, string(StateCompleted)).Inc()
	completed := SyncStatus{
		Entity:      ent.Name,
		Status:      StateCompleted,
		LastSyncAt:  e.now().UTC(),
		RecordCount: upserted,
	}
	if err := e.putFinal(ctx, completed); err != nil {
		return upserted, fmt.Errorf("同期状態の更新に失敗: %w", err)
	}
	e.logger.Info("同期が完了しました", zap.String("entity", ent.Name), zap.Int("records", upserted))
	return upserted, nil
}

// putFinal は実行結果の状態を記録する。
// 実行がキャンセルやタイムアウトで終わった場合でも running のまま残らないよう、
// ctxのキャンセルを引き継がずに短いタイムアウトで書き込む。
func (e *Engine) putFinal(ctx context.Context, status SyncStatus) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalStatusTimeout)
	defer cancel()
	return e.statuses.Put(ctx, status)
}

// toRows は外部レコードを外部IDつきの行に変換する。外部IDを持たないレコードはエラーにする。
func toRows(ent Entity, page []finance.Record) ([]store.Row, error) {
	rows := make([]store.Row, 0, len(page))
	for i, rec := range page {
		id := rec.ID(ent.IDField)
		if id == "" {
			return nil, fmt.Errorf("%sのレコード(%d件目)に外部ID %q がありません", ent.Name, i+1, ent.IDField)
		}
		rows = append(rows, store.Row{ExternalID: id, Payload: rec.Raw()})
	}
	return rows, nil
}
