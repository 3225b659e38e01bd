// Package syncer は外部財務APIの参照データをローカルストアへ取り込む。
//
// Engine が1エンティティ分のページ取得とupsertと同期状態の更新を行い、
// Orchestrator が複数エンティティを実行して結果を集約する。
// 外部に存在しない行の削除は行わない。
package syncer

import (
	"github.com/nao1215/fleetgate/internal/finance"
	"github.com/nao1215/fleetgate/internal/store"
)

// Entity は同期対象の参照エンティティ。
type Entity struct {
	// Name は同期状態やレポートに使う名前。
	Name string
	// Table は外部APIのテーブル名。
	Table string
	// LocalTable は取り込み先のローカルテーブル名。
	LocalTable string
	// IDField は外部IDを持つフィールド名。
	IDField string
	// Filters は取得時に常に付与する絞り込み条件。
	Filters []finance.Filter
}

// エンティティ名。
const (
	EntityProducts  = "products"
	EntityCustomers = "customers"
	EntityOperators = "operators"
	EntityOrders    = "orders"
)

// DefaultEntities は標準の同期対象を返す。
// ordersSinceが空でない場合、注文はその日付以降に絞り込む。
func DefaultEntities(ordersSince string) []Entity {
	orders := Entity{Name: EntityOrders, Table: "orders", LocalTable: store.TableOrders, IDField: "id"}
	if ordersSince != "" {
		orders.Filters = []finance.Filter{{Column: "order_date", Op: finance.OpGte, Value: ordersSince}}
	}
	return []Entity{
		{Name: EntityProducts, Table: "products", LocalTable: store.TableProducts, IDField: "id"},
		{Name: EntityCustomers, Table: "persons", LocalTable: store.TableCustomers, IDField: "id"},
		{Name: EntityOperators, Table: "operators", LocalTable: store.TableOperators, IDField: "id"},
		orders,
	}
}

// Lookup は名前でエンティティを探す。
func Lookup(entities []Entity, name string) (Entity, bool) {
	for _, e := range entities {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}
