package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nao1215/fleetgate/internal/store"
)

// State は同期状態の段階。
type State string

// 同期状態。idle → running → completed / error と遷移し、次の実行開始で running に戻る。
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// SyncStatus は1エンティティの同期状態。
type SyncStatus struct {
	Entity      string    `json:"entity"`
	Status      State     `json:"status"`
	LastSyncAt  time.Time `json:"lastSyncAt,omitzero"`
	RecordCount int       `json:"recordCount"`
	ErrorDetail string    `json:"errorDetail,omitempty"`
}

// StatusStore は同期状態の保存先。
// 未記録のエンティティに対する Get は idle の状態を返す。
type StatusStore interface {
	Get(ctx context.Context, entity string) (SyncStatus, error)
	Put(ctx context.Context, status SyncStatus) error
	List(ctx context.Context) ([]SyncStatus, error)
}

// MemoryStatusStore はプロセス内のマップに同期状態を保持する。プロセス起動時は空。
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]SyncStatus
}

var _ StatusStore = (*MemoryStatusStore)(nil)

// NewMemoryStatusStore はインメモリの同期状態ストアを生成する。
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]SyncStatus)}
}

// Get implements StatusStore.
func (m *MemoryStatusStore) Get(_ context.Context, entity string) (SyncStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.statuses[entity]; ok {
		return s, nil
	}
	return SyncStatus{Entity: entity, Status: StateIdle}, nil
}

// Put implements StatusStore.
func (m *MemoryStatusStore) Put(_ context.Context, status SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses[status.Entity] = status
	return nil
}

// List implements StatusStore.
func (m *MemoryStatusStore) List(_ context.Context) ([]SyncStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]SyncStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Entity < list[j].Entity })
	return list, nil
}

// SQLStatusStore は同期状態をSQLiteの sync_status テーブルに保存する。
type SQLStatusStore struct {
	db *store.Store
}

var _ StatusStore = (*SQLStatusStore)(nil)

// NewSQLStatusStore はSQLiteを使う同期状態ストアを生成する。
func NewSQLStatusStore(db *store.Store) *SQLStatusStore {
	return &SQLStatusStore{db: db}
}

// Get implements StatusStore.
func (s *SQLStatusStore) Get(ctx context.Context, entity string) (SyncStatus, error) {
	row, err := s.db.GetSyncStatus(ctx, entity)
	if errors.Is(err, store.ErrNotFound) {
		return SyncStatus{Entity: entity, Status: StateIdle}, nil
	}
	if err != nil {
		return SyncStatus{}, err
	}
	return fromRow(row), nil
}

// Put implements StatusStore.
func (s *SQLStatusStore) Put(ctx context.Context, status SyncStatus) error {
	return s.db.PutSyncStatus(ctx, store.SyncStatusRow{
		Entity:      status.Entity,
		Status:      string(status.Status),
		LastSyncAt:  status.LastSyncAt,
		RecordCount: status.RecordCount,
		ErrorDetail: status.ErrorDetail,
	})
}

// List implements StatusStore.
func (s *SQLStatusStore) List(ctx context.Context) ([]SyncStatus, error) {
	rows, err := s.db.ListSyncStatus(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]SyncStatus, 0, len(rows))
	for _, r := range rows {
		list = append(list, fromRow(r))
	}
	return list, nil
}

func fromRow(r store.SyncStatusRow) SyncStatus {
	return SyncStatus{
		Entity:      r.Entity,
		Status:      State(r.Status),
		LastSyncAt:  r.LastSyncAt,
		RecordCount: r.RecordCount,
		ErrorDetail: r.ErrorDetail,
	}
}
