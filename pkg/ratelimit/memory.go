package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内メモリにカウンタを保持する Store 実装。
// 全操作を1つのミューテックスで直列化する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// memoryEntry はカウンタと失効日時の組。
type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemoryStore は空の MemoryStore を生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Take implements Store.
func (s *MemoryStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &memoryEntry{
			entry:     Entry{Key: key, WindowStart: now},
			expiresAt: now.Add(window),
		}
		s.entries[key] = e
	}

	if e.entry.Count >= limit {
		return Decision{
			Allowed:    false,
			Entry:      e.entry,
			RetryAfter: e.expiresAt.Sub(now),
		}, nil
	}

	e.entry.Count++
	return Decision{Allowed: true, Entry: e.entry}, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*memoryEntry)
	return nil
}

// Sweep は失効済みのエントリを削除し、削除した件数を返す。
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len は保持しているエントリ数を返す。失効済みのエントリも含む。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor は interval ごとに Sweep を実行するgoroutineを起動する。
// ctx がキャンセルされると停止する。
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}
