package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// Memory is a process-local Cache.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an empty cache. now may be nil to use time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: make(map[string]memoryItem), now: now}
}

func (m *Memory) Get(_ context.Context, walletID string) (Entry, bool, error) {
	m.mu.RLock()
	item, ok := m.items[Key(walletID)]
	m.mu.RUnlock()

	if !ok {
		return Entry{}, false, nil
	}
	if !m.now().Before(item.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.items[Key(walletID)]; ok && cur.expiresAt.Equal(item.expiresAt) {
			delete(m.items, Key(walletID))
		}
		m.mu.Unlock()
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

func (m *Memory) Set(_ context.Context, walletID string, e Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[Key(walletID)] = memoryItem{entry: e, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, Key(walletID))
	return nil
}
