package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Repository. A single RWMutex guards all
// tables, so SaveSync and PortfolioSnapshot are mutually atomic.
type MemoryStore struct {
	mu        sync.RWMutex
	wallets   map[string]Wallet
	snapshots map[string]map[string]Snapshot // wallet id -> token key -> row
	history   []HistoryRecord
	nextID    int64
	now       func() time.Time
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:   make(map[string]Wallet),
		snapshots: make(map[string]map[string]Snapshot),
		now:       time.Now,
	}
}

func (m *MemoryStore) CreateWallet(_ context.Context, w Wallet) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.wallets {
		if existing.Address == w.Address && existing.Chain == w.Chain {
			return Wallet{}, ErrWalletExists
		}
	}
	now := m.now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	m.wallets[w.ID] = w
	return w, nil
}

func (m *MemoryStore) GetWallet(_ context.Context, id string) (Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (m *MemoryStore) ListWallets(_ context.Context) ([]Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedWallets(), nil
}

func (m *MemoryStore) sortedWallets() []Wallet {
	out := make([]Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) UpdateWalletLabel(_ context.Context, id string, label *string) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	w.Label = label
	w.UpdatedAt = m.now().UTC()
	m.wallets[id] = w
	return w, nil
}

func (m *MemoryStore) DeleteWallet(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[id]; !ok {
		return ErrNotFound
	}
	delete(m.wallets, id)
	delete(m.snapshots, id)

	kept := m.history[:0]
	for _, h := range m.history {
		if h.WalletID != id {
			kept = append(kept, h)
		}
	}
	m.history = kept
	return nil
}

func (m *MemoryStore) CurrentBalances(_ context.Context, walletID string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedSnapshots(walletID), nil
}

func (m *MemoryStore) sortedSnapshots(walletID string) []Snapshot {
	rows := m.snapshots[walletID]
	if len(rows) == 0 {
		return nil
	}
	out := make([]Snapshot, 0, len(rows))
	for _, sn := range rows {
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TokenSymbol != out[j].TokenSymbol {
			return out[i].TokenSymbol < out[j].TokenSymbol
		}
		return tokenKey(out[i].TokenSymbol, out[i].TokenAddress) < tokenKey(out[j].TokenSymbol, out[j].TokenAddress)
	})
	return out
}

func (m *MemoryStore) SaveSync(_ context.Context, walletID string, snaps []Snapshot, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[walletID]; !ok {
		return ErrNotFound
	}

	rows := make(map[string]Snapshot, len(snaps))
	for _, sn := range snaps {
		sn.WalletID = walletID
		sn.LastUpdated = fetchedAt
		rows[tokenKey(sn.TokenSymbol, sn.TokenAddress)] = sn

		m.nextID++
		m.history = append(m.history, HistoryRecord{
			ID:           m.nextID,
			WalletID:     walletID,
			TokenSymbol:  sn.TokenSymbol,
			TokenAddress: sn.TokenAddress,
			Balance:      sn.Balance,
			USDValue:     sn.USDValue,
			RecordedAt:   fetchedAt,
		})
	}
	m.snapshots[walletID] = rows
	return nil
}

func (m *MemoryStore) PortfolioSnapshot(_ context.Context) ([]WalletBalances, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wallets := m.sortedWallets()
	out := make([]WalletBalances, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, WalletBalances{Wallet: w, Balances: m.sortedSnapshots(w.ID)})
	}
	return out, nil
}

func (m *MemoryStore) History(_ context.Context, f HistoryFilter) ([]HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []HistoryRecord
	for i := len(m.history) - 1; i >= 0; i-- {
		h := m.history[i]
		if f.WalletID != "" && h.WalletID != f.WalletID {
			continue
		}
		if f.TokenSymbol != "" && h.TokenSymbol != f.TokenSymbol {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Close() {}
