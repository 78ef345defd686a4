// Package cache holds the per-wallet balance cache used by the sync engine.
// Entries carry their fetch time; expiry is enforced by the backend TTL.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/matrixise/portfolio-tracker/internal/chain"
	"github.com/matrixise/portfolio-tracker/internal/storage"
)

// Entry is the cached result of one successful fetch.
type Entry struct {
	WalletID  string             `json:"wallet_id"`
	Chain     chain.Chain        `json:"chain"`
	Balances  []storage.Snapshot `json:"balances"`
	FetchedAt time.Time          `json:"fetched_at"`
	// Stale marks entries rebuilt from stored snapshots after a failed fetch.
	Stale bool `json:"stale"`
}

// Cache stores entries keyed by wallet id.
type Cache interface {
	// Get returns the entry and true on a hit. A miss is not an error.
	Get(ctx context.Context, walletID string) (Entry, bool, error)
	Set(ctx context.Context, walletID string, e Entry, ttl time.Duration) error
	Delete(ctx context.Context, walletID string) error
}

// Key returns the backend key for a wallet's balances.
func Key(walletID string) string {
	return fmt.Sprintf("wallet:%s:balances", walletID)
}
