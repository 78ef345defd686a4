package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

var (
	// ErrNotFound is returned when a wallet id does not exist.
	ErrNotFound = errors.New("wallet not found")
	// ErrWalletExists is returned when (address, chain) is already tracked.
	ErrWalletExists = errors.New("wallet already exists")
)

// Wallet is a tracked (address, chain) pair.
type Wallet struct {
	ID        string      `json:"id"`
	Address   string      `json:"address"`
	Chain     chain.Chain `json:"chain"`
	Label     *string     `json:"label"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Snapshot is the current balance of one token in one wallet.
type Snapshot struct {
	WalletID     string              `json:"wallet_id"`
	TokenSymbol  string              `json:"token_symbol"`
	TokenAddress *string             `json:"token_address"`
	Balance      decimal.Decimal     `json:"balance"`
	USDValue     decimal.NullDecimal `json:"usd_value"`
	LastUpdated  time.Time           `json:"last_updated"`
}

// HistoryRecord is an append-only copy of a snapshot taken at fetch time.
type HistoryRecord struct {
	ID           int64               `json:"id"`
	WalletID     string              `json:"wallet_id"`
	TokenSymbol  string              `json:"token_symbol"`
	TokenAddress *string             `json:"token_address"`
	Balance      decimal.Decimal     `json:"balance"`
	USDValue     decimal.NullDecimal `json:"usd_value"`
	RecordedAt   time.Time           `json:"recorded_at"`
}

// WalletBalances groups a wallet with its current snapshots.
type WalletBalances struct {
	Wallet   Wallet
	Balances []Snapshot
}

// HistoryFilter narrows a history query. Empty fields match everything.
type HistoryFilter struct {
	WalletID    string
	TokenSymbol string
	Limit       int
}

// Repository is the persistence contract shared by the Postgres and
// in-memory stores.
type Repository interface {
	CreateWallet(ctx context.Context, w Wallet) (Wallet, error)
	GetWallet(ctx context.Context, id string) (Wallet, error)
	ListWallets(ctx context.Context) ([]Wallet, error)
	UpdateWalletLabel(ctx context.Context, id string, label *string) (Wallet, error)
	DeleteWallet(ctx context.Context, id string) error

	// CurrentBalances returns the stored snapshots of one wallet.
	CurrentBalances(ctx context.Context, walletID string) ([]Snapshot, error)
	// SaveSync atomically replaces the wallet's snapshots with snaps and
	// appends one history record per snapshot. Tokens not present in snaps
	// are removed from the current set.
	SaveSync(ctx context.Context, walletID string, snaps []Snapshot, fetchedAt time.Time) error
	// PortfolioSnapshot reads every wallet with its snapshots in one
	// consistent read.
	PortfolioSnapshot(ctx context.Context) ([]WalletBalances, error)
	History(ctx context.Context, f HistoryFilter) ([]HistoryRecord, error)

	Ping(ctx context.Context) error
	Close()
}

// tokenKey identifies a snapshot row within a wallet.
func tokenKey(symbol string, address *string) string {
	if address == nil {
		return symbol + "|"
	}
	return symbol + "|" + *address
}
