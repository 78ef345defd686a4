// Package portfolio computes read-only views over stored balances. It never
// touches the network or the balance cache.
package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/matrixise/portfolio-tracker/internal/storage"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// WalletSummary is one wallet with its balances and USD subtotal.
type WalletSummary struct {
	Wallet        storage.Wallet     `json:"wallet"`
	Balances      []storage.Snapshot `json:"balances"`
	TotalUSDValue decimal.Decimal    `json:"total_usd_value"`
}

// Summary is the portfolio across every tracked wallet.
type Summary struct {
	TotalWallets  int             `json:"total_wallets"`
	TotalUSDValue decimal.Decimal `json:"total_usd_value"`
	Wallets       []WalletSummary `json:"wallets"`
}

// Aggregator reads the portfolio from the store.
type Aggregator struct {
	store storage.Repository
}

func NewAggregator(store storage.Repository) *Aggregator {
	return &Aggregator{store: store}
}

// Summarize totals every wallet from a single consistent read. Balances
// without a USD value count as zero.
func (a *Aggregator) Summarize(ctx context.Context) (Summary, error) {
	rows, err := a.store.PortfolioSnapshot(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("read portfolio: %w", err)
	}

	sum := Summary{
		TotalWallets:  len(rows),
		TotalUSDValue: decimal.Zero,
		Wallets:       make([]WalletSummary, 0, len(rows)),
	}
	for _, row := range rows {
		ws := WalletSummary{
			Wallet:        row.Wallet,
			Balances:      row.Balances,
			TotalUSDValue: decimal.Zero,
		}
		if ws.Balances == nil {
			ws.Balances = []storage.Snapshot{}
		}
		for _, b := range row.Balances {
			if b.USDValue.Valid {
				ws.TotalUSDValue = ws.TotalUSDValue.Add(b.USDValue.Decimal)
			}
		}
		sum.TotalUSDValue = sum.TotalUSDValue.Add(ws.TotalUSDValue)
		sum.Wallets = append(sum.Wallets, ws)
	}
	return sum, nil
}

// History returns history records newest first. Empty walletID or
// tokenSymbol match everything; limit is clamped to [1, MaxHistoryLimit]
// and defaults to DefaultHistoryLimit.
func (a *Aggregator) History(ctx context.Context, walletID, tokenSymbol string, limit int) ([]storage.HistoryRecord, error) {
	records, err := a.store.History(ctx, storage.HistoryFilter{
		WalletID:    walletID,
		TokenSymbol: tokenSymbol,
		Limit:       ClampLimit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if records == nil {
		records = []storage.HistoryRecord{}
	}
	return records, nil
}

// ClampLimit applies the history limit bounds.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
