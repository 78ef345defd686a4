// Package events publishes balance change notifications to a message broker.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/portfolio-tracker/internal/chain"
	"github.com/matrixise/portfolio-tracker/internal/storage"
)

const (
	Exchange          = "portfolio"
	BalanceUpdatedKey = "balance.updated"
)

// Balance is one token line of a BalanceUpdated event.
type Balance struct {
	Symbol       string              `json:"symbol"`
	TokenAddress *string             `json:"token_address"`
	Balance      decimal.Decimal     `json:"balance"`
	USDValue     decimal.NullDecimal `json:"usd_value"`
}

// BalanceUpdated is emitted after a sync persisted fresh balances.
type BalanceUpdated struct {
	WalletID  string      `json:"wallet_id"`
	Address   string      `json:"address"`
	Chain     chain.Chain `json:"chain"`
	FetchedAt time.Time   `json:"fetched_at"`
	Balances  []Balance   `json:"balances"`
}

// NewBalanceUpdated builds the event for a wallet's new snapshots.
func NewBalanceUpdated(w storage.Wallet, snaps []storage.Snapshot, fetchedAt time.Time) BalanceUpdated {
	ev := BalanceUpdated{
		WalletID:  w.ID,
		Address:   w.Address,
		Chain:     w.Chain,
		FetchedAt: fetchedAt,
		Balances:  make([]Balance, 0, len(snaps)),
	}
	for _, s := range snaps {
		ev.Balances = append(ev.Balances, Balance{
			Symbol:       s.TokenSymbol,
			TokenAddress: s.TokenAddress,
			Balance:      s.Balance,
			USDValue:     s.USDValue,
		})
	}
	return ev
}

// RoutingKey is balance.updated.<chain>.
func (e BalanceUpdated) RoutingKey() string {
	return BalanceUpdatedKey + "." + string(e.Chain)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishBalanceUpdated(ctx context.Context, ev BalanceUpdated) error
	Close() error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishBalanceUpdated(context.Context, BalanceUpdated) error { return nil }
func (Nop) Close() error                                                { return nil }
