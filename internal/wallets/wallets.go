// Package wallets manages the set of tracked (address, chain) pairs.
package wallets

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/matrixise/portfolio-tracker/internal/chain"
	"github.com/matrixise/portfolio-tracker/internal/chain/ethereum"
	"github.com/matrixise/portfolio-tracker/internal/storage"
)

const maxLabelLen = 255

// Invalidator drops cached balances of a wallet.
type Invalidator interface {
	Invalidate(ctx context.Context, walletID string) error
}

// Service validates input before it reaches the store.
type Service struct {
	store storage.Repository
	cache Invalidator
}

func NewService(store storage.Repository, cache Invalidator) *Service {
	return &Service{store: store, cache: cache}
}

// Create validates and stores a new wallet. Ethereum addresses are stored
// in EIP-55 checksum form so the same account cannot be added twice with
// different casing.
func (s *Service) Create(ctx context.Context, address, chainName string, label *string) (storage.Wallet, error) {
	c := chain.Chain(strings.ToLower(strings.TrimSpace(chainName)))
	address = strings.TrimSpace(address)

	if err := chain.Validate(c, address); err != nil {
		return storage.Wallet{}, err
	}
	if c == chain.Ethereum {
		address = ethereum.Checksum(address)
	}
	label, err := normalizeLabel(c, address, label)
	if err != nil {
		return storage.Wallet{}, err
	}

	w, err := s.store.CreateWallet(ctx, storage.Wallet{
		ID:      uuid.NewString(),
		Address: address,
		Chain:   c,
		Label:   label,
	})
	if err != nil {
		return storage.Wallet{}, err
	}
	slog.Info("Wallet added", "wallet_id", w.ID, "chain", w.Chain, "address", w.Address)
	return w, nil
}

func (s *Service) Get(ctx context.Context, id string) (storage.Wallet, error) {
	if err := checkID(id); err != nil {
		return storage.Wallet{}, err
	}
	return s.store.GetWallet(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]storage.Wallet, error) {
	ws, err := s.store.ListWallets(ctx)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		ws = []storage.Wallet{}
	}
	return ws, nil
}

// UpdateLabel sets or clears (nil or blank) the wallet label.
func (s *Service) UpdateLabel(ctx context.Context, id string, label *string) (storage.Wallet, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return storage.Wallet{}, err
	}
	label, err = normalizeLabel(w.Chain, w.Address, label)
	if err != nil {
		return storage.Wallet{}, err
	}
	return s.store.UpdateWalletLabel(ctx, id, label)
}

// Delete removes the wallet with its balances and history, then drops its
// cache entry.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := s.store.DeleteWallet(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			slog.Warn("Failed to invalidate cached balances", "wallet_id", id, "error", err)
		}
	}
	slog.Info("Wallet removed", "wallet_id", id)
	return nil
}

// Balances returns stored snapshots without any network access.
func (s *Service) Balances(ctx context.Context, id string) ([]storage.Snapshot, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	snaps, err := s.store.CurrentBalances(ctx, id)
	if err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []storage.Snapshot{}
	}
	return snaps, nil
}

// ids are uuids; anything else cannot exist
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return storage.ErrNotFound
	}
	return nil
}

func normalizeLabel(c chain.Chain, address string, label *string) (*string, error) {
	if label == nil {
		return nil, nil
	}
	l := strings.TrimSpace(*label)
	if l == "" {
		return nil, nil
	}
	if len(l) > maxLabelLen {
		return nil, &chain.ValidationError{Chain: c, Address: address, Reason: "label longer than 255 characters"}
	}
	return &l, nil
}
