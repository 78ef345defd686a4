package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

func strPtr(s string) *string { return &s }

func newWallet(address string, c chain.Chain) Wallet {
	return Wallet{ID: uuid.NewString(), Address: address, Chain: c}
}

func snap(symbol string, address *string, balance string, usd string) Snapshot {
	sn := Snapshot{TokenSymbol: symbol, TokenAddress: address, Balance: decimal.RequireFromString(balance)}
	if usd != "" {
		sn.USDValue = decimal.NewNullDecimal(decimal.RequireFromString(usd))
	}
	return sn
}

// testRepository checks the Repository contract against any implementation.
func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("wallet lifecycle", func(t *testing.T) {
		w, err := repo.CreateWallet(ctx, newWallet("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", chain.Ethereum))
		require.NoError(t, err)
		assert.False(t, w.CreatedAt.IsZero())

		_, err = repo.CreateWallet(ctx, newWallet("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", chain.Ethereum))
		assert.ErrorIs(t, err, ErrWalletExists)

		got, err := repo.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, w.Address, got.Address)
		assert.Nil(t, got.Label)

		updated, err := repo.UpdateWalletLabel(ctx, w.ID, strPtr("cold storage"))
		require.NoError(t, err)
		require.NotNil(t, updated.Label)
		assert.Equal(t, "cold storage", *updated.Label)

		require.NoError(t, repo.DeleteWallet(ctx, w.ID))
		_, err = repo.GetWallet(ctx, w.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.DeleteWallet(ctx, w.ID), ErrNotFound)
	})

	t.Run("unknown wallet", func(t *testing.T) {
		_, err := repo.GetWallet(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.UpdateWalletLabel(ctx, uuid.NewString(), nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("malformed wallet id", func(t *testing.T) {
		for _, id := range []string{"not-a-uuid", "", "urn:uuid:0"} {
			_, err := repo.GetWallet(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound, id)
			_, err = repo.UpdateWalletLabel(ctx, id, strPtr("x"))
			assert.ErrorIs(t, err, ErrNotFound, id)
			assert.ErrorIs(t, repo.DeleteWallet(ctx, id), ErrNotFound, id)

			balances, err := repo.CurrentBalances(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, balances)
		}

		history, err := repo.History(ctx, HistoryFilter{WalletID: "not-a-uuid"})
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("save sync upserts and appends history", func(t *testing.T) {
		w, err := repo.CreateWallet(ctx, newWallet("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", chain.Solana))
		require.NoError(t, err)

		mint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
		first := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, repo.SaveSync(ctx, w.ID, []Snapshot{
			snap("SOL", nil, "2.5", "375.00"),
			snap("USDC", &mint, "10", "10.00"),
		}, first))

		second := first.Add(time.Minute)
		require.NoError(t, repo.SaveSync(ctx, w.ID, []Snapshot{
			snap("SOL", nil, "3", "450.00"),
			snap("USDC", &mint, "12", ""),
		}, second))

		current, err := repo.CurrentBalances(ctx, w.ID)
		require.NoError(t, err)
		require.Len(t, current, 2)
		assert.Equal(t, "SOL", current[0].TokenSymbol)
		assert.True(t, current[0].Balance.Equal(decimal.NewFromInt(3)))
		assert.True(t, current[0].LastUpdated.Equal(second))
		assert.False(t, current[1].USDValue.Valid)

		history, err := repo.History(ctx, HistoryFilter{WalletID: w.ID})
		require.NoError(t, err)
		require.Len(t, history, 4)
		assert.True(t, history[0].RecordedAt.Equal(second))
		assert.True(t, history[3].RecordedAt.Equal(first))

		limited, err := repo.History(ctx, HistoryFilter{WalletID: w.ID, TokenSymbol: "SOL", Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.True(t, limited[0].Balance.Equal(decimal.NewFromInt(3)))
	})

	t.Run("tokens missing from a fetch are dropped", func(t *testing.T) {
		w, err := repo.CreateWallet(ctx, newWallet("cosmos1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc5lzv7xu", chain.Cosmos))
		require.NoError(t, err)

		t0 := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, repo.SaveSync(ctx, w.ID, []Snapshot{
			snap("ATOM", nil, "1", ""),
			snap("ibc/ABC", nil, "5", ""),
		}, t0))
		require.NoError(t, repo.SaveSync(ctx, w.ID, []Snapshot{snap("ATOM", nil, "2", "")}, t0.Add(time.Second)))

		current, err := repo.CurrentBalances(ctx, w.ID)
		require.NoError(t, err)
		require.Len(t, current, 1)
		assert.Equal(t, "ATOM", current[0].TokenSymbol)
	})

	t.Run("long denomination round trips", func(t *testing.T) {
		w, err := repo.CreateWallet(ctx, newWallet("celestia1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc5wgawu3", chain.Celestia))
		require.NoError(t, err)

		denom := "ibc/" + strings.Repeat("A", 64)
		require.Len(t, denom, 68)
		require.NoError(t, repo.SaveSync(ctx, w.ID, []Snapshot{snap(denom, nil, "0.000001", "")}, time.Now().UTC()))

		current, err := repo.CurrentBalances(ctx, w.ID)
		require.NoError(t, err)
		require.Len(t, current, 1)
		assert.Equal(t, denom, current[0].TokenSymbol)

		history, err := repo.History(ctx, HistoryFilter{TokenSymbol: denom})
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, denom, history[0].TokenSymbol)
	})

	t.Run("portfolio snapshot includes wallets without balances", func(t *testing.T) {
		w, err := repo.CreateWallet(ctx, newWallet("0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d", chain.Starknet))
		require.NoError(t, err)

		all, err := repo.PortfolioSnapshot(ctx)
		require.NoError(t, err)

		var found bool
		for _, wb := range all {
			if wb.Wallet.ID == w.ID {
				found = true
				assert.Empty(t, wb.Balances)
			}
			for _, b := range wb.Balances {
				assert.Equal(t, wb.Wallet.ID, b.WalletID)
			}
		}
		assert.True(t, found)
	})

	t.Run("delete cascades to balances and history", func(t *testing.T) {
		w, err := repo.CreateWallet(ctx, newWallet("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", chain.Ethereum))
		require.NoError(t, err)
		require.NoError(t, repo.SaveSync(ctx, w.ID, []Snapshot{snap("ETH", nil, "1", "")}, time.Now().UTC()))

		require.NoError(t, repo.DeleteWallet(ctx, w.ID))

		current, err := repo.CurrentBalances(ctx, w.ID)
		require.NoError(t, err)
		assert.Empty(t, current)
		history, err := repo.History(ctx, HistoryFilter{WalletID: w.ID})
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

func TestMemoryStore(t *testing.T) {
	testRepository(t, NewMemoryStore())
}

func TestMemoryStoreSaveSyncUnknownWallet(t *testing.T) {
	err := NewMemoryStore().SaveSync(context.Background(), uuid.NewString(), nil, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}
