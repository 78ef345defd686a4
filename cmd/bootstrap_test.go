package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/portfolio-tracker/internal/chain"
	"github.com/matrixise/portfolio-tracker/internal/config"
)

func TestBuildRegistry(t *testing.T) {
	cfg := &config.Config{Chains: []config.ChainConfig{
		{Name: "ethereum", RPCUrls: []string{"https://eth.example.com"}},
		{Name: "Solana", RPCUrls: []string{"https://sol.example.com"}},
		{Name: "celestia", RPCUrls: []string{"https://lcd.example.com"}, Denom: "utia", NativeDecimals: 6},
		{Name: "starknet", RPCUrls: []string{"https://stark.example.com"}},
	}}

	reg, err := buildRegistry(cfg)
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, []chain.Chain{chain.Celestia, chain.Ethereum, chain.Solana, chain.Starknet}, reg.Chains())

	a, ok := reg.Get(chain.Celestia)
	require.True(t, ok)
	assert.Equal(t, chain.Celestia, a.Chain())

	_, ok = reg.Get(chain.Cosmos)
	assert.False(t, ok, "only configured chains are registered")
}

func TestBuildRegistryUnknownChain(t *testing.T) {
	_, err := buildRegistry(&config.Config{Chains: []config.ChainConfig{
		{Name: "bitcoin", RPCUrls: []string{"https://btc.example.com"}},
	}})
	assert.ErrorContains(t, err, "unknown chain")
}

func TestEngineConfig(t *testing.T) {
	cfg := &config.Config{
		CacheTTL:    time.Minute,
		StaleTTL:    10 * time.Second,
		SyncTimeout: 30 * time.Second,
		Retry:       config.RetryConfig{MaxAttempts: 4, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second},
	}

	ec := engineConfig(cfg)
	assert.Equal(t, time.Minute, ec.CacheTTL)
	assert.Equal(t, 10*time.Second, ec.StaleTTL)
	assert.Equal(t, 30*time.Second, ec.SyncTimeout)
	assert.Equal(t, 4, ec.Retry.MaxAttempts)
	assert.Equal(t, time.Second, ec.Retry.InitialBackoff)
	assert.Equal(t, 5*time.Second, ec.Retry.MaxBackoff)
}

func TestPriceConfig(t *testing.T) {
	t.Run("symbols are upper-cased", func(t *testing.T) {
		pc := priceConfig(config.PriceConfig{
			TTL:     time.Minute,
			Symbols: map[string]string{"eth": "ethereum", "usdc": "usd-coin"},
		})
		assert.Equal(t, map[string]string{"ETH": "ethereum", "USDC": "usd-coin"}, pc.Symbols)
		assert.Equal(t, time.Minute, pc.TTL)
	})

	t.Run("no symbols keeps the built-in list", func(t *testing.T) {
		assert.Nil(t, priceConfig(config.PriceConfig{}).Symbols)
	})
}
