package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

func TestChainConfigNormalize(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *ChainConfig
		wantError bool
		wantURLs  []string
	}{
		{
			name:     "single rpc_url converts to rpc_urls",
			cfg:      &ChainConfig{Name: "ethereum", RPCUrl: "https://rpc1.example.com"},
			wantURLs: []string{"https://rpc1.example.com"},
		},
		{
			name: "rpc_urls takes precedence over rpc_url",
			cfg: &ChainConfig{
				Name:    "ethereum",
				RPCUrl:  "https://rpc1.example.com",
				RPCUrls: []string{"https://rpc2.example.com", "https://rpc3.example.com"},
			},
			wantURLs: []string{"https://rpc2.example.com", "https://rpc3.example.com"},
		},
		{
			name:     "empty rpc_urls with non-empty rpc_url still converts",
			cfg:      &ChainConfig{Name: "solana", RPCUrl: "https://rpc1.example.com", RPCUrls: []string{}},
			wantURLs: []string{"https://rpc1.example.com"},
		},
		{
			name:      "both empty returns error",
			cfg:       &ChainConfig{Name: "cosmos"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Normalize()
			if tt.wantError {
				assert.ErrorContains(t, err, tt.cfg.Name)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, tt.cfg.RPCUrl)
			assert.Equal(t, tt.wantURLs, tt.cfg.RPCUrls)
		})
	}
}

func TestConfigNormalizeAllChains(t *testing.T) {
	cfg := &Config{Chains: []ChainConfig{
		{Name: "ethereum", RPCUrl: "https://eth.example.com"},
		{Name: "solana", RPCUrls: []string{"https://sol.example.com"}},
	}}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, []string{"https://eth.example.com"}, cfg.Chains[0].RPCUrls)

	cfg.Chains = append(cfg.Chains, ChainConfig{Name: "starknet"})
	assert.ErrorContains(t, cfg.Normalize(), `chain "starknet"`)
}

func TestConfigGetTimezone(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		wantName string
	}{
		{name: "UTC timezone", cfg: &Config{Timezone: "UTC"}, wantName: "UTC"},
		{name: "empty timezone defaults to UTC", cfg: &Config{}, wantName: "UTC"},
		{name: "named zone", cfg: &Config{Timezone: "Europe/Brussels"}, wantName: "Europe/Brussels"},
		{name: "invalid zone falls back to UTC", cfg: &Config{Timezone: "Mars/Olympus"}, wantName: "UTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantName, tt.cfg.GetTimezone().String())
		})
	}
}

func TestConfigShouldRunImmediately(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name    string
		cfg     *Config
		wantRun bool
	}{
		{name: "true when explicitly set", cfg: &Config{RunImmediately: &trueVal}, wantRun: true},
		{name: "false when explicitly disabled", cfg: &Config{RunImmediately: &falseVal}, wantRun: false},
		{name: "nil pointer defaults to true", cfg: &Config{}, wantRun: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantRun, tt.cfg.ShouldRunImmediately())
		})
	}
}

func TestConfigPriceEnabled(t *testing.T) {
	off := false
	assert.True(t, (&Config{}).PriceEnabled())
	assert.False(t, (&Config{Price: PriceConfig{Enabled: &off}}).PriceEnabled())
}

func TestConfigIsCronExpression(t *testing.T) {
	tests := []struct {
		interval string
		want     bool
	}{
		{interval: "*/5 * * * *", want: true},
		{interval: "0 9 * * 1-5", want: true},
		{interval: "5m", want: false},
		{interval: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			cfg := &Config{Interval: tt.interval}
			assert.Equal(t, tt.want, cfg.IsCronExpression())
		})
	}
}

func TestConfigChain(t *testing.T) {
	cfg := &Config{Chains: []ChainConfig{
		{Name: "ethereum", NativeSymbol: "ETH"},
		{Name: "celestia", NativeSymbol: "TIA"},
	}}

	cc, ok := cfg.Chain(chain.Celestia)
	require.True(t, ok)
	assert.Equal(t, "TIA", cc.NativeSymbol)

	_, ok = cfg.Chain(chain.Solana)
	assert.False(t, ok)
}

func TestConfigValidateRetryBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 3, InitialBackoff: 20 * time.Second, MaxBackoff: 10 * time.Second}

	assert.EqualError(t, cfg.Validate(), "retry.initial_backoff must not exceed retry.max_backoff")
}

func validConfig() *Config {
	return &Config{
		LogLevel: "info",
		HTTPPort: 8080,
		Backend:  BackendMemory,
		Retry:    RetryConfig{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second},
		Chains: []ChainConfig{
			{
				Name:         "ethereum",
				RPCUrls:      []string{"https://eth.example.com"},
				NativeSymbol: "ETH",
				Tokens: []TokenConfig{
					{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
				},
			},
		},
	}
}
