package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/matrixise/portfolio-tracker/internal/chain"
	"github.com/matrixise/portfolio-tracker/internal/scheduler"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	defaultSyncTimeout = 60 * time.Second

	// time the engine may still hold a wallet lock after sync_timeout,
	// reading stored balances for a stale answer
	lockHeadroom = 5 * time.Second
)

// Config represents the application configuration
type Config struct {
	LogLevel       string         `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	HTTPPort       int            `mapstructure:"http_port" validate:"omitempty,min=1024,max=65535"`
	Interval       string         `mapstructure:"interval" validate:"omitempty,schedule"`
	Timezone       string         `mapstructure:"timezone" validate:"omitempty,timezone"`
	RunImmediately *bool          `mapstructure:"run_immediately"`
	Concurrency    int            `mapstructure:"concurrency" validate:"omitempty,min=1,max=64"`
	Backend        string         `mapstructure:"backend" validate:"omitempty,oneof=memory redis"`
	CacheTTL       time.Duration  `mapstructure:"cache_ttl" validate:"gte=0"`
	StaleTTL       time.Duration  `mapstructure:"stale_ttl" validate:"gte=0"`
	LockTTL        time.Duration  `mapstructure:"lock_ttl" validate:"gte=0"`
	SyncTimeout    time.Duration  `mapstructure:"sync_timeout" validate:"gte=0"`
	CORSOrigins    []string       `mapstructure:"cors_origins"`
	Retry          RetryConfig    `mapstructure:"retry"`
	Price          PriceConfig    `mapstructure:"price"`
	Chains         []ChainConfig  `mapstructure:"chains" validate:"required,min=1,unique=Name,dive"`
	Wallets        []WalletConfig `mapstructure:"wallets" validate:"dive"`
}

// RetryConfig bounds adapter call retries.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"omitempty,min=1,max=10"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"gte=0"`
}

// ChainConfig configures one chain adapter. Tokens are the contracts
// enumerated on Ethereum and Starknet and the mint symbols on Solana.
type ChainConfig struct {
	Name           string        `mapstructure:"name" validate:"required,chain"`
	RPCUrl         string        `mapstructure:"rpc_url"` // Deprecated: use RPCUrls
	RPCUrls        []string      `mapstructure:"rpc_urls" validate:"required,min=1,dive,url"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gte=0"`
	NativeSymbol   string        `mapstructure:"native_symbol" validate:"omitempty,max=20"`
	NativeDecimals uint8         `mapstructure:"native_decimals"`
	Denom          string        `mapstructure:"denom" validate:"omitempty,max=128"`
	Tokens         []TokenConfig `mapstructure:"tokens" validate:"dive"`
}

// TokenConfig represents a single token configuration
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol" validate:"required,min=1,max=100"`
	Address  string `mapstructure:"address" validate:"required"`
	Decimals uint8  `mapstructure:"decimals"`
}

// PriceConfig configures the USD price lookup. Symbols maps allow-listed
// ticker symbols to CoinGecko ids and replaces the built-in list.
type PriceConfig struct {
	Enabled *bool             `mapstructure:"enabled"`
	BaseURL string            `mapstructure:"base_url" validate:"omitempty,url"`
	TTL     time.Duration     `mapstructure:"ttl" validate:"gte=0"`
	Timeout time.Duration     `mapstructure:"timeout" validate:"gte=0"`
	Symbols map[string]string `mapstructure:"symbols" validate:"dive,keys,min=1,max=100,endkeys,required"`
}

// WalletConfig is a wallet registered at startup when missing.
type WalletConfig struct {
	Address string `mapstructure:"address" validate:"required"`
	Chain   string `mapstructure:"chain" validate:"required,chain"`
	Label   string `mapstructure:"label" validate:"omitempty,max=255"`
}

// Normalize converts a single rpc_url into rpc_urls for every chain.
func (c *Config) Normalize() error {
	for i := range c.Chains {
		if err := c.Chains[i].Normalize(); err != nil {
			return err
		}
	}
	return nil
}

// Normalize converts single rpc_url to rpc_urls array for backward compatibility
func (cc *ChainConfig) Normalize() error {
	if len(cc.RPCUrls) == 0 && cc.RPCUrl != "" {
		cc.RPCUrls = []string{cc.RPCUrl}
	}
	cc.RPCUrl = ""

	if len(cc.RPCUrls) == 0 {
		return fmt.Errorf("chain %q: either rpc_url or rpc_urls must be provided", cc.Name)
	}
	return nil
}

// GetTimezone returns the configured location, UTC when unset or invalid.
func (c *Config) GetTimezone() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ShouldRunImmediately defaults to true.
func (c *Config) ShouldRunImmediately() bool {
	if c.RunImmediately == nil {
		return true
	}
	return *c.RunImmediately
}

// PriceEnabled defaults to true.
func (c *Config) PriceEnabled() bool {
	if c.Price.Enabled == nil {
		return true
	}
	return *c.Price.Enabled
}

// IsCronExpression reports whether Interval is a cron expression.
func (c *Config) IsCronExpression() bool {
	return scheduler.ValidateScheduleInterval(c.Interval) == nil && !isDuration(c.Interval)
}

func isDuration(s string) bool {
	_, err := time.ParseDuration(s)
	return err == nil
}

// Chain returns the configuration for name.
func (c *Config) Chain(name chain.Chain) (ChainConfig, bool) {
	for _, cc := range c.Chains {
		if parsed, err := chain.Parse(cc.Name); err == nil && parsed == name {
			return cc, true
		}
	}
	return ChainConfig{}, false
}

func chainValidator(fl validator.FieldLevel) bool {
	_, err := chain.Parse(fl.Field().String())
	return err == nil
}

func scheduleValidator(fl validator.FieldLevel) bool {
	return scheduler.ValidateScheduleInterval(fl.Field().String()) == nil
}

func timezoneValidator(fl validator.FieldLevel) bool {
	if fl.Field().String() == "" {
		return true
	}
	_, err := time.LoadLocation(fl.Field().String())
	return err == nil
}

// chainConfigLevel checks token addresses with the address rules of the
// chain they live on.
func chainConfigLevel(sl validator.StructLevel) {
	cc := sl.Current().Interface().(ChainConfig)
	c, err := chain.Parse(cc.Name)
	if err != nil {
		return
	}
	for i, tok := range cc.Tokens {
		if tok.Address == "" {
			continue
		}
		if err := chain.Validate(c, tok.Address); err != nil {
			sl.ReportError(tok.Address, fmt.Sprintf("Tokens[%d].Address", i), "Address", "token_addr", "")
		}
	}
	if c.Family() == chain.FamilyCosmos && len(cc.Tokens) > 0 {
		sl.ReportError(cc.Tokens, "Tokens", "Tokens", "no_tokens", "")
	}
}

func walletConfigLevel(sl validator.StructLevel) {
	w := sl.Current().Interface().(WalletConfig)
	c, err := chain.Parse(w.Chain)
	if err != nil {
		return
	}
	if err := chain.Validate(c, w.Address); err != nil {
		sl.ReportError(w.Address, "Address", "Address", "wallet_addr", "")
	}
}

// NewValidator creates a validator with custom validation rules
func NewValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("chain", chainValidator)
	_ = validate.RegisterValidation("schedule", scheduleValidator)
	_ = validate.RegisterValidation("timezone", timezoneValidator)
	validate.RegisterStructValidation(chainConfigLevel, ChainConfig{})
	validate.RegisterStructValidation(walletConfigLevel, WalletConfig{})
	return validate
}

// Validate checks cross-field rules the struct tags cannot express.
func (c *Config) Validate() error {
	if err := NewValidator().Struct(c); err != nil {
		return err
	}
	if c.Retry.MaxBackoff > 0 && c.Retry.InitialBackoff > c.Retry.MaxBackoff {
		return errors.New("retry.initial_backoff must not exceed retry.max_backoff")
	}
	if c.Backend == BackendRedis {
		if err := c.validateLockTTL(); err != nil {
			return err
		}
	}
	return nil
}

// validateLockTTL keeps the Redis wallet lock alive for a whole sync. The
// lock is never renewed, so an early expiry lets a second process fetch the
// same wallet.
func (c *Config) validateLockTTL() error {
	syncTimeout := c.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = defaultSyncTimeout
	}
	if minTTL := syncTimeout + lockHeadroom; c.LockTTL <= minTTL {
		return fmt.Errorf("lock_ttl (%s) must exceed sync_timeout plus %s (%s) with the redis backend",
			c.LockTTL, lockHeadroom, minTTL)
	}
	return nil
}
