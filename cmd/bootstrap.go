package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/matrixise/portfolio-tracker/internal/cache"
	"github.com/matrixise/portfolio-tracker/internal/chain"
	"github.com/matrixise/portfolio-tracker/internal/chain/cosmos"
	"github.com/matrixise/portfolio-tracker/internal/chain/ethereum"
	"github.com/matrixise/portfolio-tracker/internal/chain/solana"
	"github.com/matrixise/portfolio-tracker/internal/chain/starknet"
	"github.com/matrixise/portfolio-tracker/internal/config"
	"github.com/matrixise/portfolio-tracker/internal/events"
	"github.com/matrixise/portfolio-tracker/internal/health"
	"github.com/matrixise/portfolio-tracker/internal/lock"
	"github.com/matrixise/portfolio-tracker/internal/logger"
	"github.com/matrixise/portfolio-tracker/internal/portfolio"
	"github.com/matrixise/portfolio-tracker/internal/price"
	"github.com/matrixise/portfolio-tracker/internal/storage"
	"github.com/matrixise/portfolio-tracker/internal/syncer"
	"github.com/matrixise/portfolio-tracker/internal/wallets"
)

// app holds every long-lived component built from the configuration.
type app struct {
	cfg       *config.Config
	store     storage.Repository
	redis     *redis.Client
	cache     cache.Cache
	registry  *chain.Registry
	publisher events.Publisher
	engine    *syncer.Engine
	wallets   *wallets.Service
	portfolio *portfolio.Aggregator
}

// loadConfig loads the configuration and secrets and applies the log level.
func loadConfig() (*config.Config, config.Secrets, error) {
	logger.Setup(logLevel)

	cfg, secrets, err := config.LoadWithDefaults(cfgFile)
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return nil, config.Secrets{}, err
	}
	if cfg.LogLevel != "" && !cmdFlagChanged("log-level") {
		logger.Setup(cfg.LogLevel)
	}
	return cfg, secrets, nil
}

func cmdFlagChanged(name string) bool {
	f := rootCmd.PersistentFlags().Lookup(name)
	return f != nil && f.Changed
}

// newApp connects to PostgreSQL, the optional Redis and AMQP brokers, and
// assembles the sync engine.
func newApp(ctx context.Context, cfg *config.Config, secrets config.Secrets) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	store, err := storage.NewStore(ctx, secrets.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	a.store = store
	slog.Info("PostgreSQL connection established")

	var (
		locks      lock.Locker
		priceStore price.Store
	)
	switch cfg.Backend {
	case config.BackendRedis:
		client, err := cache.ConnectRedis(ctx, secrets.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.cache = cache.NewRedis(client)
		locks = lock.NewRedis(client, cfg.LockTTL)
		priceStore = price.NewRedisStore(client)
		slog.Info("Redis connection established")
	default:
		a.cache = cache.NewMemory(nil)
		locks = lock.NewMemory()
		priceStore = price.NewMemoryStore(nil)
	}

	a.registry, err = buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	a.publisher = events.Nop{}
	if secrets.AMQPURL != "" {
		pub, err := events.NewAMQP(secrets.AMQPURL)
		if err != nil {
			return nil, err
		}
		a.publisher = pub
	}

	deps := syncer.Deps{
		Store:     a.store,
		Cache:     a.cache,
		Locks:     locks,
		Registry:  a.registry,
		Publisher: a.publisher,
	}
	if cfg.PriceEnabled() {
		deps.Prices = price.New(priceConfig(cfg.Price), priceStore)
	}

	a.engine = syncer.New(deps, engineConfig(cfg))
	a.wallets = wallets.NewService(a.store, a.engine)
	a.portfolio = portfolio.NewAggregator(a.store)
	return a, nil
}

// cachePinger is nil for the in-process cache.
func (a *app) cachePinger() health.Pinger {
	if p, ok := a.cache.(health.Pinger); ok {
		return p
	}
	return nil
}

// seedWallets registers the wallets listed in the config file. Wallets
// that are already tracked are left alone.
func (a *app) seedWallets(ctx context.Context) error {
	for _, wc := range a.cfg.Wallets {
		var label *string
		if wc.Label != "" {
			label = &wc.Label
		}
		w, err := a.wallets.Create(ctx, wc.Address, wc.Chain, label)
		switch {
		case errors.Is(err, storage.ErrWalletExists):
			slog.Debug("Configured wallet already tracked", "chain", wc.Chain, "address", wc.Address)
		case err != nil:
			return fmt.Errorf("seed wallet %s on %s: %w", wc.Address, wc.Chain, err)
		default:
			slog.Info("Configured wallet registered", "wallet_id", w.ID, "chain", w.Chain, "address", w.Address)
		}
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			slog.Warn("Failed to close event publisher", "error", err)
		}
	}
	if a.registry != nil {
		a.registry.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("Failed to close Redis client", "error", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

// buildRegistry creates one adapter per configured chain section.
func buildRegistry(cfg *config.Config) (*chain.Registry, error) {
	reg := chain.NewRegistry()
	for _, cc := range cfg.Chains {
		c, err := chain.Parse(cc.Name)
		if err != nil {
			return nil, err
		}
		adapter, err := newAdapter(c, cc)
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("%s adapter: %w", c, err)
		}
		reg.Register(adapter)

		slog.Info("Chain adapter registered",
			"chain", c,
			"endpoints", len(cc.RPCUrls),
			"primary", cc.RPCUrls[0],
			"tokens", len(cc.Tokens))
	}
	return reg, nil
}

func newAdapter(c chain.Chain, cc config.ChainConfig) (chain.Adapter, error) {
	tokens := make([]chain.Token, 0, len(cc.Tokens))
	for _, t := range cc.Tokens {
		tokens = append(tokens, chain.Token{Symbol: t.Symbol, Address: t.Address, Decimals: t.Decimals})
	}

	switch c.Family() {
	case chain.FamilyEVM:
		return ethereum.New(ethereum.Config{RPCURLs: cc.RPCUrls, Timeout: cc.Timeout, NativeSymbol: cc.NativeSymbol, Tokens: tokens})
	case chain.FamilySolana:
		return solana.New(solana.Config{RPCURLs: cc.RPCUrls, Timeout: cc.Timeout, NativeSymbol: cc.NativeSymbol, Tokens: tokens})
	case chain.FamilyStarknet:
		return starknet.New(starknet.Config{RPCURLs: cc.RPCUrls, Timeout: cc.Timeout, NativeSymbol: cc.NativeSymbol, Tokens: tokens})
	case chain.FamilyCosmos:
		return cosmos.New(cosmos.Config{
			Chain:          c,
			RESTURLs:       cc.RPCUrls,
			Timeout:        cc.Timeout,
			NativeSymbol:   cc.NativeSymbol,
			Denom:          cc.Denom,
			NativeDecimals: cc.NativeDecimals,
		})
	default:
		return nil, fmt.Errorf("no adapter for chain %s", c)
	}
}

func engineConfig(cfg *config.Config) syncer.Config {
	return syncer.Config{
		CacheTTL:    cfg.CacheTTL,
		StaleTTL:    cfg.StaleTTL,
		SyncTimeout: cfg.SyncTimeout,
		Retry: syncer.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
	}
}

// priceConfig upper-cases symbol keys, which the config loader lower-cases.
func priceConfig(pc config.PriceConfig) price.Config {
	var symbols map[string]string
	if len(pc.Symbols) > 0 {
		symbols = make(map[string]string, len(pc.Symbols))
		for sym, id := range pc.Symbols {
			symbols[strings.ToUpper(sym)] = id
		}
	}
	return price.Config{
		BaseURL: pc.BaseURL,
		TTL:     pc.TTL,
		Timeout: pc.Timeout,
		Symbols: symbols,
	}
}
