// Package syncer implements the balance synchronization engine: cache-aside
// reads, per-wallet locking, bounded retries against chain adapters, atomic
// persistence and stale fallback.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/matrixise/portfolio-tracker/internal/cache"
	"github.com/matrixise/portfolio-tracker/internal/chain"
	"github.com/matrixise/portfolio-tracker/internal/events"
	"github.com/matrixise/portfolio-tracker/internal/lock"
	"github.com/matrixise/portfolio-tracker/internal/metrics"
	"github.com/matrixise/portfolio-tracker/internal/storage"
)

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultStaleTTL    = 30 * time.Second
	defaultSyncTimeout = 60 * time.Second

	// bound for reads done after the sync deadline already passed
	fallbackTimeout = 5 * time.Second
)

// Source tells where the balances of a Result came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
	SourceStale   Source = "stale"
)

// Result is the outcome of one sync call. Balances must be treated as
// read-only: coalesced callers share the slice.
type Result struct {
	Wallet    storage.Wallet     `json:"wallet"`
	Balances  []storage.Snapshot `json:"balances"`
	FetchedAt time.Time          `json:"fetched_at"`
	Stale     bool               `json:"stale"`
	Source    Source             `json:"source"`
}

// PriceLookup resolves USD prices for allow-listed symbols.
type PriceLookup interface {
	Allowed(symbol string) bool
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	CacheTTL    time.Duration
	StaleTTL    time.Duration
	SyncTimeout time.Duration
	Retry       RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.StaleTTL <= 0 {
		c.StaleTTL = defaultStaleTTL
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = defaultSyncTimeout
	}
	return c
}

// Deps are the collaborators the engine is built from. Store, Cache, Locks
// and Registry are required; Prices and Publisher are optional.
type Deps struct {
	Store     storage.Repository
	Cache     cache.Cache
	Locks     lock.Locker
	Registry  *chain.Registry
	Prices    PriceLookup
	Publisher events.Publisher
}

// Engine is the only writer of the balance cache and snapshot table.
type Engine struct {
	store     storage.Repository
	cache     cache.Cache
	locks     lock.Locker
	registry  *chain.Registry
	prices    PriceLookup
	publisher events.Publisher
	cfg       Config

	flights singleflight.Group
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// New creates an Engine.
func New(deps Deps, cfg Config) *Engine {
	pub := deps.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{
		store:     deps.Store,
		cache:     deps.Cache,
		locks:     deps.Locks,
		registry:  deps.Registry,
		prices:    deps.Prices,
		publisher: pub,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Sync returns the balances of one wallet. Without force a fresh cache entry
// is returned as is. Concurrent calls for the same wallet and mode share one
// fetch; callers that give up early do not cancel it for the others.
func (e *Engine) Sync(ctx context.Context, walletID string, force bool) (*Result, error) {
	requestedAt := e.now()

	key := walletID + ":cached"
	if force {
		key = walletID + ":force"
	}

	ch := e.flights.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SyncTimeout)
		defer cancel()
		return e.sync(fctx, walletID, force, requestedAt)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		r := *res.Val.(*Result)
		return &r, nil
	}
}

func (e *Engine) sync(ctx context.Context, walletID string, force bool, requestedAt time.Time) (*Result, error) {
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load wallet: %w", ErrPersistence, err)
	}

	release, err := e.locks.Acquire(ctx, "wallet:"+walletID)
	if err != nil {
		e.observe(w.Chain, "failed")
		return nil, fmt.Errorf("%w: wait for wallet lock: %w", ErrRPCUnavailable, err)
	}
	defer release()

	prev, hit := e.cacheGet(ctx, walletID)
	if hit {
		if !force {
			e.observe(w.Chain, "cache_hit")
			return fromEntry(w, prev, SourceCache), nil
		}
		// another caller refreshed while we waited for the lock
		if !prev.Stale && !prev.FetchedAt.Before(requestedAt) {
			slog.Debug("Forced sync coalesced with a newer fetch", "wallet_id", walletID)
			e.observe(w.Chain, "cache_hit")
			return fromEntry(w, prev, SourceCache), nil
		}
	}

	adapter, ok := e.registry.Get(w.Chain)
	if !ok {
		e.observe(w.Chain, "failed")
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, w.Chain)
	}
	if err := chain.Validate(w.Chain, w.Address); err != nil {
		e.observe(w.Chain, "failed")
		return nil, err
	}

	start := e.now()
	balances, err := e.fetch(ctx, adapter, w.Address)
	metrics.SyncDuration.WithLabelValues(string(w.Chain)).Observe(e.now().Sub(start).Seconds())
	if err != nil {
		if chain.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			var cached *cache.Entry
			if hit {
				cached = &prev
			}
			return e.fallback(ctx, w, cached, err)
		}
		e.observe(w.Chain, "failed")
		var valErr *chain.ValidationError
		if errors.As(err, &valErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRPCFatal, err)
	}

	fetchedAt := e.now().UTC()
	snaps := e.buildSnapshots(ctx, w, balances, fetchedAt)

	if err := e.store.SaveSync(ctx, w.ID, snaps, fetchedAt); err != nil {
		e.observe(w.Chain, "failed")
		return nil, fmt.Errorf("%w: save balances of wallet %s: %w", ErrPersistence, w.ID, err)
	}

	entry := cache.Entry{
		WalletID:  w.ID,
		Chain:     w.Chain,
		Balances:  snaps,
		FetchedAt: fetchedAt,
	}
	if err := e.cache.Set(ctx, w.ID, entry, e.cfg.CacheTTL); err != nil {
		slog.Warn("Failed to cache balances", "wallet_id", w.ID, "error", err)
	}

	if err := e.publisher.PublishBalanceUpdated(ctx, events.NewBalanceUpdated(w, snaps, fetchedAt)); err != nil {
		slog.Warn("Failed to publish balance update", "wallet_id", w.ID, "error", err)
	}

	e.observe(w.Chain, "fetched")
	slog.Info("Wallet synced",
		"wallet_id", w.ID,
		"chain", w.Chain,
		"tokens", len(snaps),
		"duration", e.now().Sub(start))

	return &Result{
		Wallet:    w,
		Balances:  snaps,
		FetchedAt: fetchedAt,
		Source:    SourceNetwork,
	}, nil
}

// fetch runs the native and token calls concurrently, each with its own
// retry budget. The first failure cancels the other call.
func (e *Engine) fetch(ctx context.Context, a chain.Adapter, address string) ([]chain.Balance, error) {
	var (
		native chain.Balance
		tokens []chain.Balance
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.withRetry(gctx, a.Chain(), "native", func(ctx context.Context) error {
			b, err := a.FetchNative(ctx, address)
			if err != nil {
				return err
			}
			native = b
			return nil
		})
	})
	g.Go(func() error {
		return e.withRetry(gctx, a.Chain(), "tokens", func(ctx context.Context) error {
			bs, err := a.FetchTokens(ctx, address)
			if err != nil {
				return err
			}
			tokens = bs
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]chain.Balance, 0, len(tokens)+1)
	out = append(out, native)
	return append(out, tokens...), nil
}

// buildSnapshots attaches USD values. Price failures only leave usd_value
// null.
func (e *Engine) buildSnapshots(ctx context.Context, w storage.Wallet, balances []chain.Balance, fetchedAt time.Time) []storage.Snapshot {
	prices := e.lookupPrices(ctx, balances)

	snaps := make([]storage.Snapshot, 0, len(balances))
	for _, b := range balances {
		s := storage.Snapshot{
			WalletID:    w.ID,
			TokenSymbol: b.Symbol,
			Balance:     b.Amount,
			LastUpdated: fetchedAt,
		}
		if b.TokenAddress != "" {
			addr := b.TokenAddress
			s.TokenAddress = &addr
		}
		if p, ok := prices[strings.ToUpper(b.Symbol)]; ok {
			s.USDValue = decimal.NewNullDecimal(b.Amount.Mul(p).Round(2))
		}
		snaps = append(snaps, s)
	}
	return snaps
}

func (e *Engine) lookupPrices(ctx context.Context, balances []chain.Balance) map[string]decimal.Decimal {
	if e.prices == nil {
		return nil
	}
	var symbols []string
	for _, b := range balances {
		if e.prices.Allowed(b.Symbol) {
			symbols = append(symbols, b.Symbol)
		}
	}
	if len(symbols) == 0 {
		return nil
	}
	prices, err := e.prices.Prices(ctx, symbols)
	if err != nil {
		slog.Warn("Price lookup failed, usd values left empty", "symbols", symbols, "error", err)
	}
	return prices
}

// fallback serves the last known balances marked stale, or fails with
// ErrRPCUnavailable when nothing was ever stored.
func (e *Engine) fallback(ctx context.Context, w storage.Wallet, cached *cache.Entry, cause error) (*Result, error) {
	// ctx may already be past its deadline
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackTimeout)
	defer cancel()

	var entry cache.Entry
	switch {
	case cached != nil:
		entry = *cached
	default:
		snaps, err := e.store.CurrentBalances(rctx, w.ID)
		if err != nil {
			slog.Warn("Failed to read stored balances for fallback", "wallet_id", w.ID, "error", err)
		}
		if len(snaps) == 0 {
			e.observe(w.Chain, "failed")
			return nil, fmt.Errorf("%w: %w", ErrRPCUnavailable, cause)
		}
		entry = cache.Entry{
			WalletID:  w.ID,
			Chain:     w.Chain,
			Balances:  snaps,
			FetchedAt: latestUpdate(snaps),
		}
	}

	entry.Stale = true
	if err := e.cache.Set(rctx, w.ID, entry, e.cfg.StaleTTL); err != nil {
		slog.Warn("Failed to cache stale balances", "wallet_id", w.ID, "error", err)
	}

	slog.Warn("Chain unavailable, serving stale balances",
		"wallet_id", w.ID,
		"chain", w.Chain,
		"fetched_at", entry.FetchedAt,
		"error", cause)
	e.observe(w.Chain, "stale")
	return fromEntry(w, entry, SourceStale), nil
}

func (e *Engine) cacheGet(ctx context.Context, walletID string) (cache.Entry, bool) {
	entry, hit, err := e.cache.Get(ctx, walletID)
	if err != nil {
		slog.Warn("Balance cache read failed, treating as miss", "wallet_id", walletID, "error", err)
		return cache.Entry{}, false
	}
	return entry, hit
}

// Invalidate drops the cached balances of a wallet.
func (e *Engine) Invalidate(ctx context.Context, walletID string) error {
	return e.cache.Delete(ctx, walletID)
}

func (e *Engine) observe(c chain.Chain, outcome string) {
	metrics.SyncTotal.WithLabelValues(string(c), outcome).Inc()
}

func fromEntry(w storage.Wallet, entry cache.Entry, src Source) *Result {
	return &Result{
		Wallet:    w,
		Balances:  entry.Balances,
		FetchedAt: entry.FetchedAt,
		Stale:     entry.Stale,
		Source:    src,
	}
}

func latestUpdate(snaps []storage.Snapshot) time.Time {
	var latest time.Time
	for _, s := range snaps {
		if s.LastUpdated.After(latest) {
			latest = s.LastUpdated
		}
	}
	return latest
}
