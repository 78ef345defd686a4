// Package price resolves USD prices for a fixed allow-list of major token
// symbols. Symbols outside the list are never looked up.
package price

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/portfolio-tracker/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	DefaultTTL     = 60 * time.Second
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// ErrUnavailable is returned when no price can be produced for a symbol.
var ErrUnavailable = errors.New("price unavailable")

// DefaultSymbols maps allow-listed symbols to CoinGecko coin ids.
var DefaultSymbols = map[string]string{
	"ETH":  "ethereum",
	"BTC":  "bitcoin",
	"SOL":  "solana",
	"ATOM": "cosmos",
	"TIA":  "celestia",
	"STRK": "starknet",
	"USDC": "usd-coin",
	"USDT": "tether",
	"DAI":  "dai",
	"WETH": "weth",
	"WBTC": "wrapped-bitcoin",
}

// Config configures the Service.
type Config struct {
	BaseURL string
	TTL     time.Duration
	Timeout time.Duration
	// Symbols replaces DefaultSymbols when non-empty.
	Symbols map[string]string
}

// Service looks prices up on CoinGecko's simple/price endpoint and keeps
// them in a short-lived cache.
type Service struct {
	baseURL string
	ttl     time.Duration
	ids     map[string]string
	cache   Store
	http    *http.Client
}

// New creates a price service. store may be nil for an in-memory cache.
func New(cfg Config, store Store) *Service {
	s := &Service{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		ttl:     cfg.TTL,
		ids:     make(map[string]string),
		cache:   store,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	if s.baseURL == "" {
		s.baseURL = DefaultBaseURL
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if cfg.Timeout <= 0 {
		s.http.Timeout = defaultTimeout
	}
	if s.cache == nil {
		s.cache = NewMemoryStore(nil)
	}

	symbols := cfg.Symbols
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	for sym, id := range symbols {
		s.ids[strings.ToUpper(sym)] = id
	}
	return s
}

// Allowed reports whether symbol is on the allow-list.
func (s *Service) Allowed(symbol string) bool {
	_, ok := s.ids[strings.ToUpper(symbol)]
	return ok
}

// PriceOf returns the USD price of one allow-listed symbol.
func (s *Service) PriceOf(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := s.Prices(ctx, []string{symbol})
	if err != nil {
		return decimal.Decimal{}, err
	}
	p, ok := prices[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}
	return p, nil
}

// Prices resolves every allow-listed symbol in symbols with at most one
// upstream request. Keys of the result are upper-case; symbols without a
// price are absent. An error is returned only when the upstream request
// fails, together with whatever the cache could answer.
func (s *Service) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	missing := make(map[string]string) // coin id -> symbol

	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		id, ok := s.ids[sym]
		if !ok {
			continue
		}
		if _, done := out[sym]; done {
			continue
		}
		p, hit, err := s.cache.Get(ctx, sym)
		if err != nil {
			slog.Warn("Price cache read failed", "symbol", sym, "error", err)
		}
		if hit {
			metrics.PriceLookups.WithLabelValues("cache_hit").Inc()
			out[sym] = p
			continue
		}
		missing[id] = sym
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := s.fetch(ctx, missing)
	if err != nil {
		metrics.PriceLookups.WithLabelValues("unavailable").Add(float64(len(missing)))
		return out, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	for id, sym := range missing {
		p, ok := fetched[id]
		if !ok {
			metrics.PriceLookups.WithLabelValues("unavailable").Inc()
			continue
		}
		metrics.PriceLookups.WithLabelValues("fetched").Inc()
		out[sym] = p
		if err := s.cache.Set(ctx, sym, p, s.ttl); err != nil {
			slog.Warn("Price cache write failed", "symbol", sym, "error", err)
		}
	}
	return out, nil
}

func (s *Service) fetch(ctx context.Context, ids map[string]string) (map[string]decimal.Decimal, error) {
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	sort.Strings(list)

	q := url.Values{
		"ids":           {strings.Join(list, ",")},
		"vs_currencies": {"usd"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("price http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload map[string]map[string]json.Number
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode price json: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(payload))
	for id, quotes := range payload {
		n, ok := quotes["usd"]
		if !ok {
			continue
		}
		p, err := decimal.NewFromString(n.String())
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}
