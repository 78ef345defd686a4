// Package cosmos implements the chain adapter for Cosmos SDK networks
// (Cosmos Hub, Celestia) over the bank module REST API.
package cosmos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultDecimals = 6
	maxBodyBytes    = 2 << 20
	pageLimit       = "200"
)

// Native denominations of the supported networks.
var nativeDenoms = map[chain.Chain]chain.Token{
	chain.Cosmos:   {Symbol: "ATOM", Address: "uatom", Decimals: defaultDecimals},
	chain.Celestia: {Symbol: "TIA", Address: "utia", Decimals: defaultDecimals},
}

// Config configures the adapter. URLs point to LCD/REST endpoints.
type Config struct {
	Chain          chain.Chain
	RESTURLs       []string
	Timeout        time.Duration
	NativeSymbol   string
	Denom          string
	NativeDecimals uint8
}

type restClient struct {
	base string
	http *http.Client
}

// Adapter fetches bank balances for one cosmos-family chain.
type Adapter struct {
	chain    chain.Chain
	failover *chain.Failover[*restClient]
	native   chain.Token
}

// New creates the adapter for cfg.Chain.
func New(cfg Config) (*Adapter, error) {
	native, ok := nativeDenoms[cfg.Chain]
	if !ok {
		return nil, fmt.Errorf("%s is not a cosmos-family chain", cfg.Chain)
	}
	if cfg.NativeSymbol != "" {
		native.Symbol = cfg.NativeSymbol
	}
	if cfg.Denom != "" {
		native.Address = cfg.Denom
	}
	if cfg.NativeDecimals != 0 {
		native.Decimals = cfg.NativeDecimals
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	dial := func(_ context.Context, base string) (*restClient, error) {
		return &restClient{base: strings.TrimRight(base, "/"), http: httpClient}, nil
	}

	fo, err := chain.NewFailover(cfg.Chain, cfg.RESTURLs, dial, nil)
	if err != nil {
		return nil, err
	}
	return &Adapter{chain: cfg.Chain, failover: fo, native: native}, nil
}

func (a *Adapter) Chain() chain.Chain {
	return a.chain
}

type coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type denomBalanceResponse struct {
	Balance coin `json:"balance"`
}

type allBalancesResponse struct {
	Balances   []coin `json:"balances"`
	Pagination struct {
		NextKey *string `json:"next_key"`
	} `json:"pagination"`
}

// FetchNative returns the balance of the chain's staking denomination.
func (a *Adapter) FetchNative(ctx context.Context, address string) (chain.Balance, error) {
	var resp denomBalanceResponse
	path := "/cosmos/bank/v1beta1/balances/" + url.PathEscape(address) + "/by_denom"
	query := url.Values{"denom": {a.native.Address}}

	err := a.failover.Do(ctx, "balance_by_denom", func(ctx context.Context, c *restClient) error {
		return c.get(ctx, path, query, &resp)
	})
	if err != nil {
		return chain.Balance{}, err
	}

	amount, err := parseAmount(resp.Balance.Amount, a.native.Decimals)
	if err != nil {
		return chain.Balance{}, chain.FatalError(a.chain, "balance_by_denom", err)
	}
	return chain.Balance{Symbol: a.native.Symbol, Amount: amount}, nil
}

// FetchTokens returns every non-native denomination the address holds. IBC
// and factory denominations are opaque, so the full denom is the symbol and
// the token address is left empty.
func (a *Adapter) FetchTokens(ctx context.Context, address string) ([]chain.Balance, error) {
	path := "/cosmos/bank/v1beta1/balances/" + url.PathEscape(address)

	var out []chain.Balance
	var nextKey string
	for {
		query := url.Values{"pagination.limit": {pageLimit}}
		if nextKey != "" {
			query.Set("pagination.key", nextKey)
		}

		var resp allBalancesResponse
		err := a.failover.Do(ctx, "all_balances", func(ctx context.Context, c *restClient) error {
			return c.get(ctx, path, query, &resp)
		})
		if err != nil {
			return nil, err
		}

		for _, b := range resp.Balances {
			if b.Denom == "" || b.Denom == a.native.Address {
				continue
			}
			amount, err := parseAmount(b.Amount, defaultDecimals)
			if err != nil {
				return nil, chain.FatalError(a.chain, "all_balances", err)
			}
			if amount.IsZero() {
				continue
			}
			out = append(out, chain.Balance{Symbol: b.Denom, Amount: amount})
		}

		if resp.Pagination.NextKey == nil || *resp.Pagination.NextKey == "" {
			return out, nil
		}
		nextKey = *resp.Pagination.NextKey
	}
}

func (c *restClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &chain.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func parseAmount(s string, decimals uint8) (decimal.Decimal, error) {
	if s == "" {
		return chain.FromBaseUnits(nil, decimals), nil
	}
	raw, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	return chain.FromBaseUnits(raw, decimals), nil
}

// EndpointsHealth reports per-endpoint health for the health checker.
func (a *Adapter) EndpointsHealth() map[string]bool {
	return a.failover.EndpointsHealth()
}
