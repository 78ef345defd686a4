// Package starknet implements the chain adapter for Starknet. Balances are
// read with starknet_call against the ERC-20 style fee-token contracts.
package starknet

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

const (
	defaultTimeout = 10 * time.Second
	tokenDecimals  = 18

	// starknet_keccak("balanceOf")
	balanceOfSelector = "0x2e4263afad30923c891518314c3c95dbe830a16874e8abc5777a9a20b54c76e"

	STRKContract = "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"
	ETHContract  = "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"
)

// DefaultTokens are enumerated when no token list is configured.
var DefaultTokens = []chain.Token{
	{Symbol: "ETH", Address: ETHContract, Decimals: tokenDecimals},
}

// Config configures the adapter.
type Config struct {
	RPCURLs      []string
	Timeout      time.Duration
	NativeSymbol string
	Tokens       []chain.Token
}

// Adapter fetches Starknet balances over JSON-RPC.
type Adapter struct {
	failover *chain.Failover[*rpc.Client]
	timeout  time.Duration
	native   chain.Token
	tokens   []chain.Token
}

// New creates the adapter. Endpoints are dialed on first use.
func New(cfg Config) (*Adapter, error) {
	fo, err := chain.NewFailover(chain.Starknet, cfg.RPCURLs, rpc.DialContext, (*rpc.Client).Close)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		failover: fo,
		timeout:  cfg.Timeout,
		native:   chain.Token{Symbol: cfg.NativeSymbol, Address: STRKContract, Decimals: tokenDecimals},
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	if a.native.Symbol == "" {
		a.native.Symbol = "STRK"
	}
	tokens := cfg.Tokens
	if len(tokens) == 0 {
		tokens = DefaultTokens
	}
	// the fee token is already reported by FetchNative
	for _, t := range tokens {
		if !sameFelt(t.Address, a.native.Address) {
			a.tokens = append(a.tokens, t)
		}
	}
	return a, nil
}

// sameFelt compares two hex field elements regardless of case and zero padding.
func sameFelt(a, b string) bool {
	x, errX := parseFelt(a)
	y, errY := parseFelt(b)
	if errX != nil || errY != nil {
		return strings.EqualFold(a, b)
	}
	return x.Cmp(y) == 0
}

func (a *Adapter) Chain() chain.Chain {
	return chain.Starknet
}

type functionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

// FetchNative returns the STRK balance. Starknet has no protocol-level
// native balance; STRK is the fee token.
func (a *Adapter) FetchNative(ctx context.Context, address string) (chain.Balance, error) {
	amount, err := a.balanceOf(ctx, address, a.native)
	if err != nil {
		return chain.Balance{}, err
	}
	return chain.Balance{Symbol: a.native.Symbol, Amount: amount}, nil
}

// FetchTokens returns the non-zero balances of the configured contracts.
func (a *Adapter) FetchTokens(ctx context.Context, address string) ([]chain.Balance, error) {
	out := make([]chain.Balance, 0, len(a.tokens))
	for _, token := range a.tokens {
		amount, err := a.balanceOf(ctx, address, token)
		if err != nil {
			return nil, err
		}
		if amount.IsZero() {
			continue
		}
		out = append(out, chain.Balance{
			Symbol:       token.Symbol,
			TokenAddress: token.Address,
			Amount:       amount,
		})
	}
	return out, nil
}

func (a *Adapter) balanceOf(ctx context.Context, address string, token chain.Token) (decimal.Decimal, error) {
	call := functionCall{
		ContractAddress:    token.Address,
		EntryPointSelector: balanceOfSelector,
		Calldata:           []string{address},
	}

	var felts []string
	err := a.failover.Do(ctx, "starknet_call", func(ctx context.Context, client *rpc.Client) error {
		rpcCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return client.CallContext(rpcCtx, &felts, "starknet_call", call, "latest")
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	raw, err := uint256FromFelts(felts)
	if err != nil {
		return decimal.Decimal{}, chain.FatalError(chain.Starknet, "starknet_call", err)
	}
	decimals := token.Decimals
	if decimals == 0 {
		decimals = tokenDecimals
	}
	return chain.FromBaseUnits(raw, decimals), nil
}

// uint256FromFelts joins a Cairo uint256 returned as [low, high].
func uint256FromFelts(felts []string) (*big.Int, error) {
	if len(felts) == 0 {
		return nil, fmt.Errorf("empty call result")
	}
	low, err := parseFelt(felts[0])
	if err != nil {
		return nil, err
	}
	if len(felts) == 1 {
		return low, nil
	}
	high, err := parseFelt(felts[1])
	if err != nil {
		return nil, err
	}
	return low.Add(low, high.Lsh(high, 128)), nil
}

func parseFelt(s string) (*big.Int, error) {
	hex := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hex == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		return nil, fmt.Errorf("invalid felt %q", s)
	}
	return n, nil
}

// EndpointsHealth reports per-endpoint health for the health checker.
func (a *Adapter) EndpointsHealth() map[string]bool {
	return a.failover.EndpointsHealth()
}

// Close closes all RPC client connections.
func (a *Adapter) Close() {
	a.failover.Close()
}
