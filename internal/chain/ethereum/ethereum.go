// Package ethereum implements the chain adapter for Ethereum mainnet and
// other EVM networks: the native balance through eth_getBalance and a
// configured list of ERC-20 contracts through balanceOf.
package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultSymbol   = "ETH"
	nativeDecimals  = 18
	defaultDecimals = 18
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"}
]`

// Config configures the adapter.
type Config struct {
	RPCURLs      []string
	Timeout      time.Duration
	NativeSymbol string
	// Token decimals are only used when the contract's decimals() fails.
	Tokens []chain.Token
}

// Adapter fetches Ethereum balances with failover across RPC endpoints.
type Adapter struct {
	failover  *chain.Failover[*ethclient.Client]
	parsedABI abi.ABI
	timeout   time.Duration
	symbol    string
	tokens    []chain.Token
}

// New creates the adapter. Endpoints are dialed on first use.
func New(cfg Config) (*Adapter, error) {
	fo, err := chain.NewFailover(chain.Ethereum, cfg.RPCURLs, ethclient.DialContext, (*ethclient.Client).Close)
	if err != nil {
		return nil, err
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	a := &Adapter{
		failover:  fo,
		parsedABI: parsedABI,
		timeout:   cfg.Timeout,
		symbol:    cfg.NativeSymbol,
		tokens:    cfg.Tokens,
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	if a.symbol == "" {
		a.symbol = defaultSymbol
	}
	return a, nil
}

func (a *Adapter) Chain() chain.Chain {
	return chain.Ethereum
}

// FetchNative returns the ETH balance, including a zero balance.
func (a *Adapter) FetchNative(ctx context.Context, address string) (chain.Balance, error) {
	wallet := common.HexToAddress(address)

	var wei *big.Int
	err := a.failover.Do(ctx, "eth_getBalance", func(ctx context.Context, client *ethclient.Client) error {
		rpcCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		var err error
		wei, err = client.BalanceAt(rpcCtx, wallet, nil)
		return err
	})
	if err != nil {
		return chain.Balance{}, err
	}

	return chain.Balance{
		Symbol: a.symbol,
		Amount: chain.FromBaseUnits(wei, nativeDecimals),
	}, nil
}

// FetchTokens returns the non-zero balances of the configured contracts.
func (a *Adapter) FetchTokens(ctx context.Context, address string) ([]chain.Balance, error) {
	wallet := common.HexToAddress(address)

	out := make([]chain.Balance, 0, len(a.tokens))
	for _, token := range a.tokens {
		b, err := a.tokenBalance(ctx, wallet, token)
		if err != nil {
			return nil, err
		}
		if b.Amount.IsZero() {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (a *Adapter) tokenBalance(ctx context.Context, wallet common.Address, token chain.Token) (chain.Balance, error) {
	tokenAddr := common.HexToAddress(token.Address)
	result := chain.Balance{
		Symbol:       token.Symbol,
		TokenAddress: tokenAddr.Hex(),
	}

	var raw *big.Int
	decimals := token.Decimals
	if decimals == 0 {
		decimals = defaultDecimals
	}

	err := a.failover.Do(ctx, "balanceOf", func(ctx context.Context, client *ethclient.Client) error {
		rpcCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		contract := bind.NewBoundContract(tokenAddr, a.parsedABI, client, client, client)

		var balanceResult []any
		if err := contract.Call(&bind.CallOpts{Context: rpcCtx}, &balanceResult, "balanceOf", wallet); err != nil {
			return err
		}
		raw = balanceResult[0].(*big.Int)

		// decimals() is optional in ERC-20; keep the configured value on failure
		var decimalsResult []any
		if err := contract.Call(&bind.CallOpts{Context: rpcCtx}, &decimalsResult, "decimals"); err == nil {
			decimals = decimalsResult[0].(uint8)
		} else {
			slog.Debug("decimals() failed, using fallback",
				"token", tokenAddr.Hex(), "fallback", decimals, "error", err)
		}

		if result.Symbol == "" {
			var symbolResult []any
			if err := contract.Call(&bind.CallOpts{Context: rpcCtx}, &symbolResult, "symbol"); err != nil {
				return fmt.Errorf("symbol: %w", err)
			}
			result.Symbol = symbolResult[0].(string)
		}
		return nil
	})
	if err != nil {
		return chain.Balance{}, err
	}

	result.Amount = chain.FromBaseUnits(raw, decimals)
	return result, nil
}

// EndpointsHealth reports per-endpoint health for the health checker.
func (a *Adapter) EndpointsHealth() map[string]bool {
	return a.failover.EndpointsHealth()
}

// Close closes all RPC client connections.
func (a *Adapter) Close() {
	a.failover.Close()
}

// Checksum returns the EIP-55 form of a valid hex address. Addresses with a
// dropped leading zero nibble are left-padded first.
func Checksum(address string) string {
	return common.HexToAddress(address).Hex()
}
