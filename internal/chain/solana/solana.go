// Package solana implements the chain adapter for Solana: the SOL balance
// through getBalance and SPL token accounts through getTokenAccountsByOwner.
package solana

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

const (
	defaultTimeout = 10 * time.Second
	defaultSymbol  = "SOL"
	lamportDigits  = 9

	// TokenProgramID is the SPL Token program that owns token accounts.
	TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	commitment     = "confirmed"
)

// Config configures the adapter. Tokens map known mint addresses to
// symbols; unknown mints are reported with the mint as symbol.
type Config struct {
	RPCURLs      []string
	Timeout      time.Duration
	NativeSymbol string
	Tokens       []chain.Token
}

// Adapter fetches Solana balances over JSON-RPC.
type Adapter struct {
	failover *chain.Failover[*rpc.Client]
	timeout  time.Duration
	symbol   string
	symbols  map[string]string
}

// New creates the adapter. Endpoints are dialed on first use.
func New(cfg Config) (*Adapter, error) {
	fo, err := chain.NewFailover(chain.Solana, cfg.RPCURLs, rpc.DialContext, (*rpc.Client).Close)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		failover: fo,
		timeout:  cfg.Timeout,
		symbol:   cfg.NativeSymbol,
		symbols:  make(map[string]string, len(cfg.Tokens)),
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	if a.symbol == "" {
		a.symbol = defaultSymbol
	}
	for _, t := range cfg.Tokens {
		a.symbols[t.Address] = t.Symbol
	}
	return a, nil
}

func (a *Adapter) Chain() chain.Chain {
	return chain.Solana
}

type balanceResult struct {
	Value uint64 `json:"value"`
}

type tokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

type tokenAccountsResult struct {
	Value []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						Mint        string      `json:"mint"`
						TokenAmount tokenAmount `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

// FetchNative returns the SOL balance in whole SOL.
func (a *Adapter) FetchNative(ctx context.Context, address string) (chain.Balance, error) {
	var res balanceResult
	err := a.failover.Do(ctx, "getBalance", func(ctx context.Context, client *rpc.Client) error {
		rpcCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return client.CallContext(rpcCtx, &res, "getBalance", address, map[string]string{"commitment": commitment})
	})
	if err != nil {
		return chain.Balance{}, err
	}

	return chain.Balance{
		Symbol: a.symbol,
		Amount: chain.FromBaseUnits(new(big.Int).SetUint64(res.Value), lamportDigits),
	}, nil
}

// FetchTokens returns the non-zero SPL token balances, one per token account.
func (a *Adapter) FetchTokens(ctx context.Context, address string) ([]chain.Balance, error) {
	var res tokenAccountsResult
	err := a.failover.Do(ctx, "getTokenAccountsByOwner", func(ctx context.Context, client *rpc.Client) error {
		rpcCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return client.CallContext(rpcCtx, &res, "getTokenAccountsByOwner",
			address,
			map[string]string{"programId": TokenProgramID},
			map[string]string{"encoding": "jsonParsed", "commitment": commitment},
		)
	})
	if err != nil {
		return nil, err
	}

	// several accounts may hold the same mint; amounts are summed per mint
	byMint := make(map[string]int)
	out := make([]chain.Balance, 0, len(res.Value))
	for _, acc := range res.Value {
		info := acc.Account.Data.Parsed.Info
		raw, ok := new(big.Int).SetString(info.TokenAmount.Amount, 10)
		if !ok {
			return nil, chain.FatalError(chain.Solana, "getTokenAccountsByOwner",
				fmt.Errorf("account %s: invalid amount %q", acc.Pubkey, info.TokenAmount.Amount))
		}
		if raw.Sign() == 0 {
			continue
		}
		amount := chain.FromBaseUnits(raw, info.TokenAmount.Decimals)

		if i, seen := byMint[info.Mint]; seen {
			out[i].Amount = out[i].Amount.Add(amount)
			continue
		}
		symbol := a.symbols[info.Mint]
		if symbol == "" {
			symbol = info.Mint
		}
		byMint[info.Mint] = len(out)
		out = append(out, chain.Balance{
			Symbol:       symbol,
			TokenAddress: info.Mint,
			Amount:       amount,
		})
	}
	return out, nil
}

// EndpointsHealth reports per-endpoint health for the health checker.
func (a *Adapter) EndpointsHealth() map[string]bool {
	return a.failover.EndpointsHealth()
}

// Close closes all RPC client connections.
func (a *Adapter) Close() {
	a.failover.Close()
}
