// Package chain defines the network-independent view of a blockchain: the
// chain identifiers the tracker knows about, the adapter capability set every
// network implements, and the registry the sync engine dispatches through.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Chain identifies one independent blockchain network.
type Chain string

const (
	Ethereum Chain = "ethereum"
	Solana   Chain = "solana"
	Cosmos   Chain = "cosmos"
	Celestia Chain = "celestia"
	Starknet Chain = "starknet"
)

// Family groups chains that share an address format.
type Family string

const (
	FamilyEVM      Family = "evm"
	FamilySolana   Family = "solana"
	FamilyCosmos   Family = "cosmos"
	FamilyStarknet Family = "starknet"
)

var families = map[Chain]Family{
	Ethereum: FamilyEVM,
	Solana:   FamilySolana,
	Cosmos:   FamilyCosmos,
	Celestia: FamilyCosmos,
	Starknet: FamilyStarknet,
}

// bech32 human-readable prefixes for cosmos-family chains
var bech32Prefixes = map[Chain]string{
	Cosmos:   "cosmos",
	Celestia: "celestia",
}

// Parse converts a user supplied chain name into a known Chain.
func Parse(name string) (Chain, error) {
	c := Chain(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := families[c]; !ok {
		return "", fmt.Errorf("unknown chain %q", name)
	}
	return c, nil
}

// Known returns every chain the tracker can validate addresses for, sorted.
func Known() []Chain {
	out := make([]Chain, 0, len(families))
	for c := range families {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Family returns the address family of c, or "" for unknown chains.
func (c Chain) Family() Family {
	return families[c]
}

func (c Chain) String() string {
	return string(c)
}

// Balance is one entry returned by an adapter. TokenAddress is empty for the
// native token and for denominations that have no contract address.
type Balance struct {
	Symbol       string
	TokenAddress string
	Amount       decimal.Decimal
}

// IsNative reports whether b is the chain's base unit.
func (b Balance) IsNative() bool {
	return b.TokenAddress == ""
}

// Token is a configured contract token an adapter enumerates.
type Token struct {
	Symbol   string
	Address  string
	Decimals uint8
}

// Adapter is the capability set every network implementation provides.
// Errors returned from adapters are either *ValidationError or *RPCError;
// the adapter alone decides whether a failure is transient.
type Adapter interface {
	Chain() Chain
	FetchNative(ctx context.Context, address string) (Balance, error)
	FetchTokens(ctx context.Context, address string) ([]Balance, error)
}

// EndpointReporter is implemented by adapters that track the health of
// their upstream endpoints.
type EndpointReporter interface {
	EndpointsHealth() map[string]bool
}

// Closer is implemented by adapters holding open connections.
type Closer interface {
	Close()
}

// Registry maps chain identifiers to adapters. The engine depends only on
// the Adapter interface, so new networks are added by registering here.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Chain]Adapter
}

// NewRegistry creates a registry pre-populated with adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Chain]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Chain().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Chain()] = a
}

// Get returns the adapter registered for c.
func (r *Registry) Get(c Chain) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[c]
	return a, ok
}

// Chains lists the registered chains, sorted.
func (r *Registry) Chains() []Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Chain, 0, len(r.adapters))
	for c := range r.adapters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close releases every adapter that holds connections.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.adapters {
		if c, ok := a.(Closer); ok {
			c.Close()
		}
	}
}

// FromBaseUnits converts an integer amount of base units (wei, lamports,
// uatom) into a decimal token amount.
func FromBaseUnits(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}
