package ethereum

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

const (
	testWallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	usdcAddr   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	daiAddr    = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	oddAddr    = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type callArg struct {
	To    string        `json:"to"`
	Input hexutil.Bytes `json:"input"`
	Data  hexutil.Bytes `json:"data"`
}

type fakeToken struct {
	balance   *big.Int
	decimals  uint8
	symbol    string
	noDecimal bool
}

// fakeNode answers eth_getBalance and ERC-20 eth_call requests.
type fakeNode struct {
	t      *testing.T
	abi    abi.ABI
	wei    *big.Int
	tokens map[common.Address]fakeToken
	calls  atomic.Int32
}

func newFakeNode(t *testing.T) *fakeNode {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)
	return &fakeNode{t: t, abi: parsed, wei: big.NewInt(0), tokens: map[common.Address]fakeToken{}}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.calls.Add(1)
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	reply := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}
	fail := func(code int, msg string) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": code, "message": msg},
		})
	}

	switch req.Method {
	case "eth_getBalance":
		reply(hexutil.EncodeBig(n.wei))
	case "eth_call":
		var arg callArg
		require.NoError(n.t, json.Unmarshal(req.Params[0], &arg))
		input := arg.Input
		if len(input) == 0 {
			input = arg.Data
		}
		token, ok := n.tokens[common.HexToAddress(arg.To)]
		if !ok {
			fail(3, "execution reverted")
			return
		}
		method, err := n.abi.MethodById(input[:4])
		require.NoError(n.t, err)

		var packed []byte
		switch method.Name {
		case "balanceOf":
			packed, err = method.Outputs.Pack(token.balance)
		case "decimals":
			if token.noDecimal {
				fail(3, "execution reverted")
				return
			}
			packed, err = method.Outputs.Pack(token.decimals)
		case "symbol":
			packed, err = method.Outputs.Pack(token.symbol)
		}
		require.NoError(n.t, err)
		reply(hexutil.Encode(packed))
	default:
		fail(-32601, "method not found")
	}
}

func TestFetchNative(t *testing.T) {
	node := newFakeNode(t)
	node.wei, _ = new(big.Int).SetString("1500000000000000000", 10)
	srv := httptest.NewServer(node)
	defer srv.Close()

	a, err := New(Config{RPCURLs: []string{srv.URL}})
	require.NoError(t, err)
	defer a.Close()

	got, err := a.FetchNative(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, "ETH", got.Symbol)
	assert.True(t, got.IsNative())
	assert.Equal(t, "1.5", got.Amount.String())
}

func TestFetchNativeZeroIsReturned(t *testing.T) {
	srv := httptest.NewServer(newFakeNode(t))
	defer srv.Close()

	a, err := New(Config{RPCURLs: []string{srv.URL}})
	require.NoError(t, err)

	got, err := a.FetchNative(context.Background(), testWallet)
	require.NoError(t, err)
	assert.True(t, got.Amount.IsZero())
}

func TestFetchTokens(t *testing.T) {
	node := newFakeNode(t)
	node.tokens[common.HexToAddress(usdcAddr)] = fakeToken{balance: big.NewInt(2500000), decimals: 6, symbol: "USDC"}
	node.tokens[common.HexToAddress(daiAddr)] = fakeToken{balance: big.NewInt(0), decimals: 18, symbol: "DAI"}
	node.tokens[common.HexToAddress(oddAddr)] = fakeToken{balance: big.NewInt(7000), symbol: "UNI", noDecimal: true}
	srv := httptest.NewServer(node)
	defer srv.Close()

	a, err := New(Config{
		RPCURLs: []string{srv.URL},
		Tokens: []chain.Token{
			{Symbol: "USDC", Address: usdcAddr, Decimals: 6},
			{Symbol: "DAI", Address: daiAddr, Decimals: 18},
			{Address: oddAddr, Decimals: 3},
		},
	})
	require.NoError(t, err)

	got, err := a.FetchTokens(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "USDC", got[0].Symbol)
	assert.Equal(t, usdcAddr, got[0].TokenAddress)
	assert.Equal(t, "2.5", got[0].Amount.String())

	// symbol read from the contract, decimals from config
	assert.Equal(t, "UNI", got[1].Symbol)
	assert.Equal(t, "7", got[1].Amount.String())
}

func TestFailoverOnRateLimit(t *testing.T) {
	var limited atomic.Int32
	busy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limited.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer busy.Close()

	node := newFakeNode(t)
	node.wei = big.NewInt(1)
	healthy := httptest.NewServer(node)
	defer healthy.Close()

	a, err := New(Config{RPCURLs: []string{busy.URL, healthy.URL}})
	require.NoError(t, err)

	got, err := a.FetchNative(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, "0.000000000000000001", got.Amount.String())
	assert.Equal(t, int32(1), limited.Load())
	assert.Equal(t, map[string]bool{busy.URL: false, healthy.URL: true}, a.EndpointsHealth())
}

func TestRateLimitIsTransient(t *testing.T) {
	busy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer busy.Close()

	a, err := New(Config{RPCURLs: []string{busy.URL}})
	require.NoError(t, err)

	_, err = a.FetchNative(context.Background(), testWallet)
	require.Error(t, err)
	assert.True(t, chain.IsTransient(err))
}

func TestRevertIsFatal(t *testing.T) {
	node := newFakeNode(t)
	srv := httptest.NewServer(node)
	defer srv.Close()

	a, err := New(Config{
		RPCURLs: []string{srv.URL},
		Tokens:  []chain.Token{{Symbol: "NOPE", Address: daiAddr}},
	})
	require.NoError(t, err)

	_, err = a.FetchTokens(context.Background(), testWallet)
	require.Error(t, err)
	assert.False(t, chain.IsTransient(err))
	assert.Equal(t, int32(1), node.calls.Load())
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", Checksum("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.Len(t, Checksum("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb"), 42)
}
