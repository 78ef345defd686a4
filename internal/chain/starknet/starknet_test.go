package starknet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

const testWallet = "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func newNode(t *testing.T, balances map[string][]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "starknet_call", req.Method)

		var call functionCall
		require.NoError(t, json.Unmarshal(req.Params[0], &call))
		assert.Equal(t, balanceOfSelector, call.EntryPointSelector)
		assert.Equal(t, []string{testWallet}, call.Calldata)

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if felts, ok := balances[call.ContractAddress]; ok {
			resp["result"] = felts
		} else {
			resp["error"] = map[string]any{"code": 20, "message": "Contract not found"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestFetchNative(t *testing.T) {
	srv := newNode(t, map[string][]string{
		// 2.5 STRK
		STRKContract: {"0x22b1c8c1227a0000", "0x0"},
	})
	defer srv.Close()

	a, err := New(Config{RPCURLs: []string{srv.URL}})
	require.NoError(t, err)
	defer a.Close()

	got, err := a.FetchNative(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, "STRK", got.Symbol)
	assert.True(t, got.IsNative())
	assert.Equal(t, "2.5", got.Amount.String())
}

func TestFetchTokensDefaultsToETH(t *testing.T) {
	srv := newNode(t, map[string][]string{
		// 1 ETH
		ETHContract: {"0xde0b6b3a7640000", "0x0"},
	})
	defer srv.Close()

	a, err := New(Config{RPCURLs: []string{srv.URL}})
	require.NoError(t, err)

	got, err := a.FetchTokens(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ETH", got[0].Symbol)
	assert.Equal(t, ETHContract, got[0].TokenAddress)
	assert.Equal(t, "1", got[0].Amount.String())
}

func TestFetchTokensOmitsZero(t *testing.T) {
	usdc := "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a8"
	srv := newNode(t, map[string][]string{
		ETHContract: {"0x0", "0x0"},
		usdc:        {"0xf4240", "0x0"},
	})
	defer srv.Close()

	a, err := New(Config{
		RPCURLs: []string{srv.URL},
		Tokens: []chain.Token{
			{Symbol: "ETH", Address: ETHContract, Decimals: 18},
			{Symbol: "USDC", Address: usdc, Decimals: 6},
		},
	})
	require.NoError(t, err)

	got, err := a.FetchTokens(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "USDC", got[0].Symbol)
	assert.Equal(t, "1", got[0].Amount.String())
}

func TestUnknownContractIsFatal(t *testing.T) {
	srv := newNode(t, map[string][]string{})
	defer srv.Close()

	a, err := New(Config{RPCURLs: []string{srv.URL}})
	require.NoError(t, err)

	_, err = a.FetchNative(context.Background(), testWallet)
	require.Error(t, err)
	assert.False(t, chain.IsTransient(err))
}

func TestUint256FromFelts(t *testing.T) {
	tests := []struct {
		name    string
		felts   []string
		want    string
		wantErr bool
	}{
		{name: "low only", felts: []string{"0x10"}, want: "16"},
		{name: "low and high", felts: []string{"0x1", "0x1"}, want: "340282366920938463463374607431768211457"},
		{name: "zero", felts: []string{"0x0", "0x0"}, want: "0"},
		{name: "empty", felts: nil, wantErr: true},
		{name: "garbage", felts: []string{"0xzz"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := uint256FromFelts(tt.felts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFetchTokensSkipsFeeToken(t *testing.T) {
	srv := newNode(t, map[string][]string{
		STRKContract: {"0x22b1c8c1227a0000", "0x0"},
		ETHContract:  {"0xde0b6b3a7640000", "0x0"},
	})
	defer srv.Close()

	a, err := New(Config{
		RPCURLs: []string{srv.URL},
		Tokens: []chain.Token{
			// same contract without zero padding
			{Symbol: "STRK", Address: "0x4718F5A0FC34CC1AF16A1CDEE98FFB20C31F5CD61D6AB07201858F4287C938D", Decimals: 18},
			{Symbol: "ETH", Address: ETHContract, Decimals: 18},
		},
	})
	require.NoError(t, err)

	got, err := a.FetchTokens(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ETH", got[0].Symbol)
}

func TestSameFelt(t *testing.T) {
	assert.True(t, sameFelt(STRKContract, "0x4718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"))
	assert.True(t, sameFelt("0X0ABC", "0xabc"))
	assert.False(t, sameFelt(STRKContract, ETHContract))
}
