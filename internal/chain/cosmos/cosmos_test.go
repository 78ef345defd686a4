package cosmos

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

const (
	testWallet = "cosmos1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc5lzv7xu"
	// 68 characters
	ibcDenom = "ibc/27394FB092D2ECCD56123C74F36E4C1F926001CEADA9CA97EA622B25F41E5EB2"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetchNative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cosmos/bank/v1beta1/balances/"+testWallet+"/by_denom", r.URL.Path)
		assert.Equal(t, "uatom", r.URL.Query().Get("denom"))
		writeJSON(w, map[string]any{"balance": map[string]string{"denom": "uatom", "amount": "12500000"}})
	}))
	defer srv.Close()

	a, err := New(Config{Chain: chain.Cosmos, RESTURLs: []string{srv.URL + "/"}})
	require.NoError(t, err)

	got, err := a.FetchNative(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, "ATOM", got.Symbol)
	assert.True(t, got.IsNative())
	assert.Equal(t, "12.5", got.Amount.String())
}

func TestFetchTokensPaginates(t *testing.T) {
	pages := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		assert.Equal(t, "/cosmos/bank/v1beta1/balances/"+testWallet, r.URL.Path)
		if r.URL.Query().Get("pagination.key") == "" {
			writeJSON(w, map[string]any{
				"balances": []map[string]string{
					{"denom": ibcDenom, "amount": "1000000"},
					{"denom": "uatom", "amount": "5"},
				},
				"pagination": map[string]any{"next_key": "AAEC", "total": "3"},
			})
			return
		}
		assert.Equal(t, "AAEC", r.URL.Query().Get("pagination.key"))
		writeJSON(w, map[string]any{
			"balances": []map[string]string{
				{"denom": "factory/cosmos1abc/ufoo", "amount": "2500000"},
				{"denom": "ibc/EMPTY", "amount": "0"},
			},
			"pagination": map[string]any{"next_key": nil, "total": "3"},
		})
	}))
	defer srv.Close()

	a, err := New(Config{Chain: chain.Cosmos, RESTURLs: []string{srv.URL}})
	require.NoError(t, err)

	got, err := a.FetchTokens(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	require.Len(t, got, 2)

	assert.Equal(t, ibcDenom, got[0].Symbol)
	assert.Len(t, got[0].Symbol, 68)
	assert.Empty(t, got[0].TokenAddress)
	assert.Equal(t, "1", got[0].Amount.String())

	assert.Equal(t, "factory/cosmos1abc/ufoo", got[1].Symbol)
	assert.Equal(t, "2.5", got[1].Amount.String())
}

func TestCelestiaDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "utia", r.URL.Query().Get("denom"))
		writeJSON(w, map[string]any{"balance": map[string]string{"denom": "utia", "amount": "1"}})
	}))
	defer srv.Close()

	a, err := New(Config{Chain: chain.Celestia, RESTURLs: []string{srv.URL}})
	require.NoError(t, err)
	assert.Equal(t, chain.Celestia, a.Chain())

	got, err := a.FetchNative(context.Background(), "celestia1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc5wgawu3")
	require.NoError(t, err)
	assert.Equal(t, "TIA", got.Symbol)
	assert.Equal(t, "0.000001", got.Amount.String())
}

func TestNewRejectsNonCosmosChain(t *testing.T) {
	_, err := New(Config{Chain: chain.Ethereum, RESTURLs: []string{"http://localhost"}})
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{name: "unavailable", status: http.StatusServiceUnavailable, body: "{}", transient: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: "{}", transient: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{"code":3,"message":"invalid address"}`, transient: false},
		{name: "malformed body", status: http.StatusOK, body: "<html>", transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			a, err := New(Config{Chain: chain.Cosmos, RESTURLs: []string{srv.URL}})
			require.NoError(t, err)

			_, err = a.FetchNative(context.Background(), testWallet)
			require.Error(t, err)
			assert.Equal(t, tt.transient, chain.IsTransient(err))
		})
	}
}
