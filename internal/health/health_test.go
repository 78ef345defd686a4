package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeAdapter struct {
	c         chain.Chain
	endpoints map[string]bool
}

func (a fakeAdapter) Chain() chain.Chain { return a.c }
func (a fakeAdapter) FetchNative(context.Context, string) (chain.Balance, error) {
	return chain.Balance{}, nil
}
func (a fakeAdapter) FetchTokens(context.Context, string) ([]chain.Balance, error) {
	return nil, nil
}
func (a fakeAdapter) EndpointsHealth() map[string]bool { return a.endpoints }

func TestCheck(t *testing.T) {
	tests := []struct {
		name       string
		store      Pinger
		cache      Pinger
		endpoints  map[string]bool
		wantStatus CheckStatus
		wantChecks []string
	}{
		{
			name:       "all healthy",
			store:      fakePinger{},
			endpoints:  map[string]bool{"https://a": true, "https://b": true},
			wantStatus: StatusOK,
			wantChecks: []string{"database", "chain:ethereum"},
		},
		{
			name:       "database down",
			store:      fakePinger{err: errors.New("connection refused")},
			endpoints:  map[string]bool{"https://a": true},
			wantStatus: StatusError,
		},
		{
			name:       "cache down",
			store:      fakePinger{},
			cache:      fakePinger{err: errors.New("i/o timeout")},
			endpoints:  map[string]bool{"https://a": true},
			wantStatus: StatusError,
			wantChecks: []string{"database", "cache", "chain:ethereum"},
		},
		{
			name:       "one endpoint down degrades",
			store:      fakePinger{},
			endpoints:  map[string]bool{"https://a": true, "https://b": false},
			wantStatus: StatusDegraded,
		},
		{
			name:       "every endpoint down only degrades",
			store:      fakePinger{},
			endpoints:  map[string]bool{"https://a": false},
			wantStatus: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := chain.NewRegistry(fakeAdapter{c: chain.Ethereum, endpoints: tt.endpoints})
			c := NewChecker(tt.store, tt.cache, reg, 0)

			resp := c.Check(context.Background())
			assert.Equal(t, tt.wantStatus, resp.Status)
			for _, name := range tt.wantChecks {
				assert.Contains(t, resp.Checks, name)
			}
			assert.NotContains(t, resp.Checks, "daemon")
		})
	}
}

func TestCheckDaemon(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewChecker(fakePinger{}, nil, nil, 5*time.Minute)
	c.now = func() time.Time { return now }

	assert.Equal(t, StatusOK, c.checkDaemon().Status, "not yet executed")

	c.UpdateLastRun(false)
	assert.Equal(t, StatusDegraded, c.checkDaemon().Status)

	c.UpdateLastRun(true)
	assert.Equal(t, StatusOK, c.checkDaemon().Status)

	now = now.Add(11 * time.Minute)
	d := c.checkDaemon()
	assert.Equal(t, StatusDegraded, d.Status)
	assert.Contains(t, d.Message, "expected every 5m0s")

	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name     string
		handler  func(*Checker) http.HandlerFunc
		store    Pinger
		wantCode int
	}{
		{name: "health ok", handler: (*Checker).Handler, store: fakePinger{}, wantCode: http.StatusOK},
		{name: "health error", handler: (*Checker).Handler, store: fakePinger{err: errors.New("down")}, wantCode: http.StatusServiceUnavailable},
		{name: "ready ok", handler: (*Checker).ReadyHandler, store: fakePinger{}, wantCode: http.StatusOK},
		{name: "ready error", handler: (*Checker).ReadyHandler, store: fakePinger{err: errors.New("down")}, wantCode: http.StatusServiceUnavailable},
		{name: "live ignores dependencies", handler: (*Checker).LiveHandler, store: fakePinger{err: errors.New("down")}, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(tt.store, nil, chain.NewRegistry(), 0)
			rec := httptest.NewRecorder()
			tt.handler(c)(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body.Status)
		})
	}
}
