package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

// Pinger is implemented by the store and the Redis-backed cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs health checks on application dependencies
type Checker struct {
	store          Pinger
	cache          Pinger
	registry       *chain.Registry
	lastRunTime    time.Time
	lastRunSuccess bool
	interval       time.Duration
	startTime      time.Time
	now            func() time.Time
	mu             sync.RWMutex
}

// NewChecker creates a new health checker. cache may be nil when balances
// are cached in process; interval is zero outside daemon mode.
func NewChecker(store Pinger, cache Pinger, registry *chain.Registry, interval time.Duration) *Checker {
	return &Checker{
		store:     store,
		cache:     cache,
		registry:  registry,
		interval:  interval,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// UpdateLastRun updates the timestamp and status of the last scheduled sync
func (c *Checker) UpdateLastRun(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRunTime = c.now()
	c.lastRunSuccess = success
}

// CheckStatus represents the health status of a component
type CheckStatus string

const (
	StatusOK       CheckStatus = "ok"
	StatusDegraded CheckStatus = "degraded"
	StatusError    CheckStatus = "error"
)

// HealthResponse is the JSON response structure
type HealthResponse struct {
	Status    CheckStatus            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckDetail `json:"checks"`
	Uptime    string                 `json:"uptime,omitempty"`
}

// CheckDetail contains details about a specific health check
type CheckDetail struct {
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// Check performs all health checks and returns the aggregated status
func (c *Checker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]CheckDetail)
	overall := StatusOK

	merge := func(name string, d CheckDetail) {
		checks[name] = d
		switch {
		case d.Status == StatusError:
			overall = StatusError
		case d.Status == StatusDegraded && overall == StatusOK:
			overall = StatusDegraded
		}
	}

	merge("database", c.checkDatabase(ctx))
	if c.cache != nil {
		merge("cache", c.checkCache(ctx))
	}
	// a dead chain is served stale, so it only degrades
	for name, d := range c.checkChains() {
		merge(name, d)
	}
	if c.interval > 0 {
		merge("daemon", c.checkDaemon())
	}

	return HealthResponse{
		Status:    overall,
		Timestamp: c.now().UTC(),
		Checks:    checks,
		Uptime:    c.now().Sub(c.startTime).Round(time.Second).String(),
	}
}

// checkDatabase verifies PostgreSQL connectivity
func (c *Checker) checkDatabase(ctx context.Context) CheckDetail {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		slog.Error("Health check: database ping failed", "error", err)
		return CheckDetail{
			Status:  StatusError,
			Message: "database unreachable: " + err.Error(),
		}
	}
	return CheckDetail{Status: StatusOK, Message: "database connection healthy"}
}

// checkCache verifies the shared cache and lock backend
func (c *Checker) checkCache(ctx context.Context) CheckDetail {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.cache.Ping(ctx); err != nil {
		slog.Error("Health check: cache ping failed", "error", err)
		return CheckDetail{
			Status:  StatusError,
			Message: "cache unreachable: " + err.Error(),
		}
	}
	return CheckDetail{Status: StatusOK, Message: "cache connection healthy"}
}

// checkChains reports endpoint health per registered chain. It makes no
// network calls; adapters track health from real traffic.
func (c *Checker) checkChains() map[string]CheckDetail {
	out := make(map[string]CheckDetail)
	if c.registry == nil {
		return out
	}
	for _, name := range c.registry.Chains() {
		a, _ := c.registry.Get(name)
		reporter, ok := a.(chain.EndpointReporter)
		if !ok {
			continue
		}

		endpoints := reporter.EndpointsHealth()
		healthy := 0
		var down []string
		for url, ok := range endpoints {
			if ok {
				healthy++
			} else {
				down = append(down, url)
			}
		}
		sort.Strings(down)

		key := "chain:" + string(name)
		switch {
		case healthy == len(endpoints):
			out[key] = CheckDetail{Status: StatusOK, Message: "all RPC endpoints healthy"}
		case healthy == 0:
			out[key] = CheckDetail{Status: StatusDegraded, Message: "no healthy RPC endpoints, serving stale balances"}
		default:
			out[key] = CheckDetail{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d/%d RPC endpoints healthy (down: %v)", healthy, len(endpoints), down),
			}
		}
	}
	return out
}

// checkDaemon verifies the scheduled sync runs at expected intervals
func (c *Checker) checkDaemon() CheckDetail {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastRunTime.IsZero() {
		return CheckDetail{Status: StatusOK, Message: "daemon not yet executed (startup)"}
	}
	if !c.lastRunSuccess {
		return CheckDetail{Status: StatusDegraded, Message: "last execution failed"}
	}

	// allow 2x interval grace period
	since := c.now().Sub(c.lastRunTime)
	if since > c.interval*2 {
		return CheckDetail{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("no execution in %s (expected every %s)", since.Round(time.Second), c.interval),
		}
	}
	return CheckDetail{
		Status:  StatusOK,
		Message: fmt.Sprintf("last executed %s ago", since.Round(time.Second)),
	}
}

// Handler serves the full health report. Only StatusError yields 503.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.Check(r.Context())

		code := http.StatusOK
		if status.Status == StatusError {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

// ReadyHandler reports whether the service can take traffic: the database
// and cache must answer.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]CheckDetail{"database": c.checkDatabase(r.Context())}
		if c.cache != nil {
			checks["cache"] = c.checkCache(r.Context())
		}

		resp := HealthResponse{Status: StatusOK, Timestamp: c.now().UTC(), Checks: checks}
		code := http.StatusOK
		for _, d := range checks {
			if d.Status != StatusOK {
				resp.Status = StatusError
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, resp)
	}
}

// LiveHandler only proves the process is serving requests.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: StatusOK, Timestamp: c.now().UTC()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode health response", "error", err)
	}
}
