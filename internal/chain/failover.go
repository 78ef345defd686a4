package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const unhealthyDuration = 5 * time.Minute // Cooldown before retry

// DialFunc opens a client for one endpoint URL.
type DialFunc[C any] func(ctx context.Context, url string) (C, error)

type endpointStatus[C any] struct {
	url           string
	client        C
	connected     bool
	healthy       bool
	lastError     error
	lastErrorTime time.Time
	mu            sync.RWMutex
}

// Failover manages several RPC endpoints for one chain. Clients are dialed
// lazily, so an unreachable endpoint never blocks startup. An endpoint that
// fails with a transient error is skipped for a cooldown period; when every
// endpoint is cooling down, the one that failed longest ago is tried anyway.
type Failover[C any] struct {
	chain        Chain
	endpoints    []*endpointStatus[C]
	currentIndex int
	dial         DialFunc[C]
	closeFn      func(C)
	now          func() time.Time
	mu           sync.Mutex
}

// NewFailover creates a failover set. closeFn may be nil for clients that
// hold no connection.
func NewFailover[C any](c Chain, urls []string, dial DialFunc[C], closeFn func(C)) (*Failover[C], error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%s: at least one RPC URL is required", c)
	}

	fo := &Failover[C]{
		chain:     c,
		endpoints: make([]*endpointStatus[C], 0, len(urls)),
		dial:      dial,
		closeFn:   closeFn,
		now:       time.Now,
	}
	for _, url := range urls {
		fo.endpoints = append(fo.endpoints, &endpointStatus[C]{url: url, healthy: true})
	}
	return fo, nil
}

// Do runs fn against a healthy endpoint. A transient failure marks the
// endpoint unhealthy and moves on to the next one; each endpoint is tried at
// most once per call. Fatal errors are returned immediately.
func (fo *Failover[C]) Do(ctx context.Context, op string, fn func(ctx context.Context, client C) error) error {
	var lastErr error
	tried := make(map[string]bool, len(fo.endpoints))

	for range fo.endpoints {
		ep := fo.pick(tried)
		if ep == nil {
			break
		}
		tried[ep.url] = true

		client, err := fo.connect(ctx, ep)
		if err != nil {
			lastErr = Classify(fo.chain, op, err)
			fo.MarkUnhealthy(ep.url, err)
			if !IsTransient(lastErr) {
				return lastErr
			}
			continue
		}

		err = Classify(fo.chain, op, fn(ctx, client))
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		fo.MarkUnhealthy(ep.url, err)
		if ctx.Err() != nil {
			return lastErr
		}
	}

	if lastErr == nil {
		lastErr = TransientError(fo.chain, op, errors.New("no RPC endpoint available"))
	}
	return lastErr
}

// pick returns the next endpoint in round-robin order, preferring healthy
// ones and endpoints whose cooldown expired.
func (fo *Failover[C]) pick(tried map[string]bool) *endpointStatus[C] {
	fo.mu.Lock()
	defer fo.mu.Unlock()

	n := len(fo.endpoints)
	var oldest *endpointStatus[C]
	var oldestIdx int
	var oldestAt time.Time

	for i := 0; i < n; i++ {
		idx := (fo.currentIndex + i) % n
		ep := fo.endpoints[idx]
		if tried[ep.url] {
			continue
		}

		ep.mu.RLock()
		healthy := ep.healthy
		canRetry := fo.now().Sub(ep.lastErrorTime) > unhealthyDuration
		failedAt := ep.lastErrorTime
		ep.mu.RUnlock()

		if healthy || canRetry {
			fo.currentIndex = idx
			return ep
		}
		if oldest == nil || failedAt.Before(oldestAt) {
			oldest = ep
			oldestIdx = idx
			oldestAt = failedAt
		}
	}

	if oldest != nil {
		fo.currentIndex = oldestIdx
	}
	return oldest
}

func (fo *Failover[C]) connect(ctx context.Context, ep *endpointStatus[C]) (C, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.connected {
		return ep.client, nil
	}
	client, err := fo.dial(ctx, ep.url)
	if err != nil {
		var zero C
		return zero, err
	}
	ep.client = client
	ep.connected = true
	if !ep.healthy {
		slog.Info("Reconnected to RPC endpoint", "chain", fo.chain, "url", ep.url)
	}
	ep.healthy = true
	ep.lastError = nil
	return client, nil
}

// MarkUnhealthy marks an endpoint as unhealthy and closes its connection.
func (fo *Failover[C]) MarkUnhealthy(url string, err error) {
	for _, ep := range fo.endpoints {
		if ep.url != url {
			continue
		}
		ep.mu.Lock()
		ep.healthy = false
		ep.lastError = err
		ep.lastErrorTime = fo.now()
		fo.closeLocked(ep)
		ep.mu.Unlock()

		slog.Warn("Marked RPC endpoint as unhealthy, will retry after cooldown",
			"chain", fo.chain,
			"url", url,
			"error", err,
			"retry_after", unhealthyDuration)
		return
	}
}

// EndpointsHealth reports the health flag of every endpoint by URL.
func (fo *Failover[C]) EndpointsHealth() map[string]bool {
	out := make(map[string]bool, len(fo.endpoints))
	for _, ep := range fo.endpoints {
		ep.mu.RLock()
		out[ep.url] = ep.healthy
		ep.mu.RUnlock()
	}
	return out
}

// Close closes all endpoint connections.
func (fo *Failover[C]) Close() {
	for _, ep := range fo.endpoints {
		ep.mu.Lock()
		fo.closeLocked(ep)
		ep.mu.Unlock()
	}
}

func (fo *Failover[C]) closeLocked(ep *endpointStatus[C]) {
	if ep.connected && fo.closeFn != nil {
		fo.closeFn(ep.client)
	}
	var zero C
	ep.client = zero
	ep.connected = false
}
