package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/matrixise/portfolio-tracker/internal/chain"
	"github.com/matrixise/portfolio-tracker/internal/metrics"
)

const (
	defaultRetryMaxAttempts    = 3
	defaultRetryInitialBackoff = 500 * time.Millisecond
	defaultRetryMaxBackoff     = 10 * time.Second
	retryJitter                = 0.5
)

// RetryPolicy bounds the attempts made for one adapter call.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return defaultRetryMaxAttempts
	}
	return p.MaxAttempts
}

// newBackOff returns a fresh jittered exponential schedule. The attempt
// counter in withRetry is the only stop condition.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultRetryInitialBackoff
	}
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = defaultRetryMaxBackoff
	}
	b.Multiplier = 2
	b.RandomizationFactor = retryJitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// withRetry runs fn up to MaxAttempts times. Only errors the adapter marked
// transient are retried; anything else is returned on the first attempt.
func (e *Engine) withRetry(ctx context.Context, c chain.Chain, call string, fn func(context.Context) error) error {
	maxAttempts := e.cfg.Retry.maxAttempts()
	bo := e.cfg.Retry.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			metrics.RPCAttempts.WithLabelValues(string(c), call, "ok").Inc()
			return nil
		}
		lastErr = err

		if !chain.IsTransient(err) {
			metrics.RPCAttempts.WithLabelValues(string(c), call, "fatal").Inc()
			return err
		}
		metrics.RPCAttempts.WithLabelValues(string(c), call, "transient").Inc()

		if attempt == maxAttempts {
			break
		}
		delay := bo.NextBackOff()
		slog.Warn("Transient RPC error, retrying",
			"chain", c,
			"call", call,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err)
		if err := e.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s interrupted after %d attempts: %w", call, attempt, lastErr)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", call, maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
