package price

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Store caches prices by symbol.
type Store interface {
	Get(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, symbol string, p decimal.Decimal, ttl time.Duration) error
}

func cacheKey(symbol string) string {
	return fmt.Sprintf("price:%s:usd", strings.ToUpper(symbol))
}

type memoryPrice struct {
	value     decimal.Decimal
	expiresAt time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	prices map[string]memoryPrice
	now    func() time.Time
}

// NewMemoryStore creates an empty store. now may be nil to use time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{prices: make(map[string]memoryPrice), now: now}
}

func (m *MemoryStore) Get(_ context.Context, symbol string) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[cacheKey(symbol)]
	if !ok || !m.now().Before(p.expiresAt) {
		return decimal.Decimal{}, false, nil
	}
	return p.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, symbol string, p decimal.Decimal, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[cacheKey(symbol)] = memoryPrice{value: p, expiresAt: m.now().Add(ttl)}
	return nil
}

// RedisStore shares prices between processes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	raw, err := r.client.Get(ctx, cacheKey(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("redis get: %w", err)
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("decode cached price: %w", err)
	}
	return p, true, nil
}

func (r *RedisStore) Set(ctx context.Context, symbol string, p decimal.Decimal, ttl time.Duration) error {
	if err := r.client.Set(ctx, cacheKey(symbol), p.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
