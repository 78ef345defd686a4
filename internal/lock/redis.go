package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "lock:"

	// DefaultTTL applies when NewRedis is given a non-positive ttl. A key
	// set without expiry would outlive a crashed holder.
	DefaultTTL = 2 * time.Minute
)

// compare-and-delete so a lock that expired and was re-acquired elsewhere
// is never released by its previous owner
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis. The lock
// expires after ttl if its holder dies.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

var _ Locker = (*Redis)(nil)

// NewRedis creates a distributed locker. ttl must exceed the longest sync;
// zero or negative values fall back to DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl, poll: 50 * time.Millisecond}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.poll
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if ctxErr := ctx.Err(); ctxErr != nil {
			if ok {
				r.release(redisKey, token)
			}
			return nil, ctxErr
		}
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.release(redisKey, token) })
	}, nil
}

// release runs on a fresh context; the caller's may already be done.
func (r *Redis) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil {
		slog.Warn("Failed to release lock", "key", redisKey, "error", err)
	}
}
