// Package lock provides per-key mutual exclusion. The sync engine holds the
// lock for a wallet id for the whole fetch-and-persist sequence.
package lock

import (
	"context"
	"sync"
)

// Locker acquires exclusive access to a key. Acquire blocks until the lock
// is held or ctx is done; the returned release func must be called once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// Memory is a process-local Locker. Idle keys are removed once no goroutine
// holds or waits for them.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

var _ Locker = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*keyLock)}
}

func (m *Memory) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			m.unref(key, kl)
		})
	}, nil
}

func (m *Memory) unref(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}

// held reports the number of keys currently tracked.
func (m *Memory) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
