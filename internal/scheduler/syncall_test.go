package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/portfolio-tracker/internal/storage"
	"github.com/matrixise/portfolio-tracker/internal/syncer"
)

type staticLister struct {
	wallets []storage.Wallet
	err     error
}

func (l staticLister) ListWallets(context.Context) ([]storage.Wallet, error) {
	return l.wallets, l.err
}

type fakeSyncer struct {
	mu       sync.Mutex
	forced   []bool
	inFlight atomic.Int32
	peak     atomic.Int32
	outcome  func(id string) (*syncer.Result, error)
}

func (f *fakeSyncer) Sync(_ context.Context, id string, force bool) (*syncer.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.forced = append(f.forced, force)
	f.mu.Unlock()

	if f.outcome != nil {
		return f.outcome(id)
	}
	return &syncer.Result{}, nil
}

func wallets(n int) []storage.Wallet {
	out := make([]storage.Wallet, n)
	for i := range out {
		out[i] = storage.Wallet{ID: fmt.Sprintf("w%d", i)}
	}
	return out
}

func TestSyncAll(t *testing.T) {
	s := &fakeSyncer{}
	rep, err := SyncAll(context.Background(), staticLister{wallets: wallets(10)}, s, 3)
	require.NoError(t, err)

	assert.Equal(t, Report{Total: 10, Fetched: 10}, rep)
	assert.LessOrEqual(t, s.peak.Load(), int32(3))
	require.Len(t, s.forced, 10)
	for _, f := range s.forced {
		assert.True(t, f, "scheduled syncs bypass the cache")
	}
}

func TestSyncAllCountsOutcomes(t *testing.T) {
	s := &fakeSyncer{outcome: func(id string) (*syncer.Result, error) {
		switch id {
		case "w0":
			return nil, syncer.ErrRPCUnavailable
		case "w1":
			return &syncer.Result{Stale: true}, nil
		default:
			return &syncer.Result{}, nil
		}
	}}

	rep, err := SyncAll(context.Background(), staticLister{wallets: wallets(4)}, s, 0)
	assert.EqualError(t, err, "1 of 4 wallets failed to sync")
	assert.Equal(t, Report{Total: 4, Fetched: 2, Stale: 1, Failed: 1}, rep)
}

func TestSyncAllListError(t *testing.T) {
	_, err := SyncAll(context.Background(), staticLister{err: errors.New("db down")}, &fakeSyncer{}, 2)
	assert.ErrorContains(t, err, "db down")
}

func TestSyncAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &fakeSyncer{}
	_, err := SyncAll(ctx, staticLister{wallets: wallets(5)}, s, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.forced)
}
