package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matrixise/portfolio-tracker/internal/storage"
	"github.com/matrixise/portfolio-tracker/internal/syncer"
)

const defaultConcurrency = 4

// WalletLister lists the wallets to sync.
type WalletLister interface {
	ListWallets(ctx context.Context) ([]storage.Wallet, error)
}

// Syncer syncs one wallet.
type Syncer interface {
	Sync(ctx context.Context, walletID string, force bool) (*syncer.Result, error)
}

// Report summarizes one sync-all run.
type Report struct {
	Total   int
	Fetched int
	Stale   int
	Failed  int
}

// SyncAll force-refreshes every wallet with at most concurrency syncs in
// flight. A failing wallet does not stop the others; the returned error
// only says how many failed.
func SyncAll(ctx context.Context, lister WalletLister, s Syncer, concurrency int) (Report, error) {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	wallets, err := lister.ListWallets(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list wallets: %w", err)
	}

	start := time.Now()
	rep := Report{Total: len(wallets)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, w := range wallets {
		if ctx.Err() != nil {
			break
		}
		w := w
		g.Go(func() error {
			res, err := s.Sync(ctx, w.ID, true)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Failed++
				slog.Error("Wallet sync failed",
					"wallet_id", w.ID,
					"chain", w.Chain,
					"address", w.Address,
					"error", err)
			case res.Stale:
				rep.Stale++
			default:
				rep.Fetched++
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("Sync of all wallets completed",
		"wallets", rep.Total,
		"fetched", rep.Fetched,
		"stale", rep.Stale,
		"failed", rep.Failed,
		"duration", time.Since(start).Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if rep.Failed > 0 {
		return rep, fmt.Errorf("%d of %d wallets failed to sync", rep.Failed, rep.Total)
	}
	return rep, nil
}
