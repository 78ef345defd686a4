package cmd

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/matrixise/portfolio-tracker/internal/scheduler"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync [wallet-id]",
	Short: "Sync balances of one wallet, or of all wallets",
	Long: `Fetch balances from the chain and persist them. With a wallet id, the
result is printed as JSON; without one, every tracked wallet is force-refreshed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&syncForce, "force", true, "bypass the balance cache")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, secrets)
	if err != nil {
		slog.Error("Startup failed", "error", err)
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		rep, err := scheduler.SyncAll(ctx, a.store, a.engine, cfg.Concurrency)
		if err != nil {
			return err
		}
		slog.Info("Sync completed", "wallets", rep.Total, "fetched", rep.Fetched, "stale", rep.Stale)
		return nil
	}

	res, err := a.engine.Sync(ctx, args[0], syncForce)
	if err != nil {
		slog.Error("Sync failed", "wallet_id", args[0], "error", err)
		return err
	}
	if res.Stale {
		slog.Warn("Chain unreachable, showing last known balances", "wallet_id", args[0])
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
