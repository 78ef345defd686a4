package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/matrixise/portfolio-tracker/internal/storage"
	"github.com/matrixise/portfolio-tracker/internal/wallets"
)

var walletLabel string

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage tracked wallets",
}

var walletAddCmd = &cobra.Command{
	Use:   "add <chain> <address>",
	Short: "Start tracking a wallet",
	Args:  cobra.ExactArgs(2),
	RunE: withWallets(func(ctx context.Context, svc *wallets.Service, args []string) error {
		var label *string
		if walletLabel != "" {
			label = &walletLabel
		}
		w, err := svc.Create(ctx, args[1], args[0], label)
		if err != nil {
			return err
		}
		fmt.Println(w.ID)
		return nil
	}),
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked wallets",
	Args:  cobra.NoArgs,
	RunE: withWallets(func(ctx context.Context, svc *wallets.Service, _ []string) error {
		ws, err := svc.List(ctx)
		if err != nil {
			return err
		}
		printWallets(ws)
		return nil
	}),
}

var walletRemoveCmd = &cobra.Command{
	Use:   "remove <wallet-id>",
	Short: "Stop tracking a wallet and delete its balances and history",
	Args:  cobra.ExactArgs(1),
	RunE: withWallets(func(ctx context.Context, svc *wallets.Service, args []string) error {
		return svc.Delete(ctx, args[0])
	}),
}

var walletLabelCmd = &cobra.Command{
	Use:   "label <wallet-id> [label]",
	Short: "Set or clear the label of a wallet",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withWallets(func(ctx context.Context, svc *wallets.Service, args []string) error {
		var label *string
		if len(args) == 2 {
			label = &args[1]
		}
		_, err := svc.UpdateLabel(ctx, args[0], label)
		return err
	}),
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletAddCmd, walletListCmd, walletRemoveCmd, walletLabelCmd)

	walletAddCmd.Flags().StringVar(&walletLabel, "label", "", "human readable label")
}

// withWallets runs fn against the wallet service of a fully built app, so
// removals also invalidate the shared balance cache.
func withWallets(fn func(ctx context.Context, svc *wallets.Service, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
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

		if err := fn(ctx, a.wallets, args); err != nil {
			slog.Error("Wallet command failed", "command", cmd.Name(), "error", err)
			return err
		}
		return nil
	}
}

func printWallets(ws []storage.Wallet) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHAIN\tADDRESS\tLABEL")
	for _, w := range ws {
		label := ""
		if w.Label != nil {
			label = *w.Label
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", w.ID, w.Chain, w.Address, label)
	}
	_ = tw.Flush()
}
