package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/matrixise/portfolio-tracker/internal/portfolio"
	"github.com/matrixise/portfolio-tracker/internal/storage"
)

var (
	historyWallet string
	historyToken  string
	historyLimit  int
)

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Inspect stored balances",
}

var portfolioSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the total USD value per wallet and overall",
	Args:  cobra.NoArgs,
	RunE: withAggregator(func(ctx context.Context, agg *portfolio.Aggregator) (any, error) {
		return agg.Summarize(ctx)
	}),
}

var portfolioHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Print balance history, newest first",
	Args:  cobra.NoArgs,
	RunE: withAggregator(func(ctx context.Context, agg *portfolio.Aggregator) (any, error) {
		return agg.History(ctx, historyWallet, historyToken, historyLimit)
	}),
}

func init() {
	rootCmd.AddCommand(portfolioCmd)
	portfolioCmd.AddCommand(portfolioSummaryCmd, portfolioHistoryCmd)

	portfolioHistoryCmd.Flags().StringVar(&historyWallet, "wallet", "", "only this wallet id")
	portfolioHistoryCmd.Flags().StringVar(&historyToken, "token", "", "only this token symbol")
	portfolioHistoryCmd.Flags().IntVar(&historyLimit, "limit", portfolio.DefaultHistoryLimit, "maximum number of records")
}

// withAggregator only needs the database; no adapters or brokers are built.
func withAggregator(fn func(ctx context.Context, agg *portfolio.Aggregator) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		_, secrets, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.NewStore(ctx, secrets.DatabaseURL)
		if err != nil {
			slog.Error("Failed to connect to PostgreSQL", "error", err)
			return err
		}
		defer store.Close()

		out, err := fn(ctx, portfolio.NewAggregator(store))
		if err != nil {
			slog.Error("Portfolio query failed", "command", cmd.Name(), "error", err)
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}
