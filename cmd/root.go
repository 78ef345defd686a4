package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "portfolio-tracker",
	Short: "Multi-chain wallet balance tracker",
	Long: `portfolio-tracker follows wallet balances on Ethereum, Solana, Cosmos,
Celestia and Starknet. Balances are fetched through per-chain adapters, cached,
persisted to PostgreSQL with a full history, valued in USD and exposed over a
REST API.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
