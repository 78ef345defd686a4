package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matrixise/portfolio-tracker/internal/config"
	"github.com/matrixise/portfolio-tracker/internal/logger"
	"github.com/matrixise/portfolio-tracker/internal/scheduler"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file syntax and values without running the application.`,
	RunE:  validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	logger.Setup(logLevel)

	cfg, secrets, err := config.LoadWithDefaults(cfgFile)
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return err
	}

	chains := make([]string, 0, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		chains = append(chains, cc.Name)
	}

	slog.Info("Configuration valid",
		"chains", chains,
		"seed_wallets", len(cfg.Wallets),
		"backend", cfg.Backend,
		"schedule", scheduler.DescribeSchedule(cfg.Interval, cfg.GetTimezone()),
		"log_level", cfg.LogLevel,
		"price_lookup", cfg.PriceEnabled(),
		"redis_url_set", secrets.RedisURL != "",
		"amqp_url_set", secrets.AMQPURL != "",
	)

	return nil
}
