package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matrixise/portfolio-tracker/internal/config"
	"github.com/matrixise/portfolio-tracker/internal/logger"
	"github.com/matrixise/portfolio-tracker/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
	Long:  `Apply, roll back, or list the goose migrations of the wallets, balances and history tables.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

// migrations need only the database; the config file is not read
func databaseURL() (string, error) {
	logger.Setup(logLevel)
	secrets, err := config.LoadSecrets("")
	if err != nil {
		return "", err
	}
	return secrets.DatabaseURL, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	dsn, err := databaseURL()
	if err != nil {
		return err
	}

	if err := storage.RunMigrations(cmd.Context(), dsn); err != nil {
		slog.Error("Migration failed", "error", err)
		return err
	}

	slog.Info("Migrations applied")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	dsn, err := databaseURL()
	if err != nil {
		return err
	}

	if err := storage.MigrateDown(cmd.Context(), dsn); err != nil {
		slog.Error("Rollback failed", "error", err)
		return err
	}

	slog.Info("Last migration rolled back")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	dsn, err := databaseURL()
	if err != nil {
		return err
	}

	if err := storage.MigrateStatus(cmd.Context(), dsn); err != nil {
		slog.Error("Failed to get migration status", "error", err)
		return err
	}

	return nil
}
