package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matrixise/portfolio-tracker/internal/api"
	"github.com/matrixise/portfolio-tracker/internal/health"
	"github.com/matrixise/portfolio-tracker/internal/metrics"
	"github.com/matrixise/portfolio-tracker/internal/scheduler"
	"github.com/matrixise/portfolio-tracker/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var (
	interval string
	once     bool
	migrate  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the REST API and sync wallets on a schedule",
	Long: `Serve the REST API. When an interval is configured, every tracked wallet
is force-refreshed on that schedule. With --once, all wallets are synced a
single time and the command exits.`,
	RunE: runTracker,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&interval, "interval", "", "sync interval - duration (5m, 1h) or cron (\"*/5 * * * *\") - empty disables scheduled syncs")
	runCmd.Flags().BoolVar(&once, "once", false, "sync all wallets once and exit")
	runCmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending database migrations on startup")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Signal received, graceful shutdown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runTracker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	// Use interval from flag if provided, otherwise from config
	runInterval := interval
	if runInterval == "" {
		runInterval = cfg.Interval
	}
	if err := scheduler.ValidateScheduleInterval(runInterval); err != nil {
		return fmt.Errorf("invalid interval: %w", err)
	}

	slog.Info("Configuration loaded",
		"config_path", cfgFile,
		"chains", len(cfg.Chains),
		"seed_wallets", len(cfg.Wallets),
		"backend", cfg.Backend,
		"interval", runInterval,
	)

	if migrate {
		if err := storage.RunMigrations(ctx, secrets.DatabaseURL); err != nil {
			slog.Error("Migration failed", "error", err)
			return err
		}
	}

	a, err := newApp(ctx, cfg, secrets)
	if err != nil {
		slog.Error("Startup failed", "error", err)
		return err
	}
	defer a.Close()

	if err := a.seedWallets(ctx); err != nil {
		slog.Error("Failed to register configured wallets", "error", err)
		return err
	}

	if once {
		_, err := scheduler.SyncAll(ctx, a.store, a.engine, cfg.Concurrency)
		return err
	}

	metrics.Init()

	var (
		sched            *scheduler.Scheduler
		checker          *health.Checker
		expectedInterval time.Duration
	)
	if runInterval != "" {
		slog.Info("Starting scheduled sync",
			"schedule", scheduler.DescribeSchedule(runInterval, cfg.GetTimezone()),
			"run_immediately", cfg.ShouldRunImmediately())

		jobFunc := func(jobCtx context.Context) error {
			_, err := scheduler.SyncAll(jobCtx, a.store, a.engine, cfg.Concurrency)
			if checker != nil {
				checker.UpdateLastRun(err == nil)
			}
			return err
		}

		sched, err = scheduler.NewScheduler(ctx, scheduler.Config{
			Interval:       runInterval,
			Timezone:       cfg.GetTimezone(),
			RunImmediately: cfg.ShouldRunImmediately(),
			Logger:         slog.Default(),
		}, jobFunc)
		if err != nil {
			slog.Error("Failed to create scheduler", "error", err)
			return fmt.Errorf("scheduler creation failed: %w", err)
		}
		expectedInterval = sched.ExpectedInterval()
	}

	checker = health.NewChecker(a.store, a.cachePinger(), a.registry, expectedInterval)

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: api.NewRouter(api.Deps{
			Wallets:     a.wallets,
			Syncer:      a.engine,
			Portfolio:   a.portfolio,
			Health:      checker,
			CORSOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if sched != nil {
		if err := sched.Start(); err != nil {
			slog.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("scheduler start failed: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		slog.Info("Shutdown requested")
	case err = <-serverErr:
		slog.Error("HTTP server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("HTTP server shutdown error", "error", shutdownErr)
	}
	if sched != nil {
		if stopErr := sched.Stop(); stopErr != nil {
			slog.Error("Scheduler shutdown error", "error", stopErr)
		}
	}
	return err
}
