// Package scheduler runs the periodic wallet sync in daemon mode. Plain
// durations are converted to clock-aligned cron expressions so runs land on
// predictable wall-clock boundaries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// JobName identifies the sync job in gocron logs.
const JobName = "sync-all-wallets"

// JobFunc is the function signature for scheduled jobs
type JobFunc func(ctx context.Context) error

// Scheduler wraps a single gocron job.
type Scheduler struct {
	gocronScheduler gocron.Scheduler
	job             gocron.Job
	interval        string
	timezone        *time.Location
	runImmediately  bool
	logger          *slog.Logger
}

// Config holds scheduler configuration
type Config struct {
	Interval       string         // duration ("5m") or cron ("*/5 * * * *")
	Timezone       *time.Location // for cron expressions, default UTC
	RunImmediately bool
	Logger         *slog.Logger
}

// 5 or 6 whitespace separated fields
var cronPattern = regexp.MustCompile(`^(\S+\s+){4,5}\S+$`)

// alignment describes how a duration unit maps onto a cron field. A step
// is only clock-aligned when it divides the enclosing period.
type alignment struct {
	unit   time.Duration
	name   string
	period int
	format string
}

var alignments = []alignment{
	{unit: time.Second, name: "second", period: 60, format: "*/%d * * * * *"},
	{unit: time.Minute, name: "minute", period: 60, format: "*/%d * * * *"},
	{unit: time.Hour, name: "hour", period: 24, format: "0 */%d * * *"},
}

// NewScheduler creates the scheduler and registers jobFunc. A run that is
// still going when the next tick fires is not overlapped; the tick is
// rescheduled instead.
func NewScheduler(ctx context.Context, cfg Config, jobFunc JobFunc) (*Scheduler, error) {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Scheduler{
		interval:       cfg.Interval,
		timezone:       cfg.Timezone,
		runImmediately: cfg.RunImmediately,
		logger:         cfg.Logger,
	}

	gs, err := gocron.NewScheduler(
		gocron.WithLocation(cfg.Timezone),
		gocron.WithLogger(newGocronLoggerAdapter(cfg.Logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	s.gocronScheduler = gs

	cronExpr := cfg.Interval
	if isCronExpression(cfg.Interval) {
		s.logger.Info("Using cron expression", "cron", cronExpr, "timezone", cfg.Timezone.String())
	} else {
		cronExpr, err = durationToCron(cfg.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid interval: %w", err)
		}
		s.logger.Info("Converting duration to cron", "duration", cfg.Interval, "cron", cronExpr, "timezone", cfg.Timezone.String())
	}

	s.job, err = gs.NewJob(
		gocron.CronJob(cronExpr, len(strings.Fields(cronExpr)) == 6),
		gocron.NewTask(func() {
			if err := jobFunc(ctx); err != nil {
				s.logger.Error("Job execution failed", "job", JobName, "error", err)
			}
		}),
		gocron.WithName(JobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduled job: %w", err)
	}

	return s, nil
}

// Start begins the scheduler, running the job once first when configured.
func (s *Scheduler) Start() error {
	if s.runImmediately {
		s.logger.Info("Executing job immediately before starting scheduler")
		if err := s.job.RunNow(); err != nil {
			s.logger.Error("Immediate execution failed", "error", err)
		}
	}

	s.gocronScheduler.Start()

	if nextRun, err := s.NextRun(); err == nil {
		s.logger.Info("Scheduler started", "next_run", nextRun.Format(time.RFC3339), "timezone", s.timezone.String())
	} else {
		s.logger.Info("Scheduler started")
	}
	return nil
}

// Stop waits for a running job and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.gocronScheduler.Shutdown()
}

// NextRun returns the next scheduled run time
func (s *Scheduler) NextRun() (time.Time, error) {
	nextRun, err := s.job.NextRun()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get next run: %w", err)
	}
	return nextRun, nil
}

// ExpectedInterval is the spacing the health checker uses to detect a
// stalled daemon. Irregular cron expressions fall back to five minutes.
func (s *Scheduler) ExpectedInterval() time.Duration {
	if d, err := time.ParseDuration(s.interval); err == nil {
		return d
	}
	return 5 * time.Minute
}

func isCronExpression(s string) bool {
	return cronPattern.MatchString(s)
}

// durationToCron converts a duration string to a clock-aligned cron expression
//
//	"5m"  -> "*/5 * * * *"
//	"1h"  -> "0 */1 * * *"
//	"30s" -> "*/30 * * * * *"
func durationToCron(durationStr string) (string, error) {
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return "", fmt.Errorf("invalid duration format: %w", err)
	}
	if d <= 0 {
		return "", fmt.Errorf("duration must be positive (got %s)", durationStr)
	}

	for i, a := range alignments {
		// pick the largest unit the duration reaches
		if i+1 < len(alignments) && d >= alignments[i+1].unit {
			continue
		}
		if d%a.unit != 0 {
			return "", fmt.Errorf("duration must be whole seconds, minutes, or hours (got %s)", durationStr)
		}
		n := int(d / a.unit)
		if a.period%n != 0 {
			return "", fmt.Errorf("%s intervals must divide evenly into %d (got %s)", a.name, a.period, durationStr)
		}
		return fmt.Sprintf(a.format, n), nil
	}
	return "", fmt.Errorf("unsupported duration %s", durationStr)
}

// ValidateScheduleInterval validates a schedule interval (duration or cron).
// Empty means no daemon.
func ValidateScheduleInterval(interval string) error {
	if interval == "" {
		return nil
	}

	if isCronExpression(interval) {
		fields := strings.Fields(interval)
		if len(fields) != 5 && len(fields) != 6 {
			return errors.New("cron expression must have 5 or 6 fields")
		}
		return nil
	}

	_, err := durationToCron(interval)
	return err
}

// gocronLoggerAdapter adapts slog.Logger to gocron.Logger interface
type gocronLoggerAdapter struct {
	logger *slog.Logger
}

func newGocronLoggerAdapter(logger *slog.Logger) gocron.Logger {
	return &gocronLoggerAdapter{logger: logger}
}

func (a *gocronLoggerAdapter) Debug(msg string, args ...any) {
	a.logger.Debug(msg, args...)
}

func (a *gocronLoggerAdapter) Info(msg string, args ...any) {
	a.logger.Info(msg, args...)
}

func (a *gocronLoggerAdapter) Warn(msg string, args ...any) {
	a.logger.Warn(msg, args...)
}

func (a *gocronLoggerAdapter) Error(msg string, args ...any) {
	a.logger.Error(msg, args...)
}

// DescribeSchedule provides a human-readable description of the schedule
func DescribeSchedule(interval string, timezone *time.Location) string {
	if timezone == nil {
		timezone = time.UTC
	}
	if interval == "" {
		return "disabled"
	}

	if isCronExpression(interval) {
		return fmt.Sprintf("cron: %s (%s)", interval, timezone.String())
	}

	duration, err := time.ParseDuration(interval)
	if err != nil {
		return fmt.Sprintf("invalid: %s", interval)
	}

	cronExpr, err := durationToCron(interval)
	if err != nil {
		return fmt.Sprintf("duration: %s (non-aligned)", interval)
	}

	return fmt.Sprintf("every %s (aligned to clock, cron: %s, %s)", duration, cronExpr, timezone.String())
}
