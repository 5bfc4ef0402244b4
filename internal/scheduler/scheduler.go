// Package scheduler triggers the daily pipeline run and catches up on missed
// logical dates since the configured start date.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/couchcryptid/weather-measures-etl/internal/pipeline"
	"github.com/go-co-op/gocron"
	"github.com/jonboulle/clockwork"
)

// dailyAtMidnight fires when a logical day closes.
const dailyAtMidnight = "0 0 * * *"

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req pipeline.RunRequest) (domain.Run, error)
}

// Ledger reports which logical dates already have a scheduled run.
type Ledger interface {
	ScheduledDates(ctx context.Context, from, to time.Time) (map[time.Time]bool, error)
}

// Settings selects the schedule window.
type Settings struct {
	StartDate time.Time
	Catchup   bool
}

// Scheduler runs due logical dates one at a time.
type Scheduler struct {
	runner   Runner
	ledger   Ledger
	settings Settings
	clock    clockwork.Clock
	logger   *slog.Logger

	mu   sync.Mutex // serializes Backfill between startup and cron ticks
	cron *gocron.Scheduler
}

// New creates a Scheduler. A nil clock uses the real clock.
func New(runner Runner, ledger Ledger, settings Settings, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		runner:   runner,
		ledger:   ledger,
		settings: settings,
		clock:    clock,
		logger:   logger,
		cron:     gocron.NewScheduler(time.UTC),
	}
}

// DueDates returns, oldest first, the logical dates whose day has closed by now.
// Without catch-up only the most recent due date is returned.
func DueDates(start, now time.Time, catchup bool) []time.Time {
	start = domain.LogicalDay(start)
	latest := domain.LogicalDay(now).AddDate(0, 0, -1)
	if latest.Before(start) {
		return nil
	}
	if !catchup {
		return []time.Time{latest}
	}

	var dates []time.Time
	for d := start; !d.After(latest); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// Backfill runs every due date that has no scheduled run yet and returns how
// many runs it started. Run failures are logged and do not stop the backfill.
func (s *Scheduler) Backfill(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dates := DueDates(s.settings.StartDate, s.clock.Now(), s.settings.Catchup)
	if len(dates) == 0 {
		s.logger.Info("no logical dates due", "start_date", s.settings.StartDate.Format(time.DateOnly))
		return 0, nil
	}

	done, err := s.ledger.ScheduledDates(ctx, dates[0], dates[len(dates)-1])
	if err != nil {
		return 0, fmt.Errorf("backfill: %w", err)
	}

	started, failed := 0, 0
	for _, d := range dates {
		if done[d] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return started, err
		}
		started++
		if _, err := s.runner.Run(ctx, pipeline.RunRequest{LogicalDate: d, Type: domain.RunScheduled}); err != nil {
			failed++
		}
	}

	if started > 0 {
		s.logger.Info("backfill finished", "due", len(dates), "started", started, "failed", failed)
	}
	return started, nil
}

// Start schedules the daily job and starts the underlying scheduler.
// Each tick runs Backfill, so dates missed while the service was down are picked up too.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.Cron(dailyAtMidnight).SingletonMode().Do(func() {
		if _, err := s.Backfill(ctx); err != nil {
			s.logger.Error("scheduled run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule daily job: %w", err)
	}

	s.cron.StartAsync()
	s.logger.Info("scheduler started", "cron", dailyAtMidnight, "catchup", s.settings.Catchup)
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// NextRun reports when the daily job fires next. Zero before Start.
func (s *Scheduler) NextRun() time.Time {
	_, next := s.cron.NextRun()
	return next
}
