package invitations

import (
	"context"
	"fmt"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/robfig/cron/v3"
)

// Default sweep schedules
const (
	DefaultExpireSchedule   = "0 * * * *"  // hourly
	DefaultReminderSchedule = "30 9 * * *" // daily, 09:30 UTC
)

// ScheduleConfig holds the cron specs of the background sweeps. An empty spec
// disables that sweep.
type ScheduleConfig struct {
	ExpireSchedule   string
	ReminderSchedule string
	// JobTimeout bounds a single run
	JobTimeout time.Duration
}

// Sweeper is the part of Service the scheduler drives
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
	SendDueReminders(ctx context.Context) (int, error)
}

// Scheduler runs the expiry and reminder sweeps on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *observability.Logger
	timeout time.Duration
}

// NewScheduler registers the sweeps of cfg. It does not start them.
func NewScheduler(sweeper Sweeper, cfg ScheduleConfig, logger *observability.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		sweeper: sweeper,
		logger:  logger.WithField("component", "invitation_scheduler"),
		timeout: cfg.JobTimeout,
	}

	if cfg.ExpireSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.ExpireSchedule, func() { s.run("expire", sweeper.SweepExpired) }); err != nil {
			return nil, fmt.Errorf("invalid expire schedule %q: %w", cfg.ExpireSchedule, err)
		}
	}
	if cfg.ReminderSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.ReminderSchedule, func() { s.run("reminders", sweeper.SendDueReminders) }); err != nil {
			return nil, fmt.Errorf("invalid reminder schedule %q: %w", cfg.ReminderSchedule, err)
		}
	}
	return s, nil
}

// Start begins running the sweeps in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Infof("Invitation scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for running jobs or ctx, whichever is first
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(job string, fn func(context.Context) (int, error)) {
	defer observability.RecoverPanic(s.logger, "invitation "+job+" sweep")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx = observability.WithLogger(ctx, s.logger.WithField("job", job))

	start := time.Now()
	n, err := fn(ctx)
	logger := s.logger.WithFields(map[string]interface{}{
		"job":         job,
		"count":       n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		logger.WithError(err).Error("Invitation sweep failed")
		return
	}
	logger.Debug("Invitation sweep completed")
}
