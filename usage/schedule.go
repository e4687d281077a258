package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often the Scheduler checks whether a reset is due.
const DefaultPollInterval = time.Minute

// ParseSchedule parses a reset schedule.
// Supports:
//   - Cron expressions: "0 0 0 1 * *" (6-field) or "0 0 1 * *" (5-field)
//   - Descriptors: "@monthly", "@daily"
//   - Go duration strings: "24h", "1h30m"
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err == nil {
		return sched, nil
	}

	duration, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule as cron expression or duration: %w", err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("schedule duration must be positive: %s", schedule)
	}
	return cron.ConstantDelaySchedule{Delay: duration}, nil
}

// Scheduler resets a Tracker on a schedule.
type Scheduler struct {
	tracker      *Tracker
	schedule     cron.Schedule
	pollInterval time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewScheduler creates a new scheduler resetting tracker on schedule.
func NewScheduler(tracker *Tracker, schedule string, pollInterval time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker cannot be nil")
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule %q: %w", schedule, err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Scheduler{
		tracker:      tracker,
		schedule:     sched,
		pollInterval: pollInterval,
		logger:       logger.With().Str("component", "usageScheduler").Logger(),
		now:          time.Now,
	}, nil
}

// Start runs until ctx is cancelled, resetting the tracker whenever the
// schedule comes due.
func (s *Scheduler) Start(ctx context.Context) {
	next := s.schedule.Next(s.now())
	s.logger.Info().Time("nextReset", next).Dur("pollInterval", s.pollInterval).Msg("Starting usage scheduler")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Usage scheduler stopped: context cancelled")
			return
		case <-ticker.C:
			next = s.check(next)
		}
	}
}

// check resets the tracker if next has passed and returns the following
// reset time.
func (s *Scheduler) check(next time.Time) time.Time {
	now := s.now()
	if now.Before(next) {
		return next
	}
	s.tracker.Reset()
	next = s.schedule.Next(now)
	s.logger.Info().Time("nextReset", next).Msg("Usage tracker reset by schedule")
	return next
}
