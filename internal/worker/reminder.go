package worker

import (
	"context"
	"fmt"
	"time"

	"bookslot/internal/logging"
	"bookslot/internal/timeutil"

	"github.com/rs/zerolog"
)

// ReminderJob sends the reminders of the current day.
type ReminderJob func(ctx context.Context) error

// ReminderScheduler runs a job once a day at a wall-clock time in a fixed
// reference zone.
type ReminderScheduler struct {
	job    ReminderJob
	at     timeutil.Clock
	loc    *time.Location
	now    func() time.Time
	logger *zerolog.Logger
}

func NewReminderScheduler(job ReminderJob, tz, at string, logger *zerolog.Logger) (*ReminderScheduler, error) {
	loc, err := timeutil.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	clock, err := timeutil.ParseFlexibleTime(at)
	if err != nil {
		return nil, fmt.Errorf("reminder time: %w", err)
	}
	return &ReminderScheduler{
		job:    job,
		at:     clock,
		loc:    loc,
		now:    time.Now,
		logger: logging.Component(logger, "reminders"),
	}, nil
}

// NextRun is the first run strictly after now.
func (s *ReminderScheduler) NextRun(now time.Time) time.Time {
	next := timeutil.ResolveIn(now.In(s.loc), s.at, s.loc)
	if !next.After(now) {
		next = timeutil.ResolveIn(now.In(s.loc).AddDate(0, 0, 1), s.at, s.loc)
	}
	return next
}

// Start blocks until ctx is done.
func (s *ReminderScheduler) Start(ctx context.Context) {
	for {
		now := s.now()
		next := s.NextRun(now)
		s.logger.Info().Time("next_run", next).Msg("reminder run scheduled")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.job(ctx); err != nil {
			s.logger.Error().Err(err).Msg("reminder run failed")
		}
	}
}
