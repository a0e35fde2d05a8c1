package service

import (
	"context"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/logging"
	"bookslot/internal/metrics"
	"bookslot/internal/models"
	"bookslot/internal/timeutil"

	"github.com/rs/zerolog"
)

// Reminder outcomes, also used as metric labels.
const (
	reminderSent    = "sent"
	reminderSkipped = "skipped"
	reminderFailed  = "failed"
)

// ReminderService sends day-of reminders for accepted bookings.
type ReminderService struct {
	repo     domain.Repository
	notes    notifications
	settings Settings
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewReminderService(repo domain.Repository, notifier domain.Notifier, settings Settings, logger *zerolog.Logger) *ReminderService {
	settings = settings.withDefaults()
	l := logging.Component(logger, "reminders")
	return &ReminderService{
		repo:     repo,
		notes:    notifications{repo: repo, sender: notifier, publicURL: settings.PublicURL, logger: l},
		settings: settings,
		now:      time.Now,
		logger:   l,
	}
}

type ReminderReport struct {
	Candidates int `json:"candidates"`
	Sent       int `json:"sent"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// SendTodayReminders handles every pending reminder for bookings starting
// on today's date in the reminder timezone. A booking whose send failed
// stays pending and is retried by the next run on the same day.
func (s *ReminderService) SendTodayReminders(ctx context.Context) (ReminderReport, error) {
	var report ReminderReport

	loc, err := timeutil.LoadLocation(s.settings.ReminderTimezone)
	if err != nil {
		return report, err
	}
	from := timeutil.StartOfDay(s.now(), loc)
	to := from.AddDate(0, 0, 1)

	candidates, err := s.repo.ListReminderCandidates(ctx, from, to)
	if err != nil {
		return report, err
	}
	report.Candidates = len(candidates)

	for i := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome := s.remind(ctx, &candidates[i])
		metrics.IncReminder(outcome)
		switch outcome {
		case reminderSent:
			report.Sent++
		case reminderSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}

	s.logger.Info().
		Time("from", from).
		Int("candidates", report.Candidates).
		Int("sent", report.Sent).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("reminder run finished")
	return report, nil
}

func (s *ReminderService) remind(ctx context.Context, b *models.Booking) string {
	log := s.logger.With().Str("booking_uid", b.UID).Logger()

	d, err := s.repo.GetBookingDetails(ctx, b.UID)
	if err != nil {
		log.Error().Err(err).Msg("load booking for reminder")
		return reminderFailed
	}
	if d.Attendee == nil || d.EventType == nil || d.Host == nil || !s.notes.configured() {
		return s.skip(ctx, b, &log, "nothing to send")
	}

	tmpl := s.notes.template(ctx, d.Host.ID, models.NotifyReminder)
	if tmpl != nil && !tmpl.Enabled {
		return s.skip(ctx, b, &log, "reminder template disabled")
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.settings.UpstreamTimeout)
	err = s.notes.sender.Send(sendCtx, models.NotifyReminder, s.notes.payload(d), tmpl)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("send reminder")
		return reminderFailed
	}
	if err := s.repo.UpdateReminderStatus(ctx, b.ID, models.ReminderSent); err != nil {
		log.Error().Err(err).Msg("mark reminder sent")
	}
	return reminderSent
}

func (s *ReminderService) skip(ctx context.Context, b *models.Booking, log *zerolog.Logger, why string) string {
	log.Info().Str("reason", why).Msg("reminder skipped")
	if err := s.repo.UpdateReminderStatus(ctx, b.ID, models.ReminderSkipped); err != nil {
		log.Error().Err(err).Msg("mark reminder skipped")
	}
	return reminderSkipped
}
