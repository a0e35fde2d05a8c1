package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/export"
	"bookslot/internal/logging"
	"bookslot/internal/models"
	"bookslot/internal/timeutil"

	"github.com/rs/zerolog"
)

// HostService covers the host's own configuration: event types, weekly
// availability, notification templates and booking exports.
type HostService struct {
	repo     domain.Repository
	exporter *export.Exporter
	settings Settings
	logger   *zerolog.Logger
}

func NewHostService(repo domain.Repository, exporter *export.Exporter, settings Settings, logger *zerolog.Logger) *HostService {
	return &HostService{
		repo:     repo,
		exporter: exporter,
		settings: settings.withDefaults(),
		logger:   logging.Component(logger, "host"),
	}
}

func (s *HostService) Host(ctx context.Context) (*models.Host, error) {
	return s.repo.GetHost(ctx, s.settings.HostID)
}

func (s *HostService) ListEventTypes(ctx context.Context) ([]models.EventType, error) {
	return s.repo.ListEventTypes(ctx, s.settings.HostID)
}

func (s *HostService) CreateEventType(ctx context.Context, et *models.EventType) error {
	et.HostID = s.settings.HostID
	et.Slug = strings.ToLower(strings.TrimSpace(et.Slug))
	if et.IsPaid && et.Currency == "" {
		et.Currency = s.settings.Currency
	}
	if err := et.Validate(); err != nil {
		return domain.InvalidInputf("%v", err)
	}
	if err := s.repo.CreateEventType(ctx, et); err != nil {
		return err
	}
	s.logger.Info().Int64("event_type_id", et.ID).Str("slug", et.Slug).Msg("event type created")
	return nil
}

func (s *HostService) DefaultSchedule(ctx context.Context) (*models.Schedule, error) {
	schedule, err := s.repo.GetDefaultSchedule(ctx, s.settings.HostID)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, fmt.Errorf("default schedule: %w", domain.ErrNotFound)
	}
	return schedule, nil
}

// SaveDefaultSchedule replaces the host's weekly hours. Times are stored
// normalised to HH:MM.
func (s *HostService) SaveDefaultSchedule(ctx context.Context, schedule *models.Schedule) error {
	schedule.HostID = s.settings.HostID
	if strings.TrimSpace(schedule.Name) == "" {
		schedule.Name = "Working hours"
	}
	if _, err := timeutil.LoadLocation(schedule.Timezone); err != nil {
		return err
	}

	for i := range schedule.Rules {
		r := &schedule.Rules[i]
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			return domain.InvalidInputf("rule %d: day_of_week must be 0-6", i)
		}
		start, err := timeutil.ParseFlexibleTime(r.StartTime)
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		end, err := timeutil.ParseFlexibleTime(r.EndTime)
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		if start.Minutes() >= end.Minutes() {
			return domain.InvalidInputf("rule %d: start %s must be before end %s", i, start, end)
		}
		r.StartTime = start.String()
		r.EndTime = end.String()
	}

	if err := s.repo.SaveDefaultSchedule(ctx, schedule); err != nil {
		return err
	}
	s.logger.Info().Int64("schedule_id", schedule.ID).Int("rules", len(schedule.Rules)).Msg("default schedule saved")
	return nil
}

func (s *HostService) UpsertEmailTemplate(ctx context.Context, tmpl *models.EmailTemplate) error {
	if !models.IsKnownNotification(tmpl.Kind) {
		return domain.InvalidInputf("unknown notification kind %q", tmpl.Kind)
	}
	tmpl.HostID = s.settings.HostID
	return s.repo.UpsertEmailTemplate(ctx, tmpl)
}

// ExportBookings streams an xlsx of the bookings starting between the two
// dates, both inclusive, and returns the download file name.
func (s *HostService) ExportBookings(ctx context.Context, from, to string, w io.Writer) (string, error) {
	rows, start, end, loc, err := s.exportRows(ctx, from, to)
	if err != nil {
		return "", err
	}
	if err := s.exporter.Write(w, rows, start, end, loc); err != nil {
		return "", err
	}
	return export.FileName(start, end, loc), nil
}

// ArchiveBookings stores the same workbook in the exports directory.
func (s *HostService) ArchiveBookings(ctx context.Context, from, to string) (string, error) {
	rows, start, end, loc, err := s.exportRows(ctx, from, to)
	if err != nil {
		return "", err
	}
	return s.exporter.Save(rows, start, end, loc)
}

func (s *HostService) exportRows(ctx context.Context, fromText, toText string) ([]export.Row, time.Time, time.Time, *time.Location, error) {
	fail := func(err error) ([]export.Row, time.Time, time.Time, *time.Location, error) {
		return nil, time.Time{}, time.Time{}, nil, err
	}

	fromDate, err := timeutil.ParseDate(fromText)
	if err != nil {
		return fail(err)
	}
	toDate, err := timeutil.ParseDate(toText)
	if err != nil {
		return fail(err)
	}
	if toDate.Before(fromDate) {
		return fail(domain.InvalidInputf("to %s is before from %s", toText, fromText))
	}

	host, loc, err := s.hostLocation(ctx)
	if err != nil {
		return fail(err)
	}

	fy, fm, fd := fromDate.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, loc)
	ty, tm, td := toDate.Date()
	end := time.Date(ty, tm, td+1, 0, 0, 0, 0, loc)

	rows, err := s.rowsBetween(ctx, host.ID, start, end)
	if err != nil {
		return fail(err)
	}
	return rows, start, end.Add(-time.Nanosecond), loc, nil
}

// Agenda lists the bookings of days host-local calendar days starting with
// the day containing at.
func (s *HostService) Agenda(ctx context.Context, at time.Time, days int) ([]export.Row, *time.Location, error) {
	if days <= 0 {
		days = 1
	}
	host, loc, err := s.hostLocation(ctx)
	if err != nil {
		return nil, nil, err
	}
	start := timeutil.StartOfDay(at, loc)
	end := start.AddDate(0, 0, days)

	rows, err := s.rowsBetween(ctx, host.ID, start, end)
	if err != nil {
		return nil, nil, err
	}
	return rows, loc, nil
}

func (s *HostService) hostLocation(ctx context.Context) (*models.Host, *time.Location, error) {
	host, err := s.repo.GetHost(ctx, s.settings.HostID)
	if err != nil {
		return nil, nil, err
	}
	loc, err := timeutil.LoadLocation(host.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return host, loc, nil
}

func (s *HostService) rowsBetween(ctx context.Context, hostID int64, start, end time.Time) ([]export.Row, error) {
	bookings, err := s.repo.ListHostBookings(ctx, hostID, start, end)
	if err != nil {
		return nil, err
	}
	rows := make([]export.Row, 0, len(bookings))
	for _, b := range bookings {
		attendee, err := s.repo.GetAttendee(ctx, b.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("booking_uid", b.UID).Msg("load attendee for export")
		}
		rows = append(rows, export.Row{Booking: b, Attendee: attendee})
	}
	return rows, nil
}
