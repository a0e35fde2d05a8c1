package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookslot/internal/availability"
	"bookslot/internal/domain"
	"bookslot/internal/logging"
	"bookslot/internal/metrics"
	"bookslot/internal/models"
	"bookslot/internal/timeutil"

	"github.com/rs/zerolog"
)

// SlotService answers availability queries and judges requested starts.
type SlotService struct {
	repo      domain.Repository
	calendars domain.CalendarProvider
	settings  Settings
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewSlotService(repo domain.Repository, calendars domain.CalendarProvider, settings Settings, logger *zerolog.Logger) *SlotService {
	return &SlotService{
		repo:      repo,
		calendars: calendars,
		settings:  settings.withDefaults(),
		now:       time.Now,
		logger:    logging.Component(logger, "slots"),
	}
}

// SlotsResult is the answer to an availability query.
type SlotsResult struct {
	Date       string   `json:"date"`
	Timezone   string   `json:"timezone"`
	TimeFormat string   `json:"timeFormat"`
	Slots      []string `json:"slots"`
}

// AvailableSlots lists the bookable starts of an event type on the host's
// calendar date, labelled in the guest's zone and format. A closed day, a
// date past the booking window or a reached cap yield no slots, not an error.
func (s *SlotService) AvailableSlots(ctx context.Context, eventTypeID int64, date, tz, format string) (*SlotsResult, error) {
	started := time.Now()
	defer metrics.ObserveSlotComputation(started)

	day, err := timeutil.ParseDate(date)
	if err != nil {
		return nil, err
	}
	guestLoc, err := timeutil.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	style, err := timeutil.ParseTimeFormat(format)
	if err != nil {
		return nil, err
	}

	result := &SlotsResult{Date: day.Format(timeutil.DateLayout), Timezone: tz, TimeFormat: string(style), Slots: []string{}}

	et, host, err := s.eventTypeWithHost(ctx, eventTypeID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plan(ctx, et, host, day)
	if err != nil {
		return nil, err
	}
	if plan.closed() {
		return result, nil
	}

	from, to := plan.bookingRange()
	bookings, err := s.repo.ListBookingsForEventType(ctx, et.ID, from, to)
	if err != nil {
		return nil, err
	}

	if err := availability.CheckBookingLimits(et, bookings, plan.span.Start, plan.loc); err != nil {
		if errors.Is(err, domain.ErrBookingLimitExceeded) {
			s.logger.Debug().Err(err).Int64("event_type_id", et.ID).Str("date", result.Date).Msg("limit reached, no slots")
			return result, nil
		}
		return nil, err
	}

	slots, err := availability.GenerateSlots(availability.SlotRequest{
		Windows:       plan.windows,
		Duration:      et.Duration(),
		BufferBefore:  et.BufferBefore(),
		BufferAfter:   et.BufferAfter(),
		MinimumNotice: et.MinimumNotice(),
		Step:          s.settings.SlotStep,
		Busy:          availability.NewBusySet(bookings, plan.external),
		Now:           s.now(),
		Location:      guestLoc,
		Format:        style,
	})
	if err != nil {
		return nil, err
	}
	result.Slots = slots
	return result, nil
}

func (s *SlotService) eventTypeWithHost(ctx context.Context, eventTypeID int64) (*models.EventType, *models.Host, error) {
	if eventTypeID <= 0 {
		return nil, nil, domain.InvalidInputf("event type id is required")
	}
	et, err := s.repo.GetEventType(ctx, eventTypeID)
	if err != nil {
		return nil, nil, err
	}
	host, err := s.repo.GetHost(ctx, et.HostID)
	if err != nil {
		return nil, nil, err
	}
	return et, host, nil
}

// hostLocation is the zone of the default schedule, falling back to the
// host's own zone and then UTC.
func (s *SlotService) hostLocation(ctx context.Context, host *models.Host) (*time.Location, *models.Schedule, error) {
	schedule, err := s.repo.GetDefaultSchedule(ctx, host.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, tz := range []string{scheduleTimezone(schedule), host.Timezone} {
		if tz == "" {
			continue
		}
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc, schedule, nil
		}
	}
	return time.UTC, schedule, nil
}

func scheduleTimezone(s *models.Schedule) string {
	if s == nil {
		return ""
	}
	return s.Timezone
}

// dayPlan is the host side of one calendar date.
type dayPlan struct {
	et           *models.EventType
	host         *models.Host
	date         time.Time
	loc          *time.Location
	windows      []availability.Interval
	span         availability.Interval
	external     []models.TimeRange
	beyondWindow bool
}

func (p *dayPlan) closed() bool {
	return p.beyondWindow || len(p.windows) == 0
}

// bookingRange covers the buffered windows and the whole limit week.
func (p *dayPlan) bookingRange() (time.Time, time.Time) {
	week := availability.LimitRange(p.span.Start, p.loc)
	from := p.span.Start.Add(-p.et.BufferBefore())
	to := p.span.End.Add(p.et.BufferAfter())
	if week.Start.Before(from) {
		from = week.Start
	}
	if week.End.After(to) {
		to = week.End
	}
	return from, to
}

func (s *SlotService) plan(ctx context.Context, et *models.EventType, host *models.Host, date time.Time) (*dayPlan, error) {
	loc, schedule, err := s.hostLocation(ctx, host)
	if err != nil {
		return nil, err
	}
	p := &dayPlan{et: et, host: host, date: date, loc: loc}

	if et.BookingWindowDays != nil {
		today := timeutil.StartOfDay(s.now(), loc)
		y, m, d := date.Date()
		target := time.Date(y, m, d, 0, 0, 0, 0, loc)
		if target.After(today.AddDate(0, 0, *et.BookingWindowDays)) {
			p.beyondWindow = true
			return p, nil
		}
	}
	if schedule == nil {
		return p, nil
	}

	p.windows, err = availability.ResolveWindows(date, schedule.Rules, schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("resolve availability: %w", err)
	}
	span, ok := availability.Span(p.windows)
	if !ok {
		return p, nil
	}
	p.span = span
	p.external = s.externalBusy(ctx, host, span.Start.Add(-et.BufferBefore()), span.End.Add(et.BufferAfter()))
	return p, nil
}

// externalBusy fails open: any error means no external busy time.
func (s *SlotService) externalBusy(ctx context.Context, host *models.Host, from, to time.Time) []models.TimeRange {
	if s.calendars == nil {
		return nil
	}
	cred, err := s.repo.GetCredential(ctx, host.ID, models.ProviderGoogle)
	if err != nil {
		s.logger.Warn().Err(err).Int64("host_id", host.ID).Msg("load calendar credential")
		return nil
	}
	if cred == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.settings.UpstreamTimeout)
	defer cancel()

	client, err := s.calendars.Client(ctx, cred)
	if err == nil {
		var busy []models.TimeRange
		busy, err = client.GetBusyTimes(ctx, []string{cred.CalendarID}, from, to)
		if err == nil {
			return busy
		}
	}
	metrics.IncSideEffectFailure("calendar_busy")
	s.logger.Warn().Err(err).Int64("host_id", host.ID).Msg("external busy times unavailable, ignoring")
	return nil
}

// resolveStart turns the guest's label back into an instant. The label was
// produced in the guest zone for this host date, so the guest's own calendar
// date may be one day off; the candidate lying inside a window wins.
func (p *dayPlan) resolveStart(clock timeutil.Clock, guestLoc *time.Location, step time.Duration) (time.Time, error) {
	duration := p.et.Duration()
	for _, shift := range []int{0, -1, 1} {
		start := timeutil.ResolveIn(p.date.AddDate(0, 0, shift), clock, guestLoc)
		slot := availability.Interval{Start: start, End: start.Add(duration)}
		for _, w := range p.windows {
			if w.Contains(slot) && start.Sub(w.Start)%step == 0 {
				return start, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%s is not an open slot: %w", clock, domain.ErrSlotTaken)
}

// checkOpen applies minimum notice and external busy time. ignore is the
// booking's own current time when it is being moved.
func (p *dayPlan) checkOpen(start, now time.Time, ignore *availability.Interval) error {
	if !start.After(now.Add(p.et.MinimumNotice())) {
		return fmt.Errorf("start %s is inside the minimum notice: %w", start.Format(time.RFC3339), domain.ErrSlotTaken)
	}

	external := p.external
	if ignore != nil {
		external = make([]models.TimeRange, 0, len(p.external))
		for _, r := range p.external {
			if r.Start.Equal(ignore.Start) && r.End.Equal(ignore.End) {
				continue
			}
			external = append(external, r)
		}
	}
	slot := availability.Interval{Start: start, End: start.Add(p.et.Duration())}
	if availability.NewBusySet(nil, external).Conflicts(slot, p.et.BufferBefore(), p.et.BufferAfter()) {
		return fmt.Errorf("start %s collides with the host calendar: %w", start.Format(time.RFC3339), domain.ErrSlotTaken)
	}
	return nil
}

// bookingGuard runs inside the write transaction against the live bookings
// around the new time.
func bookingGuard(et *models.EventType, start, end time.Time, loc *time.Location) domain.BookingGuard {
	return func(existing []models.Booking) error {
		slot := availability.Interval{Start: start, End: end}
		if availability.NewBusySet(existing, nil).Conflicts(slot, et.BufferBefore(), et.BufferAfter()) {
			return domain.ErrSlotTaken
		}
		return availability.CheckBookingLimits(et, existing, start, loc)
	}
}
