package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"bookslot/internal/availability"
	"bookslot/internal/domain"
	"bookslot/internal/events"
	"bookslot/internal/logging"
	"bookslot/internal/models"
	"bookslot/internal/payment"
	"bookslot/internal/timeutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type BookingService struct {
	repo      domain.Repository
	slots     *SlotService
	calendars domain.CalendarProvider
	payments  domain.PaymentProvider
	guard     domain.GuardStore
	eventBus  domain.EventPublisher
	notes     notifications
	effects   sideEffects
	settings  Settings
	now       func() time.Time
	logger    *zerolog.Logger
}

// BookingDeps are the collaborators of BookingService. Any of them except
// Repo may be nil.
type BookingDeps struct {
	Repo      domain.Repository
	Calendars domain.CalendarProvider
	Payments  domain.PaymentProvider
	Notifier  domain.Notifier
	Guard     domain.GuardStore
	EventBus  domain.EventPublisher
}

func NewBookingService(deps BookingDeps, slots *SlotService, settings Settings, logger *zerolog.Logger) *BookingService {
	settings = settings.withDefaults()
	l := logging.Component(logger, "bookings")
	return &BookingService{
		repo:      deps.Repo,
		slots:     slots,
		calendars: deps.Calendars,
		payments:  deps.Payments,
		guard:     deps.Guard,
		eventBus:  deps.EventBus,
		notes:     notifications{repo: deps.Repo, sender: deps.Notifier, publicURL: settings.PublicURL, logger: l},
		effects:   sideEffects{timeout: settings.UpstreamTimeout, logger: l},
		settings:  settings,
		now:       time.Now,
		logger:    l,
	}
}

// CreateBookingInput is what a guest submits after picking a slot. Date is
// the date the slots were listed for and Time is the label they picked.
type CreateBookingInput struct {
	EventTypeID int64  `json:"eventTypeId"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Timezone    string `json:"timezone"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Notes       string `json:"notes,omitempty"`
	PromoCode   string `json:"promoCode,omitempty"`
}

type CreateBookingResult struct {
	UID        string          `json:"uid"`
	MeetingURL string          `json:"meetingUrl,omitempty"`
	Booking    *models.Booking `json:"-"`
}

type RescheduleInput struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
}

type CancelResult struct {
	RefundProcessed bool   `json:"refundProcessed"`
	RefundID        string `json:"refundId,omitempty"`
	RefundCents     int64  `json:"-"`
}

// bookingDraft is a validated request that has not been stored yet.
type bookingDraft struct {
	et       *models.EventType
	host     *models.Host
	loc      *time.Location
	start    time.Time
	end      time.Time
	attendee models.Attendee
	notes    string
}

// Create books an unpaid event type, or a paid one whose promo code matches.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*CreateBookingResult, error) {
	draft, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if draft.et.IsPaid && !draft.et.PromoMatches(in.PromoCode) {
		return nil, domain.ErrPaymentRequired
	}
	return s.createDraft(ctx, draft)
}

func (s *BookingService) createDraft(ctx context.Context, draft *bookingDraft) (*CreateBookingResult, error) {
	if err := s.checkRateLimit(ctx, draft.attendee.Email); err != nil {
		return nil, err
	}

	details, err := s.persist(ctx, draft, "", nil)
	if err != nil {
		return nil, err
	}
	meetingURL := s.afterCreate(ctx, details)
	return &CreateBookingResult{UID: details.Booking.UID, MeetingURL: meetingURL, Booking: &details.Booking}, nil
}

// CreateFromPayment books the snapshot carried by a paid checkout and links
// payment and booking both ways. A second call for the same session fails
// with domain.ErrDuplicateSession. Once the booking is stored its side
// effects run even if linking fails; the link error is still returned so
// the provider redelivers and the retry relinks.
func (s *BookingService) CreateFromPayment(ctx context.Context, p *models.Payment, paymentIntentID string) (*models.Booking, error) {
	if p.RequestedStart.IsZero() {
		return nil, domain.InvalidInputf("payment %d carries no requested start", p.ID)
	}
	et, host, err := s.slots.eventTypeWithHost(ctx, p.EventTypeID)
	if err != nil {
		return nil, err
	}
	loc, _, err := s.slots.hostLocation(ctx, host)
	if err != nil {
		return nil, err
	}

	draft := &bookingDraft{
		et:       et,
		host:     host,
		loc:      loc,
		start:    p.RequestedStart.UTC(),
		end:      p.RequestedStart.UTC().Add(et.Duration()),
		attendee: models.Attendee{Name: p.GuestName, Email: p.GuestEmail, Timezone: p.GuestTimezone},
		notes:    p.Notes,
	}

	paymentID := p.ID
	details, err := s.persist(ctx, draft, p.SessionID, &paymentID)
	if err != nil {
		return nil, err
	}
	linkErr := s.repo.LinkPaymentToBooking(ctx, p.ID, details.Booking.ID, paymentIntentID)
	if linkErr != nil {
		s.logger.Error().Err(linkErr).Str("booking_uid", details.Booking.UID).Int64("payment_id", p.ID).Msg("link payment to booking")
	}

	s.afterCreate(ctx, details)
	if linkErr != nil {
		return &details.Booking, fmt.Errorf("link payment %d: %w", p.ID, linkErr)
	}
	return &details.Booking, nil
}

// Reschedule moves a live booking in place. The booking keeps its uid and
// remembers the uid it was first booked under.
func (s *BookingService) Reschedule(ctx context.Context, uid string, in RescheduleInput) (*models.Booking, error) {
	d, err := s.repo.GetBookingDetails(ctx, uid)
	if err != nil {
		return nil, err
	}
	if d.Booking.Status == models.BookingCancelled {
		return nil, fmt.Errorf("booking %s is cancelled: %w", uid, domain.ErrInvalidState)
	}

	date, clock, guestLoc, err := parseWhen(in.Date, in.Time, in.Timezone)
	if err != nil {
		return nil, err
	}
	plan, err := s.slots.plan(ctx, d.EventType, d.Host, date)
	if err != nil {
		return nil, err
	}
	if plan.beyondWindow {
		return nil, domain.InvalidInputf("date %s is beyond the booking window", in.Date)
	}
	start, err := plan.resolveStart(clock, guestLoc, s.settings.SlotStep)
	if err != nil {
		return nil, err
	}
	current := availability.Interval{Start: d.Booking.StartTime, End: d.Booking.EndTime}
	if err := plan.checkOpen(start, s.now(), &current); err != nil {
		return nil, err
	}
	end := start.Add(d.EventType.Duration())

	rescheduledFrom := d.Booking.RescheduledFromUID
	if rescheduledFrom == "" {
		rescheduledFrom = d.Booking.UID
	}

	unlock, err := s.lockSlot(ctx, d.EventType.ID, start)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := s.repo.RescheduleBookingWithLock(ctx, d.Booking.ID, start, end, rescheduledFrom, bookingGuard(d.EventType, start, end, plan.loc))
	if err != nil {
		return nil, err
	}

	previous := d.Booking
	d.Booking = *updated

	s.syncCalendarUpdate(ctx, d)

	payload := s.notes.payload(d)
	payload.PreviousStart = previous.StartTime
	payload.PreviousEnd = previous.EndTime
	s.effects.run(ctx, uid, "email_rescheduled", func(ctx context.Context) error {
		return s.notes.send(ctx, models.NotifyRescheduled, d.Host.ID, payload)
	})

	s.publishEvent(events.EventBookingRescheduled, &d.Booking, d.Attendee)
	return updated, nil
}

// Cancel is terminal. A second call reports domain.ErrAlreadyCancelled and
// never refunds again.
func (s *BookingService) Cancel(ctx context.Context, uid, reason string) (*CancelResult, error) {
	d, err := s.repo.GetBookingDetails(ctx, uid)
	if err != nil {
		return nil, err
	}
	if d.Booking.Status == models.BookingCancelled {
		return nil, domain.ErrAlreadyCancelled
	}

	reason = strings.TrimSpace(reason)
	if err := s.repo.CancelBooking(ctx, d.Booking.ID, reason); err != nil {
		return nil, err
	}
	d.Booking.Status = models.BookingCancelled
	d.Booking.CancellationReason = reason

	result := &CancelResult{}
	refundedPayment := s.refund(ctx, d, result)

	s.syncCalendarDelete(ctx, d)

	payload := s.notes.payload(d)
	payload.Reason = reason
	if result.RefundProcessed {
		payload.RefundCents = result.RefundCents
		if refundedPayment != nil {
			payload.Currency = refundedPayment.Currency
		}
	}
	s.effects.run(ctx, uid, "email_cancellation", func(ctx context.Context) error {
		return s.notes.send(ctx, models.NotifyCancellation, d.Host.ID, payload)
	})

	s.publishEvent(events.EventBookingCancelled, &d.Booking, d.Attendee)
	if result.RefundProcessed && refundedPayment != nil {
		s.publishPaymentEvent(events.EventPaymentRefunded, refundedPayment, uid, reason)
	}
	return result, nil
}

// Summary returns the public view of a booking.
func (s *BookingService) Summary(ctx context.Context, uid string) (*BookingSummary, error) {
	d, err := s.repo.GetBookingDetails(ctx, uid)
	if err != nil {
		return nil, err
	}
	return newBookingSummary(d), nil
}

// prepare validates the request and resolves the requested start against
// the host's windows, notice and calendar.
func (s *BookingService) prepare(ctx context.Context, in CreateBookingInput) (*bookingDraft, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.InvalidInputf("name is required")
	}
	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, domain.InvalidInputf("email %q is invalid", in.Email)
	}

	date, clock, guestLoc, err := parseWhen(in.Date, in.Time, in.Timezone)
	if err != nil {
		return nil, err
	}
	et, host, err := s.slots.eventTypeWithHost(ctx, in.EventTypeID)
	if err != nil {
		return nil, err
	}
	plan, err := s.slots.plan(ctx, et, host, date)
	if err != nil {
		return nil, err
	}
	if plan.beyondWindow {
		return nil, domain.InvalidInputf("date %s is beyond the booking window", in.Date)
	}
	start, err := plan.resolveStart(clock, guestLoc, s.settings.SlotStep)
	if err != nil {
		return nil, err
	}
	if err := plan.checkOpen(start, s.now(), nil); err != nil {
		return nil, err
	}

	return &bookingDraft{
		et:       et,
		host:     host,
		loc:      plan.loc,
		start:    start,
		end:      start.Add(et.Duration()),
		attendee: models.Attendee{Name: name, Email: email, Timezone: in.Timezone},
		notes:    strings.TrimSpace(in.Notes),
	}, nil
}

func parseWhen(dateText, timeText, tz string) (time.Time, timeutil.Clock, *time.Location, error) {
	date, err := timeutil.ParseDate(dateText)
	if err != nil {
		return time.Time{}, timeutil.Clock{}, nil, err
	}
	clock, err := timeutil.ParseFlexibleTime(timeText)
	if err != nil {
		return time.Time{}, timeutil.Clock{}, nil, err
	}
	loc, err := timeutil.LoadLocation(tz)
	if err != nil {
		return time.Time{}, timeutil.Clock{}, nil, err
	}
	return date, clock, loc, nil
}

// precheck refuses a draft that the write transaction would refuse, without
// writing. Used before taking money for a slot.
func (s *BookingService) precheck(ctx context.Context, draft *bookingDraft) error {
	week := availability.LimitRange(draft.start, draft.loc)
	existing, err := s.repo.ListBookingsForEventType(ctx, draft.et.ID, week.Start.AddDate(0, 0, -1), week.End.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	return bookingGuard(draft.et, draft.start, draft.end, draft.loc)(existing)
}

func (s *BookingService) persist(ctx context.Context, draft *bookingDraft, sessionID string, paymentID *int64) (*models.BookingDetails, error) {
	unlock, err := s.lockSlot(ctx, draft.et.ID, draft.start)
	if err != nil {
		return nil, err
	}
	defer unlock()

	booking := &models.Booking{
		UID:               uuid.NewString(),
		HostID:            draft.host.ID,
		EventTypeID:       draft.et.ID,
		Title:             draft.et.Title,
		Description:       draft.notes,
		StartTime:         draft.start,
		EndTime:           draft.end,
		Status:            models.BookingAccepted,
		LocationKind:      draft.et.LocationKind,
		LocationValue:     draft.et.LocationValue,
		PaymentID:         paymentID,
		CheckoutSessionID: sessionID,
		ReminderStatus:    models.ReminderPending,
	}
	attendee := draft.attendee

	guard := bookingGuard(draft.et, draft.start, draft.end, draft.loc)
	if err := s.repo.CreateBookingWithLock(ctx, booking, &attendee, guard); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_uid", booking.UID).
		Int64("event_type_id", booking.EventTypeID).
		Time("start", booking.StartTime).
		Msg("booking created")

	return &models.BookingDetails{Booking: *booking, Attendee: &attendee, EventType: draft.et, Host: draft.host}, nil
}

// afterCreate runs the best-effort steps of a new booking and returns the
// generated meeting link, if any.
func (s *BookingService) afterCreate(ctx context.Context, d *models.BookingDetails) string {
	meetingURL := s.syncCalendarCreate(ctx, d)
	if meetingURL != "" {
		d.Booking.LocationValue = meetingURL
	}

	payload := s.notes.payload(d)
	uid := d.Booking.UID
	s.effects.run(ctx, uid, "email_confirmation", func(ctx context.Context) error {
		return s.notes.send(ctx, models.NotifyConfirmation, d.Host.ID, payload)
	})
	s.effects.run(ctx, uid, "host_notification", func(ctx context.Context) error {
		return s.notes.send(ctx, models.NotifyHostNotification, d.Host.ID, payload)
	})

	s.publishEvent(events.EventBookingCreated, &d.Booking, d.Attendee)
	return meetingURL
}

func (s *BookingService) calendarCredential(ctx context.Context, hostID int64) *models.Credential {
	if s.calendars == nil {
		return nil
	}
	cred, err := s.repo.GetCredential(ctx, hostID, models.ProviderGoogle)
	if err != nil {
		s.logger.Warn().Err(err).Int64("host_id", hostID).Msg("load calendar credential")
		return nil
	}
	return cred
}

func (s *BookingService) calendarEvent(d *models.BookingDetails, calendarID string) domain.CalendarEvent {
	ev := domain.CalendarEvent{
		CalendarID:  calendarID,
		Summary:     d.Booking.Title,
		Description: d.Booking.Description,
		Location:    d.Booking.LocationValue,
		Start:       d.Booking.StartTime,
		End:         d.Booking.EndTime,
		RequestID:   d.Booking.UID,
	}
	if d.Attendee != nil {
		ev.Summary = fmt.Sprintf("%s with %s", d.Booking.Title, d.Attendee.Name)
		ev.Attendees = []string{d.Attendee.Email}
	}
	return ev
}

func (s *BookingService) syncCalendarCreate(ctx context.Context, d *models.BookingDetails) string {
	cred := s.calendarCredential(ctx, d.Host.ID)
	if cred == nil {
		return ""
	}

	var meetingURL string
	s.effects.run(ctx, d.Booking.UID, "calendar_create", func(ctx context.Context) error {
		client, err := s.calendars.Client(ctx, cred)
		if err != nil {
			return err
		}
		event := s.calendarEvent(d, cred.CalendarID)
		event.WantsMeetingLink = d.EventType.WantsMeetingLink()
		res, err := client.CreateEvent(ctx, event)
		if err != nil {
			return err
		}

		ref := &models.BookingReference{
			BookingID:    d.Booking.ID,
			CredentialID: cred.ID,
			Type:         models.ReferenceGoogleCalendar,
			ExternalID:   res.ExternalID,
			CalendarID:   cred.CalendarID,
			MeetingURL:   res.MeetingURL,
		}
		if err := s.repo.CreateBookingReference(ctx, ref); err != nil {
			return err
		}
		d.References = append(d.References, *ref)

		if res.MeetingURL != "" {
			if err := s.repo.UpdateBookingLocation(ctx, d.Booking.ID, res.MeetingURL); err != nil {
				return err
			}
			meetingURL = res.MeetingURL
		}
		return nil
	})
	return meetingURL
}

func (s *BookingService) syncCalendarUpdate(ctx context.Context, d *models.BookingDetails) {
	s.eachCalendarReference(ctx, d, "calendar_update", func(ctx context.Context, client domain.CalendarClient, ref models.BookingReference) error {
		return client.UpdateEvent(ctx, ref.CalendarID, ref.ExternalID, s.calendarEvent(d, ref.CalendarID))
	})
}

func (s *BookingService) syncCalendarDelete(ctx context.Context, d *models.BookingDetails) {
	s.eachCalendarReference(ctx, d, "calendar_delete", func(ctx context.Context, client domain.CalendarClient, ref models.BookingReference) error {
		return client.DeleteEvent(ctx, ref.CalendarID, ref.ExternalID)
	})
}

// eachCalendarReference applies fn to every external calendar event of the
// booking. A revoked credential fails silently like any other upstream error.
func (s *BookingService) eachCalendarReference(ctx context.Context, d *models.BookingDetails, operation string,
	fn func(ctx context.Context, client domain.CalendarClient, ref models.BookingReference) error) {
	var refs []models.BookingReference
	for _, ref := range d.References {
		if ref.Type == models.ReferenceGoogleCalendar && ref.ExternalID != "" {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return
	}

	cred := s.calendarCredential(ctx, d.Host.ID)
	if cred == nil {
		s.logger.Warn().Str("booking_uid", d.Booking.UID).Str("operation", operation).Msg("calendar credential missing, skipping")
		return
	}

	for _, ref := range refs {
		s.effects.run(ctx, d.Booking.UID, operation, func(ctx context.Context) error {
			client, err := s.calendars.Client(ctx, cred)
			if err != nil {
				return err
			}
			return fn(ctx, client, ref)
		})
	}
}

// refund returns the refunded payment, or nil.
func (s *BookingService) refund(ctx context.Context, d *models.BookingDetails, result *CancelResult) *models.Payment {
	if d.Booking.PaymentID == nil {
		return nil
	}
	uid := d.Booking.UID

	p, err := s.repo.GetPayment(ctx, *d.Booking.PaymentID)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_uid", uid).Msg("load payment for refund")
		return nil
	}
	if p.Status != models.PaymentCompleted || p.PaymentIntentID == "" {
		return nil
	}
	if !payment.IsEligibleForRefund(d.Booking.StartTime, d.EventType.RefundWindowHours, s.now()) {
		s.logger.Info().Str("booking_uid", uid).Int("refund_window_hours", d.EventType.RefundWindowHours).Msg("outside refund window")
		return nil
	}
	if s.payments == nil {
		s.logger.Warn().Str("booking_uid", uid).Msg("refund skipped, payment provider not configured")
		return nil
	}

	ok := s.effects.run(ctx, uid, "refund", func(ctx context.Context) error {
		res, err := s.payments.ProcessRefund(ctx, p.PaymentIntentID)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("refund %s was not successful", res.RefundID)
		}
		changed, err := s.repo.MarkPaymentRefunded(ctx, p.ID, res.RefundID)
		if err != nil {
			return err
		}
		if !changed {
			return errors.New("payment was already refunded")
		}
		p.Status = models.PaymentRefunded
		p.RefundID = res.RefundID
		result.RefundProcessed = true
		result.RefundID = res.RefundID
		result.RefundCents = p.AmountCents
		return nil
	})
	if !ok {
		return nil
	}
	return p
}

// lockSlot takes the distributed slot lock. An unreachable store is not
// fatal because the write transaction serializes creation anyway. A lock
// held by someone else yields domain.ErrSlotBusy, which says nothing about
// whether the slot ends up booked.
func (s *BookingService) lockSlot(ctx context.Context, eventTypeID int64, start time.Time) (func(), error) {
	noop := func() {}
	if s.guard == nil {
		return noop, nil
	}

	key := fmt.Sprintf("slot:%d:%d", eventTypeID, start.Unix())
	token, ok, err := s.guard.AcquireLock(ctx, key, s.settings.SlotLockTTL)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("slot lock unavailable, relying on transaction")
		return noop, nil
	}
	if !ok {
		return nil, domain.ErrSlotBusy
	}
	return func() {
		if err := s.guard.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("release slot lock")
		}
	}, nil
}

func (s *BookingService) checkRateLimit(ctx context.Context, email string) error {
	if s.guard == nil || s.settings.BookingRateLimit <= 0 {
		return nil
	}
	key := "booking:" + strings.ToLower(email)
	allowed, err := s.guard.CheckRateLimit(ctx, key, s.settings.BookingRateLimit, s.settings.BookingRateWindow)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rate limit check failed, allowing")
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, attendee *models.Attendee) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, events.NewBookingPayload(booking, attendee)); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_uid", booking.UID).Msg("publish event error")
	}
}

func (s *BookingService) publishPaymentEvent(eventType string, p *models.Payment, bookingUID, reason string) {
	if s.eventBus == nil {
		return
	}
	payload := events.PaymentEventPayload{
		PaymentID:   p.ID,
		SessionID:   p.SessionID,
		EventTypeID: p.EventTypeID,
		BookingUID:  bookingUID,
		Status:      p.Status,
		AmountCents: p.AmountCents,
		Reason:      reason,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("payment_id", p.ID).Msg("publish event error")
	}
}
