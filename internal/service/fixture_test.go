package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bookslot/internal/database"
	"bookslot/internal/domain"
	"bookslot/internal/events"
	"bookslot/internal/export"
	"bookslot/internal/models"
	"bookslot/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Friday noon UTC; the fixture's host works Mon-Fri 09:00-17:00 New York time.
var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const monday = "2024-03-04"

type fakeCalendar struct {
	mu         sync.Mutex
	busy       []models.TimeRange
	created    []domain.CalendarEvent
	updated    []string
	deleted    []string
	meetingURL string
	failCreate error
}

func (f *fakeCalendar) Client(context.Context, *models.Credential) (domain.CalendarClient, error) {
	return f, nil
}

func (f *fakeCalendar) GetBusyTimes(context.Context, []string, time.Time, time.Time) ([]models.TimeRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TimeRange(nil), f.busy...), nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, ev domain.CalendarEvent) (*domain.CalendarEventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.created = append(f.created, ev)
	return &domain.CalendarEventResult{ExternalID: fmt.Sprintf("evt-%d", len(f.created)), MeetingURL: f.meetingURL}, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, _, externalID string, _ domain.CalendarEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, externalID)
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, externalID)
	return nil
}

type sentNotification struct {
	kind    string
	payload domain.NotificationPayload
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, kind string, payload domain.NotificationPayload, tmpl *models.EmailTemplate) error {
	if tmpl != nil && !tmpl.Enabled {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{kind: kind, payload: payload})
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

func (n *recordingNotifier) last(kind string) (domain.NotificationPayload, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].kind == kind {
			return n.sent[i].payload, true
		}
	}
	return domain.NotificationPayload{}, false
}

type mockPayments struct {
	mock.Mock
}

func (m *mockPayments) CreateCheckoutSession(_ context.Context, params domain.CheckoutSessionParams) (*domain.CheckoutSession, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CheckoutSession), args.Error(1)
}

func (m *mockPayments) ProcessRefund(_ context.Context, paymentIntentID string) (*domain.RefundResult, error) {
	args := m.Called(paymentIntentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefundResult), args.Error(1)
}

func (m *mockPayments) ParseWebhook(payload []byte, signature string) (*domain.WebhookEvent, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WebhookEvent), args.Error(1)
}

var errSignature = errors.New("bad signature")

type fixture struct {
	t        *testing.T
	db       *database.DB
	host     *models.Host
	et       *models.EventType
	calendar *fakeCalendar
	notifier *recordingNotifier
	payments *mockPayments
	guard    *repository.MemoryGuardStore
	bus      *events.EventBus
	settings Settings
	now      time.Time
	logger   zerolog.Logger

	mu        sync.Mutex
	published []string
	seq       int

	slots     *SlotService
	bookings  *BookingService
	checkout  *CheckoutService
	reminders *ReminderService
	hosts     *HostService
}

func newFixture(t *testing.T, opts ...func(*Settings)) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	host := &models.Host{Name: "Ada", Email: "ada@example.com", Timezone: "America/New_York"}
	require.NoError(t, db.CreateHost(ctx, host))

	var rules []models.AvailabilityRule
	for day := 1; day <= 5; day++ {
		rules = append(rules, models.AvailabilityRule{DayOfWeek: day, StartTime: "09:00", EndTime: "17:00"})
	}
	require.NoError(t, db.SaveDefaultSchedule(ctx, &models.Schedule{HostID: host.ID, Name: "Working hours", Timezone: "America/New_York", Rules: rules}))

	et := &models.EventType{HostID: host.ID, Title: "Intro call", Slug: "intro", DurationMinutes: 30, LocationKind: models.LocationGoogleMeet}
	require.NoError(t, db.CreateEventType(ctx, et))

	require.NoError(t, db.UpsertCredential(ctx, &models.Credential{
		HostID: host.ID, Provider: models.ProviderGoogle, AccessToken: "a1", RefreshToken: "r1", TokenType: "Bearer", Expiry: testNow.Add(time.Hour),
	}))

	settings := Settings{
		HostID:           host.ID,
		PublicURL:        "https://book.example.com",
		BookingRateLimit: 100,
		ReminderTimezone: "America/New_York",
		SuccessURL:       "https://book.example.com/success",
		CancelURL:        "https://book.example.com/cancel",
	}
	for _, opt := range opts {
		opt(&settings)
	}

	f := &fixture{
		t:        t,
		db:       db,
		host:     host,
		et:       et,
		calendar: &fakeCalendar{},
		notifier: &recordingNotifier{},
		payments: &mockPayments{},
		guard:    repository.NewMemoryGuardStore(),
		bus:      events.NewEventBus(&logger),
		settings: settings,
		now:      testNow,
		logger:   logger,
	}
	f.bus.Subscribe(func(ev *events.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.published = append(f.published, ev.Type)
		return nil
	}, events.EventBookingCreated, events.EventBookingRescheduled, events.EventBookingCancelled, events.EventPaymentFailed, events.EventPaymentRefunded)

	clock := func() time.Time { return f.now }

	f.slots = NewSlotService(db, f.calendar, settings, &logger)
	f.slots.now = clock
	f.bookings = NewBookingService(BookingDeps{
		Repo:      db,
		Calendars: f.calendar,
		Payments:  f.payments,
		Notifier:  f.notifier,
		Guard:     f.guard,
		EventBus:  f.bus,
	}, f.slots, settings, &logger)
	f.bookings.now = clock
	f.checkout = NewCheckoutService(db, f.bookings, f.payments, settings, &logger)
	f.checkout.now = clock
	f.reminders = NewReminderService(db, f.notifier, settings, &logger)
	f.reminders.now = clock
	f.hosts = NewHostService(db, export.NewExporter(t.TempDir(), &logger), settings, &logger)
	return f
}

func (f *fixture) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

// addEventType stores a copy of the fixture's event type changed by mutate.
func (f *fixture) addEventType(mutate func(et *models.EventType)) *models.EventType {
	f.t.Helper()
	f.seq++
	et := &models.EventType{HostID: f.host.ID, Title: "Consult", Slug: fmt.Sprintf("consult-%d", f.seq), DurationMinutes: 30, LocationKind: models.LocationLink, LocationValue: "https://zoom.example.com/ada"}
	mutate(et)
	require.NoError(f.t, f.db.CreateEventType(context.Background(), et))
	return et
}

func (f *fixture) paidEventType() *models.EventType {
	return f.addEventType(func(et *models.EventType) {
		et.IsPaid = true
		et.PriceCents = 5000
		et.Currency = "usd"
		et.RefundWindowHours = 24
		et.PromoCode = "FRIENDS"
	})
}

func (f *fixture) input(et *models.EventType, date, clock string) CreateBookingInput {
	return CreateBookingInput{
		EventTypeID: et.ID,
		Date:        date,
		Time:        clock,
		Timezone:    "America/New_York",
		Name:        "Grace",
		Email:       "grace@example.com",
	}
}

func (f *fixture) book(et *models.EventType, date, clock string) *CreateBookingResult {
	f.t.Helper()
	res, err := f.bookings.Create(context.Background(), f.input(et, date, clock))
	require.NoError(f.t, err)
	return res
}

func utc(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, time.UTC)
}
