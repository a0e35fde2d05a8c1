package domain

import (
	"context"
	"time"

	"bookslot/internal/models"
)

// BookingGuard inspects the live bookings around a new or moved booking
// inside the write transaction and refuses it by returning an error.
type BookingGuard func(existing []models.Booking) error

type Repository interface {
	GetHost(ctx context.Context, id int64) (*models.Host, error)
	GetCredential(ctx context.Context, hostID int64, provider string) (*models.Credential, error)

	CreateEventType(ctx context.Context, et *models.EventType) error
	GetEventType(ctx context.Context, id int64) (*models.EventType, error)
	ListEventTypes(ctx context.Context, hostID int64) ([]models.EventType, error)
	GetDefaultSchedule(ctx context.Context, hostID int64) (*models.Schedule, error)
	SaveDefaultSchedule(ctx context.Context, schedule *models.Schedule) error
	GetEmailTemplate(ctx context.Context, hostID int64, kind string) (*models.EmailTemplate, error)
	UpsertEmailTemplate(ctx context.Context, t *models.EmailTemplate) error

	CreateBookingWithLock(ctx context.Context, booking *models.Booking, attendee *models.Attendee, guard BookingGuard) error
	RescheduleBookingWithLock(ctx context.Context, id int64, start, end time.Time, rescheduledFrom string, guard BookingGuard) (*models.Booking, error)
	CancelBooking(ctx context.Context, id int64, reason string) error
	GetBookingByUID(ctx context.Context, uid string) (*models.Booking, error)
	GetBookingBySession(ctx context.Context, sessionID string) (*models.Booking, error)
	GetBookingDetails(ctx context.Context, uid string) (*models.BookingDetails, error)
	ListBookingsForEventType(ctx context.Context, eventTypeID int64, from, to time.Time) ([]models.Booking, error)
	ListHostBookings(ctx context.Context, hostID int64, from, to time.Time) ([]models.Booking, error)
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]models.Booking, error)
	UpdateReminderStatus(ctx context.Context, id int64, status string) error
	UpdateBookingLocation(ctx context.Context, id int64, value string) error
	GetAttendee(ctx context.Context, bookingID int64) (*models.Attendee, error)
	CreateBookingReference(ctx context.Context, ref *models.BookingReference) error

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentBySession(ctx context.Context, sessionID string) (*models.Payment, error)
	LinkPaymentToBooking(ctx context.Context, paymentID, bookingID int64, paymentIntentID string) error
	MarkPaymentFailed(ctx context.Context, sessionID string) (bool, error)
	MarkPaymentRefunded(ctx context.Context, id int64, refundID string) (bool, error)
}

// CredentialStore persists refreshed OAuth tokens.
type CredentialStore interface {
	UpdateCredentialToken(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error
}

// GuardStore backs the distributed slot lock and the booking rate limit.
type GuardStore interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type CalendarProvider interface {
	Client(ctx context.Context, cred *models.Credential) (CalendarClient, error)
}

type CalendarClient interface {
	GetBusyTimes(ctx context.Context, calendarIDs []string, from, to time.Time) ([]models.TimeRange, error)
	CreateEvent(ctx context.Context, event CalendarEvent) (*CalendarEventResult, error)
	UpdateEvent(ctx context.Context, calendarID, externalID string, event CalendarEvent) error
	DeleteEvent(ctx context.Context, calendarID, externalID string) error
}

type CalendarEvent struct {
	CalendarID       string
	Summary          string
	Description      string
	Location         string
	Start            time.Time
	End              time.Time
	Attendees        []string
	WantsMeetingLink bool
	// RequestID makes conference creation idempotent.
	RequestID string
}

type CalendarEventResult struct {
	ExternalID string
	MeetingURL string
}

// Webhook event types handled by the checkout flow.
const (
	WebhookCheckoutCompleted = "checkout.session.completed"
	WebhookCheckoutExpired   = "checkout.session.expired"
)

type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	ProcessRefund(ctx context.Context, paymentIntentID string) (*RefundResult, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

type CheckoutSessionParams struct {
	ProductName   string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	ExpiresAt     time.Time
	Metadata      map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type RefundResult struct {
	Success  bool
	RefundID string
}

type WebhookEvent struct {
	ID              string
	Type            string
	SessionID       string
	PaymentIntentID string
	Paid            bool
	Metadata        map[string]string
}

// NotificationPayload is the data every notification template can use.
type NotificationPayload struct {
	BookingUID    string
	GuestName     string
	GuestEmail    string
	GuestTimezone string
	HostName      string
	HostEmail     string
	// HostChatID routes host_notification to a chat when set.
	HostChatID    int64
	EventTitle    string
	Start         time.Time
	End           time.Time
	PreviousStart time.Time
	PreviousEnd   time.Time
	Location      string
	MeetingURL    string
	Notes         string
	Reason        string
	RefundCents   int64
	Currency      string
	ManageURL     string
}

type Notifier interface {
	Send(ctx context.Context, kind string, payload NotificationPayload, tmpl *models.EmailTemplate) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error
}

// SheetsWriter mirrors bookings into a spreadsheet.
type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, uid, status string) error
}
