package models

// Booking statuses. PENDING and REJECTED are reserved; the current flows only
// produce ACCEPTED and CANCELLED.
const (
	BookingPending   = "PENDING"
	BookingAccepted  = "ACCEPTED"
	BookingCancelled = "CANCELLED"
	BookingRejected  = "REJECTED"
)

const (
	ReminderPending = "pending"
	ReminderSent    = "sent"
	ReminderSkipped = "skipped"
)

const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentRefunded  = "refunded"
	PaymentFailed    = "failed"
)

// Notification kinds, one email template per kind and host.
const (
	NotifyConfirmation     = "confirmation"
	NotifyReminder         = "reminder"
	NotifyCancellation     = "cancellation"
	NotifyRescheduled      = "rescheduled"
	NotifyHostNotification = "host_notification"
)

// Location kinds of an event type.
const (
	LocationInPerson   = "in_person"
	LocationPhone      = "phone"
	LocationLink       = "link"
	LocationGoogleMeet = "google_meet"
)

const (
	ProviderGoogle = "google"

	ReferenceGoogleCalendar = "google_calendar"
)

const (
	// SlotStepMinutes is the distance between candidate slot starts.
	SlotStepMinutes = 15

	// MinPriceCents is the smallest chargeable price of a paid event type.
	MinPriceCents = 50

	// DefaultUpstreamTimeoutSeconds bounds calendar, payment and mail calls.
	DefaultUpstreamTimeoutSeconds = 10

	// CheckoutExpiryMinutes is the lifetime of a checkout session.
	CheckoutExpiryMinutes = 30

	// WorkerQueueSize размер очереди воркера синхронизации
	WorkerQueueSize = 1000

	// SheetsCacheTTL время жизни кэша строк Google Sheets
	SheetsCacheTTL = 60 * 60
)

// IsKnownNotification reports whether kind names a notification kind.
func IsKnownNotification(kind string) bool {
	switch kind {
	case NotifyConfirmation, NotifyReminder, NotifyCancellation, NotifyRescheduled, NotifyHostNotification:
		return true
	}
	return false
}
