package models

import "time"

type Booking struct {
	ID                 int64     `json:"id"`
	UID                string    `json:"uid"`
	HostID             int64     `json:"host_id"`
	EventTypeID        int64     `json:"event_type_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	Status             string    `json:"status"`
	LocationKind       string    `json:"location_kind,omitempty"`
	LocationValue      string    `json:"location_value,omitempty"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
	RescheduledFromUID string    `json:"rescheduled_from_uid,omitempty"`
	PaymentID          *int64    `json:"payment_id,omitempty"`
	CheckoutSessionID  string    `json:"-"`
	ReminderStatus     string    `json:"reminder_status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Version            int64     `json:"version"`
}

// IsActive reports whether the booking still occupies its time.
func (b *Booking) IsActive() bool {
	return b.Status == BookingAccepted || b.Status == BookingPending
}

// Attendee is the guest contact snapshot taken at creation.
type Attendee struct {
	ID        int64  `json:"id"`
	BookingID int64  `json:"booking_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Timezone  string `json:"timezone"`
}

// BookingReference links a booking to an event in an external calendar.
type BookingReference struct {
	ID           int64  `json:"id"`
	BookingID    int64  `json:"booking_id"`
	CredentialID int64  `json:"credential_id"`
	Type         string `json:"type"`
	ExternalID   string `json:"external_id"`
	CalendarID   string `json:"calendar_id"`
	MeetingURL   string `json:"meeting_url,omitempty"`
}

// BookingDetails is a booking loaded with its relations.
type BookingDetails struct {
	Booking    Booking
	Attendee   *Attendee
	EventType  *EventType
	Host       *Host
	References []BookingReference
}
