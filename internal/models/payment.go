package models

import "time"

// Payment is created with the checkout session, before any booking exists,
// and carries a snapshot of the intended booking.
type Payment struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	RefundID        string    `json:"refund_id,omitempty"`
	BookingID       *int64    `json:"booking_id,omitempty"`
	EventTypeID     int64     `json:"event_type_id"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	GuestName       string    `json:"guest_name"`
	GuestEmail      string    `json:"guest_email"`
	GuestTimezone   string    `json:"guest_timezone"`
	RequestedDate   string    `json:"requested_date"`
	RequestedTime   string    `json:"requested_time"`
	RequestedStart  time.Time `json:"requested_start"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EmailTemplate overrides the default wording for one notification kind.
// A missing row means defaults, enabled.
type EmailTemplate struct {
	ID       int64  `json:"id"`
	HostID   int64  `json:"host_id"`
	Kind     string `json:"kind"`
	Subject  string `json:"subject,omitempty"`
	Greeting string `json:"greeting,omitempty"`
	Body     string `json:"body,omitempty"`
	Footer   string `json:"footer,omitempty"`
	Enabled  bool   `json:"enabled"`
}
