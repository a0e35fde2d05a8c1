package events

import (
	"encoding/json"
	"sync"
	"time"

	"bookslot/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventBookingCreated     = "booking_created"
	EventBookingRescheduled = "booking_rescheduled"
	EventBookingCancelled   = "booking_cancelled"
	EventPaymentFailed      = "payment_failed"
	EventPaymentRefunded    = "payment_refunded"
)

// BookingEvents lists every booking lifecycle event type.
var BookingEvents = []string{EventBookingCreated, EventBookingRescheduled, EventBookingCancelled}

// BookingEventPayload is the booking snapshot handed to subscribers.
type BookingEventPayload struct {
	BookingID          int64     `json:"booking_id"`
	BookingUID         string    `json:"booking_uid"`
	EventTypeID        int64     `json:"event_type_id"`
	Title              string    `json:"title"`
	Status             string    `json:"status"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	GuestName          string    `json:"guest_name,omitempty"`
	GuestEmail         string    `json:"guest_email,omitempty"`
	RescheduledFromUID string    `json:"rescheduled_from_uid,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	PaymentID          int64     `json:"payment_id,omitempty"`
}

// NewBookingPayload snapshots a booking and its attendee.
func NewBookingPayload(b *models.Booking, attendee *models.Attendee) BookingEventPayload {
	p := BookingEventPayload{
		BookingID:          b.ID,
		BookingUID:         b.UID,
		EventTypeID:        b.EventTypeID,
		Title:              b.Title,
		Status:             b.Status,
		StartTime:          b.StartTime,
		EndTime:            b.EndTime,
		RescheduledFromUID: b.RescheduledFromUID,
		Reason:             b.CancellationReason,
	}
	if b.PaymentID != nil {
		p.PaymentID = *b.PaymentID
	}
	if attendee != nil {
		p.GuestName = attendee.Name
		p.GuestEmail = attendee.Email
	}
	return p
}

// Booking rebuilds the booking fields carried by the payload.
func (p BookingEventPayload) Booking() *models.Booking {
	return &models.Booking{
		ID:                 p.BookingID,
		UID:                p.BookingUID,
		EventTypeID:        p.EventTypeID,
		Title:              p.Title,
		Status:             p.Status,
		StartTime:          p.StartTime,
		EndTime:            p.EndTime,
		RescheduledFromUID: p.RescheduledFromUID,
		CancellationReason: p.Reason,
	}
}

// PaymentEventPayload describes a payment that ended without a live booking
// or was refunded.
type PaymentEventPayload struct {
	PaymentID   int64  `json:"payment_id"`
	SessionID   string `json:"session_id"`
	EventTypeID int64  `json:"event_type_id"`
	BookingUID  string `json:"booking_uid,omitempty"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. A nil logger discards handler errors.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish runs the subscribers synchronously. Handler errors are logged and
// do not stop the remaining handlers.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
