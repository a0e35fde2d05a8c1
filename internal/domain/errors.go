package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidState         = errors.New("operation not allowed in current booking state")
	ErrAlreadyCancelled     = errors.New("booking already cancelled")
	ErrBookingLimitExceeded = errors.New("booking limit exceeded")
	ErrPaymentRequired      = errors.New("payment required")
	ErrPaymentNotConfigured = errors.New("payment provider not configured")
	ErrUpstreamUnavailable  = errors.New("upstream provider unavailable")
	ErrSlotTaken            = errors.New("requested time is no longer available")
	ErrSlotBusy             = errors.New("requested time is being booked, try again")
	ErrInvalidTimeFormat    = errors.New("invalid time format")
	ErrRateLimited          = errors.New("too many requests")
	ErrDuplicateSession     = errors.New("booking already exists for checkout session")
)

// Limit kinds reported by BookingLimitError.
const (
	LimitDaily  = "daily"
	LimitWeekly = "weekly"
)

// BookingLimitError tells which cap refused a booking.
type BookingLimitError struct {
	Kind  string
	Limit int
	Count int
}

func (e *BookingLimitError) Error() string {
	return fmt.Sprintf("%s booking limit of %d reached (%d booked)", e.Kind, e.Limit, e.Count)
}

func (e *BookingLimitError) Unwrap() error {
	return ErrBookingLimitExceeded
}

// InvalidInputf wraps ErrInvalidInput with a field specific message.
func InvalidInputf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
