package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Host owns event types, schedules and bookings.
type Host struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Timezone       string    `json:"timezone"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Credential holds stored OAuth tokens for an external calendar.
type Credential struct {
	ID           int64     `json:"id"`
	HostID       int64     `json:"host_id"`
	Provider     string    `json:"provider"`
	CalendarID   string    `json:"calendar_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"-"`
	Expiry       time.Time `json:"expiry"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EventType is a bookable meeting definition.
type EventType struct {
	ID                   int64     `json:"id"`
	HostID               int64     `json:"host_id"`
	Title                string    `json:"title"`
	Slug                 string    `json:"slug"`
	Description          string    `json:"description,omitempty"`
	DurationMinutes      int       `json:"duration_minutes"`
	LocationKind         string    `json:"location_kind"`
	LocationValue        string    `json:"location_value,omitempty"`
	BufferBeforeMinutes  int       `json:"buffer_before_minutes"`
	BufferAfterMinutes   int       `json:"buffer_after_minutes"`
	MinimumNoticeMinutes int       `json:"minimum_notice_minutes"`
	BookingWindowDays    *int      `json:"booking_window_days,omitempty"`
	DailyLimit           *int      `json:"daily_limit,omitempty"`
	WeeklyLimit          *int      `json:"weekly_limit,omitempty"`
	Hidden               bool      `json:"hidden"`
	IsPaid               bool      `json:"is_paid"`
	PriceCents           int64     `json:"price_cents"`
	Currency             string    `json:"currency,omitempty"`
	RefundWindowHours    int       `json:"refund_window_hours"`
	PromoCode            string    `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (e *EventType) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

func (e *EventType) BufferBefore() time.Duration {
	return time.Duration(e.BufferBeforeMinutes) * time.Minute
}

func (e *EventType) BufferAfter() time.Duration {
	return time.Duration(e.BufferAfterMinutes) * time.Minute
}

func (e *EventType) MinimumNotice() time.Duration {
	return time.Duration(e.MinimumNoticeMinutes) * time.Minute
}

// WantsMeetingLink reports whether bookings should get a generated video link.
func (e *EventType) WantsMeetingLink() bool {
	return e.LocationKind == LocationGoogleMeet
}

// PromoMatches compares a guest supplied code with the configured promo code.
func (e *EventType) PromoMatches(code string) bool {
	code = strings.TrimSpace(code)
	return e.PromoCode != "" && code != "" && strings.EqualFold(code, e.PromoCode)
}

// Validate checks the invariants every stored event type must hold.
func (e *EventType) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(e.Slug) == "" {
		return errors.New("slug is required")
	}
	if e.DurationMinutes <= 0 {
		return errors.New("duration must be positive")
	}
	if e.BufferBeforeMinutes < 0 || e.BufferAfterMinutes < 0 || e.MinimumNoticeMinutes < 0 {
		return errors.New("buffers and minimum notice must not be negative")
	}
	if e.BookingWindowDays != nil && *e.BookingWindowDays < 0 {
		return errors.New("booking window must not be negative")
	}
	for name, limit := range map[string]*int{"daily": e.DailyLimit, "weekly": e.WeeklyLimit} {
		if limit != nil && *limit < 0 {
			return fmt.Errorf("%s limit must not be negative", name)
		}
	}
	if e.IsPaid {
		if e.PriceCents < MinPriceCents {
			return fmt.Errorf("paid event types need a price of at least %d cents", MinPriceCents)
		}
		if e.RefundWindowHours < 0 {
			return errors.New("refund window must not be negative")
		}
	}
	switch e.LocationKind {
	case "", LocationInPerson, LocationPhone, LocationLink, LocationGoogleMeet:
	default:
		return fmt.Errorf("unknown location kind %q", e.LocationKind)
	}
	return nil
}
