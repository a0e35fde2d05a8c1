package service

import (
	"context"
	"strings"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/models"

	"github.com/rs/zerolog"
)

// notifications loads host templates and hands payloads to the notifier.
type notifications struct {
	repo      domain.Repository
	sender    domain.Notifier
	publicURL string
	logger    *zerolog.Logger
}

func (n notifications) configured() bool {
	if n.sender == nil {
		return false
	}
	if c, ok := n.sender.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

// template returns nil when the host has no override for kind.
func (n notifications) template(ctx context.Context, hostID int64, kind string) *models.EmailTemplate {
	tmpl, err := n.repo.GetEmailTemplate(ctx, hostID, kind)
	if err != nil {
		n.logger.Warn().Err(err).Str("kind", kind).Msg("load email template, using defaults")
		return nil
	}
	return tmpl
}

func (n notifications) send(ctx context.Context, kind string, hostID int64, payload domain.NotificationPayload) error {
	if n.sender == nil {
		return nil
	}
	return n.sender.Send(ctx, kind, payload, n.template(ctx, hostID, kind))
}

func (n notifications) payload(d *models.BookingDetails) domain.NotificationPayload {
	b := d.Booking
	p := domain.NotificationPayload{
		BookingUID: b.UID,
		EventTitle: b.Title,
		Start:      b.StartTime,
		End:        b.EndTime,
		Location:   b.LocationValue,
		Notes:      b.Description,
		ManageURL:  manageURL(n.publicURL, b.UID),
	}
	if b.LocationKind == models.LocationGoogleMeet || strings.HasPrefix(b.LocationValue, "https://") {
		p.MeetingURL = b.LocationValue
	}
	if d.Attendee != nil {
		p.GuestName = d.Attendee.Name
		p.GuestEmail = d.Attendee.Email
		p.GuestTimezone = d.Attendee.Timezone
	}
	if d.Host != nil {
		p.HostName = d.Host.Name
		p.HostEmail = d.Host.Email
		p.HostChatID = d.Host.TelegramChatID
	}
	if p.EventTitle == "" && d.EventType != nil {
		p.EventTitle = d.EventType.Title
	}
	return p
}

func manageURL(publicURL, uid string) string {
	return strings.TrimRight(publicURL, "/") + "/booking/" + uid
}

// BookingSummary is the public view of a booking, safe to show to anyone
// holding its uid.
type BookingSummary struct {
	UID                string    `json:"uid"`
	Title              string    `json:"title"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	Status             string    `json:"status"`
	GuestName          string    `json:"guest_name,omitempty"`
	GuestTimezone      string    `json:"guest_timezone,omitempty"`
	HostName           string    `json:"host_name,omitempty"`
	Location           string    `json:"location,omitempty"`
	RescheduledFromUID string    `json:"rescheduled_from_uid,omitempty"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
}

func newBookingSummary(d *models.BookingDetails) *BookingSummary {
	b := d.Booking
	s := &BookingSummary{
		UID:                b.UID,
		Title:              b.Title,
		StartTime:          b.StartTime,
		EndTime:            b.EndTime,
		Status:             b.Status,
		Location:           b.LocationValue,
		RescheduledFromUID: b.RescheduledFromUID,
		CancellationReason: b.CancellationReason,
	}
	if d.Attendee != nil {
		s.GuestName = d.Attendee.Name
		s.GuestTimezone = d.Attendee.Timezone
	}
	if d.Host != nil {
		s.HostName = d.Host.Name
	}
	return s
}
