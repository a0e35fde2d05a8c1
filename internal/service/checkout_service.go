package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/events"
	"bookslot/internal/logging"
	"bookslot/internal/metrics"
	"bookslot/internal/models"

	"github.com/rs/zerolog"
)

// Stripe refuses checkout sessions that expire in less than 30 minutes.
const checkoutExpiry = (models.CheckoutExpiryMinutes + 1) * time.Minute

// Checkout status values reported to the success page.
const (
	CheckoutNotFound  = "not_found"
	CheckoutPending   = "pending"
	CheckoutConfirmed = "confirmed"
	CheckoutFailed    = "failed"
)

// CheckoutService takes payment for paid event types and turns completed
// payments into bookings.
type CheckoutService struct {
	repo     domain.Repository
	bookings *BookingService
	payments domain.PaymentProvider
	settings Settings
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewCheckoutService(repo domain.Repository, bookings *BookingService, payments domain.PaymentProvider, settings Settings, logger *zerolog.Logger) *CheckoutService {
	return &CheckoutService{
		repo:     repo,
		bookings: bookings,
		payments: payments,
		settings: settings.withDefaults(),
		now:      time.Now,
		logger:   logging.Component(logger, "checkout"),
	}
}

type CheckoutResult struct {
	FreeBooking bool                 `json:"freeBooking"`
	Booking     *CreateBookingResult `json:"booking,omitempty"`
	SessionID   string               `json:"sessionId,omitempty"`
	CheckoutURL string               `json:"checkoutUrl,omitempty"`
}

type CheckoutStatus struct {
	Status  string          `json:"status"`
	Booking *BookingSummary `json:"booking,omitempty"`
}

// Start books directly when no payment is due and otherwise opens a hosted
// checkout for the requested slot. Nothing is booked until the payment
// completes.
func (s *CheckoutService) Start(ctx context.Context, in CreateBookingInput) (*CheckoutResult, error) {
	draft, err := s.bookings.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	if !draft.et.IsPaid || draft.et.PromoMatches(in.PromoCode) {
		created, err := s.bookings.createDraft(ctx, draft)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{FreeBooking: true, Booking: created}, nil
	}

	if s.payments == nil {
		return nil, domain.ErrPaymentNotConfigured
	}
	if err := s.bookings.checkRateLimit(ctx, draft.attendee.Email); err != nil {
		return nil, err
	}
	if err := s.bookings.precheck(ctx, draft); err != nil {
		return nil, err
	}

	currency := draft.et.Currency
	if currency == "" {
		currency = s.settings.Currency
	}
	start := draft.start.UTC().Format(time.RFC3339)
	session, err := s.payments.CreateCheckoutSession(ctx, domain.CheckoutSessionParams{
		ProductName:   draft.et.Title,
		AmountCents:   draft.et.PriceCents,
		Currency:      currency,
		CustomerEmail: draft.attendee.Email,
		SuccessURL:    s.settings.SuccessURL,
		CancelURL:     s.settings.CancelURL,
		ExpiresAt:     s.now().Add(checkoutExpiry),
		Metadata: map[string]string{
			"event_type_id": strconv.FormatInt(draft.et.ID, 10),
			"start":         start,
			"guest_email":   draft.attendee.Email,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", errors.Join(domain.ErrUpstreamUnavailable, err))
	}

	p := &models.Payment{
		SessionID:      session.ID,
		EventTypeID:    draft.et.ID,
		AmountCents:    draft.et.PriceCents,
		Currency:       currency,
		Status:         models.PaymentPending,
		GuestName:      draft.attendee.Name,
		GuestEmail:     draft.attendee.Email,
		GuestTimezone:  draft.attendee.Timezone,
		RequestedDate:  in.Date,
		RequestedTime:  in.Time,
		RequestedStart: draft.start,
		Notes:          draft.notes,
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Int64("event_type_id", draft.et.ID).
		Str("start", start).
		Msg("checkout started")

	return &CheckoutResult{SessionID: session.ID, CheckoutURL: session.URL}, nil
}

// HandleWebhook processes a signed provider event. Replays are harmless:
// a session is booked at most once. A returned error asks the provider to
// retry later.
func (s *CheckoutService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.payments == nil {
		return domain.ErrPaymentNotConfigured
	}
	event, err := s.payments.ParseWebhook(payload, signature)
	if err != nil {
		return fmt.Errorf("parse webhook: %w: %w", domain.ErrInvalidInput, err)
	}
	metrics.IncWebhookEvent(event.Type)

	log := s.logger.With().Str("event_id", event.ID).Str("event_type", event.Type).Str("session_id", event.SessionID).Logger()

	switch event.Type {
	case domain.WebhookCheckoutCompleted:
		if !event.Paid {
			log.Info().Msg("checkout completed without payment, waiting")
			return nil
		}
		return s.completeCheckout(ctx, event, &log)
	case domain.WebhookCheckoutExpired:
		changed, err := s.repo.MarkPaymentFailed(ctx, event.SessionID)
		if err != nil {
			return err
		}
		if changed {
			if p, err := s.repo.GetPaymentBySession(ctx, event.SessionID); err == nil && p != nil {
				s.bookings.publishPaymentEvent(events.EventPaymentFailed, p, "", "checkout expired")
			}
			log.Info().Msg("checkout expired")
		}
		return nil
	default:
		log.Debug().Msg("ignoring webhook event")
		return nil
	}
}

func (s *CheckoutService) completeCheckout(ctx context.Context, event *domain.WebhookEvent, log *zerolog.Logger) error {
	p, err := s.repo.GetPaymentBySession(ctx, event.SessionID)
	if err != nil {
		return err
	}
	if p == nil {
		log.Warn().Msg("no payment recorded for session")
		return nil
	}
	if p.Status != models.PaymentPending {
		log.Info().Str("status", p.Status).Msg("payment already settled")
		return nil
	}

	booking, err := s.bookings.CreateFromPayment(ctx, p, event.PaymentIntentID)
	switch {
	case err == nil:
		log.Info().Str("booking_uid", booking.UID).Msg("paid booking created")
		return nil
	case errors.Is(err, domain.ErrDuplicateSession):
		existing, lookupErr := s.repo.GetBookingBySession(ctx, event.SessionID)
		if lookupErr != nil {
			return lookupErr
		}
		if existing != nil {
			return s.repo.LinkPaymentToBooking(ctx, p.ID, existing.ID, event.PaymentIntentID)
		}
		return nil
	case errors.Is(err, domain.ErrSlotBusy):
		log.Info().Msg("slot locked by a concurrent delivery, asking for redelivery")
		return err
	case errors.Is(err, domain.ErrSlotTaken),
		errors.Is(err, domain.ErrBookingLimitExceeded),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrNotFound):
		log.Warn().Err(err).Msg("paid slot can no longer be booked, refunding")
		s.refundUnbooked(ctx, p, event.PaymentIntentID, err)
		return nil
	default:
		return err
	}
}

// refundUnbooked gives the money back for a payment that produced no booking.
func (s *CheckoutService) refundUnbooked(ctx context.Context, p *models.Payment, paymentIntentID string, cause error) {
	if paymentIntentID != "" {
		s.bookings.effects.run(ctx, "", "refund", func(ctx context.Context) error {
			res, err := s.payments.ProcessRefund(ctx, paymentIntentID)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("refund %s was not successful", res.RefundID)
			}
			s.logger.Info().Str("session_id", p.SessionID).Str("refund_id", res.RefundID).Msg("unbooked payment refunded")
			return nil
		})
	}

	changed, err := s.repo.MarkPaymentFailed(ctx, p.SessionID)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", p.SessionID).Msg("mark payment failed")
		return
	}
	if changed {
		p.Status = models.PaymentFailed
		s.bookings.publishPaymentEvent(events.EventPaymentFailed, p, "", cause.Error())
	}
}

// Status reports the outcome of a checkout session for the success page.
func (s *CheckoutService) Status(ctx context.Context, sessionID string) (*CheckoutStatus, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.InvalidInputf("session_id is required")
	}

	p, err := s.repo.GetPaymentBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &CheckoutStatus{Status: CheckoutNotFound}, nil
	}

	booking, err := s.repo.GetBookingBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if booking != nil {
		d, err := s.repo.GetBookingDetails(ctx, booking.UID)
		if err != nil {
			return nil, err
		}
		return &CheckoutStatus{Status: CheckoutConfirmed, Booking: newBookingSummary(d)}, nil
	}

	switch p.Status {
	case models.PaymentFailed, models.PaymentRefunded:
		return &CheckoutStatus{Status: CheckoutFailed}, nil
	default:
		return &CheckoutStatus{Status: CheckoutPending}, nil
	}
}
