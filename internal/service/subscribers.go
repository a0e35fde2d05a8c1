package service

import (
	"context"

	"bookslot/internal/domain"
	"bookslot/internal/events"
	"bookslot/internal/metrics"
	"bookslot/internal/models"

	"github.com/rs/zerolog"
)

// RegisterBookingSubscribers counts lifecycle transitions and mirrors
// bookings to the spreadsheet worker when one is configured.
func RegisterBookingSubscribers(ctx context.Context, bus *events.EventBus, sync domain.SyncWorker, logger *zerolog.Logger) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	transitions := []string{events.EventPaymentFailed, events.EventPaymentRefunded}
	transitions = append(transitions, events.BookingEvents...)
	bus.Subscribe(func(ev *events.Event) error {
		metrics.IncBookingTransition(ev.Type)
		return nil
	}, transitions...)

	if sync == nil {
		return
	}

	bus.Subscribe(func(ev *events.Event) error {
		var payload events.BookingEventPayload
		if err := ev.Decode(&payload); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}

		booking := payload.Booking()
		taskType := models.SyncTaskUpsert
		if ev.Type == events.EventBookingCancelled {
			taskType = models.SyncTaskUpdateStatus
		}
		if err := sync.EnqueueTask(ctx, taskType, booking); err != nil {
			logger.Error().Err(err).Str("booking_uid", booking.UID).Str("task_type", taskType).Msg("event bus: enqueue sync task")
		}
		return nil
	}, events.BookingEvents...)
}
