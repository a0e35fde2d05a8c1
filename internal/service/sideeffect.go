package service

import (
	"context"
	"time"

	"bookslot/internal/metrics"

	"github.com/rs/zerolog"
)

// sideEffects runs calendar, refund and notification calls that must never
// fail or roll back a booking transition.
type sideEffects struct {
	timeout time.Duration
	logger  *zerolog.Logger
}

// run executes fn detached from the caller's cancellation, bounded by the
// upstream timeout. A failure is logged and counted and run reports false.
func (s sideEffects) run(ctx context.Context, bookingUID, operation string, fn func(ctx context.Context) error) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		metrics.IncSideEffectFailure(operation)
		s.logger.Error().
			Err(err).
			Str("booking_uid", bookingUID).
			Str("operation", operation).
			Msg("side effect failed")
		return false
	}
	return true
}
