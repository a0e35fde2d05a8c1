package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookslot"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking lifecycle transitions (created, rescheduled, cancelled, rejected).",
		},
		[]string{"transition"},
	)

	sideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Failed best-effort side effects by kind.",
		},
		[]string{"effect"},
	)

	reminders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Reminder sends by outcome.",
		},
		[]string{"outcome"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_events_total",
			Help:      "Payment webhook events by type.",
		},
		[]string{"type"},
	)

	botCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_commands_total",
			Help:      "Host bot commands by name.",
		},
		[]string{"command"},
	)

	slotComputation = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_computation_seconds",
			Help:      "Time spent computing available slots for one date.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingTransitions,
			sideEffectFailures,
			reminders,
			webhookEvents,
			botCommands,
			slotComputation,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncBookingTransition(transition string) {
	bookingTransitions.WithLabelValues(transition).Inc()
}

func IncSideEffectFailure(effect string) {
	sideEffectFailures.WithLabelValues(effect).Inc()
}

func IncReminder(outcome string) {
	reminders.WithLabelValues(outcome).Inc()
}

func IncWebhookEvent(eventType string) {
	webhookEvents.WithLabelValues(eventType).Inc()
}

// ObserveSlotComputation records the time since start.
func ObserveSlotComputation(start time.Time) {
	slotComputation.Observe(time.Since(start).Seconds())
}

func IncBotCommand(command string) {
	botCommands.WithLabelValues(command).Inc()
}
